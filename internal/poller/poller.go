// Package poller runs the single producer loop that fetches the upstream
// logo and appends distinct states to the history log.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
	"github.com/dgnsrekt/logowatch/internal/logo"
	"github.com/dgnsrekt/logowatch/internal/metrics"
	"github.com/dgnsrekt/logowatch/internal/notify"
	"github.com/dgnsrekt/logowatch/internal/upstream"
)

// alertTimeout bounds a single outage notification.
const alertTimeout = 30 * time.Second

// Result is the outcome of one poll cycle.
type Result string

const (
	ResultAppended  Result = "appended"
	ResultUnchanged Result = "unchanged"
	ResultFailed    Result = "failed"
	ResultSkipped   Result = "skipped" // circuit open or shutting down
)

// Config controls the poll loop.
type Config struct {
	Interval         time.Duration
	FailureThreshold uint32        // consecutive failures that open the circuit
	Backoff          time.Duration // how long the circuit stays open
	UpstreamURL      string        // only used in alerts
}

// Status summarises the most recent poll for health reporting.
type Status struct {
	LastResult          Result    `json:"last_result,omitempty"`
	LastPoll            time.Time `json:"last_poll"`
	LastSuccess         time.Time `json:"last_success"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	Circuit             string    `json:"circuit"`
}

type fetched struct {
	image []byte
	logo  *logo.Logo
}

type transition struct {
	from, to gobreaker.State
}

// Poller fetches the upstream on a fixed interval.
type Poller struct {
	fetcher  upstream.Client
	log      *history.Log
	notifier notify.Notifier
	breaker  *gobreaker.CircuitBreaker[fetched]
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger

	mu          sync.RWMutex
	latest      *logo.Logo
	status      Status
	transitions []transition
	failingFrom time.Time
	outage      *notify.Outage

	alerts sync.WaitGroup
}

// New creates a Poller. Run or PollOnce drive it.
func New(fetcher upstream.Client, log *history.Log, notifier notify.Notifier, cfg Config, logger *zap.Logger) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		log:      log,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
		status:   Status{Circuit: gobreaker.StateClosed.String()},
	}

	p.breaker = gobreaker.NewCircuitBreaker[fetched](gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     cfg.Backoff,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.Set(stateToFloat(to))
			p.logger.Info("upstream circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			p.mu.Lock()
			p.status.Circuit = to.String()
			p.transitions = append(p.transitions, transition{from: from, to: to})
			p.mu.Unlock()
		},
	})
	metrics.CircuitBreakerState.Set(0)

	return p
}

// String names the service for the supervisor.
func (p *Poller) String() string { return "poller" }

// Serve implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	return p.Run(ctx)
}

// Run polls once immediately and then on every tick until ctx is cancelled.
// Fetch failures never end the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Uint32("failureThreshold", p.cfg.FailureThreshold),
		zap.Duration("backoff", p.cfg.Backoff),
	)

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			p.alerts.Wait()
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single fetch-detect-append cycle.
func (p *Poller) PollOnce(ctx context.Context) Result {
	start := p.now()
	res, err := p.breaker.Execute(func() (fetched, error) {
		image, l, err := p.fetcher.Fetch(ctx)
		return fetched{image: image, logo: l}, err
	})

	var result Result
	switch {
	case err == nil:
		metrics.FetchDuration.Observe(p.now().Sub(start).Seconds())
		result = p.accept(res, start)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		p.logger.Debug("poll skipped, upstream circuit open")
		result = ResultSkipped
	case ctx.Err() != nil:
		result = ResultSkipped
	default:
		p.recordFailure(err, start)
		result = ResultFailed
	}

	p.mu.Lock()
	p.status.LastResult = result
	p.status.LastPoll = start
	p.mu.Unlock()
	metrics.PollsTotal.WithLabelValues(string(result)).Inc()

	p.dispatchAlerts(ctx)
	return result
}

// Latest returns the most recently fetched logo, if any poll has succeeded.
func (p *Poller) Latest() (*logo.Logo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.latest != nil
}

// Status returns a copy of the current poll status.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Poller) accept(res fetched, now time.Time) Result {
	p.mu.Lock()
	p.latest = res.logo
	p.status.LastSuccess = now
	p.status.LastError = ""
	p.status.ConsecutiveFailures = 0
	p.failingFrom = time.Time{}
	p.mu.Unlock()

	var previous *history.LogoState
	if tail, ok := p.log.Latest(); ok {
		previous = &tail
	}
	candidate, changed := history.Detect(previous, res.image, now)
	if !changed {
		p.logger.Debug("logo unchanged")
		return ResultUnchanged
	}

	state := p.log.Append(candidate)
	metrics.HistoryAppends.Inc()
	metrics.HistoryEntries.Set(float64(p.log.Len()))
	p.logger.Info("logo changed",
		zap.Int("index", state.Index),
		zap.String("fingerprint", state.Fingerprint.String()),
		zap.Int("bytes", len(state.Image)),
	)
	return ResultAppended
}

func (p *Poller) recordFailure(err error, now time.Time) {
	kind := "unknown"
	var fe *upstream.FetchError
	if errors.As(err, &fe) {
		kind = string(fe.Kind)
	}
	metrics.FetchErrors.WithLabelValues(kind).Inc()

	p.mu.Lock()
	p.status.LastError = err.Error()
	p.status.ConsecutiveFailures++
	if p.failingFrom.IsZero() {
		p.failingFrom = now
	}
	failures := p.status.ConsecutiveFailures
	p.mu.Unlock()

	p.logger.Warn("upstream fetch failed",
		zap.String("kind", kind),
		zap.Uint32("consecutiveFailures", failures),
		zap.Error(err),
	)
}

// dispatchAlerts turns circuit transitions into notifications. An outage
// starts when the circuit first opens and ends when it closes again.
func (p *Poller) dispatchAlerts(ctx context.Context) {
	p.mu.Lock()
	pending := p.transitions
	p.transitions = nil

	var down, recovered *notify.Outage
	for _, tr := range pending {
		switch {
		case tr.to == gobreaker.StateOpen && tr.from == gobreaker.StateClosed:
			p.outage = &notify.Outage{
				URL:      p.cfg.UpstreamURL,
				Failures: p.status.ConsecutiveFailures,
				Since:    p.failingFrom,
			}
			if p.status.LastError != "" {
				p.outage.LastError = errors.New(p.status.LastError)
			}
			down = p.outage
		case tr.to == gobreaker.StateClosed && p.outage != nil:
			recovered = p.outage
			p.outage = nil
		}
	}
	p.mu.Unlock()

	if down == nil && recovered == nil {
		return
	}

	now := p.now()
	base := context.WithoutCancel(ctx)
	p.alerts.Add(1)
	go func() {
		defer p.alerts.Done()
		actx, cancel := context.WithTimeout(base, alertTimeout)
		defer cancel()

		if down != nil {
			if err := p.notifier.UpstreamDown(actx, *down); err != nil {
				p.logger.Warn("failed to send upstream down alert", zap.Error(err))
			}
		}
		if recovered != nil {
			if err := p.notifier.UpstreamRecovered(actx, *recovered, now); err != nil {
				p.logger.Warn("failed to send upstream recovered alert", zap.Error(err))
			}
		}
	}()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
