package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/logowatch/internal/history"
	"github.com/dgnsrekt/logowatch/internal/logo"
	"github.com/dgnsrekt/logowatch/internal/notify"
	"github.com/dgnsrekt/logowatch/internal/upstream"
	"github.com/dgnsrekt/logowatch/internal/ws"
)

type response struct {
	doc string
	err error
}

// scriptedFetcher replays responses in order, repeating the last one.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []response
	calls     int
}

func (f *scriptedFetcher) Fetch(ctx context.Context) ([]byte, *logo.Logo, error) {
	f.mu.Lock()
	i := min(f.calls, len(f.responses)-1)
	f.calls++
	r := f.responses[i]
	f.mu.Unlock()

	if r.err != nil {
		return nil, nil, r.err
	}
	l, err := logo.Parse([]byte(r.doc))
	if err != nil {
		return nil, nil, err
	}
	image, err := l.PNG(logo.DefaultOptions())
	if err != nil {
		return nil, nil, err
	}
	return image, l, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	down      chan notify.Outage
	recovered chan notify.Outage
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		down:      make(chan notify.Outage, 4),
		recovered: make(chan notify.Outage, 4),
	}
}

func (n *recordingNotifier) UpstreamDown(_ context.Context, o notify.Outage) error {
	n.down <- o
	return nil
}

func (n *recordingNotifier) UpstreamRecovered(_ context.Context, o notify.Outage, _ time.Time) error {
	n.recovered <- o
	return nil
}

const (
	docA = `{"logo": [[["#ff0000"]]]}`
	docB = `{"logo": [[["#00ff00"]]]}`
)

var errTransport = &upstream.FetchError{Kind: upstream.KindTransport, Err: errors.New("connection refused")}

func testConfig() Config {
	return Config{
		Interval:         time.Hour,
		FailureThreshold: 100,
		Backoff:          time.Minute,
		UpstreamURL:      "https://upstream.example/logo",
	}
}

func TestPollOnce_OnlyChangesAreAppended(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{{doc: docA}, {doc: docA}, {doc: docA}, {doc: docB}}}
	log := history.New(history.Options{})
	p := New(fetcher, log, &notify.NoopNotifier{}, testConfig(), zap.NewNop())

	want := []Result{ResultAppended, ResultUnchanged, ResultUnchanged, ResultAppended}
	for i, w := range want {
		if got := p.PollOnce(context.Background()); got != w {
			t.Errorf("poll %d: expected %s, got %s", i, w, got)
		}
	}

	if log.Len() != 2 {
		t.Fatalf("expected 2 history entries, got %d", log.Len())
	}
	snap := log.Snapshot()
	if snap[0].Fingerprint == snap[1].Fingerprint {
		t.Error("consecutive entries share a fingerprint")
	}
	if snap[1].Time.Before(snap[0].Time) {
		t.Error("timestamps decrease")
	}
}

// pushSink collects live deliveries.
type pushSink struct {
	received chan history.LogoState
	closed   chan ws.Reason
}

func (s *pushSink) Send(state history.LogoState) error {
	s.received <- state
	return nil
}

func (s *pushSink) Ping() error { return nil }

func (s *pushSink) Close(reason ws.Reason) error {
	s.closed <- reason
	return nil
}

func TestPollOnce_SubscriberReceivesOnlyChanges(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{{doc: docA}, {doc: docA}, {doc: docA}, {doc: docB}}}
	log := history.New(history.Options{})
	hub := ws.NewHub(ws.HubConfig{QueueSize: 16, PingPeriod: time.Hour}, zap.NewNop())
	log.AddObserver(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan struct{})
	go func() {
		_ = hub.Serve(ctx)
		close(served)
	}()

	sink := &pushSink{received: make(chan history.LogoState, 8), closed: make(chan ws.Reason, 1)}
	if _, err := hub.RegisterWithCatchUp(sink, "test", log, ws.CatchUpLatest); err != nil {
		t.Fatalf("register: %v", err)
	}

	p := New(fetcher, log, &notify.NoopNotifier{}, testConfig(), zap.NewNop())
	for i := 0; i < 4; i++ {
		p.PollOnce(context.Background())
	}

	var indices []int
	for len(indices) < 2 {
		select {
		case state := <-sink.received:
			indices = append(indices, state.Index)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after pushes %v", indices)
		}
	}

	// Serve returns only after the delivery goroutine has exited.
	cancel()
	<-served
	close(sink.received)
	for state := range sink.received {
		indices = append(indices, state.Index)
	}
	if len(indices) != 2 || indices[0] != 0 || indices[1] != 1 {
		t.Errorf("expected pushes [0 1], got %v", indices)
	}
	if r := <-sink.closed; r != ws.ReasonShutdown {
		t.Errorf("expected shutdown close, got %q", r)
	}
}

func TestPollOnce_FailuresLeaveStateUnchanged(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{
		{err: errTransport}, {err: errTransport}, {err: errTransport}, {doc: docA},
	}}
	log := history.New(history.Options{})
	p := New(fetcher, log, &notify.NoopNotifier{}, testConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		if got := p.PollOnce(context.Background()); got != ResultFailed {
			t.Fatalf("poll %d: expected failed, got %s", i, got)
		}
		if log.Len() != 0 {
			t.Fatalf("poll %d: log changed after a failure", i)
		}
	}
	if st := p.Status(); st.ConsecutiveFailures != 3 || st.LastError == "" {
		t.Errorf("unexpected status after failures: %+v", st)
	}
	if _, ok := p.Latest(); ok {
		t.Error("expected no latest logo before a successful poll")
	}

	if got := p.PollOnce(context.Background()); got != ResultAppended {
		t.Fatalf("expected appended after recovery, got %s", got)
	}
	if log.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", log.Len())
	}
	if st := p.Status(); st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Errorf("status not reset after success: %+v", st)
	}
	if l, ok := p.Latest(); !ok || l.Characters() != 1 {
		t.Error("expected latest logo after success")
	}
}

func TestPollOnce_CircuitOpensAndRecovers(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{
		{err: errTransport}, {err: errTransport}, {doc: docA},
	}}
	notifier := newRecordingNotifier()
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.Backoff = 50 * time.Millisecond
	p := New(fetcher, history.New(history.Options{}), notifier, cfg, zap.NewNop())

	p.PollOnce(context.Background())
	p.PollOnce(context.Background())

	select {
	case o := <-notifier.down:
		if o.Failures != 2 || o.URL != cfg.UpstreamURL || o.LastError == nil {
			t.Errorf("unexpected outage %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an upstream down alert")
	}
	if st := p.Status(); st.Circuit != "open" {
		t.Errorf("expected open circuit, got %s", st.Circuit)
	}

	if got := p.PollOnce(context.Background()); got != ResultSkipped {
		t.Errorf("expected skipped while open, got %s", got)
	}
	if fetcher.Calls() != 2 {
		t.Errorf("fetcher called while circuit open: %d calls", fetcher.Calls())
	}

	time.Sleep(80 * time.Millisecond)
	if got := p.PollOnce(context.Background()); got != ResultAppended {
		t.Fatalf("expected appended after backoff, got %s", got)
	}

	select {
	case <-notifier.recovered:
	case <-time.After(time.Second):
		t.Fatal("expected an upstream recovered alert")
	}
	if st := p.Status(); st.Circuit != "closed" {
		t.Errorf("expected closed circuit, got %s", st.Circuit)
	}
}

func TestRun_PollsImmediatelyAndStopsOnCancel(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{{doc: docA}}}
	log := history.New(history.Options{})
	p := New(fetcher, log, &notify.NoopNotifier{}, testConfig(), zap.NewNop())

	appended := make(chan struct{}, 1)
	log.AddObserver(history.ObserverFunc(func(history.LogoState) {
		appended <- struct{}{}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-appended:
	case <-time.After(time.Second):
		t.Fatal("expected an immediate poll")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_KeepsPollingAfterFailures(t *testing.T) {
	fetcher := &scriptedFetcher{responses: []response{{err: errTransport}}}
	cfg := testConfig()
	cfg.Interval = 5 * time.Millisecond
	p := New(fetcher, history.New(history.Options{}), &notify.NoopNotifier{}, cfg, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)

	if fetcher.Calls() < 3 {
		t.Errorf("expected polling to continue after failures, got %d calls", fetcher.Calls())
	}
}
