package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch matches every *FetchError through errors.Is.
	ErrFetch       = errors.New("upstream fetch failed")
	ErrRateLimited = errors.New("rate limited by upstream")
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindPayload   Kind = "payload"
	KindEncode    Kind = "encode"
)

// FetchError describes why one fetch produced no image.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("upstream %s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is reports ErrFetch as a match so callers need not know the kind.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func fetchError(kind Kind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}
