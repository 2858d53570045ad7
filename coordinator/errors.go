package coordinator

import (
	"errors"
	"fmt"

	"pricescout/worker"
)

// ConflictError rejects a start/resume that would violate the
// single-running-session invariant or stomp on a paused session. Nothing
// is mutated when it is returned.
type ConflictError struct {
	Key    string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Key, e.Reason)
}

// ExtractionError indicates the site markup yielded nothing usable. It is
// fatal only on the first page of a fresh session.
type ExtractionError struct {
	Key  string
	Page int
	Err  error
}

func (e ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction on %s page %d: empty result", e.Key, e.Page)
	}
	return fmt.Sprintf("extraction on %s page %d: %v", e.Key, e.Page, e.Err)
}

func (e ExtractionError) Unwrap() error { return e.Err }

// NavigationError indicates a page advance failed or never completed.
// Fatal to the current session.
type NavigationError struct {
	Key string
	Err error
}

func (e NavigationError) Error() string {
	return fmt.Sprintf("navigation on %s: %v", e.Key, e.Err)
}

func (e NavigationError) Unwrap() error { return e.Err }

// ChannelError indicates the worker channel died. The coordinator retries
// once with a fresh worker; a second failure is fatal.
type ChannelError struct {
	Key string
	Err error
}

func (e ChannelError) Error() string {
	return fmt.Sprintf("worker channel on %s: %v", e.Key, e.Err)
}

func (e ChannelError) Unwrap() error { return e.Err }

// TimeoutError indicates the per-page hard cap expired before the page's
// extraction completed. Fatal to the session.
type TimeoutError struct {
	Key  string
	Page int
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("timeout on %s page %d", e.Key, e.Page)
}

// ErrNoActiveSession is returned when pause targets a key that is not
// currently running.
var ErrNoActiveSession = errors.New("coordinator: no active session")

// ErrSessionNotFound is returned when resume/cancel targets a key with no
// persisted session.
var ErrSessionNotFound = errors.New("coordinator: session not found")

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, worker.ErrCancelled) {
		return "cancelled"
	}
	var conflict ConflictError
	if errors.As(err, &conflict) {
		return "conflict"
	}
	var extraction ExtractionError
	if errors.As(err, &extraction) {
		return "extraction"
	}
	var navigation NavigationError
	if errors.As(err, &navigation) {
		return "navigation"
	}
	var channel ChannelError
	if errors.As(err, &channel) {
		return "channel"
	}
	var timeout TimeoutError
	if errors.As(err, &timeout) {
		return "timeout"
	}
	return "other"
}
