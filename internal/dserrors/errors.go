// Package dserrors holds the sentinel errors and wrapping helpers shared by
// every component in the scheduler: the wire codec, the core state machine,
// the reactor, and the fetcher all classify failures against these
// categories instead of inventing their own.
package dserrors

import (
	"errors"
	"fmt"
)

// Sentinel categories. Components compare against these with errors.Is,
// never by inspecting message text.
var (
	// ErrProtocol marks a frame or message that violates the wire contract:
	// a field that cannot legally appear in the current state, a message
	// type the receiver never expects, or a response arriving for a request
	// that was never sent. The connection that produced it is unusable and
	// must be closed.
	ErrProtocol = errors.New("protocol violation")

	// ErrNetwork marks a transport-level failure: a dial, read, or write
	// that failed or timed out.
	ErrNetwork = errors.New("network failure")

	// ErrTaskFailed marks a task that ran and reported failure, as opposed
	// to one that could not be scheduled or run at all.
	ErrTaskFailed = errors.New("task failed")

	// ErrInvariant marks an internal state machine transition that should be
	// unreachable under the state machine's own rules. Seeing this means a
	// precondition the scheduler or reactor relies on was violated.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotFound marks a lookup (task, data object, worker) that found
	// nothing where the caller expected an entry to exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a data object or worker that exists but cannot
	// currently satisfy the request (e.g. a data object with no surviving
	// holder).
	ErrUnavailable = errors.New("unavailable")

	// ErrCanceled marks work abandoned because its owning context was
	// canceled, not because of any failure.
	ErrCanceled = errors.New("canceled")
)

// Wrap attaches msg as context to err while preserving errors.Is/As against
// both err and any sentinel err itself wraps.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is is a re-export of errors.Is so callers only need this package for
// sentinel comparisons.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is a re-export of errors.As for the same reason.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Protocolf builds an ErrProtocol-classified error with a formatted message.
func Protocolf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrProtocol)
}

// Networkf builds an ErrNetwork-classified error with a formatted message.
func Networkf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNetwork)
}

// TaskFailedf builds an ErrTaskFailed-classified error with a formatted message.
func TaskFailedf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrTaskFailed)
}

// Invariantf builds an ErrInvariant-classified error with a formatted message.
func Invariantf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvariant)
}

// NotFoundf builds an ErrNotFound-classified error with a formatted message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Unavailablef builds an ErrUnavailable-classified error with a formatted message.
func Unavailablef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUnavailable)
}

// Multiple combines several errors into one that reports all of them via
// Error() and unwraps to the first for errors.Is/As purposes. Used where a
// single operation can surface more than one independent failure, e.g.
// closing several subworker handles during shutdown.
func Multiple(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return &multiError{errs: nonNil}
	}
}

type multiError struct {
	errs []error
}

func (m *multiError) Error() string {
	s := fmt.Sprintf("%d errors occurred:", len(m.errs))
	for _, e := range m.errs {
		s += "\n  - " + e.Error()
	}
	return s
}

func (m *multiError) Unwrap() error {
	if len(m.errs) == 0 {
		return nil
	}
	return m.errs[0]
}

// Errors returns the underlying error list.
func (m *multiError) Errors() []error { return m.errs }
