// Package ccderr defines the error kinds from which every error surfaced by
// the indexer core is built, per the error-handling design in spec.md §7:
// transient, data-integrity assertion, configuration, out-of-range
// conversion, and not-found. Callers match them with errors.Is/errors.As;
// inner operations wrap with %w and add context the way the teacher wraps
// with github.com/pkg/errors, generalized to stdlib error wrapping.
package ccderr

import "errors"

var (
	// ErrTransient marks network or database errors that are safe to retry
	// with backoff. Never surfaced to an operator unless the retry budget
	// is exhausted.
	ErrTransient = errors.New("transient error")

	// ErrAssertion marks a data-integrity violation: an unexpected
	// affected-row count, an unknown event variant, a malformed canonical
	// address, a non-finalized status seen during migration. Fatal: the
	// containing transaction is rolled back and the process exits.
	ErrAssertion = errors.New("data integrity assertion failed")

	// ErrConfiguration marks a fatal startup misconfiguration: a missing
	// node endpoint required by a migration, an unparsable database URL.
	ErrConfiguration = errors.New("configuration error")

	// ErrOutOfRange marks a value that cannot be represented in its target
	// type (a duration that overflows an SQL interval, a negative amount).
	// Fatal inside indexing; surfaced as a query error on the read path.
	ErrOutOfRange = errors.New("value out of range")

	// ErrNotFound marks a query-path lookup miss. Never fatal.
	ErrNotFound = errors.New("not found")
)

// Transient wraps err so errors.Is(wrapped, ErrTransient) succeeds.
func Transient(err error) error { return wrap(ErrTransient, err) }

// Assertion wraps err so errors.Is(wrapped, ErrAssertion) succeeds.
func Assertion(err error) error { return wrap(ErrAssertion, err) }

// Configuration wraps err so errors.Is(wrapped, ErrConfiguration) succeeds.
func Configuration(err error) error { return wrap(ErrConfiguration, err) }

// OutOfRange wraps err so errors.Is(wrapped, ErrOutOfRange) succeeds.
func OutOfRange(err error) error { return wrap(ErrOutOfRange, err) }

// NotFound wraps err so errors.Is(wrapped, ErrNotFound) succeeds.
func NotFound(err error) error { return wrap(ErrNotFound, err) }

func wrap(kind, err error) error {
	if err == nil {
		return kind
	}
	return &kindError{kind: kind, cause: err}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }
