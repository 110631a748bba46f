package linkscluster

import "errors"

// Sentinel errors returned by the engine. All are wrapped with additional
// context via fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrBadParameter is returned when engine construction parameters
	// violate 0 < S <= sigma <= M <= 1.
	ErrBadParameter = errors.New("linkscluster: bad parameter")

	// ErrShapeMismatch is returned when an input vector's dimension does
	// not match the engine's established dimension.
	ErrShapeMismatch = errors.New("linkscluster: vector dimension mismatch")

	// ErrDegenerateVector is returned when a zero-norm vector is given to
	// Predict.
	ErrDegenerateVector = errors.New("linkscluster: degenerate (zero-norm) vector")

	// ErrNotRetained is returned by AllVectors when the engine was
	// constructed with StoreVectors disabled.
	ErrNotRetained = errors.New("linkscluster: vectors were not stored, so can't be collected")

	// ErrInvariantViolation indicates a rehydrated neighbor reference
	// points at a sub-cluster outside its recorded cluster. Fatal: the
	// engine makes no promises about its state after this error.
	ErrInvariantViolation = errors.New("linkscluster: invariant violation")

	// ErrNotFound is returned when a lookup by id finds nothing.
	ErrNotFound = errors.New("linkscluster: not found")
)
