package identity

import "errors"

var (
	// ErrNormalization indicates a single identifier could not be
	// canonicalized. The resolver drops that identifier and continues.
	ErrNormalization = errors.New("identifier could not be normalized")

	// ErrInsufficientIdentifiers indicates the request carried no usable
	// email, phone or name. Nothing is written.
	ErrInsufficientIdentifiers = errors.New("no usable email, phone or name")

	// ErrInvalidRequest indicates the request failed field validation.
	ErrInvalidRequest = errors.New("invalid resolve request")

	// ErrIdentityConflict indicates exact identifiers point at more than one
	// author. It never leaves the package; the disambiguator resolves it.
	ErrIdentityConflict = errors.New("identifiers belong to different authors")

	// ErrArbitrationUnavailable indicates the arbiter timed out, failed or
	// returned an unusable verdict. The disambiguator falls back to the
	// best-scoring candidate.
	ErrArbitrationUnavailable = errors.New("arbitration unavailable")

	// ErrStoreConflict indicates a uniqueness conflict persisted after the
	// single retry. The whole request is safe to retry.
	ErrStoreConflict = errors.New("identity store conflict persisted after retry")
)
