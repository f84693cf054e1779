package persist

import "io/fs"

// ErrNotFound is reported by Load when no document has been stored yet.
// Aliased to fs.ErrNotExist so callers can use errors.Is with either.
var ErrNotFound = fs.ErrNotExist

// Backend reads and writes the serialized account store document.
type Backend interface {
	// Load returns the stored document. Returns ErrNotFound if nothing has
	// been stored yet.
	Load() ([]byte, error)

	// Save persists the document, replacing any previous version atomically.
	Save(data []byte) error
}
