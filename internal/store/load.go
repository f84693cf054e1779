package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/florianilch/switchboard/internal/persist"
)

// Load reads the store from a backend, returning a fresh store when nothing
// has been persisted yet. The backfill pass runs once here; if it repaired
// anything the result is persisted immediately.
//
// A present-but-unparseable document is an error: silently replacing it with
// an empty store would discard every saved account on the next write.
func Load(backend persist.Backend) (*AccountStore, error) {
	data, err := backend.Load()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return New(), nil
		}
		return nil, fmt.Errorf("loading account store: %w", err)
	}

	s := &AccountStore{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing account store: %w", err)
	}
	s.normalize()

	if s.Backfill() {
		if err := s.Save(backend); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Save persists the whole store document.
func (s *AccountStore) Save(backend persist.Backend) error {
	data, err := s.Export()
	if err != nil {
		return fmt.Errorf("serializing account store: %w", err)
	}
	if err := backend.Save(data); err != nil {
		return fmt.Errorf("saving account store: %w", err)
	}
	return nil
}
