package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/switchboard/internal/identity"
)

// CredentialWriter mirrors a credential document into the externally-owned
// auth.json. Implemented by authfile.File.
type CredentialWriter interface {
	Write(blob map[string]any) error
}

// Add inserts a new account under a fresh id, opportunistically extracting
// its refresh token. The first account ever added becomes the current one.
func (s *AccountStore) Add(name string, blob map[string]any, notes string) *Account {
	account := &Account{
		ID:           uuid.NewString(),
		Name:         name,
		AuthJSON:     blob,
		RefreshToken: identity.RefreshToken(blob),
		CreatedAt:    time.Now().UTC(),
		Notes:        notes,
	}

	s.Accounts[account.ID] = account

	if s.Current == "" {
		s.Current = account.ID
	}

	return account
}

// SwitchTo marks the account as used, mirrors its credential document into
// the externally-owned file through w, and makes it current. Token lifecycle
// during a switch is left entirely to the Codex CLI; no refresh happens here.
func (s *AccountStore) SwitchTo(id string, w CredentialWriter) error {
	account, ok := s.Accounts[id]
	if !ok {
		return ErrNotFound
	}

	now := time.Now().UTC()
	account.LastUsed = &now

	if err := w.Write(account.AuthJSON); err != nil {
		return err
	}

	s.Current = id
	return nil
}

// Delete removes the account. If it was current, current is repaired to an
// arbitrary remaining account, or cleared when none remain.
func (s *AccountStore) Delete(id string) error {
	if _, ok := s.Accounts[id]; !ok {
		return ErrNotFound
	}

	delete(s.Accounts, id)

	if s.Current == id {
		s.Current = ""
		for remaining := range s.Accounts {
			s.Current = remaining
			break
		}
	}

	return nil
}

// Update applies a partial field update. Nil means "leave unchanged".
func (s *AccountStore) Update(id string, name, notes *string) error {
	account, ok := s.Accounts[id]
	if !ok {
		return ErrNotFound
	}

	if name != nil {
		account.Name = *name
	}
	if notes != nil {
		account.Notes = *notes
	}

	return nil
}

// Get returns the account for id, or ErrNotFound.
func (s *AccountStore) Get(id string) (*Account, error) {
	account, ok := s.Accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

// List returns all accounts, most recently created first. Equal timestamps
// break deterministically by id.
func (s *AccountStore) List() []*Account {
	accounts := make([]*Account, 0, len(s.Accounts))
	for _, account := range s.Accounts {
		accounts = append(accounts, account)
	}

	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.After(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})

	return accounts
}

// Export serializes the whole store as a pretty-printed document.
func (s *AccountStore) Export() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Import parses an exported document and runs the backfill pass over it.
// Callers accepting the result as the live store must first check
// MissingRefreshToken and reject the import if any account cannot be
// auto-renewed.
func Import(data []byte) (*AccountStore, error) {
	imported := &AccountStore{}
	if err := json.Unmarshal(data, imported); err != nil {
		return nil, err
	}
	imported.normalize()
	imported.Backfill()
	return imported, nil
}

// MissingRefreshToken lists the names of accounts that lack a usable refresh
// token, sorted for stable messages.
func (s *AccountStore) MissingRefreshToken() []string {
	var names []string
	for _, account := range s.Accounts {
		if account.RefreshToken == "" {
			names = append(names, account.Name)
		}
	}
	sort.Strings(names)
	return names
}

// Backfill repairs the denormalized refresh token on every account:
// blank-only tokens are cleared, then re-extraction from the credential
// document is attempted for any account still missing one. Returns whether
// anything changed so callers persist only if needed. Idempotent.
func (s *AccountStore) Backfill() bool {
	changed := false
	for _, account := range s.Accounts {
		if account.RefreshToken != "" && strings.TrimSpace(account.RefreshToken) == "" {
			account.RefreshToken = ""
			changed = true
		}
		if account.RefreshToken == "" {
			if rt := identity.RefreshToken(account.AuthJSON); rt != "" {
				account.RefreshToken = rt
				changed = true
			}
		}
	}
	return changed
}

// normalize repairs structural gaps in a freshly unmarshalled store, e.g.
// documents written by older versions without a settings block.
func (s *AccountStore) normalize() {
	if s.Accounts == nil {
		s.Accounts = make(map[string]*Account)
	}
	if s.Settings.PrimaryEditor == "" {
		s.Settings.PrimaryEditor = DefaultPrimaryEditor
	}
	if s.Settings.RefreshIntervalMinutes <= 0 {
		s.Settings.RefreshIntervalMinutes = DefaultRefreshInterval
	}
	if s.Version == 0 {
		s.Version = 1
	}
	if s.Current != "" {
		if _, ok := s.Accounts[s.Current]; !ok {
			s.Current = ""
		}
	}
}

func cloneBlob(blob map[string]any) map[string]any {
	if blob == nil {
		return nil
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return nil
	}
	var clone map[string]any
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil
	}
	return clone
}
