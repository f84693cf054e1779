// Package authfile reads and writes the Codex CLI's auth.json, the
// externally-owned credential file this tool mirrors accounts into.
//
// The Codex CLI reads and rewrites this file on its own schedule; it is the
// authoritative source when reconciling. Writes must therefore be atomic so
// the CLI never observes a partially written document.
package authfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotLoggedIn is reported when auth.json does not exist, i.e. the user has
// never logged in through the Codex CLI on this machine.
var ErrNotLoggedIn = errors.New("codex auth.json not found, log in with the Codex CLI first")

// DefaultPath returns the fixed location the Codex CLI reads its credentials
// from: ~/.codex/auth.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".codex", "auth.json"), nil
}

// File provides access to a credential file at a fixed path.
type File struct {
	path string
}

// New creates a File for the given path.
func New(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("auth file path cannot be empty")
	}
	return &File{path: path}, nil
}

// Path returns the file's location.
func (f *File) Path() string {
	return f.path
}

// Exists reports whether the credential file is present on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Read parses the credential file. Returns ErrNotLoggedIn if the file is
// absent and a wrapped parse error on invalid content. The document's shape
// is treated as opaque beyond the fields callers explicitly read.
func (f *File) Read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotLoggedIn
		}
		return nil, fmt.Errorf("reading auth.json: %w", err)
	}

	var blob map[string]any
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parsing auth.json: %w", err)
	}
	return blob, nil
}

// Write serializes the credential document and replaces the file atomically:
// pretty-printed JSON is written to a temporary sibling, renamed into place,
// and tightened to owner-only permissions. The parent directory is created
// with 0700 permissions if missing.
func (f *File) Write(blob map[string]any) error {
	content, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing auth.json: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, "auth-*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(content); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replacing auth.json: %w", err)
	}

	return nil
}
