// Package store holds the account records this tool manages: one entry per
// saved Codex login, plus the id of the account currently mirrored into the
// Codex CLI's auth.json and the application settings.
//
// The store is a whole-document structure: every mutation is followed by a
// full persist through a persist.Backend, never a partial write. Callers are
// expected to own exactly one store instance behind a single lock for the
// process lifetime.
package store
