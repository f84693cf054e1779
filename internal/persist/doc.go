// Package persist provides storage backends for the account store document.
//
// Two backends with different deployment tradeoffs:
//   - File: local filesystem storage with atomic writes and owner-only permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Both store the document as a whole; partial writes are never observable.
package persist
