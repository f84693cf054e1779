// Package identity extracts and compares the identity carried inside Codex
// credential documents (auth.json contents).
//
// Credentials must never be attached to a record that belongs to a different
// external account. When identity cannot be established from either the
// provider account id or the access-token subject, comparison fails closed:
// unknown identities never match.
package identity
