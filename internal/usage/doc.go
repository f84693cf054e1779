// Package usage fetches quota/usage information for a Codex account from the
// provider's backend API.
//
// The fetcher can recover from an expired access token by performing one
// refresh-and-retry, but only when the caller explicitly allows it. Refreshing
// is never allowed for the currently active account: the Codex CLI maintains
// that account's tokens itself, and two independent refreshers racing on one
// refresh token can trip the provider's reuse detection and invalidate it.
package usage
