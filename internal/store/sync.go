package store

import (
	"log/slog"
	"strings"

	"github.com/florianilch/switchboard/internal/identity"
)

// SyncFromExternal reconciles one account's record against a credential
// document read from the externally-owned auth.json. The external document is
// authoritative when accepted. Returns whether the record changed; rejected
// documents never mutate the record.
//
// Acceptance rules, fail closed:
//  1. The identities must match (account id, else token subject).
//  2. When the account is named after an email address, the external
//     document's email must equal it case-insensitively.
func (s *AccountStore) SyncFromExternal(id string, external map[string]any) bool {
	account, ok := s.Accounts[id]
	if !ok {
		return false
	}
	return syncAccount(account, external)
}

func syncAccount(account *Account, external map[string]any) bool {
	if !identity.Match(account.AuthJSON, external) {
		slog.Warn("sync rejected, identity mismatch",
			"account", account.ID,
			"local_account_id", identity.AccountID(account.AuthJSON),
			"external_account_id", identity.AccountID(external),
		)
		return false
	}

	localName := strings.ToLower(strings.TrimSpace(account.Name))
	if strings.Contains(localName, "@") {
		if email := identity.Email(external); email != "" && !strings.EqualFold(email, localName) {
			slog.Warn("sync rejected, account name does not match token email",
				"account", account.ID,
				"name", account.Name,
			)
			return false
		}
	}

	mergeCredentials(account, external)
	return true
}

// mergeCredentials adopts the external document as the account's credential
// blob, preserving what the external side does not carry:
//   - the local last_refresh marker when the external document lacks one;
//   - a refresh token (external first, then the cached one, then one
//     extracted from the previous blob) placed into the document's token
//     container when that container is missing one.
//
// The cached refresh token is updated only when the external document
// actually supplied one.
func mergeCredentials(account *Account, external map[string]any) {
	if _, ok := external["last_refresh"]; !ok {
		if existing, ok := account.AuthJSON["last_refresh"]; ok {
			external["last_refresh"] = existing
		}
	}

	externalRT := identity.RefreshToken(external)
	fallbackRT := externalRT
	if fallbackRT == "" {
		fallbackRT = account.RefreshToken
	}
	if fallbackRT == "" {
		fallbackRT = identity.RefreshToken(account.AuthJSON)
	}

	if fallbackRT != "" {
		if tokens, ok := external["tokens"].(map[string]any); ok {
			if _, present := tokens["refresh_token"]; !present {
				tokens["refresh_token"] = fallbackRT
			}
		}
	}

	if externalRT != "" {
		account.RefreshToken = externalRT
	}

	account.AuthJSON = external
}

// DetectConflict checks whether the externally-owned document carries a
// rotated refresh token for the given account. Returns the account's name
// when it does, signalling that the Codex CLI rotated the token since last
// observed; the caller prompts the user rather than auto-correcting.
// Identity mismatches are not reportable conflicts.
func DetectConflict(account *Account, external map[string]any) (string, bool) {
	if !identity.Match(account.AuthJSON, external) {
		return "", false
	}

	externalRT := identity.RefreshToken(external)
	localRT := identity.RefreshToken(account.AuthJSON)
	if externalRT != "" && externalRT != localRT {
		return account.Name, true
	}

	return "", false
}
