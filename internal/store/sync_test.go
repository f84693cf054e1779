package store

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idToken(email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"email":%q}`, email)))
	return fmt.Sprintf("%s.%s.sig", header, payload)
}

func identityBlob(email, accountID, refreshToken string) map[string]any {
	tokens := map[string]any{
		"account_id":   accountID,
		"id_token":     idToken(email),
		"access_token": "at.test.token",
	}
	if refreshToken != "" {
		tokens["refresh_token"] = refreshToken
	}
	return map[string]any{"tokens": tokens}
}

func TestSyncRejectsIdentityMismatch(t *testing.T) {
	s := New()
	account := s.Add("work", identityBlob("a@example.com", "acct-local", "rt-1"), "")
	before := account.Clone()

	external := identityBlob("a@example.com", "acct-other", "rt-1")
	assert.False(t, s.SyncFromExternal(account.ID, external),
		"refresh token equality must not be enough")
	assert.Equal(t, before.AuthJSON, account.AuthJSON, "rejected sync must not mutate the record")
	assert.Equal(t, before.RefreshToken, account.RefreshToken)
}

func TestSyncRejectsUnknownAccount(t *testing.T) {
	s := New()
	assert.False(t, s.SyncFromExternal("missing", identityBlob("a@example.com", "acct-1", "rt")))
}

func TestSyncRejectsEmailMismatchForEmailNamedAccount(t *testing.T) {
	s := New()
	account := s.Add("a@example.com", identityBlob("a@example.com", "acct-1", "rt-a"), "")
	before := account.Clone()

	external := identityBlob("b@example.com", "acct-1", "rt-b")
	assert.False(t, s.SyncFromExternal(account.ID, external),
		"email mismatch must reject even when account ids match")
	assert.Equal(t, before.AuthJSON, account.AuthJSON)
	assert.Equal(t, "rt-a", account.RefreshToken)
}

func TestSyncEmailGuardIsCaseInsensitive(t *testing.T) {
	s := New()
	account := s.Add("A@Example.COM", identityBlob("a@example.com", "acct-1", "rt-a"), "")

	external := identityBlob("a@EXAMPLE.com", "acct-1", "rt-b")
	assert.True(t, s.SyncFromExternal(account.ID, external))
	assert.Equal(t, "rt-b", account.RefreshToken)
}

func TestSyncSkipsEmailGuardForPlainNames(t *testing.T) {
	s := New()
	account := s.Add("work laptop", identityBlob("someone@example.com", "acct-1", "rt-a"), "")

	external := identityBlob("other@example.com", "acct-1", "rt-b")
	assert.True(t, s.SyncFromExternal(account.ID, external))
}

func TestSyncAdoptsExternalRefreshToken(t *testing.T) {
	s := New()
	account := s.Add("a@example.com", identityBlob("a@example.com", "acct-1", "rt1"), "")
	require.Equal(t, "rt1", account.RefreshToken)

	external := identityBlob("a@example.com", "acct-1", "rt2")
	assert.True(t, s.SyncFromExternal(account.ID, external))
	assert.Equal(t, "rt2", account.RefreshToken)
	assert.Equal(t, external, account.AuthJSON, "external document adopted as the new blob")
}

func TestSyncCarriesRefreshTokenForward(t *testing.T) {
	s := New()
	account := s.Add("work", identityBlob("a@example.com", "acct-1", "rt-cached"), "")

	// External document matches identity but lost its refresh token
	external := identityBlob("a@example.com", "acct-1", "")
	assert.True(t, s.SyncFromExternal(account.ID, external))

	tokens := account.AuthJSON["tokens"].(map[string]any)
	assert.Equal(t, "rt-cached", tokens["refresh_token"],
		"cached token carried into the adopted document")
	assert.Equal(t, "rt-cached", account.RefreshToken,
		"cached token untouched when external supplied none")
}

func TestSyncPreservesLastRefreshMarker(t *testing.T) {
	s := New()
	local := identityBlob("a@example.com", "acct-1", "rt-1")
	local["last_refresh"] = "2026-01-01T00:00:00Z"
	account := s.Add("work", local, "")

	external := identityBlob("a@example.com", "acct-1", "rt-2")
	assert.True(t, s.SyncFromExternal(account.ID, external))
	assert.Equal(t, "2026-01-01T00:00:00Z", account.AuthJSON["last_refresh"])

	// An external marker wins
	newer := identityBlob("a@example.com", "acct-1", "rt-3")
	newer["last_refresh"] = "2026-02-01T00:00:00Z"
	assert.True(t, s.SyncFromExternal(account.ID, newer))
	assert.Equal(t, "2026-02-01T00:00:00Z", account.AuthJSON["last_refresh"])
}

func TestDetectConflict(t *testing.T) {
	account := &Account{
		ID:           "acc-1",
		Name:         "current",
		AuthJSON:     identityBlob("a@example.com", "acct-1", "rt-local"),
		RefreshToken: "rt-local",
	}

	t.Run("identity mismatch is not a conflict", func(t *testing.T) {
		name, ok := DetectConflict(account, identityBlob("a@example.com", "acct-other", "rt-new"))
		assert.False(t, ok)
		assert.Empty(t, name)
	})

	t.Run("rotated token is reported", func(t *testing.T) {
		name, ok := DetectConflict(account, identityBlob("a@example.com", "acct-1", "rt-new"))
		assert.True(t, ok)
		assert.Equal(t, "current", name)
	})

	t.Run("same token is quiet", func(t *testing.T) {
		_, ok := DetectConflict(account, identityBlob("a@example.com", "acct-1", "rt-local"))
		assert.False(t, ok)
	})

	t.Run("external without token is quiet", func(t *testing.T) {
		_, ok := DetectConflict(account, identityBlob("a@example.com", "acct-1", ""))
		assert.False(t, ok)
	})
}
