package identity

import (
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, payload string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.sig", header, body)
}

func stdPaddedToken(t *testing.T, payload string) string {
	t.Helper()
	header := base64.StdEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	body := base64.StdEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.sig", header, body)
}

func blobWithIdentity(t *testing.T, email, accountID, refreshToken string) map[string]any {
	t.Helper()
	idToken := signedToken(t, fmt.Sprintf(`{"email":%q}`, email))
	return map[string]any{
		"tokens": map[string]any{
			"account_id":    accountID,
			"refresh_token": refreshToken,
			"id_token":      idToken,
			"access_token":  "at.test.token",
		},
	}
}

func TestAccountID(t *testing.T) {
	tests := []struct {
		name string
		blob map[string]any
		want string
	}{
		{
			name: "nested under tokens",
			blob: map[string]any{"tokens": map[string]any{"account_id": "acct-1"}},
			want: "acct-1",
		},
		{
			name: "root level fallback",
			blob: map[string]any{"account_id": "acct-2"},
			want: "acct-2",
		},
		{
			name: "nested wins over root",
			blob: map[string]any{
				"account_id": "acct-root",
				"tokens":     map[string]any{"account_id": "acct-nested"},
			},
			want: "acct-nested",
		},
		{
			name: "whitespace only is absent",
			blob: map[string]any{"tokens": map[string]any{"account_id": "   "}},
			want: "",
		},
		{
			name: "missing",
			blob: map[string]any{"tokens": map[string]any{}},
			want: "",
		},
		{
			name: "nil blob",
			blob: nil,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AccountID(tt.blob))
		})
	}
}

func TestRefreshToken(t *testing.T) {
	blob := map[string]any{
		"refresh_token": "rt-root",
		"tokens":        map[string]any{"refresh_token": " rt-nested "},
	}
	assert.Equal(t, "rt-nested", RefreshToken(blob))

	delete(blob["tokens"].(map[string]any), "refresh_token")
	assert.Equal(t, "rt-root", RefreshToken(blob))

	assert.Empty(t, RefreshToken(map[string]any{"refresh_token": "  "}))
}

func TestSubjectID(t *testing.T) {
	t.Run("namespaced user id claim", func(t *testing.T) {
		token := signedToken(t, `{"https://api.openai.com/auth/user_id":"user-1","sub":"sub-1"}`)
		blob := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.Equal(t, "user-1", SubjectID(blob))
	})

	t.Run("sub fallback", func(t *testing.T) {
		token := signedToken(t, `{"sub":"sub-2"}`)
		blob := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.Equal(t, "sub-2", SubjectID(blob))
	})

	t.Run("standard base64 payload decodes via padded fallback", func(t *testing.T) {
		token := stdPaddedToken(t, `{"sub":"sub-3"}`)
		blob := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.Equal(t, "sub-3", SubjectID(blob))
	})

	t.Run("malformed tokens yield empty", func(t *testing.T) {
		for name, token := range map[string]string{
			"two segments":   "a.b",
			"not base64":     "a.!!!.c",
			"not json":       "a." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c",
			"empty":          "",
			"binary payload": "a." + base64.RawURLEncoding.EncodeToString([]byte{0xff, 0xfe, 0x01}) + ".c",
		} {
			blob := map[string]any{"tokens": map[string]any{"access_token": token}}
			assert.Empty(t, SubjectID(blob), name)
		}
	})
}

func TestEmail(t *testing.T) {
	t.Run("top level claim from id token", func(t *testing.T) {
		blob := blobWithIdentity(t, "a@example.com", "acct-1", "rt")
		assert.Equal(t, "a@example.com", Email(blob))
	})

	t.Run("access token fallback when id token absent", func(t *testing.T) {
		token := signedToken(t, `{"email":"b@example.com"}`)
		blob := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.Equal(t, "b@example.com", Email(blob))
	})

	t.Run("namespaced profile email", func(t *testing.T) {
		token := signedToken(t, `{"https://api.openai.com/profile":{"email":"c@example.com"}}`)
		blob := map[string]any{"tokens": map[string]any{"id_token": token}}
		assert.Equal(t, "c@example.com", Email(blob))
	})

	t.Run("no decodable token", func(t *testing.T) {
		blob := map[string]any{"tokens": map[string]any{"id_token": "garbage"}}
		assert.Empty(t, Email(blob))
	})
}

func TestMatch(t *testing.T) {
	require.True(t, Match(
		blobWithIdentity(t, "a@example.com", "acct-1", "rt-1"),
		blobWithIdentity(t, "b@example.com", "acct-1", "rt-2"),
	), "equal account ids must match regardless of other fields")

	require.False(t, Match(
		blobWithIdentity(t, "a@example.com", "acct-1", "rt-same"),
		blobWithIdentity(t, "a@example.com", "acct-2", "rt-same"),
	), "differing account ids must not match even when everything else coincides")

	t.Run("subject id fallback", func(t *testing.T) {
		token := signedToken(t, `{"sub":"user-9"}`)
		a := map[string]any{"tokens": map[string]any{"access_token": token}}
		b := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.True(t, Match(a, b))
	})

	t.Run("account id on one side only falls through to subject", func(t *testing.T) {
		token := signedToken(t, `{"sub":"user-9"}`)
		a := map[string]any{"tokens": map[string]any{"account_id": "acct-1", "access_token": token}}
		b := map[string]any{"tokens": map[string]any{"access_token": token}}
		assert.True(t, Match(a, b))
	})

	t.Run("unknown identities fail closed", func(t *testing.T) {
		assert.False(t, Match(map[string]any{}, map[string]any{}))
		assert.False(t, Match(nil, nil))
		assert.False(t, Match(
			map[string]any{"tokens": map[string]any{"refresh_token": "rt"}},
			map[string]any{"tokens": map[string]any{"refresh_token": "rt"}},
		), "refresh token equality alone is never an identity")
	})
}
