package identity

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Claim names used by the provider. The namespaced variants appear in Codex
// access tokens, the plain ones in standard OIDC id tokens.
const (
	userIDClaim       = "https://api.openai.com/auth/user_id"
	profileClaim      = "https://api.openai.com/profile"
	subjectClaim      = "sub"
	emailClaim        = "email"
	accountIDField    = "account_id"
	refreshTokenField = "refresh_token"
	tokensField       = "tokens"
)

// AccountID returns the provider-assigned account identifier from a credential
// document, checking tokens.account_id first and a root-level account_id as
// fallback. Returns "" if absent, empty, or whitespace-only.
func AccountID(blob map[string]any) string {
	return nestedOrRootString(blob, accountIDField)
}

// AccessToken returns the access token from a credential document.
// Returns "" if absent.
func AccessToken(blob map[string]any) string {
	if blob == nil {
		return ""
	}
	return tokenString(blob, "access_token")
}

// RefreshToken returns the refresh token from a credential document, checking
// tokens.refresh_token first and a root-level refresh_token as fallback.
// Returns "" if absent or blank.
func RefreshToken(blob map[string]any) string {
	return nestedOrRootString(blob, refreshTokenField)
}

// SubjectID returns the provider user id from the access token's claims,
// falling back to the generic "sub" claim. Malformed tokens yield "".
func SubjectID(blob map[string]any) string {
	claims := decodeClaims(tokenString(blob, "access_token"))
	if claims == nil {
		return ""
	}
	if uid := stringValue(claims[userIDClaim]); uid != "" {
		return uid
	}
	return stringValue(claims[subjectClaim])
}

// Email returns the email address carried in the credential's token claims,
// preferring the id token over the access token. Returns "" when neither
// token decodes or no email claim is present.
func Email(blob map[string]any) string {
	claims := decodeClaims(tokenString(blob, "id_token"))
	if claims == nil {
		claims = decodeClaims(tokenString(blob, "access_token"))
	}
	if claims == nil {
		return ""
	}
	if email := strings.TrimSpace(stringValue(claims[emailClaim])); email != "" {
		return email
	}
	if profile, ok := claims[profileClaim].(map[string]any); ok {
		return strings.TrimSpace(stringValue(profile[emailClaim]))
	}
	return ""
}

// Match reports whether two credential documents denote the same external
// account. Provider account ids are compared when both sides carry one,
// otherwise token subject ids. If neither signal is available on both sides
// the identities are considered distinct.
func Match(a, b map[string]any) bool {
	aID, bID := AccountID(a), AccountID(b)
	if aID != "" && bID != "" {
		return aID == bID
	}

	aUID, bUID := SubjectID(a), SubjectID(b)
	if aUID != "" && bUID != "" {
		return aUID == bUID
	}

	return false
}

// decodeClaims decodes the payload segment of a JWT without verifying it.
// Tries unpadded base64url first, then padded standard base64 (some providers
// emit the latter). Returns nil for anything that is not a three-segment
// token with a UTF-8 JSON object payload.
func decodeClaims(token string) map[string]any {
	if token == "" {
		return nil
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil
	}

	payload := parts[1]
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		padded := payload
		if rem := len(padded) % 4; rem != 0 {
			padded += strings.Repeat("=", 4-rem)
		}
		decoded, err = base64.StdEncoding.DecodeString(padded)
		if err != nil {
			return nil
		}
	}

	if !utf8.Valid(decoded) {
		return nil
	}

	var claims map[string]any
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return nil
	}
	return claims
}

// tokenString returns the named token from the tokens container, falling back
// to a root-level field of the same name.
func tokenString(blob map[string]any, key string) string {
	if tokens, ok := blob[tokensField].(map[string]any); ok {
		if t := stringValue(tokens[key]); t != "" {
			return t
		}
	}
	return stringValue(blob[key])
}

func nestedOrRootString(blob map[string]any, key string) string {
	if blob == nil {
		return ""
	}
	if tokens, ok := blob[tokensField].(map[string]any); ok {
		if v := strings.TrimSpace(stringValue(tokens[key])); v != "" {
			return v
		}
	}
	return strings.TrimSpace(stringValue(blob[key]))
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
