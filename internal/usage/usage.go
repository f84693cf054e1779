package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the provider backend the usage endpoint lives under.
const DefaultBaseURL = "https://chatgpt.com/backend-api"

const userAgent = "switchboard/1.0"

// ErrTokenInvalid is reported when the account's tokens are rejected even
// after a refresh attempt. The user has to log in again.
var ErrTokenInvalid = errors.New("authorization no longer valid, delete the account and log in again")

// Snapshot is one successful usage reading.
type Snapshot struct {
	PlanType        string
	FiveHourUsed    int
	FiveHourLeft    int
	FiveHourReset   string
	FiveHourResetAt int64
	WeeklyUsed      int
	WeeklyLeft      int
	WeeklyReset     string
	WeeklyResetAt   int64
	CreditsBalance  *float64
	HasCredits      bool
	ValidForCLI     bool
}

// RotatedTokens carries the result of a successful token refresh back to the
// caller, which is responsible for committing it to the account record.
type RotatedTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64 // seconds
}

// RefreshFunc exchanges a refresh token for fresh tokens. The provider's
// OAuth flow is opaque to this package beyond this signature.
type RefreshFunc func(ctx context.Context, refreshToken string) (*RotatedTokens, error)

// Fetcher queries the usage endpoint.
type Fetcher struct {
	baseURL string
	client  *http.Client
	refresh RefreshFunc
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the provider backend base URL.
func WithBaseURL(baseURL string) Option {
	return func(f *Fetcher) { f.baseURL = baseURL }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithRefreshFunc overrides the token refresh collaborator.
func WithRefreshFunc(refresh RefreshFunc) Option {
	return func(f *Fetcher) { f.refresh = refresh }
}

// NewFetcher creates a Fetcher with the provider defaults.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		baseURL: DefaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second, // bounds each call, there is no cancellation of in-flight fetches
		},
		refresh: NewOAuthRefresher(Endpoint, nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the account's usage. On a 401/403 response it performs one
// refresh-and-retry, but only when allowRefresh is set and a refresh token is
// available; rotated tokens are returned alongside the snapshot so the caller
// can commit them. A rejection that survives the retry reports
// ErrTokenInvalid.
func (f *Fetcher) Fetch(ctx context.Context, accessToken, accountID, refreshToken string, allowRefresh bool) (*Snapshot, *RotatedTokens, error) {
	resp, err := f.get(ctx, accessToken, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("usage request: %w", err)
	}

	var rotated *RotatedTokens
	if unauthorized(resp.StatusCode) && allowRefresh && refreshToken != "" && f.refresh != nil {
		drain(resp)

		tokens, refreshErr := f.refresh(ctx, refreshToken)
		if refreshErr != nil {
			return nil, nil, fmt.Errorf("%w: refresh failed: %s", ErrTokenInvalid, refreshErr)
		}
		rotated = tokens

		resp, err = f.get(ctx, tokens.AccessToken, accountID)
		if err != nil {
			return nil, rotated, fmt.Errorf("usage retry after refresh: %w", err)
		}
	}
	defer drain(resp)

	if unauthorized(resp.StatusCode) {
		return nil, rotated, ErrTokenInvalid
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, rotated, fmt.Errorf("usage endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rotated, fmt.Errorf("reading usage response: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, rotated, fmt.Errorf("parsing usage response: %w", err)
	}

	snapshot := parseUsage(payload)
	return snapshot, rotated, nil
}

func (f *Fetcher) get(ctx context.Context, accessToken, accountID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/wham/usage", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", accountID)
	}
	return f.client.Do(req)
}

func unauthorized(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// parseUsage maps the provider's usage payload into a Snapshot. The payload
// shape is treated leniently: numbers may arrive as strings, windows may be
// missing entirely.
func parseUsage(payload map[string]any) *Snapshot {
	rateLimit, _ := payload["rate_limit"].(map[string]any)

	fiveHourUsed, fiveHourReset, fiveHourResetAt := parseWindow(mapValue(rateLimit, "primary_window"))
	weeklyUsed, weeklyReset, weeklyResetAt := parseWindow(mapValue(rateLimit, "secondary_window"))

	planType := "unknown"
	if v, ok := payload["plan_type"].(string); ok && v != "" {
		planType = v
	}

	credits, _ := payload["credits"].(map[string]any)
	hasCredits := boolValue(credits, "has_credits") || boolValue(credits, "unlimited")
	var creditsBalance *float64
	if credits != nil {
		if balance, ok := parseNumber(credits["balance"]); ok {
			creditsBalance = &balance
		}
	}

	return &Snapshot{
		PlanType:        planType,
		FiveHourUsed:    fiveHourUsed,
		FiveHourLeft:    100 - fiveHourUsed,
		FiveHourReset:   fiveHourReset,
		FiveHourResetAt: fiveHourResetAt,
		WeeklyUsed:      weeklyUsed,
		WeeklyLeft:      100 - weeklyUsed,
		WeeklyReset:     weeklyReset,
		WeeklyResetAt:   weeklyResetAt,
		CreditsBalance:  creditsBalance,
		HasCredits:      hasCredits,
		// Reaching the endpoint successfully means the token works for the CLI
		ValidForCLI: true,
	}
}

// parseWindow extracts used percentage and reset information from one rate
// limit window. Returns a zero reading with an "unknown" description when the
// window is absent.
func parseWindow(window map[string]any) (used int, reset string, resetAt int64) {
	if window == nil {
		return 0, "unknown", 0
	}

	used = parseIntLenient(window["used_percent"])

	if ts := int64(parseIntLenient(window["reset_at"])); ts > 0 {
		return used, describeReset(time.Until(time.Unix(ts, 0))), ts
	}

	after := parseIntLenient(window["reset_after_seconds"])
	if after == 0 {
		after = parseIntLenient(window["reset_after_sec"])
	}
	if after > 0 {
		resetAt = time.Now().Unix() + int64(after)
		return used, describeReset(time.Duration(after) * time.Second), resetAt
	}

	return used, "unknown", 0
}

// describeReset renders a duration as a short human description.
func describeReset(d time.Duration) string {
	hours := int64(d.Hours())
	minutes := int64(d.Minutes()) % 60

	switch {
	case hours > 24:
		return fmt.Sprintf("resets in %dd", hours/24)
	case hours > 0:
		return fmt.Sprintf("resets in %dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("resets in %dm", minutes)
	default:
		return "resets soon"
	}
}

// parseIntLenient accepts JSON numbers and numeric strings.
func parseIntLenient(v any) int {
	switch value := v.(type) {
	case float64:
		return int(value)
	case string:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return int(n)
		}
	}
	return 0
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func mapValue(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

func boolValue(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
