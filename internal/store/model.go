package store

import (
	"time"
)

// Default settings values.
const (
	DefaultPrimaryEditor   = "Windsurf"
	DefaultRefreshInterval = 30 // minutes
)

// Account is one saved Codex login.
type Account struct {
	// ID is a generated identifier, immutable for the record's lifetime.
	ID string `json:"id"`
	// Name is the user-chosen label; often, but not necessarily, an email
	// address. When it is one, synchronization applies an extra email guard.
	Name string `json:"name"`
	// AuthJSON is the account's credential document, byte-for-byte what gets
	// mirrored into the Codex CLI's auth.json. It is the source of truth for
	// tokens; its shape is opaque beyond the fields identity extraction reads.
	AuthJSON map[string]any `json:"auth_json"`
	// RefreshToken is a denormalized copy of the refresh token inside
	// AuthJSON, kept for fast access and as a fallback when the document's
	// token field goes missing. Backfill repairs it from AuthJSON.
	RefreshToken string     `json:"refresh_token,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     *time.Time `json:"last_used,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	// CachedQuota is the last successful quota fetch for this account.
	// Replaced whole on each fetch, never partially updated.
	CachedQuota *QuotaSnapshot `json:"cached_quota,omitempty"`
}

// Clone returns a deep copy of the account. The credential document and the
// quota snapshot are copied so callers can hold the result outside the store
// lock.
func (a *Account) Clone() Account {
	clone := *a
	clone.AuthJSON = cloneBlob(a.AuthJSON)
	if a.LastUsed != nil {
		lastUsed := *a.LastUsed
		clone.LastUsed = &lastUsed
	}
	if a.CachedQuota != nil {
		quota := *a.CachedQuota
		clone.CachedQuota = &quota
	}
	return clone
}

// QuotaSnapshot is the cached result of a successful quota fetch.
type QuotaSnapshot struct {
	FiveHourLeft  float64   `json:"five_hour_left"`
	FiveHourReset string    `json:"five_hour_reset"`
	WeeklyLeft    float64   `json:"weekly_left"`
	WeeklyReset   string    `json:"weekly_reset"`
	PlanType      string    `json:"plan_type"`
	IsValidForCLI bool      `json:"is_valid_for_cli"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Settings are the user-facing application settings persisted alongside the
// accounts.
type Settings struct {
	AutoReloadEditor   bool   `json:"auto_reload_ide"`
	PrimaryEditor      string `json:"primary_ide"`
	UseForcefulRestart bool   `json:"use_pkill_restart"`
	// BackgroundRefresh enables the background scheduler that reconciles the
	// current account against auth.json.
	BackgroundRefresh      bool `json:"background_refresh"`
	RefreshIntervalMinutes int  `json:"refresh_interval_minutes"`
}

// DefaultSettings returns the settings applied to a fresh store.
func DefaultSettings() Settings {
	return Settings{
		PrimaryEditor:          DefaultPrimaryEditor,
		RefreshIntervalMinutes: DefaultRefreshInterval,
	}
}

// Interval returns the background sync interval, treating zero or negative
// values as the default.
func (s Settings) Interval() time.Duration {
	minutes := s.RefreshIntervalMinutes
	if minutes <= 0 {
		minutes = DefaultRefreshInterval
	}
	return time.Duration(minutes) * time.Minute
}

// AccountStore is the persisted top-level document.
type AccountStore struct {
	Accounts map[string]*Account `json:"accounts"`
	// Current references a key in Accounts, or is empty when no account is
	// active. Delete repairs it atomically.
	Current  string   `json:"current,omitempty"`
	Version  int      `json:"version"`
	Settings Settings `json:"settings"`
}

// New creates an empty store with default settings.
func New() *AccountStore {
	return &AccountStore{
		Accounts: make(map[string]*Account),
		Version:  1,
		Settings: DefaultSettings(),
	}
}
