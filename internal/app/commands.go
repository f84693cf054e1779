package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/florianilch/switchboard/internal/identity"
	"github.com/florianilch/switchboard/internal/reflock"
	"github.com/florianilch/switchboard/internal/store"
	"github.com/florianilch/switchboard/internal/usage"
)

// Accounts returns all saved accounts, most recently created first.
func (a *App) Accounts() []store.Account {
	a.mu.Lock()
	defer a.mu.Unlock()

	accounts := a.store.List()
	out := make([]store.Account, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, account.Clone())
	}
	return out
}

// CurrentID returns the id of the active account, or "" when none is active.
func (a *App) CurrentID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Current
}

// ImportCurrent saves the Codex CLI's present login as a new account. The
// credential document must carry a refresh token, otherwise the account could
// never be renewed once Codex rotates away from it.
func (a *App) ImportCurrent(name, notes string) (store.Account, error) {
	blob, err := a.authFile.Read()
	if err != nil {
		return store.Account{}, err
	}

	if identity.RefreshToken(blob) == "" {
		return store.Account{}, &store.ValidationError{AccountNames: []string{name}}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	account := a.store.Add(name, blob, notes)
	if err := a.saveLocked(); err != nil {
		return store.Account{}, err
	}
	return account.Clone(), nil
}

// Switch makes the account the active Codex login by mirroring its credential
// document into auth.json.
//
// The outgoing current account is reconciled with auth.json first so token
// rotations Codex performed are not lost. A quota pre-check then probes the
// target's access token without any local refresh; its failure is logged and
// never blocks the switch, since Codex maintains token lifecycle itself on
// the next request. The external write is guarded by the per-account lock.
func (a *App) Switch(ctx context.Context, id string) error {
	a.reconcileCurrent()

	// Snapshot the target's credentials outside any network wait.
	a.mu.Lock()
	account, err := a.store.Get(id)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	accessToken := identity.AccessToken(account.AuthJSON)
	accountID := identity.AccountID(account.AuthJSON)
	refreshToken := account.RefreshToken
	a.mu.Unlock()

	if accessToken == "" {
		return fmt.Errorf("account %s has no access token", id)
	}

	snapshot, _, err := a.usage.Fetch(ctx, accessToken, accountID, refreshToken, false)
	if err != nil {
		slog.WarnContext(ctx, "quota pre-check failed, switching anyway", "account_id", id, "error", err)
	} else {
		a.mu.Lock()
		if account, getErr := a.store.Get(id); getErr == nil {
			account.CachedQuota = quotaSnapshot(snapshot)
			if saveErr := a.saveLocked(); saveErr != nil {
				slog.WarnContext(ctx, "failed to persist pre-check quota", "error", saveErr)
			}
		}
		a.mu.Unlock()
	}

	if !a.locks.Acquire(ctx, id, a.cfg.Locks.AcquireTimeout) {
		return reflock.ErrBusy
	}
	defer a.locks.Release(id)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.SwitchTo(id, a.authFile); err != nil {
		return err
	}
	return a.saveLocked()
}

// Delete removes the account from the store.
func (a *App) Delete(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Delete(id); err != nil {
		return err
	}
	return a.saveLocked()
}

// Update renames or annotates the account. Nil fields stay unchanged.
func (a *App) Update(id string, name, notes *string) (store.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Update(id, name, notes); err != nil {
		return store.Account{}, err
	}
	if err := a.saveLocked(); err != nil {
		return store.Account{}, err
	}

	account, err := a.store.Get(id)
	if err != nil {
		return store.Account{}, err
	}
	return account.Clone(), nil
}

// Export serializes all accounts and settings as a portable document.
func (a *App) Export() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Export()
}

// Import replaces the whole store with an exported document. The import is
// rejected as one unit when any account lacks a refresh token; the error
// names every offending account.
func (a *App) Import(data []byte) error {
	imported, err := store.Import(data)
	if err != nil {
		return fmt.Errorf("failed to parse import document: %w", err)
	}

	if missing := imported.MissingRefreshToken(); len(missing) > 0 {
		return &store.ValidationError{AccountNames: missing}
	}

	a.mu.Lock()
	a.store = imported
	err = a.saveLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	// The imported settings may toggle the background scheduler.
	a.syncSchedulerState()
	a.notifyAccountsUpdated()
	return nil
}

// Sync pulls auth.json into the account's record. Fail-closed: when the
// identities do not match the record stays untouched and ErrIdentityMismatch
// is returned. Reports whether anything changed; an external document equal
// to the stored one is a no-op, so repeated passes over an untouched
// auth.json neither persist nor notify.
func (a *App) Sync(id string) (bool, error) {
	external, err := a.authFile.Read()
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	account, err := a.store.Get(id)
	if err != nil {
		return false, err
	}
	if reflect.DeepEqual(account.AuthJSON, external) {
		return false, nil
	}
	if !a.store.SyncFromExternal(id, external) {
		return false, store.ErrIdentityMismatch
	}
	return true, a.saveLocked()
}

// Quota fetches live usage for the account and caches the result.
//
// For the current account, auth.json is authoritative: it is identity-checked
// and synced into the record before the fetch, and no local refresh ever runs
// for it (Codex maintains its tokens; a concurrent local refresh would get
// the token flagged as reused). Non-current accounts may refresh locally
// once, under the per-account lock.
func (a *App) Quota(ctx context.Context, id string) (store.QuotaSnapshot, error) {
	isCurrent, err := a.prepareQuota(id)
	if err != nil {
		return store.QuotaSnapshot{}, err
	}

	a.mu.Lock()
	account, err := a.store.Get(id)
	if err != nil {
		a.mu.Unlock()
		return store.QuotaSnapshot{}, err
	}
	accessToken := identity.AccessToken(account.AuthJSON)
	accountID := identity.AccountID(account.AuthJSON)
	refreshToken := account.RefreshToken
	if refreshToken == "" {
		refreshToken = identity.RefreshToken(account.AuthJSON)
	}
	a.mu.Unlock()

	if accessToken == "" {
		return store.QuotaSnapshot{}, fmt.Errorf("account %s has no access token", id)
	}

	allowRefresh := !isCurrent
	if allowRefresh {
		if !a.locks.Acquire(ctx, id, a.cfg.Locks.AcquireTimeout) {
			return store.QuotaSnapshot{}, reflock.ErrBusy
		}
		defer a.locks.Release(id)
	}

	snapshot, rotated, err := a.usage.Fetch(ctx, accessToken, accountID, refreshToken, allowRefresh)

	// Rotated tokens are committed even when the retry failed: the provider
	// already invalidated the old refresh token, dropping the new one would
	// strand the account.
	if rotated != nil {
		a.commitRotatedTokens(ctx, id, rotated)
	}
	if err != nil {
		return store.QuotaSnapshot{}, err
	}

	quota := quotaSnapshot(snapshot)

	a.mu.Lock()
	defer a.mu.Unlock()
	if account, getErr := a.store.Get(id); getErr == nil {
		account.CachedQuota = quota
		if saveErr := a.saveLocked(); saveErr != nil {
			slog.WarnContext(ctx, "failed to persist quota", "account_id", id, "error", saveErr)
		}
	}
	return *quota, nil
}

// prepareQuota reconciles the current account with auth.json before its quota
// fetch. Returns whether id is the current account.
func (a *App) prepareQuota(id string) (bool, error) {
	a.mu.Lock()
	isCurrent := a.store.Current == id
	a.mu.Unlock()

	if !isCurrent {
		return false, nil
	}

	external, err := a.authFile.Read()
	if err != nil {
		return true, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	account, err := a.store.Get(id)
	if err != nil {
		return true, err
	}
	if !identity.Match(account.AuthJSON, external) {
		return true, store.ErrIdentityMismatch
	}
	if !reflect.DeepEqual(account.AuthJSON, external) {
		if a.store.SyncFromExternal(id, external) {
			if err := a.saveLocked(); err != nil {
				return true, err
			}
		}
	}
	return true, nil
}

// CheckConflict reports whether Codex rotated the current account's refresh
// token on disk without the record catching up. An unreadable auth.json or an
// identity mismatch is not a conflict.
func (a *App) CheckConflict() (string, bool) {
	external, err := a.authFile.Read()
	if err != nil {
		return "", false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store.Current == "" {
		return "", false
	}
	account, err := a.store.Get(a.store.Current)
	if err != nil {
		return "", false
	}
	return store.DetectConflict(account, external)
}

// Settings returns the persisted application settings.
func (a *App) Settings() store.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Settings
}

// UpdateSettings persists new settings and realigns the scheduler with the
// background refresh toggle.
func (a *App) UpdateSettings(settings store.Settings) error {
	a.mu.Lock()
	a.store.Settings = settings
	err := a.saveLocked()
	a.mu.Unlock()
	if err != nil {
		return err
	}

	a.syncSchedulerState()
	return nil
}

// RequestFixTicket issues a short-lived single-use ticket that must accompany
// the quarantine fix request.
func (a *App) RequestFixTicket() string {
	return a.tickets.Issue()
}

// FixQuarantine runs the privileged quarantine fix after validating the
// ticket. The ticket is spent regardless of the outcome.
func (a *App) FixQuarantine(ctx context.Context, ticketValue string) error {
	if err := a.tickets.Consume(ticketValue); err != nil {
		return err
	}
	if a.fixer == nil {
		return errors.New("quarantine fix is not available on this platform")
	}
	return a.fixer(ctx)
}

// reconcileCurrent folds auth.json back into the outgoing current account
// before a switch. Best effort: a missing file or a rejected sync only means
// there is nothing to carry over.
func (a *App) reconcileCurrent() {
	external, err := a.authFile.Read()
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.store.Current == "" {
		return
	}
	if a.store.SyncFromExternal(a.store.Current, external) {
		if err := a.saveLocked(); err != nil {
			slog.Warn("failed to persist outgoing account sync", "error", err)
		}
	}
}

// commitRotatedTokens folds freshly rotated tokens into the account's
// credential document and its denormalized refresh token copy.
func (a *App) commitRotatedTokens(ctx context.Context, id string, rotated *usage.RotatedTokens) {
	a.mu.Lock()
	defer a.mu.Unlock()

	account, err := a.store.Get(id)
	if err != nil {
		return
	}
	if account.AuthJSON == nil {
		account.AuthJSON = make(map[string]any)
	}

	tokens, ok := account.AuthJSON["tokens"].(map[string]any)
	if !ok {
		tokens = make(map[string]any)
		account.AuthJSON["tokens"] = tokens
	}

	tokens["access_token"] = rotated.AccessToken
	if rotated.RefreshToken != "" {
		tokens["refresh_token"] = rotated.RefreshToken
		account.RefreshToken = rotated.RefreshToken
	} else if account.RefreshToken != "" {
		if _, exists := tokens["refresh_token"]; !exists {
			tokens["refresh_token"] = account.RefreshToken
		}
	}
	if rotated.IDToken != "" {
		tokens["id_token"] = rotated.IDToken
	}
	if rotated.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(rotated.ExpiresIn) * time.Second)
		tokens["expires_at"] = expiresAt.Format(time.RFC3339)
	}
	account.AuthJSON["last_refresh"] = time.Now().UTC().Format(time.RFC3339)

	if err := a.saveLocked(); err != nil {
		slog.WarnContext(ctx, "failed to persist rotated tokens", "account_id", id, "error", err)
	}
}

// quotaSnapshot converts a usage reading into the cached form stored on the
// account.
func quotaSnapshot(s *usage.Snapshot) *store.QuotaSnapshot {
	return &store.QuotaSnapshot{
		FiveHourLeft:  float64(s.FiveHourLeft),
		FiveHourReset: s.FiveHourReset,
		WeeklyLeft:    float64(s.WeeklyLeft),
		WeeklyReset:   s.WeeklyReset,
		PlanType:      s.PlanType,
		IsValidForCLI: s.ValidForCLI,
		UpdatedAt:     time.Now().UTC(),
	}
}
