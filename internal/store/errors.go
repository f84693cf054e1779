package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is reported for operations on an unknown account id.
var ErrNotFound = errors.New("account not found")

// ErrIdentityMismatch is reported when a credential document is rejected
// because it does not belong to the target account's identity. The scheduler
// only logs it; explicit sync commands surface it.
var ErrIdentityMismatch = errors.New("credential identity does not match the account, sync rejected")

// ValidationError rejects an import whose accounts cannot be auto-renewed.
// It names every offending account.
type ValidationError struct {
	// AccountNames lists accounts missing a usable refresh token, sorted.
	AccountNames []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf(
		"accounts missing a refresh token, log in again before importing: %s",
		strings.Join(e.AccountNames, ", "),
	)
}
