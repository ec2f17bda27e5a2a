package membersync

import "errors"

var (
	// ErrDuplicateClaim is returned when another account already holds the external ID
	ErrDuplicateClaim = errors.New("external id already claimed by another account")

	// ErrInvalidExternalID is returned when no channel ID can be extracted from the input
	ErrInvalidExternalID = errors.New("invalid external id")

	// ErrAccountNotFound is returned when the account does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrWhitelistNotFound is returned by stores when no snapshot exists.
	// Reconciliation treats it as no match.
	ErrWhitelistNotFound = errors.New("whitelist not found")

	// ErrStorageUnavailable is returned when no storage is configured
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidChange is returned for unknown roles, plans or non-positive extensions
	ErrInvalidChange = errors.New("invalid entitlement change")
)
