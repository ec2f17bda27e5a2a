package membersync

import (
	"context"
)

// WhitelistStore persists the single current roster snapshot.
type WhitelistStore interface {
	// LoadWhitelist returns the complete snapshot or ErrWhitelistNotFound.
	// A partial snapshot is never returned.
	LoadWhitelist(ctx context.Context) (*Whitelist, error)

	// ReplaceWhitelist overwrites the snapshot wholesale
	ReplaceWhitelist(ctx context.Context, wl *Whitelist) error

	// ClearWhitelist deletes the snapshot. Clearing a missing snapshot is not an error.
	ClearWhitelist(ctx context.Context) error
}

// AccountStore persists the entitlement fields of user accounts.
type AccountStore interface {
	// GetAccount returns the account or ErrAccountNotFound
	GetAccount(ctx context.Context, uid string) (*Account, error)

	// PutAccount creates or replaces an account
	PutAccount(ctx context.Context, acc *Account) error

	// UpdateAccount merges the non-nil fields of upd into the account.
	// Returns ErrAccountNotFound if the account does not exist.
	UpdateAccount(ctx context.Context, uid string, upd AccountUpdate) error

	// ClaimExternalID atomically links externalID to uid.
	// Returns ErrDuplicateClaim, leaving uid untouched, when any other account
	// already holds externalID. Re-claiming one's own ID succeeds.
	ClaimExternalID(ctx context.Context, uid, externalID string) error

	// ListAdmins returns the uids of every account with RoleAdmin
	ListAdmins(ctx context.Context) ([]string, error)
}

// AuditLogger stores the append-only entitlement history.
type AuditLogger interface {
	// LogAuditEntry appends an entry. Entries are never mutated.
	LogAuditEntry(ctx context.Context, entry *AuditRecord) error

	// GetAuditLogs returns entries matching the filter, newest first,
	// at most filter.Limit of them.
	GetAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditRecord, error)
}

// Storage is the full persistence surface the Manager needs.
type Storage interface {
	WhitelistStore
	AccountStore
	AuditLogger
}

// SessionStore remembers which notification keys were surfaced per session.
type SessionStore interface {
	// MarkSurfaced records key for the session and reports whether this is the
	// first time it was seen.
	MarkSurfaced(ctx context.Context, sessionID, key string) (bool, error)
}

// Notifier delivers notices to accounts. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, uid string, notice Notice) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, uid string, notice Notice) error

func (f NotifierFunc) Notify(ctx context.Context, uid string, notice Notice) error {
	return f(ctx, uid, notice)
}

// Archiver keeps a copy of raw roster uploads and returns a location key.
type Archiver interface {
	Archive(ctx context.Context, a RosterArchive) (string, error)
}
