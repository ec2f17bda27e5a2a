// Package membersync reconciles account entitlements against an uploaded
// roster of paying community members.
package membersync

import (
	"time"

	"github.com/viralboard/membersync/pkg/roster"
)

// Role is the access role of an account
type Role string

const (
	RolePending  Role = "pending"
	RoleApproved Role = "approved"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePending, RoleApproved, RoleAdmin:
		return true
	}
	return false
}

// Plan is the paid plan an account is entitled to
type Plan string

const (
	PlanFree   Plan = "free"
	PlanSilver Plan = "silver"
	PlanGold   Plan = "gold"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanSilver, PlanGold:
		return true
	}
	return false
}

// Rank orders plans from free (0) to gold (2). Unknown plans rank as free.
func (p Plan) Rank() int {
	switch p {
	case PlanGold:
		return 2
	case PlanSilver:
		return 1
	default:
		return 0
	}
}

// UsageLimit returns the number of daily analyses granted by the plan.
func (p Plan) UsageLimit() int {
	switch p {
	case PlanGold:
		return 200
	case PlanSilver:
		return 50
	default:
		return 10
	}
}

// Audit actions
const (
	ActionMembershipSync  = "membership_sync"
	ActionAdminUpdate     = "admin_update"
	ActionRewardExtension = "reward_extension"
)

// ActorSystem is the actor recorded for engine initiated changes.
const ActorSystem = "system"

// Account is the entitlement view of a user account.
type Account struct {
	UID            string     `json:"uid"`
	ExternalID     string     `json:"externalId,omitempty"`
	Role           Role       `json:"role"`
	Plan           Plan       `json:"plan"`
	MembershipTier string     `json:"membershipTier,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
}

// AccountUpdate is a partial account write. Nil fields are left unchanged.
type AccountUpdate struct {
	Role           *Role
	Plan           *Plan
	MembershipTier *string
	ExpiresAt      *time.Time
	LastSyncAt     *time.Time
}

// Apply copies the non-nil fields of u onto acc.
func (u AccountUpdate) Apply(acc *Account) {
	if u.Role != nil {
		acc.Role = *u.Role
	}
	if u.Plan != nil {
		acc.Plan = *u.Plan
	}
	if u.MembershipTier != nil {
		acc.MembershipTier = *u.MembershipTier
	}
	if u.ExpiresAt != nil {
		t := *u.ExpiresAt
		acc.ExpiresAt = &t
	}
	if u.LastSyncAt != nil {
		t := *u.LastSyncAt
		acc.LastSyncAt = &t
	}
}

// Whitelist is a complete roster snapshot. It is replaced wholesale by every
// upload and never patched.
type Whitelist struct {
	Records   []roster.Record `json:"records"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UpdatedBy string          `json:"updatedBy"`
}

// Find returns the record with the given external ID.
func (w *Whitelist) Find(externalID string) (*roster.Record, bool) {
	if w == nil || externalID == "" {
		return nil, false
	}
	for i := range w.Records {
		if w.Records[i].ExternalID == externalID {
			return &w.Records[i], true
		}
	}
	return nil, false
}

// AuditRecord is a single append-only entry in an account's entitlement history.
type AuditRecord struct {
	// ID is a unique identifier for this entry
	ID string `json:"id"`

	// AccountUID is the account whose entitlement changed
	AccountUID string `json:"accountUid"`

	// Action is one of ActionMembershipSync, ActionAdminUpdate, ActionRewardExtension
	Action string `json:"action"`

	// Details is a human readable summary of the change
	Details string `json:"details"`

	PreviousExpiresAt *time.Time `json:"previousExpiresAt,omitempty"`
	NewExpiresAt      *time.Time `json:"newExpiresAt,omitempty"`

	// Actor is ActorSystem for reconciliation and the admin uid for overrides
	Actor string `json:"actor"`

	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter selects audit records. Results are newest first.
type AuditFilter struct {
	AccountUID string
	Action     string
	Limit      int
}

// Rule identifies which expiry rule produced a decision.
type Rule string

const (
	RuleRemainingDays Rule = "remaining_days"
	RuleAnchorDay     Rule = "anchor_day"
	RuleDefaultWindow Rule = "default_window"
)

// Decision is the entitlement the roster grants to one external ID.
type Decision struct {
	Plan      Plan
	Role      Role
	TierLabel string
	ExpiresAt time.Time
	Rule      Rule
}

// Outcome describes what a reconciliation pass did.
type Outcome string

const (
	OutcomeUnlinked  Outcome = "unlinked"
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
)

// ReconcileRequest identifies the account to reconcile. SessionID scopes the
// one-shot notification; when empty the UID is used. A zero Now means the
// manager clock.
type ReconcileRequest struct {
	UID       string
	SessionID string
	Now       time.Time
}

// ReconcileResult reports the outcome of a reconciliation pass.
type ReconcileResult struct {
	Outcome  Outcome
	Account  *Account
	Decision *Decision

	// Notification is set the first time a given entitlement is surfaced in
	// a session.
	Notification *Notification
}

// Notification is the welcome payload shown once per session and entitlement.
type Notification struct {
	Role          Role       `json:"role"`
	Plan          Plan       `json:"plan"`
	TierLabel     string     `json:"tierLabel"`
	DaysRemaining int        `json:"daysRemaining"`
	UsageLimit    int        `json:"usageLimit"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Notice kinds sent to administrators
const (
	NoticeApproved = "approved"
	NoticeUpgraded = "upgraded"
)

// Notice is an informational message delivered to administrators.
type Notice struct {
	Kind         string    `json:"kind"`
	AccountUID   string    `json:"accountUid"`
	ExternalID   string    `json:"externalId"`
	Plan         Plan      `json:"plan"`
	PreviousPlan Plan      `json:"previousPlan"`
	TierLabel    string    `json:"tierLabel"`
	At           time.Time `json:"at"`
}

// UploadRequest carries a raw roster export.
type UploadRequest struct {
	Raw        []byte
	FileName   string
	UploadedBy string
}

// UploadResult reports an accepted roster upload.
type UploadResult struct {
	RecordCount int       `json:"recordCount"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// ArchiveKey is where the raw file was archived, if an archiver is configured
	ArchiveKey string `json:"archiveKey,omitempty"`
}

// RosterArchive is a raw upload handed to an Archiver.
type RosterArchive struct {
	FileName   string
	UploadedBy string
	UploadedAt time.Time
	Raw        []byte
}

// AdminChange is an administrative role/plan override. Nil fields are kept.
type AdminChange struct {
	Role *Role `json:"role,omitempty"`
	Plan *Plan `json:"plan,omitempty"`
}

// Entitlement states reported by Status
const (
	StateActive  = "active"
	StateExpired = "expired"
	StateNone    = "none"
)

// EntitlementStatus is the read-time view of an account's entitlement.
// Lapse is evaluated here and never written back.
type EntitlementStatus struct {
	UID            string     `json:"uid"`
	Role           Role       `json:"role"`
	Plan           Plan       `json:"plan"`
	EffectivePlan  Plan       `json:"effectivePlan"`
	MembershipTier string     `json:"membershipTier,omitempty"`
	State          string     `json:"state"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining  int        `json:"daysRemaining"`
	UsageLimit     int        `json:"usageLimit"`
	NextRenewal    *time.Time `json:"nextRenewal,omitempty"`
}

// WhitelistInfo summarizes the current snapshot.
type WhitelistInfo struct {
	RecordCount int       `json:"recordCount"`
	UpdatedAt   time.Time `json:"updatedAt"`
	UpdatedBy   string    `json:"updatedBy"`
}

// Config holds manager configuration
type Config struct {
	// Metrics records manager activity (default: NoopMetrics)
	Metrics Metrics

	// Logger receives structured logs (default: NoopLogger)
	Logger Logger

	// Notifier delivers administrator notices (default: none sent)
	Notifier Notifier

	// Sessions tracks surfaced notifications (default: in-process store)
	Sessions SessionStore

	// Archiver stores raw roster uploads (optional)
	Archiver Archiver

	// AuditReadLimit is the default number of audit records returned (default: 50)
	AuditReadLimit int

	// NoticeQueueSize bounds the administrator notice queue (default: 100)
	NoticeQueueSize int

	// SnapshotTTL is how long a loaded whitelist is reused (default: 30s).
	// A negative value disables caching.
	SnapshotTTL time.Duration

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}
