package membersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viralboard/membersync/pkg/roster"
)

const (
	// updateSlack absorbs clock and timezone jitter between syncs of an unchanged roster
	updateSlack = 24 * time.Hour

	maxAuditReadLimit = 500
)

// Manager ingests rosters and reconciles account entitlements against them.
// It holds no locks across calls; concurrent reconciliations of one account
// converge because every write is guarded by an idempotent-update test.
type Manager struct {
	storage Storage
	config  Config
	logger  Logger
	metrics Metrics
	notices *noticeQueue

	mu       sync.RWMutex
	snapshot *Whitelist
	cachedAt time.Time
	cached   bool
}

// NewManager creates a new manager with the given storage and configuration
func NewManager(storage Storage, config Config) (*Manager, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Sessions == nil {
		config.Sessions = NewMemorySessionStore()
	}
	if config.AuditReadLimit <= 0 {
		config.AuditReadLimit = 50
	}
	if config.AuditReadLimit > maxAuditReadLimit {
		config.AuditReadLimit = maxAuditReadLimit
	}
	if config.NoticeQueueSize <= 0 {
		config.NoticeQueueSize = 100
	}
	if config.SnapshotTTL == 0 {
		config.SnapshotTTL = 30 * time.Second
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	m := &Manager{
		storage: storage,
		config:  config,
		logger:  config.Logger,
		metrics: config.Metrics,
	}
	if config.Notifier != nil {
		m.notices = newNoticeQueue(config.Notifier, storage, config.Logger, config.Metrics, config.NoticeQueueSize)
	}
	return m, nil
}

// Close drains pending administrator notices and stops the background worker.
func (m *Manager) Close() error {
	if m.notices != nil {
		m.notices.close()
	}
	return nil
}

func (m *Manager) now() time.Time {
	return m.config.Clock()
}

// UploadRoster parses a raw export and replaces the whitelist with it.
// A rejected upload returns the *roster.ParseError and leaves the previous
// snapshot untouched.
func (m *Manager) UploadRoster(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	text, fallback, decodeErr := roster.Decode(req.Raw)
	if decodeErr != nil {
		m.logger.Warn("roster decoded with errors",
			Field{"file", req.FileName},
			Field{"error", decodeErr},
		)
	} else if fallback {
		m.logger.Debug("roster decoded with legacy encoding", Field{"file", req.FileName})
	}

	records, err := roster.ParseText(text)
	if err != nil {
		m.metrics.RecordRosterUpload(0, false)
		m.logger.Warn("roster upload rejected",
			Field{"file", req.FileName},
			Field{"uploadedBy", req.UploadedBy},
			Field{"error", err},
		)
		return nil, err
	}

	now := m.now()
	wl := &Whitelist{
		Records:   records,
		UpdatedAt: now,
		UpdatedBy: req.UploadedBy,
	}

	start := time.Now()
	err = m.storage.ReplaceWhitelist(ctx, wl)
	m.metrics.RecordStorageOperation("replace_whitelist", time.Since(start), err)
	if err != nil {
		m.metrics.RecordRosterUpload(0, false)
		return nil, fmt.Errorf("failed to replace whitelist: %w", err)
	}
	m.setSnapshot(wl)

	result := &UploadResult{RecordCount: len(records), UpdatedAt: now}
	if m.config.Archiver != nil {
		key, err := m.config.Archiver.Archive(ctx, RosterArchive{
			FileName:   req.FileName,
			UploadedBy: req.UploadedBy,
			UploadedAt: now,
			Raw:        req.Raw,
		})
		if err != nil {
			m.logger.Warn("failed to archive roster", Field{"file", req.FileName}, Field{"error", err})
		} else {
			result.ArchiveKey = key
		}
	}

	m.metrics.RecordRosterUpload(len(records), true)
	m.logger.Info("roster uploaded",
		Field{"file", req.FileName},
		Field{"uploadedBy", req.UploadedBy},
		Field{"records", len(records)},
	)
	return result, nil
}

// ResetWhitelist deletes the snapshot. Every resolution returns no match
// until the next upload.
func (m *Manager) ResetWhitelist(ctx context.Context, actor string) error {
	start := time.Now()
	err := m.storage.ClearWhitelist(ctx)
	m.metrics.RecordStorageOperation("clear_whitelist", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	m.setSnapshot(nil)
	m.logger.Info("whitelist reset", Field{"actor", actor})
	return nil
}

// Whitelist returns a summary of the current snapshot.
func (m *Manager) Whitelist(ctx context.Context) (*WhitelistInfo, error) {
	wl, err := m.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &WhitelistInfo{
		RecordCount: len(wl.Records),
		UpdatedAt:   wl.UpdatedAt,
		UpdatedBy:   wl.UpdatedBy,
	}, nil
}

// ClaimExternalID links a self-reported channel ID (bare or inside a profile
// URL) to the account and runs an immediate reconciliation pass in sessionID.
// The claim is rejected with ErrDuplicateClaim when another account holds
// the ID, whether or not it is on the whitelist.
func (m *Manager) ClaimExternalID(ctx context.Context, uid, raw, sessionID string) (*ReconcileResult, error) {
	externalID, ok := roster.ExtractChannelID(strings.TrimSpace(raw))
	if !ok {
		m.metrics.RecordClaim("invalid")
		return nil, ErrInvalidExternalID
	}

	start := time.Now()
	err := m.storage.ClaimExternalID(ctx, uid, externalID)
	m.metrics.RecordStorageOperation("claim_external_id", time.Since(start), err)
	switch {
	case errors.Is(err, ErrDuplicateClaim):
		m.metrics.RecordClaim("duplicate")
		m.logger.Warn("duplicate external id claim", Field{"uid", uid}, Field{"externalId", externalID})
		return nil, err
	case errors.Is(err, ErrAccountNotFound):
		m.metrics.RecordClaim("error")
		return nil, err
	case err != nil:
		m.metrics.RecordClaim("error")
		return nil, fmt.Errorf("failed to claim external id: %w", err)
	}

	m.metrics.RecordClaim("linked")
	m.logger.Info("external id linked", Field{"uid", uid}, Field{"externalId", externalID})
	return m.Reconcile(ctx, ReconcileRequest{UID: uid, SessionID: sessionID})
}

// Reconcile loads the account and brings its entitlement in line with the
// whitelist. Repeated calls with unchanged inputs perform no writes.
func (m *Manager) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	start := time.Now()
	acc, err := m.getAccount(ctx, req.UID)
	if err != nil {
		return nil, err
	}

	now := req.Now
	if now.IsZero() {
		now = m.now()
	}
	return m.reconcile(ctx, acc, req.SessionID, true, now, start)
}

// HandleAccountChange reconciles an account delivered by a change feed. It is
// safe to call more than once for the same change. No presentation session
// exists on this path, so no notification is surfaced or consumed.
func (m *Manager) HandleAccountChange(ctx context.Context, acc *Account) (*ReconcileResult, error) {
	if acc == nil || acc.UID == "" {
		return nil, ErrAccountNotFound
	}
	return m.reconcile(ctx, acc, "", false, m.now(), time.Now())
}

func (m *Manager) reconcile(ctx context.Context, acc *Account, sessionID string, notify bool, now, start time.Time) (*ReconcileResult, error) {
	res, err := m.reconcileAccount(ctx, acc, sessionID, notify, now)
	if err != nil {
		m.logger.Error("reconciliation failed", Field{"uid", acc.UID}, Field{"error", err})
		return nil, err
	}
	m.metrics.RecordReconcile(res.Outcome, time.Since(start))
	return res, nil
}

func (m *Manager) reconcileAccount(ctx context.Context, acc *Account, sessionID string, notify bool, now time.Time) (*ReconcileResult, error) {
	if acc.ExternalID == "" {
		return &ReconcileResult{Outcome: OutcomeUnlinked, Account: acc}, nil
	}

	wl, err := m.loadSnapshot(ctx)
	if err != nil && !errors.Is(err, ErrWhitelistNotFound) {
		return nil, err
	}
	decision, ok := Resolve(acc.ExternalID, wl, now)
	if !ok {
		return &ReconcileResult{Outcome: OutcomeNoMatch, Account: acc}, nil
	}

	finalRole := decision.Role
	if acc.Role == RoleAdmin {
		finalRole = RoleAdmin
	}

	res := &ReconcileResult{Outcome: OutcomeUnchanged, Account: acc, Decision: decision}
	if needsUpdate(acc, decision, finalRole) {
		updated, err := m.applyDecision(ctx, acc, decision, finalRole, now)
		if err != nil {
			return nil, err
		}
		res.Outcome = OutcomeUpdated
		res.Account = updated
	}
	if !notify {
		return res, nil
	}

	if sessionID == "" {
		sessionID = acc.UID
	}
	key := NotificationKey(acc.UID, decision.Plan, finalRole)
	first, err := m.config.Sessions.MarkSurfaced(ctx, sessionID, key)
	if err != nil {
		m.logger.Warn("failed to mark notification surfaced", Field{"uid", acc.UID}, Field{"error", err})
	} else if first {
		expiresAt := decision.ExpiresAt
		res.Notification = &Notification{
			Role:          finalRole,
			Plan:          decision.Plan,
			TierLabel:     decision.TierLabel,
			DaysRemaining: daysUntil(expiresAt, now),
			UsageLimit:    decision.Plan.UsageLimit(),
			ExpiresAt:     &expiresAt,
		}
	}
	return res, nil
}

// needsUpdate is the idempotent-update test.
func needsUpdate(acc *Account, d *Decision, finalRole Role) bool {
	if finalRole != acc.Role || d.Plan != acc.Plan {
		return true
	}
	if acc.ExpiresAt == nil {
		return true
	}
	return d.ExpiresAt.After(acc.ExpiresAt.Add(updateSlack))
}

func (m *Manager) applyDecision(ctx context.Context, acc *Account, d *Decision, finalRole Role, now time.Time) (*Account, error) {
	plan := d.Plan
	tier := d.TierLabel
	expiresAt := d.ExpiresAt
	upd := AccountUpdate{
		Role:           &finalRole,
		Plan:           &plan,
		MembershipTier: &tier,
		ExpiresAt:      &expiresAt,
		LastSyncAt:     &now,
	}

	start := time.Now()
	err := m.storage.UpdateAccount(ctx, acc.UID, upd)
	m.metrics.RecordStorageOperation("update_account", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	updated := *acc
	upd.Apply(&updated)

	m.appendAudit(ctx, &AuditRecord{
		AccountUID: acc.UID,
		Action:     ActionMembershipSync,
		Details: fmt.Sprintf("role %s -> %s, plan %s -> %s, expires %s -> %s (tier %q, %s)",
			acc.Role, finalRole, acc.Plan, plan,
			formatExpiry(acc.ExpiresAt), formatExpiry(&expiresAt), tier, d.Rule),
		PreviousExpiresAt: acc.ExpiresAt,
		NewExpiresAt:      &expiresAt,
		Actor:             ActorSystem,
		Timestamp:         now,
	})

	m.logger.Info("membership synced",
		Field{"uid", acc.UID},
		Field{"role", finalRole},
		Field{"plan", plan},
		Field{"expiresAt", expiresAt},
	)

	if kind := noticeKind(acc, plan); kind != "" && m.notices != nil {
		m.notices.enqueue(Notice{
			Kind:         kind,
			AccountUID:   acc.UID,
			ExternalID:   acc.ExternalID,
			Plan:         plan,
			PreviousPlan: acc.Plan,
			TierLabel:    tier,
			At:           now,
		})
	}
	return &updated, nil
}

// noticeKind classifies a sync for administrators: first approval of a
// pending account, or a plan upgrade of an approved one.
func noticeKind(prev *Account, plan Plan) string {
	switch {
	case prev.Role == RolePending:
		return NoticeApproved
	case prev.Role == RoleApproved && plan.Rank() > prev.Plan.Rank():
		return NoticeUpgraded
	}
	return ""
}

// appendAudit writes an audit record. Failures are logged and swallowed; the
// account write that preceded it stays authoritative.
func (m *Manager) appendAudit(ctx context.Context, rec *AuditRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	start := time.Now()
	err := m.storage.LogAuditEntry(ctx, rec)
	m.metrics.RecordStorageOperation("log_audit", time.Since(start), err)
	if err != nil {
		m.logger.Warn("failed to append audit record",
			Field{"uid", rec.AccountUID},
			Field{"action", rec.Action},
			Field{"error", err},
		)
	}
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "none"
	}
	return t.Format(time.RFC3339)
}

// loadSnapshot returns the whitelist, reusing a recently loaded copy.
func (m *Manager) loadSnapshot(ctx context.Context) (*Whitelist, error) {
	if m.config.SnapshotTTL > 0 {
		m.mu.RLock()
		wl, cached, at := m.snapshot, m.cached, m.cachedAt
		m.mu.RUnlock()
		if cached && time.Since(at) < m.config.SnapshotTTL {
			if wl == nil {
				return nil, ErrWhitelistNotFound
			}
			return wl, nil
		}
	}

	start := time.Now()
	wl, err := m.storage.LoadWhitelist(ctx)
	m.metrics.RecordStorageOperation("load_whitelist", time.Since(start), err)
	switch {
	case errors.Is(err, ErrWhitelistNotFound):
		m.setSnapshot(nil)
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}
	m.setSnapshot(wl)
	return wl, nil
}

func (m *Manager) setSnapshot(wl *Whitelist) {
	if m.config.SnapshotTTL <= 0 {
		return
	}
	m.mu.Lock()
	m.snapshot = wl
	m.cached = true
	m.cachedAt = time.Now()
	m.mu.Unlock()
}
