package membersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AdminUpdate applies an administrative role or plan override. It is the only
// path that can grant RoleAdmin. A change that alters nothing is not written.
func (m *Manager) AdminUpdate(ctx context.Context, actor, uid string, change AdminChange) (*Account, error) {
	if change.Role != nil && !change.Role.Valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidChange, *change.Role)
	}
	if change.Plan != nil && !change.Plan.Valid() {
		return nil, fmt.Errorf("%w: plan %q", ErrInvalidChange, *change.Plan)
	}

	acc, err := m.getAccount(ctx, uid)
	if err != nil {
		return nil, err
	}

	var (
		upd   AccountUpdate
		parts []string
	)
	if change.Role != nil && *change.Role != acc.Role {
		upd.Role = change.Role
		parts = append(parts, fmt.Sprintf("role %s -> %s", acc.Role, *change.Role))
	}
	if change.Plan != nil && *change.Plan != acc.Plan {
		upd.Plan = change.Plan
		parts = append(parts, fmt.Sprintf("plan %s -> %s", acc.Plan, *change.Plan))
	}
	if len(parts) == 0 {
		return acc, nil
	}

	start := time.Now()
	err = m.storage.UpdateAccount(ctx, uid, upd)
	m.metrics.RecordStorageOperation("update_account", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	now := m.now()
	m.appendAudit(ctx, &AuditRecord{
		AccountUID:        uid,
		Action:            ActionAdminUpdate,
		Details:           strings.Join(parts, ", "),
		PreviousExpiresAt: acc.ExpiresAt,
		NewExpiresAt:      acc.ExpiresAt,
		Actor:             actor,
		Timestamp:         now,
	})
	m.logger.Info("account updated by admin", Field{"uid", uid}, Field{"actor", actor})

	updated := *acc
	upd.Apply(&updated)
	return &updated, nil
}

// ExtendExpiry grants extra days, counted from the later of now and the
// current expiry.
func (m *Manager) ExtendExpiry(ctx context.Context, actor, uid string, days int, reason string) (*Account, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: extension of %d days", ErrInvalidChange, days)
	}

	acc, err := m.getAccount(ctx, uid)
	if err != nil {
		return nil, err
	}

	now := m.now()
	base := now
	if acc.ExpiresAt != nil && acc.ExpiresAt.After(now) {
		base = *acc.ExpiresAt
	}
	expiresAt := base.AddDate(0, 0, days)

	start := time.Now()
	err = m.storage.UpdateAccount(ctx, uid, AccountUpdate{ExpiresAt: &expiresAt})
	m.metrics.RecordStorageOperation("update_account", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	details := fmt.Sprintf("extended by %d days", days)
	if reason != "" {
		details += ": " + reason
	}
	m.appendAudit(ctx, &AuditRecord{
		AccountUID:        uid,
		Action:            ActionRewardExtension,
		Details:           details,
		PreviousExpiresAt: acc.ExpiresAt,
		NewExpiresAt:      &expiresAt,
		Actor:             actor,
		Timestamp:         now,
	})
	m.logger.Info("expiry extended", Field{"uid", uid}, Field{"actor", actor}, Field{"days", days})

	updated := *acc
	updated.ExpiresAt = &expiresAt
	return &updated, nil
}

// Status evaluates the account's entitlement at now. An expired entitlement
// falls back to the free plan limits; nothing is written.
func (m *Manager) Status(ctx context.Context, uid string, now time.Time) (*EntitlementStatus, error) {
	if now.IsZero() {
		now = m.now()
	}
	acc, err := m.getAccount(ctx, uid)
	if err != nil {
		return nil, err
	}

	st := &EntitlementStatus{
		UID:            acc.UID,
		Role:           acc.Role,
		Plan:           acc.Plan,
		EffectivePlan:  PlanFree,
		MembershipTier: acc.MembershipTier,
		ExpiresAt:      acc.ExpiresAt,
	}

	switch {
	case acc.Role == RoleAdmin:
		st.State = StateActive
	case acc.ExpiresAt == nil:
		st.State = StateNone
	case acc.ExpiresAt.After(now):
		st.State = StateActive
	default:
		st.State = StateExpired
	}
	if st.State == StateActive {
		st.EffectivePlan = acc.Plan
	}
	if acc.ExpiresAt != nil {
		st.DaysRemaining = daysUntil(*acc.ExpiresAt, now)
	}
	st.UsageLimit = st.EffectivePlan.UsageLimit()

	if acc.ExternalID != "" {
		wl, err := m.loadSnapshot(ctx)
		switch {
		case err == nil:
			if rec, ok := wl.Find(acc.ExternalID); ok {
				if ts, ok := ParseLastUpdate(rec.LastUpdateTimestamp); ok {
					next := NextRenewal(ts.Day(), now)
					st.NextRenewal = &next
				}
			}
		case !errors.Is(err, ErrWhitelistNotFound):
			m.logger.Warn("failed to load whitelist for status", Field{"uid", uid}, Field{"error", err})
		}
	}
	return st, nil
}

// AuditTrail returns the newest audit records for an account. limit <= 0
// uses the configured default; larger values are capped.
func (m *Manager) AuditTrail(ctx context.Context, uid string, limit int) ([]*AuditRecord, error) {
	if limit <= 0 {
		limit = m.config.AuditReadLimit
	}
	if limit > maxAuditReadLimit {
		limit = maxAuditReadLimit
	}

	start := time.Now()
	entries, err := m.storage.GetAuditLogs(ctx, AuditFilter{AccountUID: uid, Limit: limit})
	m.metrics.RecordStorageOperation("get_audit_logs", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	return entries, nil
}

func (m *Manager) getAccount(ctx context.Context, uid string) (*Account, error) {
	start := time.Now()
	acc, err := m.storage.GetAccount(ctx, uid)
	m.metrics.RecordStorageOperation("get_account", time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}
