package membersync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboard/membersync/pkg/membersync"
)

func TestManager_AdminUpdate(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()
	uploadDefaultRoster(t, m)
	putAccount(t, storage, &membersync.Account{UID: "u1", ExternalID: idA, Role: membersync.RoleApproved, Plan: membersync.PlanSilver})

	role := membersync.RoleAdmin
	acc, err := m.AdminUpdate(ctx, "root", "u1", membersync.AdminChange{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, membersync.RoleAdmin, acc.Role)
	assert.Equal(t, membersync.PlanSilver, acc.Plan)

	logs, err := m.AuditTrail(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, membersync.ActionAdminUpdate, logs[0].Action)
	assert.Equal(t, "root", logs[0].Actor)
	assert.Equal(t, "role approved -> admin", logs[0].Details)

	// Reconciliation keeps the admin role
	_, err = m.Reconcile(ctx, membersync.ReconcileRequest{UID: "u1"})
	require.NoError(t, err)
	stored, err := storage.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, membersync.RoleAdmin, stored.Role)
	assert.Equal(t, membersync.PlanGold, stored.Plan)
}

func TestManager_AdminUpdate_NoChangeNotAudited(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()
	putAccount(t, storage, &membersync.Account{UID: "u1", Role: membersync.RoleApproved, Plan: membersync.PlanSilver})

	plan := membersync.PlanSilver
	_, err := m.AdminUpdate(ctx, "root", "u1", membersync.AdminChange{Plan: &plan})
	require.NoError(t, err)

	logs, err := m.AuditTrail(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestManager_AdminUpdate_Invalid(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()
	putAccount(t, storage, &membersync.Account{UID: "u1", Role: membersync.RoleApproved, Plan: membersync.PlanSilver})

	bad := membersync.Role("superuser")
	_, err := m.AdminUpdate(ctx, "root", "u1", membersync.AdminChange{Role: &bad})
	assert.ErrorIs(t, err, membersync.ErrInvalidChange)

	badPlan := membersync.Plan("platinum")
	_, err = m.AdminUpdate(ctx, "root", "u1", membersync.AdminChange{Plan: &badPlan})
	assert.ErrorIs(t, err, membersync.ErrInvalidChange)

	plan := membersync.PlanGold
	_, err = m.AdminUpdate(ctx, "root", "ghost", membersync.AdminChange{Plan: &plan})
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)
}

func TestManager_ExtendExpiry(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()

	future := testNow.AddDate(0, 0, 5)
	past := testNow.AddDate(0, 0, -5)
	putAccount(t, storage, &membersync.Account{UID: "active", Role: membersync.RoleApproved, Plan: membersync.PlanGold, ExpiresAt: &future})
	putAccount(t, storage, &membersync.Account{UID: "lapsed", Role: membersync.RoleApproved, Plan: membersync.PlanGold, ExpiresAt: &past})
	putAccount(t, storage, &membersync.Account{UID: "never", Role: membersync.RolePending, Plan: membersync.PlanFree})

	acc, err := m.ExtendExpiry(ctx, "root", "active", 7, "contest winner")
	require.NoError(t, err)
	assert.Equal(t, future.AddDate(0, 0, 7), *acc.ExpiresAt)

	acc, err = m.ExtendExpiry(ctx, "root", "lapsed", 7, "")
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 7), *acc.ExpiresAt)

	acc, err = m.ExtendExpiry(ctx, "root", "never", 3, "")
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 0, 3), *acc.ExpiresAt)

	logs, err := m.AuditTrail(ctx, "active", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, membersync.ActionRewardExtension, logs[0].Action)
	assert.Equal(t, "extended by 7 days: contest winner", logs[0].Details)
	assert.Equal(t, future, *logs[0].PreviousExpiresAt)
	assert.Equal(t, future.AddDate(0, 0, 7), *logs[0].NewExpiresAt)

	_, err = m.ExtendExpiry(ctx, "root", "active", 0, "")
	assert.ErrorIs(t, err, membersync.ErrInvalidChange)
}

func TestManager_Status(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()
	uploadDefaultRoster(t, m)

	future := testNow.Add(36 * time.Hour)
	past := testNow.Add(-time.Hour)
	putAccount(t, storage, &membersync.Account{UID: "active", ExternalID: idA, Role: membersync.RoleApproved, Plan: membersync.PlanGold, ExpiresAt: &future})
	putAccount(t, storage, &membersync.Account{UID: "expired", Role: membersync.RoleApproved, Plan: membersync.PlanSilver, ExpiresAt: &past})
	putAccount(t, storage, &membersync.Account{UID: "pending", Role: membersync.RolePending, Plan: membersync.PlanFree})
	putAccount(t, storage, &membersync.Account{UID: "admin", Role: membersync.RoleAdmin, Plan: membersync.PlanGold})

	st, err := m.Status(ctx, "active", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, membersync.StateActive, st.State)
	assert.Equal(t, membersync.PlanGold, st.EffectivePlan)
	assert.Equal(t, 200, st.UsageLimit)
	assert.Equal(t, 2, st.DaysRemaining)
	require.NotNil(t, st.NextRenewal)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC), *st.NextRenewal)

	st, err = m.Status(ctx, "expired", testNow)
	require.NoError(t, err)
	assert.Equal(t, membersync.StateExpired, st.State)
	assert.Equal(t, membersync.PlanSilver, st.Plan)
	assert.Equal(t, membersync.PlanFree, st.EffectivePlan)
	assert.Equal(t, 10, st.UsageLimit)
	assert.Equal(t, 0, st.DaysRemaining)

	st, err = m.Status(ctx, "pending", testNow)
	require.NoError(t, err)
	assert.Equal(t, membersync.StateNone, st.State)
	assert.Nil(t, st.NextRenewal)

	st, err = m.Status(ctx, "admin", testNow)
	require.NoError(t, err)
	assert.Equal(t, membersync.StateActive, st.State)
	assert.Equal(t, 200, st.UsageLimit)

	_, err = m.Status(ctx, "ghost", testNow)
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)
}

func TestManager_AuditTrail_Limits(t *testing.T) {
	m, storage := newTestManager(t, membersync.Config{})
	ctx := context.Background()

	for i := 0; i < 600; i++ {
		require.NoError(t, storage.LogAuditEntry(ctx, &membersync.AuditRecord{
			ID:         "e",
			AccountUID: "u1",
			Action:     membersync.ActionMembershipSync,
			Timestamp:  testNow.Add(time.Duration(i) * time.Second),
		}))
	}

	logs, err := m.AuditTrail(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 50)
	assert.True(t, logs[0].Timestamp.After(logs[1].Timestamp))

	logs, err = m.AuditTrail(ctx, "u1", 10000)
	require.NoError(t, err)
	assert.Len(t, logs, 500)
}
