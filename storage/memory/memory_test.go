package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

func TestStorage_Whitelist(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.LoadWhitelist(ctx)
	assert.ErrorIs(t, err, membersync.ErrWhitelistNotFound)

	wl := &membersync.Whitelist{
		Records:   []roster.Record{{ExternalID: "UCaaaaaaaaaaaaaaaaaaaaaa", TierLabel: "Gold"}},
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: "admin",
	}
	require.NoError(t, storage.ReplaceWhitelist(ctx, wl))

	// Mutating the caller's copy must not leak into the store
	wl.Records[0].TierLabel = "Silver"

	loaded, err := storage.LoadWhitelist(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Records, 1)
	assert.Equal(t, "Gold", loaded.Records[0].TierLabel)
	assert.Equal(t, "admin", loaded.UpdatedBy)

	require.NoError(t, storage.ClearWhitelist(ctx))
	_, err = storage.LoadWhitelist(ctx)
	assert.ErrorIs(t, err, membersync.ErrWhitelistNotFound)

	// Clearing twice is fine
	assert.NoError(t, storage.ClearWhitelist(ctx))
}

func TestStorage_AccountUpdate(t *testing.T) {
	storage := New()
	ctx := context.Background()

	_, err := storage.GetAccount(ctx, "u1")
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)

	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "u1", Role: membersync.RolePending, Plan: membersync.PlanFree}))

	plan := membersync.PlanGold
	expires := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, storage.UpdateAccount(ctx, "u1", membersync.AccountUpdate{Plan: &plan, ExpiresAt: &expires}))

	acc, err := storage.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, membersync.RolePending, acc.Role)
	assert.Equal(t, membersync.PlanGold, acc.Plan)
	require.NotNil(t, acc.ExpiresAt)
	assert.True(t, acc.ExpiresAt.Equal(expires))

	err = storage.UpdateAccount(ctx, "missing", membersync.AccountUpdate{Plan: &plan})
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)
}

func TestStorage_ClaimExternalID(t *testing.T) {
	storage := New()
	ctx := context.Background()
	const id = "UCaaaaaaaaaaaaaaaaaaaaaa"

	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "a"}))
	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "b"}))

	require.NoError(t, storage.ClaimExternalID(ctx, "a", id))
	// Re-claiming one's own ID is a no-op
	require.NoError(t, storage.ClaimExternalID(ctx, "a", id))

	err := storage.ClaimExternalID(ctx, "b", id)
	assert.ErrorIs(t, err, membersync.ErrDuplicateClaim)

	b, err := storage.GetAccount(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.ExternalID)

	err = storage.ClaimExternalID(ctx, "missing", "UCbbbbbbbbbbbbbbbbbbbbbb")
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)
}

func TestStorage_ClaimExternalID_Concurrent(t *testing.T) {
	storage := New()
	ctx := context.Background()
	const id = "UCaaaaaaaaaaaaaaaaaaaaaa"

	uids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, uid := range uids {
		require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: uid}))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, uid := range uids {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			if err := storage.ClaimExternalID(ctx, uid, id); err == nil {
				mu.Lock()
				winners = append(winners, uid)
				mu.Unlock()
			}
		}(uid)
	}
	wg.Wait()

	assert.Len(t, winners, 1)
}

func TestStorage_ListAdmins(t *testing.T) {
	storage := New()
	ctx := context.Background()

	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "z", Role: membersync.RoleAdmin}))
	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "a", Role: membersync.RoleAdmin}))
	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "m", Role: membersync.RoleApproved}))

	admins, err := storage.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z"}, admins)
}

func TestStorage_AuditLogs(t *testing.T) {
	storage := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, storage.LogAuditEntry(ctx, &membersync.AuditRecord{
			ID:         string(rune('a' + i)),
			AccountUID: "u1",
			Action:     membersync.ActionMembershipSync,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
		}))
	}
	require.NoError(t, storage.LogAuditEntry(ctx, &membersync.AuditRecord{
		ID: "other", AccountUID: "u2", Action: membersync.ActionAdminUpdate, Timestamp: base,
	}))

	logs, err := storage.GetAuditLogs(ctx, membersync.AuditFilter{AccountUID: "u1", Limit: 3})
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "e", logs[0].ID)
	assert.Equal(t, "d", logs[1].ID)
	assert.Equal(t, "c", logs[2].ID)

	logs, err = storage.GetAuditLogs(ctx, membersync.AuditFilter{Action: membersync.ActionAdminUpdate})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "u2", logs[0].AccountUID)
}
