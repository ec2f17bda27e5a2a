package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

const testProjectID = "test-project"

// setupStorage connects to the Firestore emulator, skipping when it is not configured.
func setupStorage(t *testing.T) (*Storage, *firestore.Client) {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping Firestore tests")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	suffix := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())
	storage, err := New(client, Config{
		AccountsCollection:  "test_users_" + suffix,
		WhitelistCollection: "test_whitelist_" + suffix,
		ClaimsCollection:    "test_claims_" + suffix,
		AuditCollection:     "test_audit_" + suffix,
	})
	require.NoError(t, err)
	return storage, client
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestRecordMapRoundTrip(t *testing.T) {
	rec := roster.Record{ExternalID: "UCaaaaaaaaaaaaaaaaaaaaaa", TierLabel: "Gold", RemainingDaysHint: "", HasRemainingDays: true}
	assert.Equal(t, rec, recordFromMap(recordToMap(&rec)))

	rec.HasRemainingDays = false
	got := recordFromMap(recordToMap(&rec))
	assert.False(t, got.HasRemainingDays)
}

func TestFirestore_Whitelist(t *testing.T) {
	storage, _ := setupStorage(t)
	ctx := context.Background()

	_, err := storage.LoadWhitelist(ctx)
	assert.ErrorIs(t, err, membersync.ErrWhitelistNotFound)

	wl := &membersync.Whitelist{
		Records: []roster.Record{
			{ExternalID: "UCaaaaaaaaaaaaaaaaaaaaaa", DisplayName: "Alice", TierLabel: "Gold", LastUpdateTimestamp: "2024-01-20"},
			{ExternalID: "UCbbbbbbbbbbbbbbbbbbbbbb", TierLabel: "Silver", RemainingDaysHint: "12", HasRemainingDays: true},
		},
		UpdatedAt: time.Date(2024, 3, 19, 0, 0, 0, 0, time.UTC),
		UpdatedBy: "admin",
	}
	require.NoError(t, storage.ReplaceWhitelist(ctx, wl))

	loaded, err := storage.LoadWhitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, wl.Records, loaded.Records)
	assert.Equal(t, "admin", loaded.UpdatedBy)
	assert.True(t, loaded.UpdatedAt.Equal(wl.UpdatedAt))

	require.NoError(t, storage.ClearWhitelist(ctx))
	_, err = storage.LoadWhitelist(ctx)
	assert.ErrorIs(t, err, membersync.ErrWhitelistNotFound)
}

func TestFirestore_AccountsAndClaims(t *testing.T) {
	storage, _ := setupStorage(t)
	ctx := context.Background()
	const id = "UCaaaaaaaaaaaaaaaaaaaaaa"

	_, err := storage.GetAccount(ctx, "a")
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)

	plan := membersync.PlanGold
	err = storage.UpdateAccount(ctx, "a", membersync.AccountUpdate{Plan: &plan})
	assert.ErrorIs(t, err, membersync.ErrAccountNotFound)

	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "a", Role: membersync.RolePending, Plan: membersync.PlanFree}))
	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "b", Role: membersync.RolePending, Plan: membersync.PlanFree}))
	require.NoError(t, storage.PutAccount(ctx, &membersync.Account{UID: "root", Role: membersync.RoleAdmin, Plan: membersync.PlanFree}))

	require.NoError(t, storage.ClaimExternalID(ctx, "a", id))
	assert.ErrorIs(t, storage.ClaimExternalID(ctx, "b", id), membersync.ErrDuplicateClaim)
	assert.ErrorIs(t, storage.ClaimExternalID(ctx, "ghost", "UCcccccccccccccccccccccc"), membersync.ErrAccountNotFound)

	b, err := storage.GetAccount(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, b.ExternalID)

	expires := time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, storage.UpdateAccount(ctx, "a", membersync.AccountUpdate{Plan: &plan, ExpiresAt: &expires}))
	a, err := storage.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, id, a.ExternalID)
	assert.Equal(t, membersync.PlanGold, a.Plan)
	assert.Equal(t, membersync.RolePending, a.Role)
	require.NotNil(t, a.ExpiresAt)
	assert.True(t, a.ExpiresAt.Equal(expires))

	admins, err := storage.ListAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"root"}, admins)
}

func TestFirestore_AuditLogs(t *testing.T) {
	storage, _ := setupStorage(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, storage.LogAuditEntry(ctx, &membersync.AuditRecord{
			ID:         fmt.Sprintf("entry-%d", i),
			AccountUID: "u1",
			Action:     membersync.ActionMembershipSync,
			Actor:      membersync.ActorSystem,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
		}))
	}

	logs, err := storage.GetAuditLogs(ctx, membersync.AuditFilter{AccountUID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "entry-2", logs[0].ID)
	assert.Equal(t, "entry-1", logs[1].ID)
}

func TestFirestore_WatchAccounts(t *testing.T) {
	storage, _ := setupStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	done := make(chan error, 1)
	go func() {
		done <- storage.WatchAccounts(ctx, func(_ context.Context, acc *membersync.Account) {
			mu.Lock()
			seen[acc.UID] = true
			mu.Unlock()
		})
	}()

	require.NoError(t, storage.PutAccount(context.Background(), &membersync.Account{UID: "watched", Role: membersync.RolePending}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["watched"]
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("WatchAccounts returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Error("WatchAccounts did not stop after cancel")
	}
}
