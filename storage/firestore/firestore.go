// Package firestore provides a Firestore implementation of the membersync.Storage interface.
// Accounts live in the same collection the application uses for user documents,
// so the change feed from WatchAccounts sees every account edit.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

// Storage implements membersync.Storage using Google Cloud Firestore
type Storage struct {
	client              *firestore.Client
	accountsCollection  string
	whitelistCollection string
	whitelistDocID      string
	claimsCollection    string
	auditCollection     string
}

// Config holds Firestore storage configuration
type Config struct {
	// AccountsCollection is the collection holding user account documents
	// Default: "users"
	AccountsCollection string

	// WhitelistCollection holds the single roster snapshot document
	// Default: "membership_whitelist"
	WhitelistCollection string

	// WhitelistDocID is the snapshot document ID
	// Default: "current"
	WhitelistDocID string

	// ClaimsCollection maps external IDs to the claiming uid
	// Default: "external_id_claims"
	ClaimsCollection string

	// AuditCollection is the collection for entitlement audit records.
	// Reading it needs a composite index on (accountUid, timestamp desc).
	// Default: "membership_audit"
	AuditCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.AccountsCollection == "" {
		config.AccountsCollection = "users"
	}
	if config.WhitelistCollection == "" {
		config.WhitelistCollection = "membership_whitelist"
	}
	if config.WhitelistDocID == "" {
		config.WhitelistDocID = "current"
	}
	if config.ClaimsCollection == "" {
		config.ClaimsCollection = "external_id_claims"
	}
	if config.AuditCollection == "" {
		config.AuditCollection = "membership_audit"
	}

	return &Storage{
		client:              client,
		accountsCollection:  config.AccountsCollection,
		whitelistCollection: config.WhitelistCollection,
		whitelistDocID:      config.WhitelistDocID,
		claimsCollection:    config.ClaimsCollection,
		auditCollection:     config.AuditCollection,
	}, nil
}

var _ membersync.Storage = (*Storage)(nil)

// LoadWhitelist implements membersync.WhitelistStore
func (s *Storage) LoadWhitelist(ctx context.Context) (*membersync.Whitelist, error) {
	snap, err := s.whitelistDoc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, membersync.ErrWhitelistNotFound
		}
		return nil, fmt.Errorf("failed to get whitelist: %w", err)
	}
	if !snap.Exists() {
		return nil, membersync.ErrWhitelistNotFound
	}

	data := snap.Data()
	wl := &membersync.Whitelist{
		UpdatedAt: getTime(data, "updatedAt"),
		UpdatedBy: getString(data, "updatedBy"),
	}
	if raw, ok := data["records"].([]interface{}); ok {
		wl.Records = make([]roster.Record, 0, getInt(data, "recordCount"))
		for _, r := range raw {
			if m, ok := r.(map[string]interface{}); ok {
				wl.Records = append(wl.Records, recordFromMap(m))
			}
		}
	}
	return wl, nil
}

// ReplaceWhitelist implements membersync.WhitelistStore. The snapshot is a
// single document so readers never see a partially written roster.
func (s *Storage) ReplaceWhitelist(ctx context.Context, wl *membersync.Whitelist) error {
	if wl == nil {
		return fmt.Errorf("invalid whitelist")
	}

	records := make([]interface{}, 0, len(wl.Records))
	for i := range wl.Records {
		records = append(records, recordToMap(&wl.Records[i]))
	}

	_, err := s.whitelistDoc().Set(ctx, map[string]interface{}{
		"records":     records,
		"recordCount": len(wl.Records),
		"updatedAt":   wl.UpdatedAt,
		"updatedBy":   wl.UpdatedBy,
	})
	if err != nil {
		return fmt.Errorf("failed to replace whitelist: %w", err)
	}
	return nil
}

// ClearWhitelist implements membersync.WhitelistStore
func (s *Storage) ClearWhitelist(ctx context.Context) error {
	if _, err := s.whitelistDoc().Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	return nil
}

// GetAccount implements membersync.AccountStore
func (s *Storage) GetAccount(ctx context.Context, uid string) (*membersync.Account, error) {
	snap, err := s.accountDoc(uid).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, membersync.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !snap.Exists() {
		return nil, membersync.ErrAccountNotFound
	}
	return accountFromData(uid, snap.Data()), nil
}

// PutAccount implements membersync.AccountStore. Only the entitlement fields
// are written; other fields of the user document are preserved.
func (s *Storage) PutAccount(ctx context.Context, acc *membersync.Account) error {
	if acc == nil || acc.UID == "" {
		return fmt.Errorf("invalid account")
	}

	data := map[string]interface{}{
		"role":           string(acc.Role),
		"plan":           string(acc.Plan),
		"membershipTier": acc.MembershipTier,
		"externalId":     acc.ExternalID,
		"expiresAt":      timeOrNil(acc.ExpiresAt),
		"lastSyncAt":     timeOrNil(acc.LastSyncAt),
	}

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if acc.ExternalID != "" {
			holder, err := s.claimHolder(tx, acc.ExternalID)
			if err != nil {
				return err
			}
			if holder != "" && holder != acc.UID {
				return membersync.ErrDuplicateClaim
			}
			if err := tx.Set(s.claimDoc(acc.ExternalID), map[string]interface{}{"uid": acc.UID}); err != nil {
				return err
			}
		}
		return tx.Set(s.accountDoc(acc.UID), data, firestore.MergeAll)
	})
	if err != nil {
		if errors.Is(err, membersync.ErrDuplicateClaim) {
			return err
		}
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// UpdateAccount implements membersync.AccountStore
func (s *Storage) UpdateAccount(ctx context.Context, uid string, upd membersync.AccountUpdate) error {
	var updates []firestore.Update
	if upd.Role != nil {
		updates = append(updates, firestore.Update{Path: "role", Value: string(*upd.Role)})
	}
	if upd.Plan != nil {
		updates = append(updates, firestore.Update{Path: "plan", Value: string(*upd.Plan)})
	}
	if upd.MembershipTier != nil {
		updates = append(updates, firestore.Update{Path: "membershipTier", Value: *upd.MembershipTier})
	}
	if upd.ExpiresAt != nil {
		updates = append(updates, firestore.Update{Path: "expiresAt", Value: *upd.ExpiresAt})
	}
	if upd.LastSyncAt != nil {
		updates = append(updates, firestore.Update{Path: "lastSyncAt", Value: *upd.LastSyncAt})
	}
	if len(updates) == 0 {
		return nil
	}

	// Update fails with NotFound instead of creating the document
	if _, err := s.accountDoc(uid).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return membersync.ErrAccountNotFound
		}
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// ClaimExternalID implements membersync.AccountStore. A claim document keyed
// by the external ID makes the check and the link one transaction.
func (s *Storage) ClaimExternalID(ctx context.Context, uid, externalID string) error {
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		holder, err := s.claimHolder(tx, externalID)
		if err != nil {
			return err
		}
		if holder != "" && holder != uid {
			return membersync.ErrDuplicateClaim
		}

		accSnap, err := tx.Get(s.accountDoc(uid))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return membersync.ErrAccountNotFound
			}
			return err
		}
		previous := getString(accSnap.Data(), "externalId")

		// All reads are done; writes follow
		if previous != "" && previous != externalID {
			if err := tx.Delete(s.claimDoc(previous)); err != nil {
				return err
			}
		}
		if err := tx.Set(s.claimDoc(externalID), map[string]interface{}{
			"uid":       uid,
			"claimedAt": time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.Update(s.accountDoc(uid), []firestore.Update{{Path: "externalId", Value: externalID}})
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, membersync.ErrDuplicateClaim), errors.Is(err, membersync.ErrAccountNotFound):
		return err
	default:
		return fmt.Errorf("failed to claim external id: %w", err)
	}
}

// claimHolder returns the uid holding externalID, or "" when unclaimed.
func (s *Storage) claimHolder(tx *firestore.Transaction, externalID string) (string, error) {
	snap, err := tx.Get(s.claimDoc(externalID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	if !snap.Exists() {
		return "", nil
	}
	return getString(snap.Data(), "uid"), nil
}

// ListAdmins implements membersync.AccountStore
func (s *Storage) ListAdmins(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(s.accountsCollection).
		Where("role", "==", string(membersync.RoleAdmin)).
		Documents(ctx)
	defer iter.Stop()

	var admins []string
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list admins: %w", err)
		}
		admins = append(admins, doc.Ref.ID)
	}
	return admins, nil
}

// LogAuditEntry implements membersync.AuditLogger
func (s *Storage) LogAuditEntry(ctx context.Context, entry *membersync.AuditRecord) error {
	if entry == nil {
		return fmt.Errorf("invalid audit entry")
	}

	ref := s.client.Collection(s.auditCollection).NewDoc()
	if entry.ID != "" {
		ref = s.client.Collection(s.auditCollection).Doc(entry.ID)
	}
	_, err := ref.Create(ctx, map[string]interface{}{
		"accountUid":        entry.AccountUID,
		"action":            entry.Action,
		"details":           entry.Details,
		"previousExpiresAt": timeOrNil(entry.PreviousExpiresAt),
		"newExpiresAt":      timeOrNil(entry.NewExpiresAt),
		"actor":             entry.Actor,
		"timestamp":         entry.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs implements membersync.AuditLogger
func (s *Storage) GetAuditLogs(ctx context.Context, filter membersync.AuditFilter) ([]*membersync.AuditRecord, error) {
	q := s.client.Collection(s.auditCollection).Query
	if filter.AccountUID != "" {
		q = q.Where("accountUid", "==", filter.AccountUID)
	}
	if filter.Action != "" {
		q = q.Where("action", "==", filter.Action)
	}
	q = q.OrderBy("timestamp", firestore.Desc)
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*membersync.AuditRecord
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get audit logs: %w", err)
		}
		data := doc.Data()
		out = append(out, &membersync.AuditRecord{
			ID:                doc.Ref.ID,
			AccountUID:        getString(data, "accountUid"),
			Action:            getString(data, "action"),
			Details:           getString(data, "details"),
			PreviousExpiresAt: getTimePtr(data, "previousExpiresAt"),
			NewExpiresAt:      getTimePtr(data, "newExpiresAt"),
			Actor:             getString(data, "actor"),
			Timestamp:         getTime(data, "timestamp"),
		})
	}
	return out, nil
}

// WatchAccounts streams account document changes to fn until ctx is done.
// The first snapshot delivers every existing account. Removed documents are
// skipped. It returns nil when ctx is canceled.
func (s *Storage) WatchAccounts(ctx context.Context, fn func(context.Context, *membersync.Account)) error {
	iter := s.client.Collection(s.accountsCollection).Snapshots(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			return fmt.Errorf("account watch failed: %w", err)
		}
		for _, change := range snap.Changes {
			if change.Kind == firestore.DocumentRemoved {
				continue
			}
			fn(ctx, accountFromData(change.Doc.Ref.ID, change.Doc.Data()))
		}
	}
}

func (s *Storage) whitelistDoc() *firestore.DocumentRef {
	return s.client.Collection(s.whitelistCollection).Doc(s.whitelistDocID)
}

func (s *Storage) accountDoc(uid string) *firestore.DocumentRef {
	return s.client.Collection(s.accountsCollection).Doc(uid)
}

func (s *Storage) claimDoc(externalID string) *firestore.DocumentRef {
	return s.client.Collection(s.claimsCollection).Doc(externalID)
}

func accountFromData(uid string, data map[string]interface{}) *membersync.Account {
	return &membersync.Account{
		UID:            uid,
		ExternalID:     getString(data, "externalId"),
		Role:           membersync.Role(getString(data, "role")),
		Plan:           membersync.Plan(getString(data, "plan")),
		MembershipTier: getString(data, "membershipTier"),
		ExpiresAt:      getTimePtr(data, "expiresAt"),
		LastSyncAt:     getTimePtr(data, "lastSyncAt"),
	}
}

func recordToMap(r *roster.Record) map[string]interface{} {
	m := map[string]interface{}{
		"externalId":          r.ExternalID,
		"displayName":         r.DisplayName,
		"tierLabel":           r.TierLabel,
		"tierDurationMonths":  r.TierDurationMonths,
		"totalDurationMonths": r.TotalDurationMonths,
		"status":              r.Status,
		"lastUpdateTimestamp": r.LastUpdateTimestamp,
	}
	if r.HasRemainingDays {
		m["remainingDaysHint"] = r.RemainingDaysHint
	}
	return m
}

func recordFromMap(m map[string]interface{}) roster.Record {
	r := roster.Record{
		ExternalID:          getString(m, "externalId"),
		DisplayName:         getString(m, "displayName"),
		TierLabel:           getString(m, "tierLabel"),
		TierDurationMonths:  getString(m, "tierDurationMonths"),
		TotalDurationMonths: getString(m, "totalDurationMonths"),
		Status:              getString(m, "status"),
		LastUpdateTimestamp: getString(m, "lastUpdateTimestamp"),
	}
	if hint, ok := m["remainingDaysHint"].(string); ok {
		r.RemainingDaysHint = hint
		r.HasRemainingDays = true
	}
	return r
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getTimePtr(data map[string]interface{}, key string) *time.Time {
	if v, ok := data[key].(time.Time); ok && !v.IsZero() {
		return &v
	}
	return nil
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
