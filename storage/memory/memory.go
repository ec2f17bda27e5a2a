// Package memory provides an in-memory implementation of the membersync.Storage interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

// Storage implements membersync.Storage using in-memory maps
type Storage struct {
	mu        sync.RWMutex
	whitelist *membersync.Whitelist
	accounts  map[string]*membersync.Account
	claims    map[string]string // externalID -> uid
	audit     []*membersync.AuditRecord
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		accounts: make(map[string]*membersync.Account),
		claims:   make(map[string]string),
	}
}

var _ membersync.Storage = (*Storage)(nil)

// LoadWhitelist implements membersync.WhitelistStore
func (s *Storage) LoadWhitelist(_ context.Context) (*membersync.Whitelist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.whitelist == nil {
		return nil, membersync.ErrWhitelistNotFound
	}
	return copyWhitelist(s.whitelist), nil
}

// ReplaceWhitelist implements membersync.WhitelistStore
func (s *Storage) ReplaceWhitelist(_ context.Context, wl *membersync.Whitelist) error {
	if wl == nil {
		return fmt.Errorf("invalid whitelist")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist = copyWhitelist(wl)
	return nil
}

// ClearWhitelist implements membersync.WhitelistStore
func (s *Storage) ClearWhitelist(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.whitelist = nil
	return nil
}

// GetAccount implements membersync.AccountStore
func (s *Storage) GetAccount(_ context.Context, uid string) (*membersync.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[uid]
	if !ok {
		return nil, membersync.ErrAccountNotFound
	}
	return copyAccount(acc), nil
}

// PutAccount implements membersync.AccountStore. An external ID already held
// by another account is rejected with membersync.ErrDuplicateClaim.
func (s *Storage) PutAccount(_ context.Context, acc *membersync.Account) error {
	if acc == nil || acc.UID == "" {
		return fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ExternalID != "" {
		if holder, ok := s.claims[acc.ExternalID]; ok && holder != acc.UID {
			return membersync.ErrDuplicateClaim
		}
	}
	if prev, ok := s.accounts[acc.UID]; ok && prev.ExternalID != "" {
		delete(s.claims, prev.ExternalID)
	}
	if acc.ExternalID != "" {
		s.claims[acc.ExternalID] = acc.UID
	}
	s.accounts[acc.UID] = copyAccount(acc)
	return nil
}

// UpdateAccount implements membersync.AccountStore
func (s *Storage) UpdateAccount(_ context.Context, uid string, upd membersync.AccountUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[uid]
	if !ok {
		return membersync.ErrAccountNotFound
	}
	upd.Apply(acc)
	return nil
}

// ClaimExternalID implements membersync.AccountStore
func (s *Storage) ClaimExternalID(_ context.Context, uid, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[uid]
	if !ok {
		return membersync.ErrAccountNotFound
	}
	if holder, ok := s.claims[externalID]; ok && holder != uid {
		return membersync.ErrDuplicateClaim
	}
	if acc.ExternalID != "" && acc.ExternalID != externalID {
		delete(s.claims, acc.ExternalID)
	}
	s.claims[externalID] = uid
	acc.ExternalID = externalID
	return nil
}

// ListAdmins implements membersync.AccountStore
func (s *Storage) ListAdmins(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var admins []string
	for uid, acc := range s.accounts {
		if acc.Role == membersync.RoleAdmin {
			admins = append(admins, uid)
		}
	}
	sort.Strings(admins)
	return admins, nil
}

// LogAuditEntry implements membersync.AuditLogger
func (s *Storage) LogAuditEntry(_ context.Context, entry *membersync.AuditRecord) error {
	if entry == nil {
		return fmt.Errorf("invalid audit entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entryCopy := *entry
	s.audit = append(s.audit, &entryCopy)
	return nil
}

// GetAuditLogs implements membersync.AuditLogger
func (s *Storage) GetAuditLogs(_ context.Context, filter membersync.AuditFilter) ([]*membersync.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*membersync.AuditRecord
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if filter.AccountUID != "" && e.AccountUID != filter.AccountUID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		entryCopy := *e
		out = append(out, &entryCopy)
	}

	// Appends are mostly chronological; order by timestamp for injected clocks
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.whitelist = nil
	s.accounts = make(map[string]*membersync.Account)
	s.claims = make(map[string]string)
	s.audit = nil
}

func copyAccount(acc *membersync.Account) *membersync.Account {
	c := *acc
	if acc.ExpiresAt != nil {
		t := *acc.ExpiresAt
		c.ExpiresAt = &t
	}
	if acc.LastSyncAt != nil {
		t := *acc.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

func copyWhitelist(wl *membersync.Whitelist) *membersync.Whitelist {
	c := *wl
	c.Records = append([]roster.Record(nil), wl.Records...)
	return &c
}
