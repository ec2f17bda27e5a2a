// Package tiered provides a Hot/Cold tiered storage adapter that fronts a
// durable store (Cold) with a fast local one (Hot) using a different strategy
// per data kind.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/viralboard/membersync/pkg/membersync"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Memory) for reads on the reconcile path
	Hot membersync.Storage

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) and the source of truth
	Cold membersync.Storage

	// AsyncAudit enables non-blocking audit writes to Cold.
	// If false, audit writes are synchronous.
	AsyncAudit bool

	// SyncBufferSize is the size of the buffered channel for async operations.
	// Default: 1000
	SyncBufferSize int

	// AsyncErrorHandler is called when an async write or a Hot refresh fails.
	AsyncErrorHandler func(error)
}

// Storage implements a Hot/Cold tiered storage architecture:
// - Read-Through: whitelist snapshot, accounts (Hot → Cold)
// - Write-Through: whitelist, account writes, claims (Cold → Hot)
// - Cold-Only: admin listing, audit reads
// - Async-Audit: audit writes queued to Cold
//
// Hot is never consulted for uniqueness; claims are decided by Cold.
// Hot must not be shared by processes that write to Cold independently.
type Storage struct {
	hot  membersync.Storage
	cold membersync.Storage
	conf Config

	syncQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ membersync.Storage = (*Storage)(nil)

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}

	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		syncQueue: make(chan func() error, config.SyncBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncAudit {
		s.startWorker()
	}

	return s, nil
}

// Close gracefully shuts down the async worker (if enabled), flushing queued audit writes.
func (s *Storage) Close() error {
	if s.conf.AsyncAudit {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

// startWorker runs the background synchronization loop.
// Jobs run sequentially so audit entries reach Cold in submission order.
func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.syncQueue:
				if err := job(); err != nil {
					s.reportError(fmt.Errorf("tiered sync failed: %w", err))
				}
			case <-s.shutdown:
				for {
					select {
					case job := <-s.syncQueue:
						if err := job(); err != nil {
							s.reportError(fmt.Errorf("tiered sync failed: %w", err))
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) reportError(err error) {
	if s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(err)
	}
}

// --- Read-Through ---

// LoadWhitelist implements membersync.WhitelistStore
func (s *Storage) LoadWhitelist(ctx context.Context) (*membersync.Whitelist, error) {
	if wl, err := s.hot.LoadWhitelist(ctx); err == nil {
		return wl, nil
	}

	wl, err := s.cold.LoadWhitelist(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.hot.ReplaceWhitelist(ctx, wl); err != nil {
		s.reportError(fmt.Errorf("tiered: warm whitelist: %w", err))
	}
	return wl, nil
}

// GetAccount implements membersync.AccountStore
func (s *Storage) GetAccount(ctx context.Context, uid string) (*membersync.Account, error) {
	if acc, err := s.hot.GetAccount(ctx, uid); err == nil {
		return acc, nil
	}

	acc, err := s.cold.GetAccount(ctx, uid)
	if err != nil {
		return nil, err
	}
	if err := s.hot.PutAccount(ctx, acc); err != nil {
		s.reportError(fmt.Errorf("tiered: warm account %s: %w", uid, err))
	}
	return acc, nil
}

// --- Write-Through ---

// ReplaceWhitelist implements membersync.WhitelistStore
func (s *Storage) ReplaceWhitelist(ctx context.Context, wl *membersync.Whitelist) error {
	if err := s.cold.ReplaceWhitelist(ctx, wl); err != nil {
		return err
	}
	if err := s.hot.ReplaceWhitelist(ctx, wl); err != nil {
		// A stale Hot snapshot would shadow the new one
		_ = s.hot.ClearWhitelist(ctx) //nolint:errcheck // Best effort
		s.reportError(fmt.Errorf("tiered: hot whitelist: %w", err))
	}
	return nil
}

// ClearWhitelist implements membersync.WhitelistStore
func (s *Storage) ClearWhitelist(ctx context.Context) error {
	if err := s.cold.ClearWhitelist(ctx); err != nil {
		return err
	}
	return s.hot.ClearWhitelist(ctx)
}

// PutAccount implements membersync.AccountStore
func (s *Storage) PutAccount(ctx context.Context, acc *membersync.Account) error {
	if err := s.cold.PutAccount(ctx, acc); err != nil {
		return err
	}
	if err := s.hot.PutAccount(ctx, acc); err != nil {
		s.reportError(fmt.Errorf("tiered: hot account %s: %w", acc.UID, err))
	}
	return nil
}

// UpdateAccount implements membersync.AccountStore
func (s *Storage) UpdateAccount(ctx context.Context, uid string, upd membersync.AccountUpdate) error {
	if err := s.cold.UpdateAccount(ctx, uid, upd); err != nil {
		return err
	}
	s.refreshHot(ctx, uid)
	return nil
}

// ClaimExternalID implements membersync.AccountStore
func (s *Storage) ClaimExternalID(ctx context.Context, uid, externalID string) error {
	if err := s.cold.ClaimExternalID(ctx, uid, externalID); err != nil {
		return err
	}
	s.refreshHot(ctx, uid)
	return nil
}

// refreshHot copies the Cold version of the account into Hot.
func (s *Storage) refreshHot(ctx context.Context, uid string) {
	acc, err := s.cold.GetAccount(ctx, uid)
	if err != nil {
		s.reportError(fmt.Errorf("tiered: refresh account %s: %w", uid, err))
		return
	}
	if err := s.hot.PutAccount(ctx, acc); err != nil {
		s.reportError(fmt.Errorf("tiered: hot account %s: %w", uid, err))
	}
}

// --- Cold-Only ---

// ListAdmins implements membersync.AccountStore
func (s *Storage) ListAdmins(ctx context.Context) ([]string, error) {
	return s.cold.ListAdmins(ctx)
}

// GetAuditLogs implements membersync.AuditLogger.
// With AsyncAudit, entries still queued are not visible yet.
func (s *Storage) GetAuditLogs(ctx context.Context, filter membersync.AuditFilter) ([]*membersync.AuditRecord, error) {
	return s.cold.GetAuditLogs(ctx, filter)
}

// --- Async-Audit ---

// LogAuditEntry implements membersync.AuditLogger
func (s *Storage) LogAuditEntry(ctx context.Context, entry *membersync.AuditRecord) error {
	if !s.conf.AsyncAudit {
		return s.cold.LogAuditEntry(ctx, entry)
	}

	entryCopy := *entry
	job := func() error {
		// Detached from the request context, which may be canceled by now
		return s.cold.LogAuditEntry(context.Background(), &entryCopy)
	}

	select {
	case s.syncQueue <- job:
		return nil
	case <-s.shutdown:
		return s.cold.LogAuditEntry(ctx, entry)
	default:
		// Queue full: fall back to a synchronous write
		return s.cold.LogAuditEntry(ctx, entry)
	}
}
