// Package postgres provides a PostgreSQL implementation of the membersync.Storage interface.
// External ID uniqueness is enforced by a UNIQUE constraint, so claims are
// atomic without explicit locking. The schema is managed with embedded goose
// migrations applied by New.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/viralboard/membersync/pkg/membersync"
	"github.com/viralboard/membersync/pkg/roster"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the SQLSTATE for unique_violation
const uniqueViolation = "23505"

// Storage implements membersync.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// SkipMigrations leaves the schema alone when it is managed elsewhere
	SkipMigrations bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter and applies pending migrations
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}
	if !config.SkipMigrations {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ membersync.Storage = (*Storage)(nil)

// LoadWhitelist implements membersync.WhitelistStore
func (s *Storage) LoadWhitelist(ctx context.Context) (*membersync.Whitelist, error) {
	var (
		raw []byte
		wl  membersync.Whitelist
	)
	err := s.pool.QueryRow(ctx,
		`SELECT records, updated_at, updated_by FROM membership_whitelist WHERE id = 1`,
	).Scan(&raw, &wl.UpdatedAt, &wl.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membersync.ErrWhitelistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}

	if err := json.Unmarshal(raw, &wl.Records); err != nil {
		return nil, fmt.Errorf("failed to decode whitelist records: %w", err)
	}
	return &wl, nil
}

// ReplaceWhitelist implements membersync.WhitelistStore
func (s *Storage) ReplaceWhitelist(ctx context.Context, wl *membersync.Whitelist) error {
	if wl == nil {
		return fmt.Errorf("invalid whitelist")
	}

	records := wl.Records
	if records == nil {
		records = []roster.Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode whitelist records: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO membership_whitelist (id, records, record_count, updated_at, updated_by)
			VALUES (1, $1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				records = EXCLUDED.records,
				record_count = EXCLUDED.record_count,
				updated_at = EXCLUDED.updated_at,
				updated_by = EXCLUDED.updated_by`,
		raw, len(records), wl.UpdatedAt, wl.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to replace whitelist: %w", err)
	}
	return nil
}

// ClearWhitelist implements membersync.WhitelistStore
func (s *Storage) ClearWhitelist(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM membership_whitelist WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear whitelist: %w", err)
	}
	return nil
}

// GetAccount implements membersync.AccountStore
func (s *Storage) GetAccount(ctx context.Context, uid string) (*membersync.Account, error) {
	var (
		acc        membersync.Account
		externalID *string
		role, plan string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT uid, external_id, role, plan, membership_tier, expires_at, last_sync_at
			FROM accounts WHERE uid = $1`,
		uid).Scan(&acc.UID, &externalID, &role, &plan, &acc.MembershipTier, &acc.ExpiresAt, &acc.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membersync.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if externalID != nil {
		acc.ExternalID = *externalID
	}
	acc.Role = membersync.Role(role)
	acc.Plan = membersync.Plan(plan)
	return &acc, nil
}

// PutAccount implements membersync.AccountStore
func (s *Storage) PutAccount(ctx context.Context, acc *membersync.Account) error {
	if acc == nil || acc.UID == "" {
		return fmt.Errorf("invalid account")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (uid, external_id, role, plan, membership_tier, expires_at, last_sync_at, updated_at)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
			ON CONFLICT (uid) DO UPDATE SET
				external_id = EXCLUDED.external_id,
				role = EXCLUDED.role,
				plan = EXCLUDED.plan,
				membership_tier = EXCLUDED.membership_tier,
				expires_at = EXCLUDED.expires_at,
				last_sync_at = EXCLUDED.last_sync_at,
				updated_at = EXCLUDED.updated_at`,
		acc.UID, acc.ExternalID, string(acc.Role), string(acc.Plan), acc.MembershipTier,
		acc.ExpiresAt, acc.LastSyncAt, time.Now().UTC(),
	)
	if isUniqueViolation(err) {
		return membersync.ErrDuplicateClaim
	}
	if err != nil {
		return fmt.Errorf("failed to put account: %w", err)
	}
	return nil
}

// UpdateAccount implements membersync.AccountStore
func (s *Storage) UpdateAccount(ctx context.Context, uid string, upd membersync.AccountUpdate) error {
	sets := []string{}
	args := []interface{}{uid}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Role != nil {
		add("role", string(*upd.Role))
	}
	if upd.Plan != nil {
		add("plan", string(*upd.Plan))
	}
	if upd.MembershipTier != nil {
		add("membership_tier", *upd.MembershipTier)
	}
	if upd.ExpiresAt != nil {
		add("expires_at", *upd.ExpiresAt)
	}
	if upd.LastSyncAt != nil {
		add("last_sync_at", *upd.LastSyncAt)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET `+strings.Join(sets, ", ")+` WHERE uid = $1`, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return membersync.ErrAccountNotFound
	}
	return nil
}

// ClaimExternalID implements membersync.AccountStore
func (s *Storage) ClaimExternalID(ctx context.Context, uid, externalID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET external_id = $2, updated_at = $3 WHERE uid = $1`,
		uid, externalID, time.Now().UTC())
	if isUniqueViolation(err) {
		return membersync.ErrDuplicateClaim
	}
	if err != nil {
		return fmt.Errorf("failed to claim external id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return membersync.ErrAccountNotFound
	}
	return nil
}

// ListAdmins implements membersync.AccountStore
func (s *Storage) ListAdmins(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT uid FROM accounts WHERE role = $1 ORDER BY uid`, string(membersync.RoleAdmin))
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	admins, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return admins, nil
}

// LogAuditEntry implements membersync.AuditLogger
func (s *Storage) LogAuditEntry(ctx context.Context, entry *membersync.AuditRecord) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("invalid audit entry")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO membership_audit
			(id, account_uid, action, details, previous_expires_at, new_expires_at, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.AccountUID, entry.Action, entry.Details,
		entry.PreviousExpiresAt, entry.NewExpiresAt, entry.Actor, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to log audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs implements membersync.AuditLogger
func (s *Storage) GetAuditLogs(ctx context.Context, filter membersync.AuditFilter) ([]*membersync.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, account_uid, action, details, previous_expires_at, new_expires_at, actor, created_at
			FROM membership_audit
			WHERE ($1::text = '' OR account_uid = $1) AND ($2::text = '' OR action = $2)
			ORDER BY created_at DESC
			LIMIT $3`,
		filter.AccountUID, filter.Action, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	defer rows.Close()

	var out []*membersync.AuditRecord
	for rows.Next() {
		var e membersync.AuditRecord
		if err := rows.Scan(&e.ID, &e.AccountUID, &e.Action, &e.Details,
			&e.PreviousExpiresAt, &e.NewExpiresAt, &e.Actor, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get audit logs: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
