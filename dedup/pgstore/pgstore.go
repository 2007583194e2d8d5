// Package pgstore provides a dedup.Backend shared by all consumer instances through a
// PostgreSQL inbox table.
//
// The claim is a single INSERT ... ON CONFLICT statement which only overwrites expired
// rows, so the row lock taken by PostgreSQL serializes concurrent claims of one id.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/velmie/consume/dedup"
)

// DefaultTable is used when Config.Table is empty
const DefaultTable = "consume_dedup"

// DB is the subset of *pgxpool.Pool and pgx.Conn used by the backend
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Config contains configuration options for the PostgreSQL backend
type Config struct {
	DB DB
	// Table may be schema qualified ("inbox.consume_dedup").
	// Default: "consume_dedup"
	Table string
	// Expiry is the lifetime of a marker.
	// Default: dedup.DefaultExpiry
	Expiry time.Duration
}

// Backend implements dedup.Backend using PostgreSQL
type Backend struct {
	db     DB
	table  string
	expiry time.Duration

	claimSQL   string
	releaseSQL string
	purgeSQL   string
}

// New creates the backend; call EnsureSchema once if the table is not managed by migrations
func New(cfg Config) (*Backend, error) {
	if cfg.DB == nil {
		return nil, errors.New("postgres: DB is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = dedup.DefaultExpiry
	}
	table := pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize()

	return &Backend{
		db:     cfg.DB,
		table:  table,
		expiry: cfg.Expiry,
		claimSQL: fmt.Sprintf(`
		INSERT INTO %[1]s (message_id, claimed_at, expires_at)
		VALUES ($1, NOW(), NOW() + make_interval(secs => $2))
		ON CONFLICT (message_id) DO UPDATE
			SET claimed_at = EXCLUDED.claimed_at, expires_at = EXCLUDED.expires_at
			WHERE %[1]s.expires_at <= NOW()
		`, table),
		releaseSQL: fmt.Sprintf(`DELETE FROM %s WHERE message_id = $1`, table),
		purgeSQL:   fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= NOW()`, table),
	}, nil
}

// EnsureSchema creates the inbox table and its expiry index
func (b *Backend) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		message_id TEXT PRIMARY KEY,
		claimed_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`, b.table)
	if _, err := b.db.Exec(ctx, ddl); err != nil {
		return errors.Wrap(err, "postgres: create dedup table")
	}
	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (expires_at)`, b.indexName(), b.table)
	if _, err := b.db.Exec(ctx, idx); err != nil {
		return errors.Wrap(err, "postgres: create dedup expiry index")
	}
	return nil
}

func (b *Backend) indexName() string {
	name := strings.NewReplacer(`"`, "", ".", "_").Replace(b.table)
	return pgx.Identifier{name + "_expires_at_idx"}.Sanitize()
}

// TryClaim inserts the marker, or takes over an expired one
func (b *Backend) TryClaim(ctx context.Context, id string) (bool, error) {
	tag, err := b.db.Exec(ctx, b.claimSQL, id, b.expiry.Seconds())
	if err != nil {
		return false, dedup.Unavailable("postgres claim", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release deletes the marker
func (b *Backend) Release(ctx context.Context, id string) error {
	if _, err := b.db.Exec(ctx, b.releaseSQL, id); err != nil {
		return dedup.Unavailable("postgres release", err)
	}
	return nil
}

// PurgeExpired removes expired markers and returns how many were removed.
// Expired rows never block a claim, purging only bounds the table size.
func (b *Backend) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := b.db.Exec(ctx, b.purgeSQL)
	if err != nil {
		return 0, errors.Wrap(err, "postgres: purge expired markers")
	}
	return tag.RowsAffected(), nil
}

var _ dedup.Backend = (*Backend)(nil)
