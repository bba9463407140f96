/*
Package sqlstore implements rewards.Store on SQLite and PostgreSQL.

PURPOSE:
  One implementation of every persistence interface the redemption engine
  needs. The schema and queries are written in the common subset of both
  dialects; sqlx rebinds "?" placeholders for PostgreSQL.

KEY TABLES:
  tiers, users, rewards:           Tenant catalog
  redemptions:                     Coarse claim lifecycle, soft delete
  commission_boost_redemptions:    Boost sub-state and payout fields
  commission_boost_state_history:  Append-only boost transitions
  physical_gift_redemptions:       Shipping and size sub-state
  activation_runs:                 Runner audit trail

STORAGE FORMATS:
  Timestamps:  fixed-width UTC text (generic.TimestampLayout), so text
               comparison orders them correctly on both dialects
  Dates:       YYYY-MM-DD
  Money:       decimal text

INDEXES:
  - uq_redemptions_active_vip: one live VIP claim per user and reward;
    the backstop for concurrent claims
  - idx_boosts_status: runner sweeps

CONCURRENCY:
  No in-process locks. Guarded updates (WHERE status = expected) are the
  only concurrency control; a zero row count means another writer won.
  SQLite is limited to one open connection, which also keeps ":memory:"
  databases shared across calls.

MIGRATION:
  Versioned goose migrations are embedded and applied on Open.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./data/redemptions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - rewards/store.go: Interface definitions
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/generic"
	"github.com/warp/redemption-engine/rewards"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals.
var gooseMu sync.Mutex

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements rewards.Store.
type Store struct {
	db     *sqlx.DB
	driver string
	log    logrus.FieldLogger
}

var _ rewards.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and rollback failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// Open connects to the database and applies pending migrations.
// Use driver "sqlite3" with ":memory:" for tests.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	s := &Store{driver: driver, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}

	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing connection without running migrations.
func New(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{db: sqlx.NewDb(db, driver), driver: driver, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) migrate() error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(s.log)
	if err := goose.SetDialect(s.driver); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func sqliteDSN(dsn string) string {
	params := "_foreign_keys=on&_busy_timeout=5000"
	if dsn != ":memory:" {
		params += "&_journal_mode=WAL"
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// in expands slice arguments and rebinds for the driver.
func (s *Store) in(query string, args ...any) (string, []any, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.rebind(q), a, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.WithError(rbErr).Warn("rollback failed")
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// setList accumulates "col = ?" assignments for dynamic UPDATEs.
type setList struct {
	cols []string
	args []any
}

func (l *setList) add(expr string, arg any) {
	l.cols = append(l.cols, expr)
	l.args = append(l.args, arg)
}

func (l *setList) String() string {
	return strings.Join(l.cols, ", ")
}

// =============================================================================
// VALUE CONVERSION
// =============================================================================

func ts(t time.Time) string {
	return generic.FormatTimestamp(t)
}

func nullTS(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: ts(*t), Valid: true}
}

func parseTS(s string) time.Time {
	t, _ := generic.ParseTimestamp(s)
	return t
}

func parseNullTS(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := generic.ParseTimestamp(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDec(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseNullDec(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func parseNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, generic.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}
