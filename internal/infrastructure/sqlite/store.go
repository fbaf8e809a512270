// Package sqlite provides the SQLite-backed key pool and registrant store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/airdrop-bot/internal/domain"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS keys (
	   id         INTEGER PRIMARY KEY AUTOINCREMENT,
	   key        TEXT    NOT NULL UNIQUE,
	   claimed    INTEGER NOT NULL DEFAULT 0,
	   claimed_at INTEGER,
	   created_at INTEGER NOT NULL
	 )`,
	`CREATE INDEX IF NOT EXISTS keys_claimed_idx ON keys (claimed, id)`,
	`CREATE TABLE IF NOT EXISTS registrants (
	   registrant_id    TEXT PRIMARY KEY,
	   external_user_id TEXT NOT NULL UNIQUE,
	   first_name       TEXT NOT NULL,
	   last_name        TEXT NOT NULL,
	   email            TEXT NOT NULL,
	   assigned_key     TEXT NOT NULL UNIQUE,
	   created_at       INTEGER NOT NULL
	 )`,
}

// Store persists the key pool and registrants in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens (creating if needed) a SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway and this avoids SQLITE_BUSY churn.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range schema {
		if _, err := sqlDB.Exec(stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Seed inserts keys when the pool is empty. The emptiness check and the
// inserts share one transaction, so concurrent seeders cannot double the pool.
func (s *Store) Seed(ctx context.Context, keys []string) (int, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin seed", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys`).Scan(&count); err != nil {
		return 0, unavailable("count keys", err)
	}
	if count > 0 {
		return 0, nil
	}
	now := toMillis(time.Now())
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO keys (key, claimed, created_at) VALUES (?, 0, ?)`, k, now,
		); err != nil {
			if isUniqueViolation(err, "keys.key") {
				return 0, fmt.Errorf("duplicate key %q: %w", k, domain.ErrBadRequest)
			}
			return 0, unavailable("insert key", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit seed", err)
	}
	return len(keys), nil
}

// ClaimOne flips the oldest unclaimed key in a single conditional UPDATE.
func (s *Store) ClaimOne(ctx context.Context) (*domain.Key, error) {
	now := time.Now().UTC()
	var (
		rowID     int64
		value     string
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`UPDATE keys
		    SET claimed = 1, claimed_at = ?
		  WHERE id = (SELECT id FROM keys WHERE claimed = 0 ORDER BY id LIMIT 1)
		    AND claimed = 0
		RETURNING id, key, created_at`,
		toMillis(now),
	).Scan(&rowID, &value, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPoolExhausted
	}
	if err != nil {
		return nil, unavailable("claim key", err)
	}
	claimedAt := fromMillis(toMillis(now))
	return &domain.Key{
		ID:        strconv.FormatInt(rowID, 10),
		Value:     value,
		Claimed:   true,
		ClaimedAt: &claimedAt,
		CreatedAt: fromMillis(createdAt),
	}, nil
}

// Release returns a claimed key to the pool.
func (s *Store) Release(ctx context.Context, value string) error {
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE keys SET claimed = 0, claimed_at = NULL WHERE key = ? AND claimed = 1`, value,
	)
	if err != nil {
		return unavailable("release key", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys WHERE key = ?`, value).Scan(&exists); err != nil {
		return unavailable("lookup key", err)
	}
	if exists == 0 {
		return fmt.Errorf("key not found: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (domain.PoolStats, error) {
	var st domain.PoolStats
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(claimed), 0) FROM keys`,
	).Scan(&st.Total, &st.Claimed); err != nil {
		return domain.PoolStats{}, unavailable("pool stats", err)
	}
	st.Available = st.Total - st.Claimed
	return st, nil
}

func (s *Store) HasClaimed(ctx context.Context, externalUserID string) (bool, error) {
	var n int
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrants WHERE external_user_id = ?`, externalUserID,
	).Scan(&n); err != nil {
		return false, unavailable("lookup registrant", err)
	}
	return n > 0, nil
}

func (s *Store) Create(ctx context.Context, reg *domain.Registrant) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO registrants (
		   registrant_id,
		   external_user_id,
		   first_name,
		   last_name,
		   email,
		   assigned_key,
		   created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		reg.RegistrantID,
		reg.ExternalUserID,
		reg.FirstName,
		reg.LastName,
		reg.Email,
		reg.AssignedKey,
		toMillis(reg.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "registrants.external_user_id") {
			return fmt.Errorf("registrant %s: %w", reg.ExternalUserID, domain.ErrDuplicateRegistrant)
		}
		return unavailable("insert registrant", err)
	}
	return nil
}

// Get returns the registrant for an identity.
func (s *Store) Get(ctx context.Context, externalUserID string) (*domain.Registrant, error) {
	var (
		reg       domain.Registrant
		createdAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT registrant_id, external_user_id, first_name, last_name, email, assigned_key, created_at
		   FROM registrants WHERE external_user_id = ?`, externalUserID,
	).Scan(&reg.RegistrantID, &reg.ExternalUserID, &reg.FirstName, &reg.LastName, &reg.Email, &reg.AssignedKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("registrant not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get registrant", err)
	}
	reg.CreatedAt = fromMillis(createdAt)
	return &reg, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}

// isUniqueViolation reports whether err is a UNIQUE/PRIMARY KEY failure on column
// ("table.column").
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return strings.Contains(message, column)
		}
	}
	return strings.Contains(message, "unique constraint failed") && strings.Contains(message, column)
}
