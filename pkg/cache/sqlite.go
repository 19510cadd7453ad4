package cache

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	sberrors "github.com/odvcencio/sidebar/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// ErrCacheClosed indicates the underlying database connection is unavailable.
var ErrCacheClosed = errors.New("cache: closed")

// SQLite is a Cache persisted in a SQLite database, so entries survive
// process restarts and can be shared by several processes on one host.
//
// The Cache interface has no error returns; failed reads are misses and
// failed writes are reported through OnError when set.
type SQLite struct {
	db      *sql.DB
	ttl     time.Duration
	now     func() time.Time
	OnError func(op string, err error)
}

// OpenSQLite opens (creating if needed) a cache database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string, ttl time.Duration) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, sberrors.New(sberrors.ErrCodeCache, "cache path cannot be empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, sberrors.Wrap(err, sberrors.ErrCodeCache, "failed to create cache directory")
			}
		}
		if err := ensurePrivateFile(path); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sberrors.Wrap(err, sberrors.ErrCodeCache, "failed to open cache database")
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, sberrors.Wrap(err, sberrors.ErrCodeCache, "failed to enable WAL mode")
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, sberrors.Wrap(err, sberrors.ErrCodeCache, "failed to set busy timeout")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, sberrors.Wrap(err, sberrors.ErrCodeCache, "failed to create cache schema")
	}

	return &SQLite{db: db, ttl: ttl, now: time.Now}, nil
}

func ensurePrivateFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return sberrors.Wrap(err, sberrors.ErrCodeCache, "stat cache path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return sberrors.Wrap(err, sberrors.ErrCodeCache, "create cache file")
	}
	return f.Close()
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) report(op string, err error) {
	if err != nil && s.OnError != nil {
		s.OnError(op, sberrors.Wrap(err, sberrors.ErrCodeCache, "cache "+op).WithContext("op", op))
	}
}

func (s *SQLite) Get(key string) ([]byte, bool) {
	if s == nil || s.db == nil {
		return nil, false
	}
	var value []byte
	var expires int64
	err := s.db.QueryRow(`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key).Scan(&value, &expires)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.report("get", err)
		}
		return nil, false
	}
	if now := s.now().UnixNano(); expires > 0 && now >= expires {
		// Conditional so a row rewritten since the read survives.
		_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ? AND expires_at > 0 AND expires_at <= ?`, key, now)
		s.report("expire", err)
		return nil, false
	}
	return value, true
}

func (s *SQLite) Set(key string, value []byte) {
	if s == nil || s.db == nil {
		s.report("set", ErrCacheClosed)
		return
	}
	var expires int64
	if s.ttl > 0 {
		expires = s.now().Add(s.ttl).UnixNano()
	}
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = CURRENT_TIMESTAMP
	`, key, value, expires)
	s.report("set", err)
}

func (s *SQLite) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *SQLite) Unset(key string) {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	s.report("unset", err)
}

func (s *SQLite) UnsetAll(prefix string) {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	s.report("unset_all", err)
}

func (s *SQLite) Keys() []string {
	if s == nil || s.db == nil {
		return nil
	}
	rows, err := s.db.Query(`SELECT key FROM cache_entries ORDER BY key`)
	if err != nil {
		s.report("keys", err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.report("keys", err)
			return keys
		}
		keys = append(keys, key)
	}
	s.report("keys", rows.Err())
	return keys
}

func (s *SQLite) Purge() {
	if s == nil || s.db == nil {
		return
	}
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	s.report("purge", err)
}
