package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caddyserver/certmagic"
)

// lockTTL bounds how long a crashed holder can block others
const lockTTL = 2 * time.Minute

// lockPoll is how often Lock retries a held lock
var lockPoll = 250 * time.Millisecond

// SQLCertStorage keeps certmagic's certificates, keys and ACME state in SQLite
// so a single database file carries the whole deployment.
type SQLCertStorage struct {
	db *sql.DB
}

var _ certmagic.Storage = (*SQLCertStorage)(nil)

// NewSQLCertStorage creates a new SQLCertStorage instance
func NewSQLCertStorage(db *sql.DB) *SQLCertStorage {
	return &SQLCertStorage{db: db}
}

func (s *SQLCertStorage) Store(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

// Load returns fs.ErrNotExist for unknown keys, which certmagic relies on
func (s *SQLCertStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM certificates WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return value, nil
}

// Delete removes key and everything below it
func (s *SQLCertStorage) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM certificates WHERE key = ? OR key LIKE ? ESCAPE '\\'", key, likePrefix(key+"/"))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fs.ErrNotExist
	}
	return nil
}

func (s *SQLCertStorage) Exists(ctx context.Context, key string) bool {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM certificates WHERE key = ? OR key LIKE ? ESCAPE '\\'", key, likePrefix(key+"/")).Scan(&count)
	return err == nil && count > 0
}

// List returns the keys under prefix. Without recursion only the immediate
// children are returned, with "directories" collapsed to their own key.
func (s *SQLCertStorage) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM certificates WHERE key LIKE ? ESCAPE '\\' ORDER BY key", likePrefix(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	seen := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if !recursive {
			rel := strings.TrimPrefix(key, dir)
			if i := strings.Index(rel, "/"); i != -1 {
				key = dir + rel[:i]
			}
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fs.ErrNotExist
	}
	return keys, nil
}

func (s *SQLCertStorage) Stat(ctx context.Context, key string) (certmagic.KeyInfo, error) {
	var size int64
	var modified time.Time

	err := s.db.QueryRowContext(ctx,
		"SELECT length(value), updated_at FROM certificates WHERE key = ?", key).Scan(&size, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		if s.Exists(ctx, key) {
			return certmagic.KeyInfo{Key: key, IsTerminal: false}, nil
		}
		return certmagic.KeyInfo{}, fs.ErrNotExist
	}
	if err != nil {
		return certmagic.KeyInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	return certmagic.KeyInfo{
		Key:        key,
		Modified:   modified,
		Size:       size,
		IsTerminal: true,
	}, nil
}

// Lock takes a row in cert_locks, waiting while another holder has it.
// Locks older than lockTTL are considered abandoned.
func (s *SQLCertStorage) Lock(ctx context.Context, name string) error {
	for {
		now := time.Now().UTC()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO cert_locks (key, expires_at) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET expires_at = excluded.expires_at
			WHERE cert_locks.expires_at < ?
		`, name, now.Add(lockTTL), now)
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

func (s *SQLCertStorage) Unlock(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cert_locks WHERE key = ?", name)
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// likePrefix escapes LIKE wildcards in p and appends %
func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}
