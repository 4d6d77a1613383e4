package hosting

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"path"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrNotFound is returned when a site has no file at the requested path
var ErrNotFound = errors.New("file not found")

// FileSystem is where deployed sites live
type FileSystem interface {
	WriteFile(ctx context.Context, siteID, path string, data []byte) error
	ReadFile(ctx context.Context, siteID, path string) (*File, error)
	Exists(ctx context.Context, siteID, path string) (bool, error)
	ListFiles(ctx context.Context, siteID string) ([]FileInfo, error)
	DeleteSite(ctx context.Context, siteID string) error
}

// File is a stored file with its content loaded
type File struct {
	Path     string
	Content  []byte
	Size     int64
	MimeType string
	Hash     string
	ModTime  time.Time
}

// FileInfo describes a stored file without its content
type FileInfo struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	MimeType  string    `json:"mime_type"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLFileSystem stores files as BLOBs in SQLite
type SQLFileSystem struct {
	db *sql.DB
}

// NewSQLFileSystem creates a new SQL-backed file system
func NewSQLFileSystem(db *sql.DB) *SQLFileSystem {
	return &SQLFileSystem{db: db}
}

// DetectMimeType picks a content type from the extension, falling back to
// sniffing the content
func DetectMimeType(name string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}

func (fs *SQLFileSystem) WriteFile(ctx context.Context, siteID, name string, data []byte) error {
	return writeFile(ctx, fs.db, siteID, name, data)
}

func writeFile(ctx context.Context, ex execer, siteID, name string, data []byte) error {
	sum := sha256.Sum256(data)
	_, err := ex.ExecContext(ctx, `
		INSERT INTO files (site_id, path, content, size_bytes, mime_type, hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(site_id, path) DO UPDATE SET
			content = excluded.content,
			size_bytes = excluded.size_bytes,
			mime_type = excluded.mime_type,
			hash = excluded.hash,
			updated_at = CURRENT_TIMESTAMP
	`, siteID, name, data, len(data), DetectMimeType(name, data), hex.EncodeToString(sum[:]))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (fs *SQLFileSystem) ReadFile(ctx context.Context, siteID, name string) (*File, error) {
	f := &File{Path: name}
	var mimeType sql.NullString
	err := fs.db.QueryRowContext(ctx, `
		SELECT content, size_bytes, mime_type, hash, updated_at
		FROM files WHERE site_id = ? AND path = ?
	`, siteID, name).Scan(&f.Content, &f.Size, &mimeType, &f.Hash, &f.ModTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	f.MimeType = mimeType.String
	return f, nil
}

func (fs *SQLFileSystem) Exists(ctx context.Context, siteID, name string) (bool, error) {
	var count int
	err := fs.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE site_id = ? AND path = ?", siteID, name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (fs *SQLFileSystem) ListFiles(ctx context.Context, siteID string) ([]FileInfo, error) {
	rows, err := fs.db.QueryContext(ctx, `
		SELECT path, size_bytes, mime_type, hash, updated_at
		FROM files WHERE site_id = ? ORDER BY path
	`, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []FileInfo{}
	for rows.Next() {
		var fi FileInfo
		var mimeType sql.NullString
		if err := rows.Scan(&fi.Path, &fi.SizeBytes, &mimeType, &fi.Hash, &fi.UpdatedAt); err != nil {
			return nil, err
		}
		fi.MimeType = mimeType.String
		files = append(files, fi)
	}
	return files, rows.Err()
}

func (fs *SQLFileSystem) DeleteSite(ctx context.Context, siteID string) error {
	_, err := fs.db.ExecContext(ctx, "DELETE FROM files WHERE site_id = ?", siteID)
	return err
}
