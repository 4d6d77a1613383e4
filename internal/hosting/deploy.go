package hosting

import (
	"archive/zip"
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidAPIKey is returned when no stored key matches a token
var ErrInvalidAPIKey = errors.New("invalid API key")

// ErrTooLarge is returned when an archive exceeds the deployment limits
var ErrTooLarge = errors.New("deployment too large")

// DeployResult contains information about a deployment
type DeployResult struct {
	ID        int64  `json:"id"`
	SiteID    string `json:"site_id"`
	SizeBytes int64  `json:"size_bytes"`
	FileCount int    `json:"file_count"`
	Skipped   int    `json:"skipped"`
}

// Deployer replaces a site's files with the contents of an archive
type Deployer struct {
	db     *sql.DB
	limits Limits
	hubs   *Hubs
}

// NewDeployer creates a deployer. hubs may be nil.
func NewDeployer(db *sql.DB, limits Limits, hubs *Hubs) *Deployer {
	return &Deployer{db: db, limits: limits, hubs: hubs}
}

type archiveEntry struct {
	path string
	file *zip.File
}

// DeploySite swaps the site's files for the archive's in one transaction, so
// visitors see either the old site or the new one. Unsafe entries are skipped.
func (d *Deployer) DeploySite(ctx context.Context, zr *zip.Reader, siteID, deployedBy string) (*DeployResult, error) {
	if err := ValidateSiteID(siteID); err != nil {
		return nil, err
	}

	result := &DeployResult{SiteID: siteID}

	var entries []archiveEntry
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		p, ok := CleanArchivePath(f.Name)
		if !ok {
			result.Skipped++
			continue
		}
		entries = append(entries, archiveEntry{path: p, file: f})
		names = append(names, p)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("archive contains no files")
	}
	if len(entries) > d.limits.MaxFiles {
		return nil, fmt.Errorf("%w: %d files (max %d)", ErrTooLarge, len(entries), d.limits.MaxFiles)
	}

	if root, ok := stripCommonRoot(names); ok {
		for i := range entries {
			entries[i].path = strings.TrimPrefix(entries[i].path, root)
		}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin deployment: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE site_id = ?", siteID); err != nil {
		return nil, fmt.Errorf("failed to clear site: %w", err)
	}

	for _, e := range entries {
		data, err := readEntry(e.file, d.limits.MaxFileSize)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.path, err)
		}

		result.SizeBytes += int64(len(data))
		if result.SizeBytes > d.limits.MaxSiteSize {
			return nil, fmt.Errorf("%w: site exceeds %d bytes", ErrTooLarge, d.limits.MaxSiteSize)
		}

		if err := writeFile(ctx, tx, siteID, e.path, data); err != nil {
			return nil, err
		}
		result.FileCount++
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO deployments (site_id, size_bytes, file_count, deployed_by) VALUES (?, ?, ?, ?)",
		siteID, result.SizeBytes, result.FileCount, deployedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}
	result.ID, _ = res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deployment: %w", err)
	}

	zap.L().Info("Site deployed",
		zap.String("site", siteID),
		zap.Int("files", result.FileCount),
		zap.Int64("bytes", result.SizeBytes),
		zap.Int("skipped", result.Skipped),
		zap.String("by", deployedBy))

	if d.hubs != nil {
		d.hubs.Get(siteID).Broadcast(ReloadMessage)
	}
	return result, nil
}

// readEntry reads a zip entry, refusing anything over max bytes
func readEntry(f *zip.File, max int64) ([]byte, error) {
	if f.UncompressedSize64 > uint64(max) {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrTooLarge, max)
	}
	src, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	// The header size can lie
	data, err := io.ReadAll(io.LimitReader(src, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrTooLarge, max)
	}
	return data, nil
}

// Deployment is one row of deployment history
type Deployment struct {
	ID         int64     `json:"id"`
	SiteID     string    `json:"site_id"`
	SizeBytes  int64     `json:"size_bytes"`
	FileCount  int       `json:"file_count"`
	DeployedBy string    `json:"deployed_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListDeployments returns the most recent deployments first
func ListDeployments(ctx context.Context, db *sql.DB, siteID string, limit int) ([]Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, site_id, size_bytes, file_count, COALESCE(deployed_by, ''), created_at
		FROM deployments WHERE site_id = ? ORDER BY id DESC LIMIT ?
	`, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}
	defer rows.Close()

	deployments := []Deployment{}
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(&d.ID, &d.SiteID, &d.SizeBytes, &d.FileCount, &d.DeployedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// APIKeyInfo contains information about an API key
type APIKeyInfo struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Scopes     string     `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// CreateAPIKey stores a bcrypt hash of a fresh token and returns the token.
// The token is not recoverable afterwards.
func CreateAPIKey(ctx context.Context, db *sql.DB, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("key name is required")
	}

	token, err := generateRandomToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		"INSERT INTO api_keys (name, key_hash) VALUES (?, ?)", name, string(hash)); err != nil {
		return "", fmt.Errorf("failed to store API key: %w", err)
	}
	return token, nil
}

// ValidateAPIKey finds the key matching token and records its use
func ValidateAPIKey(ctx context.Context, db *sql.DB, token string) (int64, string, error) {
	if token == "" {
		return 0, "", ErrInvalidAPIKey
	}

	rows, err := db.QueryContext(ctx, "SELECT id, name, key_hash FROM api_keys")
	if err != nil {
		return 0, "", fmt.Errorf("failed to query API keys: %w", err)
	}

	type candidate struct {
		id         int64
		name, hash string
	}
	var keys []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.name, &c.hash); err != nil {
			rows.Close()
			return 0, "", err
		}
		keys = append(keys, c)
	}
	rows.Close()

	for _, k := range keys {
		if bcrypt.CompareHashAndPassword([]byte(k.hash), []byte(token)) == nil {
			if _, err := db.ExecContext(ctx,
				"UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?", k.id); err != nil {
				zap.L().Warn("Failed to record API key use", zap.Int64("id", k.id), zap.Error(err))
			}
			return k.id, k.name, nil
		}
	}
	return 0, "", ErrInvalidAPIKey
}

// ListAPIKeys lists all API keys (without the actual keys)
func ListAPIKeys(ctx context.Context, db *sql.DB) ([]APIKeyInfo, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, scopes, created_at, last_used_at FROM api_keys ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []APIKeyInfo{}
	for rows.Next() {
		var k APIKeyInfo
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.Scopes, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key by ID
func DeleteAPIKey(ctx context.Context, db *sql.DB, id int64) error {
	res, err := db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// generateRandomToken generates a random hex token
func generateRandomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
