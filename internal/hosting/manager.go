package hosting

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SiteInfo summarizes a deployed site
type SiteInfo struct {
	Name      string    `json:"name"`
	FileCount int       `json:"file_count"`
	SizeBytes int64     `json:"size_bytes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager answers questions about deployed sites
type Manager struct {
	db   *sql.DB
	fs   FileSystem
	hubs *Hubs
}

// NewManager creates a site manager. hubs may be nil.
func NewManager(db *sql.DB, fs FileSystem, hubs *Hubs) *Manager {
	return &Manager{db: db, fs: fs, hubs: hubs}
}

// SiteExists reports whether any file has been deployed for siteID
func (m *Manager) SiteExists(ctx context.Context, siteID string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM files WHERE site_id = ? LIMIT 1", siteID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check site: %w", err)
	}
	return count > 0, nil
}

// ListSites returns every site with files
func (m *Manager) ListSites(ctx context.Context) ([]SiteInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT site_id, COUNT(*), COALESCE(SUM(size_bytes), 0), MAX(updated_at)
		FROM files GROUP BY site_id ORDER BY site_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sites: %w", err)
	}
	defer rows.Close()

	sites := []SiteInfo{}
	for rows.Next() {
		var s SiteInfo
		var updated sql.NullString
		if err := rows.Scan(&s.Name, &s.FileCount, &s.SizeBytes, &updated); err != nil {
			return nil, err
		}
		// MAX() loses the column type, so the timestamp comes back as text
		if updated.Valid {
			s.UpdatedAt, _ = time.Parse("2006-01-02 15:04:05", updated.String)
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}

// Files lists a site's files
func (m *Manager) Files(ctx context.Context, siteID string) ([]FileInfo, error) {
	return m.fs.ListFiles(ctx, siteID)
}

// DeleteSite removes a site's files and disconnects its live-reload clients
func (m *Manager) DeleteSite(ctx context.Context, siteID string) error {
	if err := ValidateSiteID(siteID); err != nil {
		return err
	}
	if err := m.fs.DeleteSite(ctx, siteID); err != nil {
		return fmt.Errorf("failed to delete site: %w", err)
	}
	if m.hubs != nil {
		m.hubs.Remove(siteID)
	}
	return nil
}
