package hosting

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"go.uber.org/zap"
)

//go:embed defaultsite
var defaultSite embed.FS

// DefaultSite returns the placeholder site shown before the first deployment
func DefaultSite() fs.FS {
	sub, err := fs.Sub(defaultSite, "defaultsite")
	if err != nil {
		panic(err)
	}
	return sub
}

// SeedSite copies every file of src into siteID when the site has no files
// yet. It reports whether anything was written.
func (m *Manager) SeedSite(ctx context.Context, siteID string, src fs.FS) (bool, error) {
	exists, err := m.SiteExists(ctx, siteID)
	if err != nil || exists {
		return false, err
	}

	count := 0
	err = fs.WalkDir(src, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(src, name)
		if err != nil {
			return err
		}
		count++
		return m.fs.WriteFile(ctx, siteID, name, data)
	})
	if err != nil {
		return false, fmt.Errorf("failed to seed site: %w", err)
	}

	zap.L().Info("Seeded placeholder site", zap.String("site", siteID), zap.Int("files", count))
	return true, nil
}
