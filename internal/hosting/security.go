package hosting

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var validSiteIDRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Limits bounds what a deployment may contain
type Limits struct {
	MaxFileSize int64 // bytes per file
	MaxSiteSize int64 // total bytes per site
	MaxFiles    int
}

// DefaultLimits returns the default deployment limits
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize: 25 * 1024 * 1024,
		MaxSiteSize: 100 * 1024 * 1024,
		MaxFiles:    5000,
	}
}

// LimitsForUpload derives limits from a maximum upload size in megabytes
func LimitsForUpload(maxMB int) Limits {
	l := DefaultLimits()
	if maxMB > 0 {
		l.MaxSiteSize = int64(maxMB) * 1024 * 1024
		if l.MaxFileSize > l.MaxSiteSize {
			l.MaxFileSize = l.MaxSiteSize
		}
	}
	return l
}

// ValidateSiteID ensures a site id is a lowercase DNS label
func ValidateSiteID(siteID string) error {
	if len(siteID) < 1 || len(siteID) > 63 {
		return fmt.Errorf("site id must be 1-63 characters")
	}
	if !validSiteIDRegex.MatchString(siteID) {
		return fmt.Errorf("site id must contain only lowercase letters, numbers, and hyphens, and cannot start or end with a hyphen")
	}
	if strings.Contains(siteID, "--") {
		return fmt.Errorf("site id cannot contain consecutive hyphens")
	}
	return nil
}

// CleanArchivePath turns an archive entry name into a store path. ok is false
// for entries that escape the site root or are hidden (dotfiles, __MACOSX).
func CleanArchivePath(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "/") || strings.ContainsRune(name, 0) {
		return "", false
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}

	for _, part := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return "", false
		}
	}
	return cleaned, true
}

// stripCommonRoot removes a single top-level directory shared by every path,
// so zipping "dist/" and zipping the contents of dist deploy the same site
func stripCommonRoot(paths []string) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	var root string
	for _, p := range paths {
		i := strings.Index(p, "/")
		if i == -1 {
			return "", false
		}
		if root == "" {
			root = p[:i+1]
		} else if !strings.HasPrefix(p, root) {
			return "", false
		}
	}
	return root, true
}
