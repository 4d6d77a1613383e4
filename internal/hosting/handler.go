package hosting

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// IndexFile is served for directory-style URLs
const IndexFile = "index.html"

// NotFoundFile is the export's generic not-found document
const NotFoundFile = "404.html"

// StorePath converts a URL path to the key files are stored under: no
// leading slash, cleaned, "index.html" for directories
func StorePath(urlPath string) string {
	p := path.Clean("/" + urlPath)
	if p == "/" || strings.HasSuffix(urlPath, "/") {
		p = path.Join(p, IndexFile)
	}
	return strings.TrimPrefix(p, "/")
}

// Lookup resolves a request path the way a static host does: the exact file,
// else <path>/index.html for extensionless paths. Anything else is ErrNotFound.
func Lookup(ctx context.Context, fs FileSystem, siteID, urlPath string) (*File, error) {
	name := StorePath(urlPath)

	f, err := fs.ReadFile(ctx, siteID, name)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if path.Ext(name) == "" {
		return fs.ReadFile(ctx, siteID, path.Join(name, IndexFile))
	}
	return nil, ErrNotFound
}

// ServeFile writes f with caching headers. status is used unless the client
// already has the current version.
func ServeFile(w http.ResponseWriter, r *http.Request, f *File, status int) {
	etag := `"` + f.Hash + `"`
	w.Header().Set("ETag", etag)

	if status == http.StatusOK && etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	ServeBytes(w, r, f.MimeType, f.Content, status)
}

// ServeBytes writes an in-memory body, honoring HEAD
func ServeBytes(w http.ResponseWriter, r *http.Request, contentType string, body []byte, status int) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	w.Write(body)
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
