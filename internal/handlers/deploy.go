package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/hosting"
)

// DeployHandler replaces the site with an uploaded ZIP
// POST /api/deploy
// - Multipart form with "file" (ZIP) and an optional "site_name" field
// - Authorization: Bearer <token> header required
func (a *App) DeployHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.deployLimiter.Allow(ip) {
		a.metrics.Deployments.WithLabelValues("rate_limited").Inc()
		jsonError(w, "Too many deployments, slow down", http.StatusTooManyRequests)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		jsonError(w, "Missing Authorization header", http.StatusUnauthorized)
		return
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		jsonError(w, "Invalid Authorization format, use: Bearer <token>", http.StatusUnauthorized)
		return
	}

	keyID, keyName, err := hosting.ValidateAPIKey(r.Context(), a.db, token)
	if err != nil {
		a.metrics.Deployments.WithLabelValues("unauthorized").Inc()
		if !errors.Is(err, hosting.ErrInvalidAPIKey) {
			zap.L().Error("API key validation failed", zap.Error(err))
		}
		jsonError(w, "Invalid API key", http.StatusUnauthorized)
		return
	}

	maxBytes := int64(a.cfg.Site.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = hosting.DefaultLimits().MaxSiteSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	siteName := r.FormValue("site_name")
	if siteName == "" {
		siteName = a.cfg.Site.Name
	}
	if err := hosting.ValidateSiteID(siteName); err != nil {
		jsonError(w, "Invalid site_name: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "Missing or invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".zip") {
		jsonError(w, "File must be a ZIP archive", http.StatusBadRequest)
		return
	}

	// zip.Reader needs random access
	var buf bytes.Buffer
	size, err := io.Copy(&buf, io.LimitReader(file, maxBytes+1))
	if err != nil {
		jsonError(w, "Failed to read file: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if size > maxBytes {
		a.metrics.Deployments.WithLabelValues("too_large").Inc()
		jsonError(w, "Archive exceeds the upload limit", http.StatusRequestEntityTooLarge)
		return
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), size)
	if err != nil {
		jsonError(w, "Invalid ZIP file: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := a.deployer.DeploySite(r.Context(), zr, siteName, keyName)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hosting.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
			a.metrics.Deployments.WithLabelValues("too_large").Inc()
		} else {
			a.metrics.Deployments.WithLabelValues("failed").Inc()
		}
		zap.L().Warn("Deployment failed", zap.String("site", siteName), zap.Error(err))
		jsonError(w, "Deployment failed: "+err.Error(), status)
		return
	}
	a.metrics.Deployments.WithLabelValues("success").Inc()

	zap.L().Info("Deploy request completed",
		zap.String("site", siteName),
		zap.String("key", keyName),
		zap.Int64("key_id", keyID),
		zap.Int("files", result.FileCount),
		zap.Int("skipped", result.Skipped),
		zap.Int64("bytes", result.SizeBytes))

	if a.notifier.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.notifier.NotifyDeploy(ctx, siteName, result.FileCount, keyName); err != nil {
				zap.L().Warn("Failed to send deploy notification", zap.Error(err))
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"site":       siteName,
		"id":         result.ID,
		"file_count": result.FileCount,
		"skipped":    result.Skipped,
		"size_bytes": result.SizeBytes,
		"message":    "Deployment successful",
	})
}
