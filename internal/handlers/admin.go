package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/auth"
	"github.com/jikku/portfolio/internal/hosting"
	"github.com/jikku/portfolio/internal/models"
)

// LoginHandler checks the admin credentials and starts a session
// POST /api/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.loginGuard.AllowLogin(ip) {
		zap.L().Warn("Login blocked", zap.String("ip", ip), zap.Int("failures", a.loginGuard.Failures(ip)))
		jsonError(w, "Too many failed attempts, try again later", http.StatusTooManyRequests)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !a.cfg.HasAuth() {
		jsonError(w, "Admin login is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := auth.CheckCredentials(a.cfg.Auth.Username, a.cfg.Auth.PasswordHash, req.Username, req.Password); err != nil {
		a.loginGuard.RecordFailure(ip)
		zap.L().Info("Failed login", zap.String("ip", ip), zap.String("username", req.Username))
		jsonError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	if err := a.admin.Login(r.Context(), w, r, req.Username); err != nil {
		zap.L().Error("Failed to create session", zap.Error(err))
		jsonError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	a.loginGuard.Reset(ip)

	zap.L().Info("Admin logged in", zap.String("username", req.Username), zap.String("ip", ip))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"username": req.Username,
	})
}

// LogoutHandler ends the admin session
// POST /api/logout
func (a *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.Logout(r.Context(), w, r); err != nil {
		zap.L().Warn("Failed to destroy session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AuthStatusHandler reports whether the request carries an admin session
// GET /api/auth/status
func (a *App) AuthStatusHandler(w http.ResponseWriter, r *http.Request) {
	user, ok, err := a.admin.User(r.Context(), r)
	if err != nil {
		zap.L().Warn("Session lookup failed", zap.Error(err))
	}
	resp := map[string]interface{}{
		"authenticated": ok,
		"configured":    a.cfg.HasAuth(),
	}
	if ok {
		resp["username"] = user
	}
	writeJSON(w, http.StatusOK, resp)
}

// MessagesHandler lists contact messages, newest first
// GET /api/messages?limit=&offset=&unread=1
func (a *App) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parseInt(query.Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := parseInt(query.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	where := ""
	if query.Get("unread") == "1" {
		where = "WHERE read = 0"
	}

	rows, err := a.db.QueryContext(r.Context(), `
		SELECT id, name, email, body, COALESCE(visitor_hash, ''), read, created_at
		FROM messages `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		zap.L().Error("Error querying messages", zap.Error(err))
		jsonError(w, "Failed to query messages", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Body, &m.VisitorHash, &m.Read, &m.CreatedAt); err != nil {
			zap.L().Error("Error scanning message", zap.Error(err))
			jsonError(w, "Failed to query messages", http.StatusInternalServerError)
			return
		}
		messages = append(messages, m)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"messages": messages,
	})
}

// MarkReadHandler marks a message as read
// POST /api/messages/{id}/read
func (a *App) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, "Invalid message id", http.StatusBadRequest)
		return
	}
	res, err := a.db.ExecContext(r.Context(), "UPDATE messages SET read = 1 WHERE id = ?", id)
	if err != nil {
		jsonError(w, "Failed to update message", http.StatusInternalServerError)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonError(w, "Message not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeleteMessageHandler removes a message
// DELETE /api/messages/{id}
func (a *App) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, "Invalid message id", http.StatusBadRequest)
		return
	}
	res, err := a.db.ExecContext(r.Context(), "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		jsonError(w, "Failed to delete message", http.StatusInternalServerError)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		jsonError(w, "Message not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// StatsHandler returns dashboard statistics
// GET /api/stats
func (a *App) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	site := a.cfg.Site.Name
	stats := models.Stats{
		VisitsByOutcome: make(map[string]int64),
		TopPaths:        []models.PathStat{},
		TopReferrers:    []models.ReferrerStat{},
		VisitsTimeline:  []models.TimelineStat{},
	}

	counts := []struct {
		dest  *int64
		query string
	}{
		{&stats.VisitsToday, "SELECT COUNT(*) FROM visits WHERE site_id = ? AND DATE(created_at) = DATE('now')"},
		{&stats.VisitsWeek, "SELECT COUNT(*) FROM visits WHERE site_id = ? AND created_at >= DATETIME('now', '-7 days')"},
		{&stats.VisitsAllTime, "SELECT COUNT(*) FROM visits WHERE site_id = ?"},
		{&stats.UniqueVisitors, "SELECT COUNT(DISTINCT visitor_hash) FROM visits WHERE site_id = ? AND created_at >= DATETIME('now', '-7 days')"},
		{&stats.TotalDeployments, "SELECT COUNT(*) FROM deployments WHERE site_id = ?"},
	}
	for _, c := range counts {
		if err := a.db.QueryRowContext(ctx, c.query, site).Scan(c.dest); err != nil {
			a.statsError(w, err)
			return
		}
	}
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE read = 0").Scan(&stats.UnreadMessages); err != nil {
		a.statsError(w, err)
		return
	}

	rows, err := a.db.QueryContext(ctx,
		"SELECT outcome, COUNT(*) FROM visits WHERE site_id = ? GROUP BY outcome", site)
	if err != nil {
		a.statsError(w, err)
		return
	}
	for rows.Next() {
		var outcome string
		var count int64
		if err := rows.Scan(&outcome, &count); err == nil {
			stats.VisitsByOutcome[outcome] = count
		}
	}
	rows.Close()

	rows, err = a.db.QueryContext(ctx, `
		SELECT path, COUNT(*) AS count FROM visits
		WHERE site_id = ? AND status = 200
		GROUP BY path ORDER BY count DESC, path LIMIT 10
	`, site)
	if err != nil {
		a.statsError(w, err)
		return
	}
	for rows.Next() {
		var ps models.PathStat
		if err := rows.Scan(&ps.Path, &ps.Count); err == nil {
			stats.TopPaths = append(stats.TopPaths, ps)
		}
	}
	rows.Close()

	rows, err = a.db.QueryContext(ctx, `
		SELECT referrer, COUNT(*) AS count FROM visits
		WHERE site_id = ? AND referrer IS NOT NULL AND referrer != ''
		GROUP BY referrer ORDER BY count DESC, referrer LIMIT 10
	`, site)
	if err != nil {
		a.statsError(w, err)
		return
	}
	for rows.Next() {
		var rs models.ReferrerStat
		if err := rows.Scan(&rs.Referrer, &rs.Count); err == nil {
			stats.TopReferrers = append(stats.TopReferrers, rs)
		}
	}
	rows.Close()

	// Hourly buckets for the last 24 hours
	rows, err = a.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%d %H:00', created_at) AS hour, COUNT(*) AS count
		FROM visits
		WHERE site_id = ? AND created_at >= DATETIME('now', '-24 hours')
		GROUP BY hour ORDER BY hour
	`, site)
	if err != nil {
		a.statsError(w, err)
		return
	}
	for rows.Next() {
		var ts models.TimelineStat
		if err := rows.Scan(&ts.Timestamp, &ts.Count); err == nil {
			stats.VisitsTimeline = append(stats.VisitsTimeline, ts)
		}
	}
	rows.Close()

	writeJSON(w, http.StatusOK, stats)
}

func (a *App) statsError(w http.ResponseWriter, err error) {
	zap.L().Error("Error querying stats", zap.Error(err))
	jsonError(w, "Failed to query stats", http.StatusInternalServerError)
}

// SitesHandler returns the list of hosted sites
// GET /api/sites
func (a *App) SitesHandler(w http.ResponseWriter, r *http.Request) {
	sites, err := a.manager.ListSites(r.Context())
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"sites":   sites,
	})
}

// ListKeysHandler lists deploy API keys
// GET /api/keys
func (a *App) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	keys, err := hosting.ListAPIKeys(r.Context(), a.db)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"keys":    keys,
	})
}

// CreateKeyHandler creates a deploy API key. The token is only ever shown here.
// POST /api/keys
func (a *App) CreateKeyHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		jsonError(w, "Name is required", http.StatusBadRequest)
		return
	}

	token, err := hosting.CreateAPIKey(r.Context(), a.db, req.Name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	zap.L().Info("API key created", zap.String("name", req.Name))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"name":    req.Name,
		"token":   token,
		"message": "Save this token now. It will not be shown again.",
	})
}

// DeleteKeyHandler revokes an API key
// DELETE /api/keys/{id}
func (a *App) DeleteKeyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, "Invalid key id", http.StatusBadRequest)
		return
	}

	err = hosting.DeleteAPIKey(r.Context(), a.db, id)
	if errors.Is(err, sql.ErrNoRows) {
		jsonError(w, "API key not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	zap.L().Info("API key deleted", zap.Int64("id", id))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DeploymentsHandler returns the deployment history of the site
// GET /api/deployments?limit=
func (a *App) DeploymentsHandler(w http.ResponseWriter, r *http.Request) {
	deployments, err := hosting.ListDeployments(r.Context(), a.db, a.cfg.Site.Name, parseInt(r.URL.Query().Get("limit"), 20))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"deployments": deployments,
	})
}

// ConfigHandler returns the current configuration (sanitized)
// GET /api/config
func (a *App) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	cfg := a.cfg

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"server": map[string]interface{}{
			"port":   cfg.Server.Port,
			"domain": cfg.Server.Domain,
			"env":    cfg.Server.Env,
		},
		"database": map[string]interface{}{
			"path": cfg.Database.Path,
		},
		"auth": map[string]interface{}{
			// Never expose the password hash
			"username": cfg.Auth.Username,
		},
		"ntfy": map[string]interface{}{
			"url":   cfg.Ntfy.URL,
			"topic": cfg.Ntfy.Topic,
		},
		"site": map[string]interface{}{
			"name":          cfg.Site.Name,
			"redirect_mode": cfg.Site.RedirectMode,
			"slash_policy":  string(cfg.SlashPolicy()),
			"restore_guard": cfg.Site.RestoreGuard,
			"max_upload_mb": cfg.Site.MaxUploadMB,
			"track_visits":  cfg.Site.TrackVisits,
		},
		"session": map[string]interface{}{
			"backend": cfg.Session.Backend,
			"ttl":     cfg.SessionTTL().String(),
		},
		"tls": map[string]interface{}{
			"enabled": cfg.TLS.Enabled,
		},
	})
}

// HealthHandler reports whether the database answers
// GET /health
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "unhealthy",
			"database": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"mode":   a.cfg.Site.RedirectMode,
	})
}
