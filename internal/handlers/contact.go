package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/models"
)

// ContactHandler accepts a contact form submission as JSON or a regular form post
// POST /api/contact
func (a *App) ContactHandler(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !a.contactLimiter.Allow(ip) {
		a.metrics.ContactMessages.WithLabelValues("rate_limited").Inc()
		jsonError(w, "Too many messages, please try again later", http.StatusTooManyRequests)
		return
	}

	var req models.ContactRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.metrics.ContactMessages.WithLabelValues("invalid").Inc()
			jsonError(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			a.metrics.ContactMessages.WithLabelValues("invalid").Inc()
			jsonError(w, "Invalid form", http.StatusBadRequest)
			return
		}
		req = models.ContactRequest{
			Name:    r.PostFormValue("name"),
			Email:   r.PostFormValue("email"),
			Message: r.PostFormValue("message"),
			Website: r.PostFormValue("website"),
		}
	}

	req.Normalize()
	if req.IsSpam() {
		// Looks accepted to the bot, nothing is stored
		a.metrics.ContactMessages.WithLabelValues("spam").Inc()
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
		return
	}
	if err := req.Validate(); err != nil {
		a.metrics.ContactMessages.WithLabelValues("invalid").Inc()
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := models.Message{
		Name:        a.sanitizer.Sanitize(req.Name),
		Email:       req.Email,
		Body:        a.sanitizer.Sanitize(req.Message),
		VisitorHash: a.visitorHash(r),
		CreatedAt:   time.Now().UTC(),
	}

	res, err := a.db.ExecContext(r.Context(), `
		INSERT INTO messages (name, email, body, visitor_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.Name, msg.Email, msg.Body, msg.VisitorHash, msg.CreatedAt)
	if err != nil {
		zap.L().Error("Failed to store message", zap.Error(err))
		a.metrics.ContactMessages.WithLabelValues("error").Inc()
		jsonError(w, "Failed to store message", http.StatusInternalServerError)
		return
	}
	msg.ID, _ = res.LastInsertId()
	a.metrics.ContactMessages.WithLabelValues("stored").Inc()

	if a.notifier.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.notifier.NotifyContact(ctx, msg); err != nil {
				zap.L().Warn("Failed to send contact notification", zap.Error(err))
			}
		}()
	}

	zap.L().Info("Contact message received", zap.Int64("id", msg.ID))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      msg.ID,
	})
}
