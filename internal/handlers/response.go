package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// writeJSON sends v with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("Failed to encode response", zap.Error(err))
	}
}

// jsonError sends a JSON error response
func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// clientIP returns the address of the visitor. X-Forwarded-For is trusted
// because the server is meant to sit behind at most one reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// visitorHash identifies a visitor for one day without storing the address
func (a *App) visitorHash(r *http.Request) string {
	h := sha256.New()
	h.Write(a.visitSalt)
	h.Write([]byte(time.Now().UTC().Format("2006-01-02")))
	h.Write([]byte(clientIP(r)))
	h.Write([]byte(r.UserAgent()))
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// doNotTrack reports whether the visitor asked not to be tracked
func doNotTrack(r *http.Request) bool {
	return r.Header.Get("DNT") == "1" || r.Header.Get("Sec-GPC") == "1"
}

// parseInt parses string to int with default value
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return i
}
