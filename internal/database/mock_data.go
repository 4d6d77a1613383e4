package database

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// GenerateMockData fills an empty development database with sample visits and
// contact messages so the admin API has something to show
func GenerateMockData(conn *sql.DB, siteID string) error {
	var count int
	if err := conn.QueryRow("SELECT COUNT(*) FROM visits").Scan(&count); err != nil {
		return fmt.Errorf("failed to count visits: %w", err)
	}
	if count > 0 {
		zap.L().Debug("Database already has visits, skipping mock data", zap.Int("visits", count))
		return nil
	}

	paths := []string{"/", "/about/", "/projects/", "/projects/42/", "/blog/", "/blog/hello-world/", "/contact/", "/old-page"}
	outcomes := []string{"served", "served", "served", "handoff", "restored", "loop-broken"}
	referrers := []string{"https://google.com", "https://github.com", "https://news.ycombinator.com", ""}

	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i := 0; i < 100; i++ {
		outcome := outcomes[rand.Intn(len(outcomes))]
		status := 200
		switch outcome {
		case "handoff", "restored":
			status = 302
		case "loop-broken":
			status = 404
		}

		hoursAgo := rand.Intn(168)
		createdAt := time.Now().UTC().Add(-time.Duration(hoursAgo) * time.Hour)

		_, err := tx.Exec(`
			INSERT INTO visits (site_id, path, outcome, status, referrer, visitor_hash, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, siteID, paths[rand.Intn(len(paths))], outcome, status,
			referrers[rand.Intn(len(referrers))], mockVisitor(rand.Intn(20)), createdAt)
		if err != nil {
			return fmt.Errorf("failed to insert visit: %w", err)
		}
	}

	messages := []struct{ name, email, body string }{
		{"Ada", "ada@example.com", "Loved the compiler write-up. Are you open to consulting?"},
		{"Grace", "grace@example.com", "The projects page link to the old repo is broken."},
		{"Linus", "linus@example.com", "Hi! Would you speak at our meetup next month?"},
	}
	for i, m := range messages {
		_, err := tx.Exec(`
			INSERT INTO messages (name, email, body, visitor_hash, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, m.name, m.email, m.body, mockVisitor(i), time.Now().UTC().Add(-time.Duration(i)*24*time.Hour))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	zap.L().Info("Mock data generated", zap.Int("visits", 100), zap.Int("messages", len(messages)))
	return nil
}

func mockVisitor(n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("visitor-%d", n)))
	return hex.EncodeToString(sum[:8])
}
