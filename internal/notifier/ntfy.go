package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jikku/portfolio/internal/models"
)

// Notification types
const (
	NotificationContact = "contact_message"
	NotificationDeploy  = "deployment"
	NotificationError   = "error"
)

// Notifier pushes notifications to an ntfy server
type Notifier struct {
	url    string
	topic  string
	dryRun bool
	client *http.Client
}

// Option configures a Notifier
type Option func(*Notifier)

// WithDryRun logs notifications instead of sending them
func WithDryRun(dryRun bool) Option {
	return func(n *Notifier) { n.dryRun = dryRun }
}

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// New creates a notifier for topic on the ntfy server at url
func New(url, topic string, opts ...Option) *Notifier {
	n := &Notifier{
		url:    strings.TrimRight(url, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Enabled reports whether notifications go anywhere
func (n *Notifier) Enabled() bool {
	return n != nil && n.topic != ""
}

// Send publishes a notification
func (n *Notifier) Send(ctx context.Context, title, message, notificationType string) error {
	if !n.Enabled() {
		zap.L().Debug("ntfy topic not configured, skipping notification", zap.String("title", title))
		return nil
	}

	if n.dryRun {
		zap.L().Info("Notification (dry run)",
			zap.String("type", notificationType),
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	payload := map[string]interface{}{
		"topic":    n.topic,
		"title":    title,
		"message":  message,
		"tags":     []string{"portfolio", notificationType},
		"priority": priority(notificationType),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// ntfy accepts JSON publishes on the server root
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}

	zap.L().Debug("Notification sent", zap.String("type", notificationType), zap.String("title", title))
	return nil
}

// NotifyContact announces a new contact form message
func (n *Notifier) NotifyContact(ctx context.Context, m models.Message) error {
	body := m.Body
	if r := []rune(body); len(r) > 280 {
		body = string(r[:280]) + "…"
	}
	return n.Send(ctx,
		fmt.Sprintf("Message from %s", m.Name),
		fmt.Sprintf("%s <%s>\n\n%s", m.Name, m.Email, body),
		NotificationContact,
	)
}

// NotifyDeploy announces a finished deployment
func (n *Notifier) NotifyDeploy(ctx context.Context, siteID string, fileCount int, deployedBy string) error {
	return n.Send(ctx,
		fmt.Sprintf("Deployed %s", siteID),
		fmt.Sprintf("%d files deployed by %s", fileCount, deployedBy),
		NotificationDeploy,
	)
}

// NotifyError sends error notification
func (n *Notifier) NotifyError(ctx context.Context, errorMsg string) error {
	return n.Send(ctx, "Error Detected", errorMsg, NotificationError)
}

func priority(notificationType string) int {
	switch notificationType {
	case NotificationError:
		return 4
	case NotificationContact:
		return 3
	default:
		return 2
	}
}
