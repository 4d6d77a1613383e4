package models

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Limits on contact form fields, in characters
const (
	MaxNameLength    = 100
	MaxEmailLength   = 254
	MaxMessageLength = 5000
)

// Message is a contact form submission
type Message struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Body        string    `json:"body"`
	VisitorHash string    `json:"visitor_hash,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Visit is one served document
type Visit struct {
	ID          int64     `json:"id"`
	SiteID      string    `json:"site_id"`
	Path        string    `json:"path"`
	Outcome     string    `json:"outcome"` // served/not-found/handoff/restored/...
	Status      int       `json:"status"`
	Referrer    string    `json:"referrer"`
	VisitorHash string    `json:"visitor_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stats represents dashboard statistics
type Stats struct {
	VisitsToday      int64            `json:"visits_today"`
	VisitsWeek       int64            `json:"visits_week"`
	VisitsAllTime    int64            `json:"visits_all_time"`
	UniqueVisitors   int64            `json:"unique_visitors_week"`
	VisitsByOutcome  map[string]int64 `json:"visits_by_outcome"`
	TopPaths         []PathStat       `json:"top_paths"`
	TopReferrers     []ReferrerStat   `json:"top_referrers"`
	VisitsTimeline   []TimelineStat   `json:"visits_timeline"`
	UnreadMessages   int64            `json:"unread_messages"`
	TotalDeployments int64            `json:"total_deployments"`
}

// PathStat counts visits to a path
type PathStat struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// ReferrerStat counts visits from a referrer
type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

// TimelineStat represents visits in a time bucket
type TimelineStat struct {
	Timestamp string `json:"timestamp"`
	Count     int64  `json:"count"`
}

// ContactRequest is the body of POST /api/contact
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	// Website is a honeypot; people leave it empty
	Website string `json:"website"`
}

// Normalize trims surrounding whitespace from every field
func (c *ContactRequest) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Message = strings.TrimSpace(c.Message)
	c.Website = strings.TrimSpace(c.Website)
}

// Validate checks required fields and lengths
func (c *ContactRequest) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("name is required")
	case c.Email == "":
		return errors.New("email is required")
	case c.Message == "":
		return errors.New("message is required")
	case utf8.RuneCountInString(c.Name) > MaxNameLength:
		return errors.New("name is too long")
	case len(c.Email) > MaxEmailLength:
		return errors.New("email is too long")
	case utf8.RuneCountInString(c.Message) > MaxMessageLength:
		return errors.New("message is too long")
	}

	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return errors.New("email is invalid")
	}
	return nil
}

// IsSpam reports whether the honeypot field was filled in
func (c *ContactRequest) IsSpam() bool {
	return c.Website != ""
}
