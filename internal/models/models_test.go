package models

import (
	"strings"
	"testing"
)

func TestContactRequest_Validate(t *testing.T) {
	valid := ContactRequest{Name: "Ada", Email: "ada@example.com", Message: "Hello"}

	tests := []struct {
		name    string
		mutate  func(*ContactRequest)
		wantErr string
	}{
		{"valid", func(*ContactRequest) {}, ""},
		{"missing name", func(c *ContactRequest) { c.Name = "" }, "name is required"},
		{"missing email", func(c *ContactRequest) { c.Email = "" }, "email is required"},
		{"missing message", func(c *ContactRequest) { c.Message = "" }, "message is required"},
		{"bad email", func(c *ContactRequest) { c.Email = "not-an-email" }, "email is invalid"},
		{"display name email", func(c *ContactRequest) { c.Email = "Ada <ada@example.com>" }, "email is invalid"},
		{"long name", func(c *ContactRequest) { c.Name = strings.Repeat("a", MaxNameLength+1) }, "name is too long"},
		{"long message", func(c *ContactRequest) { c.Message = strings.Repeat("é", MaxMessageLength+1) }, "message is too long"},
		{"max message", func(c *ContactRequest) { c.Message = strings.Repeat("é", MaxMessageLength) }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestContactRequest_NormalizeAndSpam(t *testing.T) {
	req := ContactRequest{Name: "  Ada ", Email: " ada@example.com\n", Message: "\thi ", Website: "  "}
	req.Normalize()

	if req.Name != "Ada" || req.Email != "ada@example.com" || req.Message != "hi" {
		t.Errorf("Normalize() = %+v", req)
	}
	if req.IsSpam() {
		t.Error("whitespace-only honeypot should not count as spam")
	}

	req.Website = "http://spam.example"
	if !req.IsSpam() {
		t.Error("filled honeypot should count as spam")
	}
}
