// Package auth handles the admin login: password hashing, login sessions
// and brute-force protection.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12

	// MinPasswordLength is the minimum allowed password length
	MinPasswordLength = 8

	// strongPasswordLength is the length below which a password is never strong
	strongPasswordLength = 12
)

// ErrInvalidCredentials is returned for a wrong username or password
var ErrInvalidCredentials = errors.New("invalid username or password")

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a password with a hash
func VerifyPassword(password, hash string) error {
	if password == "" {
		return errors.New("password cannot be empty")
	}
	if hash == "" {
		return errors.New("hash cannot be empty")
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

// CheckCredentials verifies a login attempt against the configured admin.
// The password hash is checked even for an unknown username so both failures
// take the same time.
func CheckCredentials(wantUser, wantHash, user, password string) error {
	if wantUser == "" || wantHash == "" {
		return errors.New("admin credentials are not configured")
	}
	userOK := subtle.ConstantTimeCompare([]byte(wantUser), []byte(user)) == 1
	if err := VerifyPassword(password, wantHash); err != nil || !userOK {
		return ErrInvalidCredentials
	}
	return nil
}

// ValidatePasswordStrength checks password strength and returns recommendations.
// A strong password is at least 12 characters and mixes three of: lowercase,
// uppercase, digits, symbols.
func ValidatePasswordStrength(password string) (isStrong bool, warnings []string) {
	length := len([]rune(password))
	if length < MinPasswordLength {
		return false, []string{fmt.Sprintf("Password should be at least %d characters", MinPasswordLength)}
	}

	var lower, upper, digit, symbol bool
	for _, c := range password {
		switch {
		case unicode.IsLower(c):
			lower = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			symbol = true
		}
	}

	classes := 0
	for _, check := range []struct {
		ok   bool
		hint string
	}{
		{lower, "Consider adding lowercase letters"},
		{upper, "Consider adding uppercase letters"},
		{digit, "Consider adding numbers"},
		{symbol, "Consider adding special characters (!@#$%^&*)"},
	} {
		if check.ok {
			classes++
		} else {
			warnings = append(warnings, check.hint)
		}
	}

	if length < strongPasswordLength {
		warnings = append(warnings, fmt.Sprintf("For better security, use at least %d characters", strongPasswordLength))
	}
	return classes >= 3 && length >= strongPasswordLength, warnings
}
