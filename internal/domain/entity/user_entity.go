package entity

import (
	"regexp"
	"time"

	"github.com/oksasatya/go-identity-service/pkg/apperr"
)

// User is the aggregate root for the identity domain.
// Password holds plaintext only between construction and hashing in the
// application layer; once persisted it is always a bcrypt hash.
type User struct {
	ID        string
	Name      string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

var emailRe = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// IsEmailValid checks the local@domain.tld shape.
func IsEmailValid(email string) bool {
	return emailRe.MatchString(email)
}

// IsPasswordStrong enforces the plaintext strength policy: at least 8
// characters, one uppercase letter, and one digit. Never applied to hashes.
func IsPasswordStrong(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	return hasUpper && hasDigit
}

// NewUser validates name, email, and plaintext password and returns the
// transient (not yet persisted) entity. All violations are accumulated into
// a single ValidationError carrying details.invalidFields, so a client sees
// every bad field at once rather than one per round trip.
func NewUser(name, email, password string) (*User, error) {
	var invalid []string
	if name == "" {
		invalid = append(invalid, "name")
	}
	if !IsEmailValid(email) {
		invalid = append(invalid, "email")
	}
	if !IsPasswordStrong(password) {
		invalid = append(invalid, "password")
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("missing or invalid fields", map[string]any{"invalidFields": invalid})
	}
	return &User{Name: name, Email: email, Password: password}, nil
}
