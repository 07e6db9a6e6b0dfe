package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var e164Pattern = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Contact represents a message recipient
type Contact struct {
	ID         int       `json:"id" db:"id"`
	Phone      string    `json:"phone" db:"phone"`
	FirstName  *string   `json:"first_name,omitempty" db:"first_name"`
	LastName   *string   `json:"last_name,omitempty" db:"last_name"`
	Email      *string   `json:"email,omitempty" db:"email"`
	Subscribed bool      `json:"subscribed" db:"subscribed"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ValidatePhone reports whether phone is in E.164 form (+ and 7 to 15 digits)
func ValidatePhone(phone string) error {
	if !e164Pattern.MatchString(phone) {
		return fmt.Errorf("phone %q is not a valid E.164 number", phone)
	}
	return nil
}

// Validate checks if the contact fields are valid
func (c *Contact) Validate() error {
	return ValidatePhone(c.Phone)
}

// FullName returns first and last name joined, or an empty string
func (c *Contact) FullName() string {
	var parts []string
	if c.FirstName != nil && strings.TrimSpace(*c.FirstName) != "" {
		parts = append(parts, strings.TrimSpace(*c.FirstName))
	}
	if c.LastName != nil && strings.TrimSpace(*c.LastName) != "" {
		parts = append(parts, strings.TrimSpace(*c.LastName))
	}
	return strings.Join(parts, " ")
}

// DisplayName returns the full name, falling back to the phone number
func (c *Contact) DisplayName() string {
	if name := c.FullName(); name != "" {
		return name
	}
	return c.Phone
}
