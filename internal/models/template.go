package models

import (
	"fmt"
	"time"
)

// Template is a reusable message body with {placeholders}
type Template struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category" db:"category"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Validate checks if the template fields are valid
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	if t.Body == "" {
		return fmt.Errorf("template body is required")
	}
	return nil
}
