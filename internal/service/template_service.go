package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"wabroadcast/internal/models"
)

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// KnownPlaceholders lists the fields a template may reference
var KnownPlaceholders = []string{"first_name", "last_name", "name", "phone"}

// TemplateService handles message template rendering
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render substitutes contact fields into template in a single pass.
// Substituted text is never rescanned, so braces inside a contact's name
// stay literal. Unknown placeholders are left as written.
func (s *TemplateService) Render(template string, contact *models.Contact) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	if contact == nil {
		return "", fmt.Errorf("contact cannot be nil")
	}

	values := map[string]string{
		"first_name": sanitize(deref(contact.FirstName)),
		"last_name":  sanitize(deref(contact.LastName)),
		"phone":      sanitize(contact.Phone),
	}
	values["name"] = strings.TrimSpace(values["first_name"] + " " + values["last_name"])
	if values["name"] == "" {
		values["name"] = values["phone"]
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := values[key]; ok {
			return v
		}
		return match
	}), nil
}

// sanitize makes contact text safe to drop into a message: control
// characters become spaces and WhatsApp formatting markers are removed.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r == '*' || r == '_' || r == '~' || r == '`':
			continue
		case unicode.IsControl(r) || unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ValidateTemplate checks if template has valid syntax
func (s *TemplateService) ValidateTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template cannot be empty")
	}

	// Check for balanced braces
	openCount := strings.Count(template, "{")
	closeCount := strings.Count(template, "}")

	if openCount != closeCount {
		return fmt.Errorf("template has unbalanced braces: %d open, %d close", openCount, closeCount)
	}

	return nil
}

// GetPlaceholders extracts all placeholders from a template
func (s *TemplateService) GetPlaceholders(template string) []string {
	return placeholderPattern.FindAllString(template, -1)
}

// UnknownPlaceholders returns placeholders that Render will leave verbatim
func (s *TemplateService) UnknownPlaceholders(template string) []string {
	known := make(map[string]bool, len(KnownPlaceholders))
	for _, k := range KnownPlaceholders {
		known[k] = true
	}

	unknown := []string{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !known[m[1]] {
			unknown = append(unknown, m[0])
		}
	}
	return unknown
}

// Preview renders a template for preview purposes (without saving)
func (s *TemplateService) Preview(template string, contact *models.Contact) (string, error) {
	return s.Render(template, contact)
}
