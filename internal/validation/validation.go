// Package validation accumulates request validation failures so every
// problem is reported at once rather than failing on the first.
package validation

import (
	"fmt"
	"strconv"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// Summary renders the collected errors as one line for problem responses.
func (c *Collector) Summary() string {
	out := ""
	for i, e := range c.errors {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return out
}

// NonNegativeInt parses a query value that must be a non-negative integer.
// An empty value yields the default.
func NonNegativeInt(field, value string, def int) (int, *ValidationError) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ValidationError{Field: field, Message: "must be an integer"}
	}
	if n < 0 {
		return 0, &ValidationError{Field: field, Message: "must not be negative"}
	}
	return n, nil
}

// RequireNonEmpty checks that a path segment is present.
func RequireNonEmpty(field, value string) *ValidationError {
	if value == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}
