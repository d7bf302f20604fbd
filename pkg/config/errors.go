package config

import "fmt"

// NotFoundError reports a missing named configuration entry.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found in configuration", e.Kind, e.Name)
}

// ValidationError reports an invalid configuration field with enough context
// to fix it without reading source code.
type ValidationError struct {
	Section string
	Name    string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %q field %q: %v", e.Section, e.Name, e.Field, e.Err)
	}
	return fmt.Sprintf("%s field %q: %v", e.Section, e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
