package config

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound      = errors.New("configuration file not found")
	ErrInvalidYAML         = errors.New("invalid YAML syntax")
	ErrValidationFailed    = errors.New("configuration validation failed")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrChainNotFound       = errors.New("chain not found")
	ErrMCPServerNotFound   = errors.New("MCP server not found")
	ErrLLMProviderNotFound = errors.New("LLM provider not found")
	ErrNameCollision       = errors.New("name collides with a built-in identifier")
)

// ValidationError wraps a configuration validation failure with context,
// mirroring the teacher's pkg/config/errors.go shape.
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s %q: field %q: %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func newValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError wraps a file-loading failure with the file name.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("failed to load %s: %v", e.File, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }
