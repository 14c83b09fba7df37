// Package event defines immutable event descriptors, the validation
// capability attached to them, and the allow-listing rules rooms apply to
// inbound triggers.
package event

import (
	"fmt"
	"strings"

	"github.com/dialoguehq/dialogue/internal/v1/protocol"
)

// Validator coerces and validates an arbitrary decoded JSON value. On
// success it returns the (possibly coerced) value; on failure an error whose
// message lists `path: issue` pairs.
type Validator interface {
	Validate(value any) (any, error)
}

// HistoryPolicy controls whether triggers of an event are retained in the
// bounded in-memory history, and how many.
type HistoryPolicy struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit"`
}

// Definition is an immutable event descriptor: a name, an optional
// validator, and an optional history policy. Definitions are created at
// startup and frozen thereafter.
type Definition struct {
	name      string
	validator Validator
	history   *HistoryPolicy
}

// Option configures a Definition at creation time.
type Option func(*Definition)

// WithValidator attaches a validation capability to the definition.
func WithValidator(v Validator) Option {
	return func(d *Definition) { d.validator = v }
}

// WithHistory enables bounded history retention with the given limit.
func WithHistory(limit int) Option {
	return func(d *Definition) { d.history = &HistoryPolicy{Enabled: true, Limit: limit} }
}

// Define creates an immutable event definition.
func Define(name string, opts ...Option) Definition {
	d := Definition{name: name}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Name returns the event name.
func (d Definition) Name() string { return d.name }

// History returns the history policy and whether one is enabled.
func (d Definition) History() (HistoryPolicy, bool) {
	if d.history == nil || !d.history.Enabled {
		return HistoryPolicy{}, false
	}
	return *d.history, true
}

// Validate checks a definition for configuration errors. Returning an error
// here is fatal at startup.
func (d Definition) Validate() error {
	if d.name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if d.history != nil && d.history.Enabled && d.history.Limit < 1 {
		return fmt.Errorf("event '%s': history limit must be >= 1 (got %d)", d.name, d.history.Limit)
	}
	if d.name == protocol.Wildcard && (d.validator != nil || d.history != nil) {
		return fmt.Errorf("wildcard event definition cannot carry a validator or history policy")
	}
	return nil
}

// ValidateData runs the definition's validator against a decoded value.
// Definitions without a validator accept anything. Failures are wrapped into
// a single human-readable message.
func ValidateData(def Definition, value any) (any, error) {
	if def.validator == nil {
		return value, nil
	}
	coerced, err := def.validator.Validate(value)
	if err != nil {
		return nil, fmt.Errorf("Event '%s' validation failed: %s", def.name, err.Error())
	}
	return coerced, nil
}

// Allowed reports whether an event name passes a room's allow-list. An empty
// list means every event is allowed, as does a list containing the wildcard.
func Allowed(name string, list []Definition) bool {
	if len(list) == 0 {
		return true
	}
	for _, d := range list {
		if d.name == name || d.name == protocol.Wildcard {
			return true
		}
	}
	return false
}

// Lookup finds the definition for a name in an allow-list. The second return
// is false when no entry matches (including the wildcard-only case, where the
// caller should synthesize a bare definition).
func Lookup(name string, list []Definition) (Definition, bool) {
	for _, d := range list {
		if d.name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// joinIssues formats `path: issue` pairs for error messages.
func joinIssues(issues []string) string {
	return strings.Join(issues, ", ")
}
