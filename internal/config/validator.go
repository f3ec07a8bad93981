package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/danielpatrickdp/intersection-controller/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "policy.stop_dwell")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Policy.StopDwell < 0 {
		errs = append(errs, ValidationError{
			Field:   "policy.stop_dwell",
			Value:   c.Policy.StopDwell,
			Message: "must not be negative",
		})
	}
	if c.Policy.SpeedLimit <= 0 {
		errs = append(errs, ValidationError{
			Field:   "policy.speed_limit",
			Value:   c.Policy.SpeedLimit,
			Message: "must be positive",
		})
	}
	if c.Arbiter.Parallelism < 0 {
		errs = append(errs, ValidationError{
			Field:   "arbiter.parallelism",
			Value:   c.Arbiter.Parallelism,
			Message: "must not be negative",
		})
	}
	if c.Store.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "store.path",
			Value:   c.Store.Path,
			Message: "must not be empty",
		})
	}
	if !slices.Contains(logging.ValidLevels(), strings.ToUpper(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must be host:port",
		})
	}

	return errs
}
