package core

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig         = "MISSING_CONFIG"
	ErrCodeInvalidValue          = "INVALID_VALUE"
	ErrCodeMissingAuth           = "MISSING_AUTH"
	ErrCodePlaceholderCredential = "PLACEHOLDER_CREDENTIAL"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue returns an error for a variable that is set but unusable.
func ErrInvalidValue(varName, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value %q for %s: %s", value, varName, reason),
		Action:  fmt.Sprintf("Correct %s in your .env file", varName),
	}
}

// ErrMissingAuth returns an error for missing authentication credentials
func ErrMissingAuth(service string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  authAction(service),
	}
}

// ErrPlaceholderCredential is returned when a credential still holds the
// sample value shipped in example.env.
func ErrPlaceholderCredential(service string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodePlaceholderCredential,
		Message: fmt.Sprintf("The %s credential is still the example placeholder", service),
		Action:  authAction(service),
	}
}

func authAction(service string) string {
	switch strings.ToUpper(service) {
	case BackendReplicate:
		return "Set REPLICATE_API_TOKEN in your .env file (https://replicate.com/account/api-tokens)"
	case BackendOpenAI:
		return "Set OPENAI_API_KEY in your .env file or remove OPENAI from SERVICE_PRIORITY"
	default:
		return fmt.Sprintf("Set the required API key for %s in your .env file", service)
	}
}

// IsPlaceholderCredential reports whether value is empty or one of the
// sample values from example.env.
func IsPlaceholderCredential(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return true
	}
	return strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your_") || v == "changeme"
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
