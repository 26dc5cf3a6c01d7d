package logging

import (
	"regexp"
	"strings"
)

// RedactedPlaceholder replaces any value recognised as a credential.
const RedactedPlaceholder = "[REDACTED]"

// sensitivePatterns match credential-shaped substrings inside free text,
// such as an upstream error body that echoes the request headers.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(sk-[a-zA-Z0-9_-]{20,})`),             // OpenAI keys
	regexp.MustCompile(`(r8_[a-zA-Z0-9]{20,})`),               // Replicate tokens
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),  // Authorization headers
	regexp.MustCompile(`(?i)(token\s+[a-zA-Z0-9._-]{20,})`),   // Replicate legacy auth scheme
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),  // api_key= or api_key:
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{8,})`), // password= or password:
}

// sensitiveFieldNames are matched case-insensitively as substrings of a log
// field key.
var sensitiveFieldNames = []string{
	"REPLICATE_API_TOKEN",
	"OPENAI_API_KEY",
	"WEBUI_API_KEY",
	"AUTHORIZATION",
	"PASSWORD",
	"SECRET",
	"API_TOKEN",
	"API_KEY",
	"APIKEY",
}

// RedactSensitiveData replaces every credential-shaped substring of value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, pattern := range sensitivePatterns {
		value = pattern.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field named fieldName must never be
// logged verbatim.
func IsSensitiveField(fieldName string) bool {
	upper := strings.ToUpper(fieldName)
	for _, name := range sensitiveFieldNames {
		if strings.Contains(upper, name) {
			return true
		}
	}
	return false
}
