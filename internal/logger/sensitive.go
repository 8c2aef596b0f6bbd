package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var sensitiveDataPatterns = []redaction{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-._~+/]+=*`), "${1}" + redacted},
	{regexp.MustCompile(`(?i)(client-id\s+)\S+`), "${1}" + redacted},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{5,}\.eyJ[a-zA-Z0-9_-]{5,}\.[a-zA-Z0-9_-]{5,}`), redacted},
	{regexp.MustCompile(`(sk-ant-)[A-Za-z0-9_\-]+`), "${1}" + redacted},
	{regexp.MustCompile(`(postgres(?:ql)?://[^:/\s]+:)[^@\s]+(@)`), "${1}" + redacted + "${2}"},
}

var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey", "authorization", "cookie",
}

// RedactSensitiveData masks bearer tokens, JWTs, API keys and DSN passwords.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, r := range sensitiveDataPatterns {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
