package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/sieve/pkg/config"
)

// Built-in pattern names.
const (
	PatternBearerToken    = "bearer_token"
	PatternURLCredentials = "url_credentials"
	PatternGitToken       = "git_token"
	PatternNostrSecret    = "nostr_secret"
)

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Redactor masks secrets in log attributes. Values of attributes whose key
// names a secret are replaced outright; other string values are scrubbed
// with regular expressions.
type Redactor struct {
	patterns []redactPattern
}

var defaultPatterns = []redactPattern{
	{PatternBearerToken, regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`), "Bearer ***"},
	{PatternURLCredentials, regexp.MustCompile(`(\w+://)[^/\s:@]+(:[^/\s@]*)?@`), "${1}***@"},
	{PatternGitToken, regexp.MustCompile(`\b(ghp|gho|ghs|ghu|github_pat|glpat)[-_][A-Za-z0-9_]{16,}`), "${1}_***"},
	{PatternNostrSecret, regexp.MustCompile(`\bnsec1[02-9ac-hj-np-z]{20,}`), "nsec1***"},
}

var sensitiveKeys = []string{
	"password", "passphrase", "secret", "token", "authorization", "private_key", "nsec",
}

// NewRedactor returns a redactor with the built-in patterns followed by
// custom ones, applied in that order.
func NewRedactor(custom []config.RedactPattern) (*Redactor, error) {
	r := &Redactor{patterns: append([]redactPattern(nil), defaultPatterns...)}
	for _, p := range custom {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact pattern %q: %w", p.Name, err)
		}
		r.patterns = append(r.patterns, redactPattern{p.Name, regex, p.Replacement})
	}
	return r, nil
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr hook.
func (r *Redactor) ReplaceAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "***")
	}
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); s != "" {
			return slog.String(a.Key, r.RedactString(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return a
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
