package logger

import (
	"io"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// redactRule replaces the value captured after a key prefix. Rules with
// keep=false replace the whole match.
type redactRule struct {
	re   *regexp.Regexp
	keep bool
}

// Rules run in order. Field and header rules come first so a key embedded
// in a named field is masked once, with its name intact.
var redactRules = []redactRule{
	// X-Runcore-Secret header, as text or as a JSON-encoded http.Header.
	{regexp.MustCompile(`(?i)(x-runcore-secret\\?"?\s*[:=]\s*\[?\\?"?)[^\s"\\,\[\]]+`), true},
	// Shared secret passed as ?token= on the WebSocket upgrade URL.
	{regexp.MustCompile(`([?&]token=)[^&\s"]+`), true},
	// api_key and shared_secret profile fields, JSON or key=value.
	{regexp.MustCompile(`(?i)(\\?"?(?:api_key|apikey|shared_secret)\\?"?\s*[:=]\s*\\?"?)[^\s"\\,}]+`), true},
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`), true},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{8,}`), false},
	{regexp.MustCompile(`sk-[A-Za-z0-9_-]{20,}`), false},
}

// Redactor masks runcore credentials in log output.
type Redactor struct {
	literals []string
}

// NewRedactor returns a redactor that also masks each non-empty literal,
// typically the configured shared secret and provider key.
func NewRedactor(literals ...string) *Redactor {
	r := &Redactor{}
	for _, l := range literals {
		if l = strings.TrimSpace(l); len(l) >= 4 {
			r.literals = append(r.literals, l)
		}
	}
	return r
}

// Redact returns s with every known credential replaced.
func (r *Redactor) Redact(s string) string {
	for _, l := range r.literals {
		s = strings.ReplaceAll(s, l, redacted)
	}
	for _, rule := range redactRules {
		if rule.keep {
			s = rule.re.ReplaceAllString(s, "${1}"+redacted)
		} else {
			s = rule.re.ReplaceAllLiteralString(s, redacted)
		}
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if _, err := io.WriteString(w, r.Redact(string(p))); err != nil {
			return 0, err
		}
		return len(p), nil
	})
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
