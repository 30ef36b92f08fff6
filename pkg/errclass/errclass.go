// Package errclass maps arbitrary failures to a display category.
//
// The category drives messaging and triage only; retry eligibility is
// decided by the retry engine's own per-operation categories.
package errclass

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is a coarse failure label.
type Category string

const (
	CategoryAPI        Category = "api"
	CategoryTool       Category = "tool"
	CategoryValidation Category = "validation"
	CategoryPolicy     Category = "policy"
)

// Checked in order; policy and validation must precede the broad api bucket.
var rules = []struct {
	category Category
	needles  []string
}{
	{CategoryPolicy, []string{"permission", "blocked", "not allowed", "not-allowed", "disabled"}},
	{CategoryValidation, []string{"invalid", "missing", "unknown tool", "unknown-tool"}},
	{CategoryAPI, []string{
		"timeout", "timed out", "rate limit", "rate-limit", "ratelimit",
		"429", "502", "503", "network", "fetch", "api",
	}},
}

// Classify returns the category of v.
func Classify(v any) Category {
	msg := Normalize(v)
	for _, rule := range rules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return rule.category
			}
		}
	}
	return CategoryTool
}

// Normalize renders v as a lower-cased message.
func Normalize(v any) string {
	return strings.ToLower(Message(v))
}

// Message renders v as a message without changing case.
func Message(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case error:
		if msg := val.Error(); msg != "" {
			return msg
		}
		return fmt.Sprintf("%T", val)
	case fmt.Stringer:
		return val.String()
	}

	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
