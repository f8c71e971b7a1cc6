package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/aretw0/wadialog/pkg/ports"
)

const mask = "***"

type piiMiddleware struct {
	ports.SessionBackend
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks values whose key matches
// one of the patterns before they are persisted. Nested JSON objects (such
// as user properties) are masked field by field.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pii pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.SessionBackend) ports.SessionBackend {
		return &piiMiddleware{SessionBackend: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Set(ctx context.Context, scope, key string, value []byte) error {
	if m.matches(key) {
		masked, _ := json.Marshal(mask)
		return m.SessionBackend.Set(ctx, scope, key, masked)
	}

	var obj map[string]any
	if err := json.Unmarshal(value, &obj); err == nil && m.maskMap(obj) {
		masked, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("failed to marshal masked value: %w", err)
		}
		value = masked
	}
	return m.SessionBackend.Set(ctx, scope, key, value)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// maskMap masks matching keys in place and reports whether anything changed.
func (m *piiMiddleware) maskMap(obj map[string]any) bool {
	changed := false
	for k, v := range obj {
		if m.matches(k) {
			obj[k] = mask
			changed = true
			continue
		}
		if sub, ok := v.(map[string]any); ok && m.maskMap(sub) {
			changed = true
		}
	}
	return changed
}
