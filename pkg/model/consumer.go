package model

import (
	"strings"
	"unicode/utf8"
)

// Consumer identifies an authenticated caller attached to a request.
// Identifier is required; Name and Group are optional display attributes.
type Consumer struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
	Group      string `json:"group,omitempty"`
}

// ConsumerFromStringOrObject normalizes a consumer given either as a bare
// identifier string or as a full Consumer. It trims whitespace, enforces
// the field length limits (identifier 128, name/group 64) and returns nil
// if no identifier remains.
func ConsumerFromStringOrObject(v any) *Consumer {
	switch c := v.(type) {
	case string:
		identifier := Truncate(strings.TrimSpace(c), 128)
		if identifier == "" {
			return nil
		}
		return &Consumer{Identifier: identifier}
	case Consumer:
		return ConsumerFromStringOrObject(&c)
	case *Consumer:
		if c == nil {
			return nil
		}
		identifier := Truncate(strings.TrimSpace(c.Identifier), 128)
		if identifier == "" {
			return nil
		}
		return &Consumer{
			Identifier: identifier,
			Name:       Truncate(strings.TrimSpace(c.Name), 64),
			Group:      Truncate(strings.TrimSpace(c.Group), 64),
		}
	default:
		return nil
	}
}

// Truncate caps s at max bytes, cutting only at rune boundaries so the
// result is always valid UTF-8.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
