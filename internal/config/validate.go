package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Construction error kinds surfaced to the caller.
var (
	ErrInvalidClientID = errors.New("invalid client ID (expecting hexadecimal UUIDv4 format)")
	ErrInvalidEnv      = errors.New("invalid env (expecting 1-32 word characters and hyphens)")
)

var (
	clientIDPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	envPattern      = regexp.MustCompile(`^[\w-]{1,32}$`)
)

// NormalizeEnv trims, lowercases and replaces underscores with hyphens.
func NormalizeEnv(env string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(env)), "_", "-")
}

// Validate checks that the Config contains a valid client ID and env.
// It expects ApplyDefaults to have run first.
func (c *Config) Validate() error {
	if !clientIDPattern.MatchString(c.ClientID) {
		return fmt.Errorf("%w: %q", ErrInvalidClientID, c.ClientID)
	}
	if !envPattern.MatchString(c.Env) {
		return fmt.Errorf("%w: %q", ErrInvalidEnv, c.Env)
	}
	return nil
}
