package requestlog

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/apitally/apitally-go/pkg/model"
)

// MaskedValue replaces masked query param values, header values and body
// field values on the wire.
const MaskedValue = "******"

// Body sentinels emitted in place of a real body.
var (
	BodyTooLarge = []byte("<body too large>")
	BodyMasked   = []byte("<masked>")
)

// Built-in pattern lists. User-configured patterns extend, never replace,
// these.
var (
	builtinMaskQueryParams = []string{"auth", "api-?key", "secret", "token", "password", "pwd", "cookie"}
	builtinMaskHeaders     = []string{"auth", "api-?key", "secret", "token", "password", "pwd", "cookie"}
	builtinMaskBodyFields  = []string{"password", "token", "secret", "auth", "card[-_ ]?number", "ccv", "ssn"}
	builtinExcludePaths    = []string{`/(health|healthz|health[-_]?checks?|heart[-_]?beats?|ping|ready|live)/?$`}

	excludeUserAgentPattern = regexp.MustCompile(`(?i)health[-_ ]?check|googlehc|kube-probe|microsoft-azure-application-lb`)
)

// Content types whose bodies may be captured.
var supportedContentTypes = []string{
	"application/json",
	"application/x-ndjson",
	"application/ld+json",
	"application/problem+json",
	"application/vnd.api+json",
	"text/plain",
	"text/html",
}

// compilePatterns builds case-insensitive, unanchored matchers from the
// built-in and user lists. Invalid user patterns are dropped.
func compilePatterns(builtin, user []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(builtin)+len(user))
	for _, p := range append(append([]string{}, builtin...), user...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}
	return patterns
}

func matchesAny(patterns []*regexp.Regexp, name string) bool {
	for _, re := range patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// hasSupportedContentType reports whether the Content-Type header of the
// given headers allows body capture.
func hasSupportedContentType(headers []model.Header) bool {
	ct := headerValue(headers, "Content-Type")
	if ct == "" {
		return false
	}
	mediaType := strings.TrimSpace(strings.ToLower(strings.SplitN(ct, ";", 2)[0]))
	for _, supported := range supportedContentTypes {
		if mediaType == supported {
			return true
		}
	}
	return false
}

func headerValue(headers []model.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h[0], name) {
			return h[1]
		}
	}
	return ""
}

// maskHeaders replaces the values of headers whose names match a mask
// pattern.
func maskHeaders(headers []model.Header, patterns []*regexp.Regexp) []model.Header {
	out := make([]model.Header, 0, len(headers))
	for _, h := range headers {
		if matchesAny(patterns, h[0]) {
			out = append(out, model.Header{h[0], MaskedValue})
		} else {
			out = append(out, h)
		}
	}
	return out
}

// maskQueryString rewrites the query part of rawURL, replacing values of
// params whose names match a mask pattern. Parameter order is preserved.
func maskQueryString(rawURL string, patterns []*regexp.Regexp) string {
	base, query, ok := strings.Cut(rawURL, "?")
	if !ok || query == "" {
		return rawURL
	}
	parts := strings.Split(query, "&")
	for i, part := range parts {
		name, _, _ := strings.Cut(part, "=")
		if matchesAny(patterns, name) {
			parts[i] = name + "=" + MaskedValue
		}
	}
	return base + "?" + strings.Join(parts, "&")
}

// stripQueryString removes the query part of rawURL entirely.
func stripQueryString(rawURL string) string {
	base, _, _ := strings.Cut(rawURL, "?")
	return base
}

// maskBodyFields parses a JSON body and replaces the value of any field
// whose key matches a mask pattern. Bodies that fail to parse are
// returned unchanged.
func maskBodyFields(body []byte, patterns []*regexp.Regexp) []byte {
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return body
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return body
	}
	masked, err := json.Marshal(maskJSONValue(parsed, patterns))
	if err != nil {
		return body
	}
	return masked
}

func maskJSONValue(v any, patterns []*regexp.Regexp) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if matchesAny(patterns, k) {
				t[k] = MaskedValue
			} else {
				t[k] = maskJSONValue(val, patterns)
			}
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = maskJSONValue(val, patterns)
		}
		return t
	default:
		return v
	}
}
