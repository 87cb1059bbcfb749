package requestlog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apitally/apitally-go/pkg/model"
)

func TestMaskQueryString_PreservesParamOrder(t *testing.T) {
	patterns := compilePatterns(builtinMaskQueryParams, nil)
	got := maskQueryString("/items?token=secret&name=joe", patterns)
	assert.Equal(t, "/items?token=******&name=joe", got)
}

func TestMaskQueryString_ValuelessParamMasked(t *testing.T) {
	patterns := compilePatterns(builtinMaskQueryParams, nil)
	got := maskQueryString("/a?token&name=joe", patterns)
	assert.Equal(t, "/a?token=******&name=joe", got)
}

func TestMaskQueryString_NoQuery(t *testing.T) {
	patterns := compilePatterns(builtinMaskQueryParams, nil)
	assert.Equal(t, "/items", maskQueryString("/items", patterns))
}

func TestMaskQueryString_UserPatternsExtendBuiltins(t *testing.T) {
	patterns := compilePatterns(builtinMaskQueryParams, []string{"^custom$"})
	got := maskQueryString("/a?custom=x&api_key=y&other=z", patterns)
	assert.Equal(t, "/a?custom=******&api_key=y&other=z", got)
}

func TestMaskHeaders(t *testing.T) {
	patterns := compilePatterns(builtinMaskHeaders, nil)
	got := maskHeaders([]model.Header{
		{"Authorization", "Bearer 123"},
		{"X-API-Key", "abc"},
		{"Content-Type", "application/json"},
	}, patterns)
	assert.Equal(t, []model.Header{
		{"Authorization", MaskedValue},
		{"X-API-Key", MaskedValue},
		{"Content-Type", "application/json"},
	}, got)
}

func TestMaskBodyFields_Nested(t *testing.T) {
	patterns := compilePatterns(builtinMaskBodyFields, nil)
	body := []byte(`{"user":{"name":"joe","password":"hunter2"},"items":[{"card_number":"4111"}]}`)
	masked := maskBodyFields(body, patterns)
	assert.JSONEq(t, `{"user":{"name":"joe","password":"******"},"items":[{"card_number":"******"}]}`, string(masked))
}

func TestMaskBodyFields_InvalidJSONUnchanged(t *testing.T) {
	patterns := compilePatterns(builtinMaskBodyFields, nil)
	body := []byte(`{"password": oops`)
	assert.Equal(t, body, maskBodyFields(body, patterns))
}

func TestHasSupportedContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"text/plain", true},
		{"application/vnd.api+json", true},
		{"text/csv", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tt := range tests {
		headers := []model.Header{{"Content-Type", tt.contentType}}
		assert.Equal(t, tt.want, hasSupportedContentType(headers), tt.contentType)
	}
}

func TestExcludeUserAgentPattern(t *testing.T) {
	assert.True(t, excludeUserAgentPattern.MatchString("kube-probe/1.29"))
	assert.True(t, excludeUserAgentPattern.MatchString("GoogleHC/1.0"))
	assert.True(t, excludeUserAgentPattern.MatchString("ELB-HealthChecker/2.0"))
	assert.False(t, excludeUserAgentPattern.MatchString("Mozilla/5.0"))
}

func TestCompilePatterns_DropsInvalid(t *testing.T) {
	patterns := compilePatterns([]string{"valid"}, []string{"("})
	assert.Len(t, patterns, 1)
}
