package filter

import (
	"testing"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFilter(mode domain.FilterMode, rules ...domain.FilterRule) *Filter {
	f := New(zap.NewNop())
	f.Set(domain.FilterConfig{Mode: mode, Rules: rules})
	return f
}

var githubAndPlainHTTP = []domain.FilterRule{
	{Value: "github.com"},
	{Value: "^http://", IsRegex: true},
}

func TestCheckURL(t *testing.T) {
	tests := []struct {
		url     string
		matched bool
	}{
		{"https://github.com/notifications?query=#forsen", true},
		{"http://github.com/notifications?query=#forsen", true},
		{"http://gitlab.com/notifications?query=#forsen", true},
		{"https://github.com", true},
		{"http://github.com", true},
		{"https://GitHub.com/x", true},
		{"github.com/notifications", true},
		{"https://gitlab.com/notifications?query=#forsen", false},
		{"ftp://gitlab.com/notifications?query=#forsen", false},
		{"https://gitlab.com", false},
		{"https://forsen.tv", false},
		{"http//://invalid", false},
		{"about:blank", false},
	}

	block := newFilter(domain.FilterModeBlock, githubAndPlainHTTP...)
	allow := newFilter(domain.FilterModeAllow, githubAndPlainHTTP...)

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, !tt.matched, block.CheckURL(tt.url), "block mode")
			assert.Equal(t, tt.matched, allow.CheckURL(tt.url), "allow mode")
		})
	}
}

func TestCheckURLSingleRule(t *testing.T) {
	rule := domain.FilterRule{Value: "github.com"}

	block := newFilter(domain.FilterModeBlock, rule)
	assert.False(t, block.CheckURL("https://github.com/x"))
	assert.True(t, block.CheckURL("https://gitlab.com"))
	assert.True(t, block.CheckURL("http//://invalid"))

	allow := newFilter(domain.FilterModeAllow, rule)
	assert.True(t, allow.CheckURL("https://github.com/x"))
	assert.False(t, allow.CheckURL("https://gitlab.com"))
	assert.False(t, allow.CheckURL("http//://invalid"))
}

func TestTryParseURL(t *testing.T) {
	tests := []struct {
		input    string
		ok       bool
		expected string
	}{
		{"http://localhost:8080", true, "http://localhost:8080/"},
		{"localhost:8080", true, "localhost:8080"},
		{"https://github.com/notifications?query=#forsen", true, "https://github.com/notifications?query=#forsen"},
		{"github.com/notifications?query=#forsen", true, "https://github.com/notifications?query=#forsen"},
		{"", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			u, ok := tryParseURL(tt.input)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.expected, u.String())
			}
		})
	}
}

func TestMatchRule(t *testing.T) {
	const target = "https://github.com/notifications?query=#forsen"

	tests := []struct {
		value string
		plain bool
		regex bool
	}{
		{"github.com", true, true},
		{"git", true, true},
		{"hub.com", true, true},
		{".com", true, true},
		{"com", true, true},
		// regex rules see the whole url
		{"hub", false, true},
		{"https://github.com", false, true},
		{"forsen", false, true},
		{"https", false, true},
		{"^ftp://", false, false},
		{`gitlab\.com`, false, false},
		{"^forsen", false, false},
		{"https$", false, false},
	}

	f := New(zap.NewNop())
	u, ok := tryParseURL(target)
	require.True(t, ok)

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.plain, f.matchRule(u, domain.FilterRule{Value: tt.value}), "plain")
			assert.Equal(t, tt.regex, f.matchRule(u, domain.FilterRule{Value: tt.value, IsRegex: true}), "regex")
		})
	}
}

func TestMatchRuleECMAScriptPatterns(t *testing.T) {
	f := New(zap.NewNop())
	u, ok := tryParseURL("https://www.youtube.com/watch?v=abc")
	require.True(t, ok)

	// lookahead is not supported by RE2
	assert.True(t, f.matchRule(u, domain.FilterRule{Value: `youtube(?=\.com)`, IsRegex: true}))
	assert.False(t, f.matchRule(u, domain.FilterRule{Value: `(unclosed`, IsRegex: true}))
}

func TestSet(t *testing.T) {
	f := New(zap.NewNop())
	assert.Equal(t, domain.FilterModeBlock, f.Config().Mode)

	assert.False(t, f.Set(domain.FilterConfig{Mode: domain.FilterModeBlock}))
	assert.False(t, f.Set(domain.FilterConfig{}), "empty mode is block")
	assert.True(t, f.Set(domain.FilterConfig{Mode: domain.FilterModeAllow}))
	assert.True(t, f.Set(domain.FilterConfig{Mode: domain.FilterModeAllow, IncludeFocusedTabs: true}))
	assert.True(t, f.IncludeFocusedTabs())

	rules := []domain.FilterRule{{Value: "github.com"}}
	assert.True(t, f.Set(domain.FilterConfig{Mode: domain.FilterModeAllow, IncludeFocusedTabs: true, Rules: rules}))
	rules[0].Value = "gitlab.com"
	assert.Equal(t, "github.com", f.Config().Rules[0].Value, "rules are copied")
	assert.False(t, f.Set(domain.FilterConfig{Mode: domain.FilterModeAllow, IncludeFocusedTabs: true, Rules: []domain.FilterRule{{Value: "github.com"}}}))
}
