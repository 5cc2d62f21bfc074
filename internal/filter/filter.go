// Package filter decides which URLs may host the reported media session.
package filter

import (
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/genricoloni/tabcast/internal/domain"
	"go.uber.org/zap"
)

// matchTimeout bounds user supplied patterns that backtrack catastrophically
const matchTimeout = 100 * time.Millisecond

// Filter holds the latest filter configuration.
// CheckURL may be called from any goroutine.
type Filter struct {
	logger *zap.Logger
	cfg    atomic.Pointer[domain.FilterConfig]
}

// New creates a filter with the default configuration (block mode, no rules)
func New(logger *zap.Logger) *Filter {
	f := &Filter{logger: logger}
	cfg := domain.DefaultSettings().Filter
	f.cfg.Store(&cfg)
	return f
}

// Config returns the current configuration
func (f *Filter) Config() domain.FilterConfig {
	return *f.cfg.Load()
}

// Set replaces the configuration and reports whether it differs from the previous one
func (f *Filter) Set(cfg domain.FilterConfig) bool {
	if cfg.Mode != domain.FilterModeAllow {
		cfg.Mode = domain.FilterModeBlock
	}
	cfg.Rules = append([]domain.FilterRule(nil), cfg.Rules...)

	prev := f.cfg.Swap(&cfg)
	return !prev.Equal(cfg)
}

// IncludeFocusedTabs reports whether the focused tab of the focused window may be reported
func (f *Filter) IncludeFocusedTabs() bool {
	return f.cfg.Load().IncludeFocusedTabs
}

// CheckURL reports whether media playing on target may be reported.
// An URL that cannot be parsed matches no rule.
func (f *Filter) CheckURL(target string) bool {
	cfg := f.cfg.Load()
	block := cfg.Mode != domain.FilterModeAllow

	u, ok := tryParseURL(target)
	if !ok {
		return block
	}

	anyMatch := false
	for _, rule := range cfg.Rules {
		if f.matchRule(u, rule) {
			anyMatch = true
			break
		}
	}

	if block {
		return !anyMatch
	}
	return anyMatch
}

// matchRule tests regex rules against the whole URL and plain rules against
// the start or end of the hostname
func (f *Filter) matchRule(u *url.URL, rule domain.FilterRule) bool {
	if !rule.IsRegex {
		host := u.Hostname()
		return strings.HasPrefix(host, rule.Value) || strings.HasSuffix(host, rule.Value)
	}

	re, err := regexp2.Compile(rule.Value, regexp2.ECMAScript)
	if err != nil {
		f.logger.Debug("Invalid filter pattern", zap.String("pattern", rule.Value), zap.Error(err))
		return false
	}
	re.MatchTimeout = matchTimeout

	matched, err := re.MatchString(u.String())
	if err != nil {
		f.logger.Debug("Filter pattern failed", zap.String("pattern", rule.Value), zap.Error(err))
		return false
	}
	return matched
}

// tryParseURL parses target, retrying once with an https:// prefix
func tryParseURL(target string) (*url.URL, bool) {
	if u, ok := parseURL(target); ok {
		return u, true
	}
	return parseURL("https://" + target)
}

func parseURL(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, false
	}

	switch u.Scheme {
	case "http", "https", "ws", "wss", "ftp":
		if u.Host == "" {
			return nil, false
		}
		u.Host = strings.ToLower(u.Host)
		if u.Path == "" && u.Opaque == "" {
			u.Path = "/"
		}
	}
	return u, true
}
