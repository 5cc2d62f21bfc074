package domain

import (
	"fmt"
	"net"
	"slices"
	"strconv"
)

// FilterMode decides whether filter rules include or exclude URLs
type FilterMode string

const (
	// FilterModeAllow makes only URLs matching a rule eligible
	FilterModeAllow FilterMode = "allow"
	// FilterModeBlock makes URLs matching a rule ineligible
	FilterModeBlock FilterMode = "block"
)

const (
	// DefaultHost is the display server host
	DefaultHost = "127.0.0.1"
	// DefaultCurrentPort is the display server port of the current protocol
	DefaultCurrentPort = 48457
	// DefaultLegacyPort is the display server port of the legacy protocol
	DefaultLegacyPort = 232
)

// FilterRule matches URLs by hostname prefix/suffix or, with IsRegex, by pattern
type FilterRule struct {
	Value   string `yaml:"value" json:"value"`
	IsRegex bool   `yaml:"isRegex" json:"isRegex"`
}

// FilterConfig is the user's URL filter
type FilterConfig struct {
	Rules              []FilterRule `yaml:"rules" json:"rules"`
	Mode               FilterMode   `yaml:"mode" json:"mode"`
	IncludeFocusedTabs bool         `yaml:"includeFocusedTabs" json:"includeFocusedTabs"`
}

// Equal reports whether both configs filter identically
func (c FilterConfig) Equal(other FilterConfig) bool {
	return c.Mode == other.Mode &&
		c.IncludeFocusedTabs == other.IncludeFocusedTabs &&
		slices.Equal(c.Rules, other.Rules)
}

// ConnectionSettings locates the display server
type ConnectionSettings struct {
	Legacy bool   `yaml:"legacy" json:"legacy"`
	Host   string `yaml:"host" json:"host"`
	// Port 0 selects the default port of the protocol
	Port int `yaml:"port" json:"port"`
}

// URL returns the websocket URL of the display server
func (c ConnectionSettings) URL() string {
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultCurrentPort
		if c.Legacy {
			port = DefaultLegacyPort
		}
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if c.Legacy {
		return fmt.Sprintf("ws://%s", addr)
	}
	return fmt.Sprintf("ws://%s/api/ws/extension", addr)
}

// Settings is everything the user can edit at runtime
type Settings struct {
	Filter     FilterConfig       `yaml:"filter" json:"filter"`
	Connection ConnectionSettings `yaml:"connection" json:"connection"`
}

// DefaultSettings returns the settings used when the user has not configured anything
func DefaultSettings() Settings {
	return Settings{
		Filter: FilterConfig{
			Mode: FilterModeBlock,
		},
		Connection: ConnectionSettings{
			Host: DefaultHost,
		},
	}
}
