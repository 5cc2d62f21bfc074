package domain

import "context"

// EventSource defines the interface for observing the browser's tabs and windows.
// Implementations translate a host's native callbacks into BrowserEvent values.
//
//go:generate mockgen -destination=mocks/event_source_mock.go -package=mocks github.com/genricoloni/tabcast/internal/domain EventSource
type EventSource interface {
	// Start begins accepting browser events
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the source and closes the events channel
	Stop(ctx context.Context) error

	// Events returns a read-only channel of browser events in delivery order
	Events() <-chan BrowserEvent

	// GetTab returns the current full record of a tab
	// Returns an error if the tab no longer exists
	GetTab(ctx context.Context, id TabID) (TabRecord, error)

	// GetAllWindows returns the current state of every window
	GetAllWindows(ctx context.Context) ([]WindowRecord, error)
}

// SettingsSource publishes the user's settings.
//
//go:generate mockgen -destination=mocks/settings_source_mock.go -package=mocks github.com/genricoloni/tabcast/internal/domain SettingsSource
type SettingsSource interface {
	// Subscribe calls fn with the current settings and again after every change
	// The returned function removes the subscription
	Subscribe(fn func(Settings)) (unsubscribe func())
}

// Config defines the interface for application configuration
type Config interface {
	// GetListenAddr returns the address of the HTTP server hosting the bridge
	GetListenAddr() string

	// GetSettingsFile returns the path of the user settings file
	GetSettingsFile() string

	// GetLogLevel returns the minimum log level
	GetLogLevel() string

	// GetLogFile returns the rotating log file path, empty for stdout only
	GetLogFile() string
}
