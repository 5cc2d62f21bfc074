package domain

// TabID identifies a browser tab for as long as the tab is open
type TabID int

// WindowID identifies a browser window
type WindowID int

// WindowIDNone is reported by browsers when focus leaves every window
const WindowIDNone WindowID = -1

// WindowState is the browser-reported presentation state of a window
type WindowState string

const (
	// WindowNormal is a regular window
	WindowNormal WindowState = "normal"
	// WindowMinimized is an iconified window
	WindowMinimized WindowState = "minimized"
	// WindowMaximized is a maximized window
	WindowMaximized WindowState = "maximized"
	// WindowFullscreen is a fullscreen window; its tabs never host the session
	WindowFullscreen WindowState = "fullscreen"
	// WindowDocked is a docked window (Chromium only)
	WindowDocked WindowState = "docked"
)

// MutedInfo mirrors the browser's mute details for a tab
type MutedInfo struct {
	Muted bool `json:"muted"`
}

// TabRecord is the browser's view of a tab.
// Optional fields are pointers so that "omitted" can be told apart from a zero value.
type TabRecord struct {
	// ID is nil for tabs the browser could not identify (devtools, prerender)
	ID *TabID `json:"id,omitempty"`
	// WindowID is nil when the browser omits it
	WindowID *WindowID `json:"windowId,omitempty"`
	// Active is true for the selected tab of its window
	Active bool `json:"active"`
	// Audible is true while the tab produces sound
	Audible bool `json:"audible,omitempty"`
	// MutedInfo is nil when the browser omits mute details
	MutedInfo *MutedInfo `json:"mutedInfo,omitempty"`
	// URL of the top-level document, nil if not permitted
	URL *string `json:"url,omitempty"`
	// Title of the page, nil if not permitted
	Title *string `json:"title,omitempty"`
}

// WindowRecord is the browser's view of a window
type WindowRecord struct {
	ID      *WindowID   `json:"id,omitempty"`
	Focused bool        `json:"focused"`
	State   WindowState `json:"state,omitempty"`
	// Tabs is only populated for the initial enumeration
	Tabs []TabRecord `json:"tabs,omitempty"`
}

// ActivateInfo describes a tab becoming the selected tab of its window
type ActivateInfo struct {
	TabID         TabID    `json:"tabId"`
	WindowID      WindowID `json:"windowId"`
	PreviousTabID *TabID   `json:"previousTabId,omitempty"`
}

// MediaMetadata is pushed by the page's media session
type MediaMetadata struct {
	// Title of the media, always present
	Title string `json:"title"`
	// Artist, empty if the page did not set one
	Artist string `json:"artist,omitempty"`
	// Artwork is the URL of the first artwork image
	Artwork string `json:"artwork,omitempty"`
	// Album name
	Album string `json:"album,omitempty"`
}

// PlayPosition is pushed by the page's media session.
// Position and Duration are in seconds, Timestamp in epoch milliseconds.
type PlayPosition struct {
	Rate      float64 `json:"rate"`
	Timestamp float64 `json:"timestamp"`
	Position  float64 `json:"position"`
	Duration  float64 `json:"duration"`
}

// TabIDPtr returns a pointer to id
func TabIDPtr(id TabID) *TabID { return &id }

// WindowIDPtr returns a pointer to id
func WindowIDPtr(id WindowID) *WindowID { return &id }

// StringPtr returns a pointer to s
func StringPtr(s string) *string { return &s }
