package domain

// BrowserEvent is one of the event types below.
// The set is closed: consumers switch over the concrete types.
type BrowserEvent interface {
	browserEvent()
}

// SnapshotEvent carries the full window/tab enumeration taken when a browser attaches
type SnapshotEvent struct {
	Windows []WindowRecord
}

// TabCreatedEvent is emitted for a newly opened tab
type TabCreatedEvent struct {
	Tab TabRecord
}

// TabRemovedEvent is emitted when a tab is closed
type TabRemovedEvent struct {
	TabID TabID
}

// TabUpdatedEvent is emitted when title, url, audio or mute state of a tab changed.
// The consumer fetches the full record with EventSource.GetTab.
type TabUpdatedEvent struct {
	TabID TabID
}

// TabActivatedEvent is emitted when a tab becomes the selected tab of its window
type TabActivatedEvent struct {
	Info ActivateInfo
}

// WindowFocusChangedEvent is emitted when focus moves to another window or to none
type WindowFocusChangedEvent struct {
	WindowID WindowID
}

// WindowUpdatedEvent is emitted when a window's state (e.g. fullscreen) changes
type WindowUpdatedEvent struct {
	Window WindowRecord
}

// WindowRemovedEvent is emitted when a window is closed
type WindowRemovedEvent struct {
	WindowID WindowID
}

// MetadataEvent is a media-session metadata push; nil Metadata means the session ended
type MetadataEvent struct {
	TabID    TabID
	Metadata *MediaMetadata
}

// PlayPositionEvent is a media-session position push; nil Position clears the timeline
type PlayPositionEvent struct {
	TabID    TabID
	Position *PlayPosition
}

func (SnapshotEvent) browserEvent()           {}
func (TabCreatedEvent) browserEvent()         {}
func (TabRemovedEvent) browserEvent()         {}
func (TabUpdatedEvent) browserEvent()         {}
func (TabActivatedEvent) browserEvent()       {}
func (WindowFocusChangedEvent) browserEvent() {}
func (WindowUpdatedEvent) browserEvent()      {}
func (WindowRemovedEvent) browserEvent()      {}
func (MetadataEvent) browserEvent()           {}
func (PlayPositionEvent) browserEvent()       {}
