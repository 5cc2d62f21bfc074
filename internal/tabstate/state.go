// Package tabstate merges the browser's view of a tab with the media-session
// metadata pushed by the page into the projection that gets delivered.
package tabstate

import (
	"errors"
	"math"
	"strings"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/protocol"
)

// DefaultURL is used until the browser reports the tab's URL
const DefaultURL = "about:blank"

// SourceBrowser is the PlayInfo source of every tab session
const SourceBrowser = "browser"

// ErrInvalidTab is returned for tab records without an id
var ErrInvalidTab = errors.New("tab record has no id")

// ChangeKind tells which consumers must be renotified after UpdateTabMeta
type ChangeKind int

const (
	// ChangeNone means nothing observable changed
	ChangeNone ChangeKind = iota
	// ChangeURL means only the URL changed
	ChangeURL
	// ChangeMeta means window, focus, audio or the derived title changed
	ChangeMeta
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeURL:
		return "url"
	case ChangeMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Tab is the state of one tracked browser tab.
// It is not safe for concurrent use; the selector owns every Tab.
type Tab struct {
	id       domain.TabID
	windowID domain.WindowID
	active   bool
	audible  bool
	muted    bool
	url      string

	// raw page title as reported by the browser
	pageTitle   string
	hasMetadata bool

	title    string
	artist   string
	album    string
	imageURL string
	timeline *protocol.TimelineInfo
}

// New creates the state of a tab from its first browser record
func New(rec domain.TabRecord) (*Tab, error) {
	if rec.ID == nil {
		return nil, ErrInvalidTab
	}

	t := &Tab{
		id:       *rec.ID,
		windowID: domain.WindowIDNone,
		url:      DefaultURL,
	}
	t.UpdateTabMeta(rec)
	return t, nil
}

// UpdateTabMeta merges a browser record into the tab.
// Omitted window id, mute info and URL keep their previous values. The page
// title only counts as a change while no media-session metadata is present.
func (t *Tab) UpdateTabMeta(rec domain.TabRecord) ChangeKind {
	windowID := t.windowID
	if rec.WindowID != nil {
		windowID = *rec.WindowID
	}
	muted := t.muted
	if rec.MutedInfo != nil {
		muted = rec.MutedInfo.Muted
	}
	url := t.url
	if rec.URL != nil {
		url = *rec.URL
	}
	var pageTitle string
	if rec.Title != nil {
		pageTitle = *rec.Title
	}

	metaEqual := t.windowID == windowID &&
		t.active == rec.Active &&
		t.audible == rec.Audible &&
		t.muted == muted &&
		(t.hasMetadata || t.pageTitle == pageTitle)
	urlEqual := t.url == url

	t.pageTitle = pageTitle
	t.windowID = windowID
	t.active = rec.Active
	t.audible = rec.Audible
	t.muted = muted
	t.url = url

	if !t.hasMetadata {
		t.deriveFromPageTitle()
	}

	switch {
	case !metaEqual:
		return ChangeMeta
	case !urlEqual:
		return ChangeURL
	default:
		return ChangeNone
	}
}

// UpdateMetadata applies a media-session push; nil means the session ended
// and the projection falls back to the page title.
// It reports whether title, artist, artwork, album or the presence of
// metadata changed.
func (t *Tab) UpdateMetadata(meta *domain.MediaMetadata) bool {
	if meta == nil {
		changed := t.hasMetadata || t.imageURL != "" || t.album != ""
		t.hasMetadata = false
		t.imageURL = ""
		t.album = ""
		return t.deriveFromPageTitle() || changed
	}

	changed := !t.hasMetadata
	t.hasMetadata = true

	if t.imageURL != meta.Artwork {
		t.imageURL = meta.Artwork
		changed = true
	}
	if t.album != meta.Album {
		t.album = meta.Album
		changed = true
	}

	if meta.Artist == "" {
		return t.setTitleArtist(SplitTitle(meta.Title)) || changed
	}

	title, artist := meta.Title, meta.Artist
	// some sites put "Artist - Title" into the title and the uploader into artist.
	// A split artist replaces the pushed one even when it is empty.
	if strings.Contains(title, "-") {
		dashTitle, dashArtist, split := splitTitle(title)
		title = dashTitle
		if split {
			artist = dashArtist
		}
	}
	return t.setTitleArtist(title, artist) || changed
}

// UpdateTimeline replaces the timeline; nil clears it.
// Position and duration are converted from seconds to whole milliseconds.
func (t *Tab) UpdateTimeline(pos *domain.PlayPosition) {
	if pos == nil {
		t.timeline = nil
		return
	}
	t.timeline = &protocol.TimelineInfo{
		TS:         pos.Timestamp,
		Rate:       pos.Rate,
		ProgressMs: int64(math.Round(pos.Position * 1000)),
		DurationMs: int64(math.Round(pos.Duration * 1000)),
	}
}

// SetActive overrides the browser's active flag, used on tab activation
func (t *Tab) SetActive(active bool) {
	t.active = active
}

// PlayInfo projects the tab into the current protocol body
func (t *Tab) PlayInfo() protocol.PlayInfo {
	info := protocol.PlayInfo{
		Title:  t.title,
		Artist: t.artist,
		Source: SourceBrowser,
	}
	if t.imageURL != "" {
		info.Image = protocol.ExternalImage(t.imageURL)
	}
	if t.timeline != nil {
		timeline := *t.timeline
		info.Timeline = &timeline
	}
	if t.album != "" {
		info.Album = &protocol.AlbumInfo{Title: t.album}
	}
	return info
}

// LegacyEvent projects the tab into the legacy protocol body
func (t *Tab) LegacyEvent() protocol.LegacyEvent {
	ev := protocol.LegacyEvent{
		Metadata: protocol.LegacyMetadata{
			Title:   t.title,
			Artist:  t.artist,
			Artwork: t.imageURL,
		},
	}
	if t.timeline != nil {
		ev.Position = &protocol.LegacyPosition{
			Rate:      t.timeline.Rate,
			Timestamp: t.timeline.TS,
			Position:  float64(t.timeline.ProgressMs) / 1000,
			Duration:  float64(t.timeline.DurationMs) / 1000,
		}
	}
	return ev
}

// ID returns the browser tab id
func (t *Tab) ID() domain.TabID { return t.id }

// WindowID returns the window currently holding the tab
func (t *Tab) WindowID() domain.WindowID { return t.windowID }

// Active reports whether the tab is the active tab of its window
func (t *Tab) Active() bool { return t.active }

// Audible reports whether the tab is playing sound
func (t *Tab) Audible() bool { return t.audible }

// Muted reports whether the tab is muted
func (t *Tab) Muted() bool { return t.muted }

// URL returns the tab URL, DefaultURL until the browser reports one
func (t *Tab) URL() string { return t.url }

// Title returns the projected media title
func (t *Tab) Title() string { return t.title }

// Artist returns the projected artist, empty if unknown
func (t *Tab) Artist() string { return t.artist }

// HasMetadata reports whether a media-session push overrides the page title
func (t *Tab) HasMetadata() bool { return t.hasMetadata }

// Timeline returns a copy of the current timeline, nil if none
func (t *Tab) Timeline() *protocol.TimelineInfo {
	if t.timeline == nil {
		return nil
	}
	timeline := *t.timeline
	return &timeline
}

func (t *Tab) deriveFromPageTitle() bool {
	return t.setTitleArtist(SplitTitle(stripSiteSuffix(t.pageTitle)))
}

func (t *Tab) setTitleArtist(title, artist string) bool {
	changed := t.title != title || t.artist != artist
	t.title = title
	t.artist = artist
	return changed
}
