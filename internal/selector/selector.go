// Package selector reduces the set of open tabs to the one tab whose media is reported.
package selector

import (
	"maps"
	"slices"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/tabstate"
	"go.uber.org/zap"
)

// URLFilter decides which URLs may host the reported session
type URLFilter interface {
	CheckURL(url string) bool
	IncludeFocusedTabs() bool
}

// Sink receives the selected tab, or nil when no tab qualifies.
// The tab must not be retained or modified after Report returns.
type Sink interface {
	Report(tab *tabstate.Tab)
}

// Status is a point-in-time view of the selector
type Status struct {
	Reported       *ReportedTab      `json:"reported"`
	TrackedTabs    int               `json:"trackedTabs"`
	ActiveWindow   *domain.WindowID  `json:"activeWindow"`
	BlockedWindows []domain.WindowID `json:"blockedWindows"`
}

// ReportedTab summarises the tab last sent to the sink
type ReportedTab struct {
	TabID    domain.TabID    `json:"tabId"`
	WindowID domain.WindowID `json:"windowId"`
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Artist   string          `json:"artist"`
}

// Selector owns every tracked tab and the window focus state.
// It is not safe for concurrent use: all methods must be called from one goroutine.
type Selector struct {
	logger *zap.Logger
	filter URLFilter
	sink   Sink

	tabs         tabList
	blocked      map[domain.WindowID]struct{}
	activeWindow *domain.WindowID

	// reported is false while the last report was nil (or nothing was reported yet)
	reported     bool
	lastReported domain.TabID

	pending     bool
	initialized bool
}

// New creates an empty selector. Nothing is reported until Seed and Flush.
func New(logger *zap.Logger, filter URLFilter, sink Sink) *Selector {
	return &Selector{
		logger:  logger,
		filter:  filter,
		sink:    sink,
		tabs:    newTabList(),
		blocked: make(map[domain.WindowID]struct{}),
	}
}

// Seed replaces all state with an initial enumeration and schedules an
// evaluation for the next Flush. Tabs and windows without an id are skipped.
func (s *Selector) Seed(windows []domain.WindowRecord, tabs []domain.TabRecord) {
	s.tabs = newTabList()
	s.blocked = make(map[domain.WindowID]struct{})
	s.activeWindow = nil

	for _, w := range windows {
		if w.ID == nil {
			s.logger.Warn("Skipping window without id")
			continue
		}
		if w.Focused {
			id := *w.ID
			s.activeWindow = &id
		}
		s.updateWindow(w)
	}

	for _, rec := range tabs {
		s.addTab(rec)
	}

	s.pending = true
	s.logger.Debug("Selector seeded",
		zap.Int("windows", len(windows)),
		zap.Int("tabs", s.tabs.len()))
}

// Flush runs the evaluation scheduled by Seed. The first one ever reports
// even when no tab qualifies, so the sink always starts from a known state.
func (s *Selector) Flush() {
	if !s.pending {
		return
	}
	s.pending = false
	s.evaluate(false, !s.initialized)
	s.initialized = true
}

// Tracks reports whether id is a tracked tab
func (s *Selector) Tracks(id domain.TabID) bool {
	_, ok := s.tabs.get(id)
	return ok
}

// TabCreated starts tracking a new tab
func (s *Selector) TabCreated(rec domain.TabRecord) {
	s.addTab(rec)
	s.evaluate(false, false)
}

// TabRemoved stops tracking a closed tab
func (s *Selector) TabRemoved(id domain.TabID) {
	s.tabs.remove(id)
	s.evaluate(false, false)
}

// TabActivated moves the selection of a window to another tab.
// The window becomes the active window.
func (s *Selector) TabActivated(info domain.ActivateInfo) {
	window := info.WindowID
	s.activeWindow = &window

	if info.PreviousTabID != nil {
		if prev, ok := s.tabs.get(*info.PreviousTabID); ok {
			prev.SetActive(false)
		}
	}
	if tab, ok := s.tabs.get(info.TabID); ok {
		tab.SetActive(true)
	}

	s.evaluate(false, false)
}

// ApplyTabRecord merges the freshly fetched record of an updated tab.
// Records for tabs that were removed in the meantime are ignored.
func (s *Selector) ApplyTabRecord(id domain.TabID, rec domain.TabRecord) {
	tab, ok := s.tabs.get(id)
	if !ok {
		s.logger.Debug("Dropping record of untracked tab", zap.Int("tabId", int(id)))
		return
	}

	switch tab.UpdateTabMeta(rec) {
	case tabstate.ChangeNone:
	case tabstate.ChangeURL:
		// the displayed content is unchanged but the filter verdict may not be
		s.evaluate(false, false)
	case tabstate.ChangeMeta:
		s.evaluate(s.isReported(id), false)
	}
}

// WindowFocused records the newly focused window; domain.WindowIDNone means none.
// The caller follows up with ApplyWindows once the window states are known.
func (s *Selector) WindowFocused(id domain.WindowID) {
	if id == domain.WindowIDNone {
		s.activeWindow = nil
		return
	}
	s.activeWindow = &id
}

// ApplyWindows refreshes the fullscreen state of windows and re-evaluates
func (s *Selector) ApplyWindows(windows []domain.WindowRecord) {
	for _, w := range windows {
		s.updateWindow(w)
	}
	s.evaluate(false, false)
}

// WindowUpdated applies a window state change such as entering fullscreen
func (s *Selector) WindowUpdated(w domain.WindowRecord) {
	s.updateWindow(w)
	s.evaluate(false, false)
}

// WindowRemoved forgets a closed window. Its tabs are removed by their own events.
func (s *Selector) WindowRemoved(id domain.WindowID) {
	if s.activeWindow != nil && *s.activeWindow == id {
		s.activeWindow = nil
	}
	delete(s.blocked, id)
	s.evaluate(false, false)
}

// FiltersUpdated re-evaluates after the URL filter changed
func (s *Selector) FiltersUpdated() {
	s.evaluate(false, false)
}

// SetMetadata applies a media-session metadata push.
// Only the reported tab is resent, and only if its projection changed.
func (s *Selector) SetMetadata(id domain.TabID, meta *domain.MediaMetadata) {
	tab, ok := s.tabs.get(id)
	if !ok {
		s.logger.Warn("Metadata for untracked tab", zap.Int("tabId", int(id)))
		return
	}
	if !tab.UpdateMetadata(meta) {
		return
	}
	if s.isReported(id) {
		s.report(tab)
	}
}

// SetPlayPosition applies a media-session position push; the reported tab is always resent
func (s *Selector) SetPlayPosition(id domain.TabID, pos *domain.PlayPosition) {
	tab, ok := s.tabs.get(id)
	if !ok {
		s.logger.Warn("Position for untracked tab", zap.Int("tabId", int(id)))
		return
	}
	tab.UpdateTimeline(pos)
	if s.isReported(id) {
		s.report(tab)
	}
}

// Snapshot returns the current status
func (s *Selector) Snapshot() Status {
	status := Status{
		TrackedTabs:    s.tabs.len(),
		BlockedWindows: slices.Sorted(maps.Keys(s.blocked)),
	}
	if s.activeWindow != nil {
		window := *s.activeWindow
		status.ActiveWindow = &window
	}
	if s.reported {
		if tab, ok := s.tabs.get(s.lastReported); ok {
			status.Reported = &ReportedTab{
				TabID:    tab.ID(),
				WindowID: tab.WindowID(),
				URL:      tab.URL(),
				Title:    tab.Title(),
				Artist:   tab.Artist(),
			}
		}
	}
	return status
}

func (s *Selector) addTab(rec domain.TabRecord) {
	tab, err := tabstate.New(rec)
	if err != nil {
		s.logger.Warn("Skipping tab", zap.Error(err))
		return
	}
	s.tabs.put(tab)
}

func (s *Selector) updateWindow(w domain.WindowRecord) {
	if w.ID == nil {
		s.logger.Warn("Ignoring window without id")
		return
	}
	if w.State == domain.WindowFullscreen {
		s.blocked[*w.ID] = struct{}{}
	} else {
		delete(s.blocked, *w.ID)
	}
}

func (s *Selector) isReported(id domain.TabID) bool {
	return s.reported && s.lastReported == id
}

// isValidTab decides whether tab may be reported
func (s *Selector) isValidTab(tab *tabstate.Tab) bool {
	// the user is looking at it already
	if !s.filter.IncludeFocusedTabs() && tab.Active() &&
		s.activeWindow != nil && *s.activeWindow == tab.WindowID() {
		return false
	}
	if !tab.Audible() || tab.Muted() {
		return false
	}
	if _, blocked := s.blocked[tab.WindowID()]; blocked {
		return false
	}
	return s.filter.CheckURL(tab.URL())
}

// evaluate selects the first valid tab and reports it if it differs from the
// last report. forceIfActive resends an unchanged selection, forceIfNotActive
// reports nil even if nil was the last report.
func (s *Selector) evaluate(forceIfActive, forceIfNotActive bool) {
	found := s.tabs.first(s.isValidTab)

	switch {
	case found != nil:
		if s.isReported(found.ID()) && !forceIfActive {
			return
		}
		s.reported = true
		s.lastReported = found.ID()
	case s.reported:
		s.reported = false
	case !forceIfNotActive:
		return
	}

	s.report(found)
}

func (s *Selector) report(tab *tabstate.Tab) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Sink panicked", zap.Any("panic", r))
		}
	}()

	if tab == nil {
		s.logger.Debug("Reporting no active tab")
	} else {
		s.logger.Debug("Reporting tab",
			zap.Int("tabId", int(tab.ID())),
			zap.String("title", tab.Title()),
			zap.String("artist", tab.Artist()))
	}
	s.sink.Report(tab)
}
