package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/filter"
	"github.com/genricoloni/tabcast/internal/selector"
	"go.uber.org/zap"
)

// Engine owns the selector and applies every browser event, filter change and
// fetch result to it from a single goroutine.
type Engine struct {
	logger   *zap.Logger
	source   domain.EventSource
	filters  *filter.Manager
	selector *selector.Selector

	// tasks carries continuations of record fetches back to the loop
	tasks         chan func()
	filterChanged chan struct{}
	status        atomic.Pointer[selector.Status]

	cancel  context.CancelFunc
	done    chan struct{}
	fetches sync.WaitGroup
}

// NewEngine creates a new engine reporting to sink
func NewEngine(
	logger *zap.Logger,
	source domain.EventSource,
	filters *filter.Manager,
	sink selector.Sink,
) *Engine {
	return &Engine{
		logger:        logger,
		source:        source,
		filters:       filters,
		selector:      selector.New(logger.Named("selector"), filters.Filter(), sink),
		tasks:         make(chan func(), 16),
		filterChanged: make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Start launches the event loop in a goroutine.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	e.filters.SetUpdateListener(e.notifyFilterChange)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	go e.runLoop(loopCtx)
	return nil
}

// Stop ends the loop and waits for outstanding fetches
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")
	e.filters.SetUpdateListener(nil)

	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.fetches.Wait()
	return nil
}

// Status returns the selector state after the last processed event
func (e *Engine) Status() selector.Status {
	if status := e.status.Load(); status != nil {
		return *status
	}
	return selector.Status{}
}

func (e *Engine) notifyFilterChange() {
	// a pending notification already covers this one
	select {
	case e.filterChanged <- struct{}{}:
	default:
	}
}

func (e *Engine) runLoop(ctx context.Context) {
	defer close(e.done)

	events := e.source.Events()

	// nothing is known until the browser attaches
	e.selector.Seed(nil, nil)
	e.selector.Flush()
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("Browser events channel closed")
				return
			}
			e.handle(ctx, ev)

		case <-e.filterChanged:
			e.logger.Debug("Filter changed, re-evaluating")
			e.selector.FiltersUpdated()

		case task := <-e.tasks:
			task()
		}
		e.publish()
	}
}

func (e *Engine) handle(ctx context.Context, event domain.BrowserEvent) {
	switch ev := event.(type) {
	case domain.SnapshotEvent:
		var tabs []domain.TabRecord
		for _, w := range ev.Windows {
			tabs = append(tabs, w.Tabs...)
		}
		e.logger.Info("Browser snapshot received",
			zap.Int("windows", len(ev.Windows)),
			zap.Int("tabs", len(tabs)))
		e.selector.Seed(ev.Windows, tabs)
		e.selector.Flush()

	case domain.TabCreatedEvent:
		e.selector.TabCreated(ev.Tab)

	case domain.TabRemovedEvent:
		e.selector.TabRemoved(ev.TabID)

	case domain.TabUpdatedEvent:
		e.refreshTab(ctx, ev.TabID)

	case domain.TabActivatedEvent:
		e.selector.TabActivated(ev.Info)

	case domain.WindowFocusChangedEvent:
		e.selector.WindowFocused(ev.WindowID)
		e.refreshWindows(ctx)

	case domain.WindowUpdatedEvent:
		e.selector.WindowUpdated(ev.Window)

	case domain.WindowRemovedEvent:
		e.selector.WindowRemoved(ev.WindowID)

	case domain.MetadataEvent:
		e.selector.SetMetadata(ev.TabID, ev.Metadata)

	case domain.PlayPositionEvent:
		e.selector.SetPlayPosition(ev.TabID, ev.Position)

	default:
		e.logger.Warn("Unhandled browser event", zap.Any("event", event))
	}
}

// refreshTab fetches the full record of an updated tab and merges it on the loop
func (e *Engine) refreshTab(ctx context.Context, id domain.TabID) {
	if !e.selector.Tracks(id) {
		e.logger.Debug("Update for untracked tab", zap.Int("tabId", int(id)))
		return
	}

	e.fetch(ctx, func(ctx context.Context) func() {
		rec, err := e.source.GetTab(ctx, id)
		if err != nil {
			e.logger.Warn("Failed to fetch tab", zap.Int("tabId", int(id)), zap.Error(err))
			return nil
		}
		// the tab may be gone by now, ApplyTabRecord checks
		return func() { e.selector.ApplyTabRecord(id, rec) }
	})
}

// refreshWindows re-reads every window's state after a focus change
func (e *Engine) refreshWindows(ctx context.Context) {
	e.fetch(ctx, func(ctx context.Context) func() {
		windows, err := e.source.GetAllWindows(ctx)
		if err != nil {
			e.logger.Warn("Failed to fetch windows", zap.Error(err))
			windows = nil
		}
		return func() { e.selector.ApplyWindows(windows) }
	})
}

// fetch runs load off the loop and posts its continuation back
func (e *Engine) fetch(ctx context.Context, load func(ctx context.Context) func()) {
	e.fetches.Add(1)
	go func() {
		defer e.fetches.Done()

		next := load(ctx)
		if next == nil {
			return
		}
		select {
		case e.tasks <- next:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) publish() {
	status := e.selector.Snapshot()
	e.status.Store(&status)
}
