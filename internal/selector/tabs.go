package selector

import (
	"slices"

	"github.com/genricoloni/tabcast/internal/domain"
	"github.com/genricoloni/tabcast/internal/tabstate"
)

// tabList keeps tabs in insertion order; earlier tabs win selection ties
type tabList struct {
	ids  []domain.TabID
	byID map[domain.TabID]*tabstate.Tab
}

func newTabList() tabList {
	return tabList{byID: make(map[domain.TabID]*tabstate.Tab)}
}

func (l *tabList) get(id domain.TabID) (*tabstate.Tab, bool) {
	tab, ok := l.byID[id]
	return tab, ok
}

// put appends tab. A tab with the same id is dropped first so that a reused
// id starts over at the end.
func (l *tabList) put(tab *tabstate.Tab) {
	l.remove(tab.ID())
	l.ids = append(l.ids, tab.ID())
	l.byID[tab.ID()] = tab
}

func (l *tabList) remove(id domain.TabID) bool {
	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	if i := slices.Index(l.ids, id); i >= 0 {
		l.ids = slices.Delete(l.ids, i, i+1)
	}
	return true
}

func (l *tabList) len() int {
	return len(l.ids)
}

// first returns the earliest tab matching pred
func (l *tabList) first(pred func(*tabstate.Tab) bool) *tabstate.Tab {
	for _, id := range l.ids {
		if tab := l.byID[id]; pred(tab) {
			return tab
		}
	}
	return nil
}
