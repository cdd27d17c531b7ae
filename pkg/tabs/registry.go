package tabs

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxTabs caps how many conversations one window can host.
const DefaultMaxTabs = 10

// Registry owns a window's tabs. The active tab is the live TabState; every
// inactive tab exists only as a parked snapshot. A window always has at least
// one tab.
type Registry struct {
	maxTabs int
	live    *TabState
	order   []string
	parked  map[string]*Snapshot
	counter int
}

func NewRegistry(maxTabs int, live *TabState) *Registry {
	if maxTabs <= 0 {
		maxTabs = DefaultMaxTabs
	}
	return &Registry{
		maxTabs: maxTabs,
		live:    live,
		order:   []string{live.TabID},
		parked:  make(map[string]*Snapshot),
		counter: 1,
	}
}

// Active returns the live tab state.
func (r *Registry) Active() *TabState {
	return r.live
}

func (r *Registry) ActiveID() string {
	return r.live.TabID
}

func (r *Registry) Count() int {
	return len(r.order)
}

// TabIDs returns the tab ids in display order.
func (r *Registry) TabIDs() []string {
	return append([]string(nil), r.order...)
}

// NewTab parks the active tab and switches to a fresh empty one. Exceeding
// the cap is a no-op, as is creating a tab while the active one has an
// execution in flight: the coordinator commits into the live state, so the
// live state must stay bound to the originating conversation until the
// result lands.
func (r *Registry) NewTab() bool {
	if r.live.WaitingForResult {
		log.Debug().Str("tab_id", r.live.TabID).Msg("execution in flight, not creating tab")
		return false
	}
	if len(r.order) >= r.maxTabs {
		log.Debug().Int("max_tabs", r.maxTabs).Msg("tab cap reached, not creating tab")
		return false
	}

	r.parked[r.live.TabID] = r.live.Capture()

	r.counter++
	tabID := uuid.NewString()
	r.live.Reset(tabID, fmt.Sprintf("Tab %d", r.counter))
	r.order = append(r.order, tabID)
	return true
}

// Select switches to another tab: the active tab is captured and parked, the
// target's snapshot is restored into the live state and dropped from the
// parked set (the active tab has no redundant snapshot). Switching away from
// a tab that is waiting for a result is refused.
func (r *Registry) Select(tabID string) bool {
	if tabID == r.live.TabID {
		return true
	}
	if r.live.WaitingForResult {
		log.Debug().Str("tab_id", r.live.TabID).Msg("execution in flight, not switching tabs")
		return false
	}
	snap, exists := r.parked[tabID]
	if !exists {
		return false
	}

	r.parked[r.live.TabID] = r.live.Capture()
	delete(r.parked, tabID)
	r.live.Restore(snap)
	return true
}

// Close removes a tab. Closing the last remaining tab resets it to a fresh
// empty conversation instead of removing it. The active tab cannot be closed
// while it is waiting for a result.
func (r *Registry) Close(tabID string) bool {
	idx := -1
	for i, id := range r.order {
		if id == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	if tabID == r.live.TabID && r.live.WaitingForResult {
		log.Debug().Str("tab_id", tabID).Msg("execution in flight, not closing tab")
		return false
	}

	if len(r.order) == 1 {
		r.live.Reset(r.live.TabID, r.live.TabName)
		return true
	}

	if tabID == r.live.TabID {
		neighbor := idx - 1
		if neighbor < 0 {
			neighbor = idx + 1
		}
		r.Select(r.order[neighbor])
	}

	delete(r.parked, tabID)
	r.order = append(r.order[:idx], r.order[idx+1:]...)
	return true
}
