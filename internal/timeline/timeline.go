// Package timeline merges a session's active events and revert actions into
// one seq-ordered list for display. Consecutive revert actions collapse into
// a single group; each action carries the events it reverted.
package timeline

import (
	"sort"

	"battlelog/internal/domain"
)

const (
	EntryEvent       = "event"
	EntryRevertGroup = "revert_group"
)

// RevertItem is one revert action with the events it undid, newest first.
type RevertItem struct {
	Action domain.RevertAction `json:"action"`
	Events []domain.Event      `json:"events"`
}

// Entry is either an active event or a run of revert actions.
type Entry struct {
	Type    string        `json:"type" enum:"event,revert_group"`
	Seq     int64         `json:"seq"`
	Event   *domain.Event `json:"event,omitempty"`
	Reverts []RevertItem  `json:"reverts,omitempty"`
}

// RevertedCount totals the events undone by a group.
func (e Entry) RevertedCount() int {
	n := 0
	for _, r := range e.Reverts {
		n += len(r.Events)
	}
	return n
}

type item struct {
	seq    int64
	event  *domain.Event
	action *domain.RevertAction
}

// Build groups events (reverted ones included) and revert actions.
func Build(events []domain.Event, actions []domain.RevertAction) []Entry {
	byID := make(map[int64]domain.Event, len(events))
	items := make([]item, 0, len(events)+len(actions))
	for i := range events {
		ev := events[i]
		byID[ev.ID] = ev
		if !ev.Reverted {
			items = append(items, item{seq: ev.Seq, event: &ev})
		}
	}
	for i := range actions {
		items = append(items, item{seq: actions[i].Seq, action: &actions[i]})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	var out []Entry
	for _, it := range items {
		if it.event != nil {
			out = append(out, Entry{Type: EntryEvent, Seq: it.seq, Event: it.event})
			continue
		}
		ri := RevertItem{Action: *it.action}
		for _, id := range it.action.EventIDs {
			if ev, ok := byID[id]; ok {
				ri.Events = append(ri.Events, ev)
			}
		}
		if n := len(out); n > 0 && out[n-1].Type == EntryRevertGroup {
			out[n-1].Reverts = append(out[n-1].Reverts, ri)
			continue
		}
		out = append(out, Entry{Type: EntryRevertGroup, Seq: it.seq, Reverts: []RevertItem{ri}})
	}
	return out
}
