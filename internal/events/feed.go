// Package events turns the append-only tables into a stream of
// notifications for outbound delivery.
package events

import (
	"context"
	"fmt"

	"battlelog/internal/domain"
	"battlelog/internal/repo"
)

const (
	TypeEventAppended = "event.appended"
	TypeRevertApplied = "revert.applied"
)

const defaultBatch = 100

// Cursors is a read position in both streams.
type Cursors struct {
	Event  int64 `json:"event"`
	Revert int64 `json:"revert"`
}

// Notification is one appended event or one committed revert.
type Notification struct {
	Type      string               `json:"type"`
	Delivery  string               `json:"delivery"`
	SessionID string               `json:"session_id"`
	TS        string               `json:"ts"`
	Event     *domain.Event        `json:"event,omitempty"`
	Revert    *domain.RevertAction `json:"revert,omitempty"`
	cursor    int64
}

// Advance moves c past n.
func (c Cursors) Advance(n Notification) Cursors {
	switch n.Type {
	case TypeEventAppended:
		if n.cursor > c.Event {
			c.Event = n.cursor
		}
	case TypeRevertApplied:
		if n.cursor > c.Revert {
			c.Revert = n.cursor
		}
	}
	return c
}

type Feed struct {
	Repo  repo.Repo
	Batch int
}

// Latest returns cursors at the current end of both streams.
func (f Feed) Latest(ctx context.Context) (Cursors, error) {
	ev, err := f.Repo.LatestEventID(ctx)
	if err != nil {
		return Cursors{}, fmt.Errorf("latest event: %w", err)
	}
	rv, err := f.Repo.LatestRevertCursor(ctx)
	if err != nil {
		return Cursors{}, fmt.Errorf("latest revert: %w", err)
	}
	return Cursors{Event: ev, Revert: rv}, nil
}

// Poll returns the notifications after from. Appended events come before
// revert actions of the same batch.
func (f Feed) Poll(ctx context.Context, from Cursors) ([]Notification, error) {
	batch := f.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evs, err := f.Repo.EventsAfter(ctx, batch, from.Event)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	acts, err := f.Repo.RevertActionsAfter(ctx, batch, from.Revert)
	if err != nil {
		return nil, fmt.Errorf("fetch reverts: %w", err)
	}
	out := make([]Notification, 0, len(evs)+len(acts))
	for i := range evs {
		ev := evs[i]
		out = append(out, Notification{
			Type:      TypeEventAppended,
			Delivery:  fmt.Sprintf("event-%d", ev.ID),
			SessionID: ev.SessionID,
			TS:        ev.CreatedAt,
			Event:     &ev,
			cursor:    ev.ID,
		})
	}
	for i := range acts {
		a := acts[i]
		out = append(out, Notification{
			Type:      TypeRevertApplied,
			Delivery:  "revert-" + a.ID,
			SessionID: a.SessionID,
			TS:        a.CreatedAt,
			Revert:    &a,
			cursor:    a.Cursor,
		})
	}
	return out, nil
}
