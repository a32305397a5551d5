package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"battlelog/internal/domain"
	"battlelog/internal/mutation"
	"battlelog/internal/repo"
	"battlelog/internal/timeline"
)

// Replay rebuilds the state by applying every active event, in seq order,
// to the initial state.
func (e Engine) Replay(ctx context.Context, sessionID string) (domain.GameState, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameState{}, err
	}
	events, err := e.Repo.ListEvents(ctx, sessionID, repo.EventFilter{})
	if err != nil {
		return domain.GameState{}, err
	}
	return replay(s, events)
}

func replay(s domain.Session, events []domain.Event) (domain.GameState, error) {
	state := s.Initial.Clone()
	for _, ev := range events {
		m, err := mutation.Decode(ev.Kind, ev.Payload)
		if err != nil {
			return state, fmt.Errorf("replay event %d: %w", ev.ID, err)
		}
		at, err := time.Parse(time.RFC3339, ev.CreatedAt)
		if err != nil {
			return state, fmt.Errorf("replay event %d timestamp: %w", ev.ID, err)
		}
		if _, err := mutation.Apply(mutation.Env{Rules: s.Rules, Now: at}, &state, m); err != nil {
			return state, fmt.Errorf("replay event %d: %w", ev.ID, err)
		}
	}
	return state, nil
}

// VerifyReport compares the stored state with a replay of the active events.
type VerifyReport struct {
	SessionID    string   `json:"session_id"`
	Consistent   bool     `json:"consistent"`
	ActiveEvents int      `json:"active_events"`
	Mismatches   []string `json:"mismatches,omitempty"`
}

// Verify replays the session and lists the top-level state fields that differ.
func (e Engine) Verify(ctx context.Context, sessionID string) (VerifyReport, error) {
	s, err := e.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return VerifyReport{}, err
	}
	events, err := e.Repo.ListEvents(ctx, sessionID, repo.EventFilter{})
	if err != nil {
		return VerifyReport{}, err
	}
	report := VerifyReport{SessionID: s.ID, ActiveEvents: len(events)}
	replayed, err := replay(s, events)
	if err != nil {
		report.Mismatches = []string{err.Error()}
		return report, nil
	}
	report.Mismatches, err = diffState(s.State, replayed)
	if err != nil {
		return VerifyReport{}, err
	}
	report.Consistent = len(report.Mismatches) == 0
	if !report.Consistent {
		e.logger().Warn("state does not match replay", "session_id", s.ID, "fields", report.Mismatches)
	}
	return report, nil
}

func diffState(stored, replayed domain.GameState) ([]string, error) {
	a, err := fields(stored)
	if err != nil {
		return nil, err
	}
	b, err := fields(replayed)
	if err != nil {
		return nil, err
	}
	var out []string
	for k, av := range a {
		if !jsonEqual(av, b[k]) {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func fields(s domain.GameState) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	return m, json.Unmarshal(raw, &m)
}

// jsonEqual treats null and empty collections as equal.
func jsonEqual(a, b json.RawMessage) bool {
	norm := func(v json.RawMessage) string {
		t := string(bytes.TrimSpace(v))
		switch t {
		case "", "null", "[]", "{}":
			return ""
		}
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			return t
		}
		out, _ := json.Marshal(x)
		return string(out)
	}
	return norm(a) == norm(b)
}

// Timeline loads every event and revert action of a session and groups them.
func (e Engine) Timeline(ctx context.Context, sessionID string) ([]timeline.Entry, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := e.Repo.ListEvents(ctx, sessionID, repo.EventFilter{IncludeReverted: true})
	if err != nil {
		return nil, err
	}
	actions, err := e.Repo.ListRevertActions(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	return timeline.Build(events, actions), nil
}
