package server

import (
	"encoding/json"

	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/timeline"
)

// Request payloads

type StartSessionRequest struct {
	ID        *string           `json:"id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Rules     *domain.Rules     `json:"rules,omitempty"`
	Units     []domain.UnitSpec `json:"units,omitempty"`
	FirstTurn string            `json:"first_turn,omitempty" enum:"player,opponent"`
}

type ApplyMutationRequest struct {
	Kind        string         `json:"kind" enum:"phase_change,resource_delta,objective_control,unit_damage,unit_status,sub_objective_score,stratagem,custom_note"`
	Payload     map[string]any `json:"payload"`
	Description string         `json:"description,omitempty"`
}

// Responses

type SessionResponse struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Status    string              `json:"status" enum:"active,ended"`
	Rules     domain.Rules        `json:"rules"`
	State     domain.GameState    `json:"state"`
	Summary   domain.StateSummary `json:"summary"`
	CreatedAt string              `json:"created_at"`
	UpdatedAt string              `json:"updated_at"`
	EndedAt   *string             `json:"ended_at,omitempty"`
}

type EventResponse struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"session_id"`
	Seq            int64          `json:"seq"`
	Kind           string         `json:"kind"`
	Description    string         `json:"description"`
	Payload        map[string]any `json:"payload"`
	Prior          map[string]any `json:"prior,omitempty"`
	ActorID        string         `json:"actor_id"`
	CreatedAt      string         `json:"created_at"`
	Reverted       bool           `json:"reverted"`
	RevertedAt     *string        `json:"reverted_at,omitempty"`
	RevertedBy     *string        `json:"reverted_by,omitempty"`
	RevertActionID *string        `json:"revert_action_id,omitempty"`
	CascadeCount   int            `json:"cascade_count"`
}

type MutationResponse struct {
	Event   EventResponse       `json:"event"`
	Summary domain.StateSummary `json:"summary"`
	State   domain.GameState    `json:"state"`
}

type RevertActionResponse struct {
	ID            string              `json:"id"`
	SessionID     string              `json:"session_id"`
	Seq           int64               `json:"seq"`
	TargetEventID int64               `json:"target_event_id"`
	Cascade       bool                `json:"cascade"`
	EventIDs      []int64             `json:"event_ids"`
	ActorID       string              `json:"actor_id"`
	CreatedAt     string              `json:"created_at"`
	Summary       domain.StateSummary `json:"summary"`
}

type RevertResponse struct {
	Action   RevertActionResponse `json:"action"`
	Reverted []EventResponse      `json:"reverted"`
	Summary  domain.StateSummary  `json:"summary"`
	State    domain.GameState     `json:"state"`
}

type RevertItemResponse struct {
	Action RevertActionResponse `json:"action"`
	Events []EventResponse      `json:"events"`
}

type TimelineEntryResponse struct {
	Type          string               `json:"type" enum:"event,revert_group"`
	Seq           int64                `json:"seq"`
	Event         *EventResponse       `json:"event,omitempty"`
	Reverts       []RevertItemResponse `json:"reverts,omitempty"`
	RevertedCount int                  `json:"reverted_count,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	LatestVersion int    `json:"latest_version"`
}

func sessionResponse(s domain.Session) SessionResponse {
	return SessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		Status:    s.Status,
		Rules:     s.Rules,
		State:     s.State,
		Summary:   s.State.Summary(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		EndedAt:   s.EndedAt,
	}
}

func mapSessions(items []domain.Session) []SessionResponse {
	res := make([]SessionResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sessionResponse(s))
	}
	return res
}

func eventResponse(e domain.Event, cascade int) EventResponse {
	return EventResponse{
		ID:             e.ID,
		SessionID:      e.SessionID,
		Seq:            e.Seq,
		Kind:           string(e.Kind),
		Description:    e.Description,
		Payload:        decodeJSONMap(e.Payload),
		Prior:          decodeJSONMap(e.Prior),
		ActorID:        e.ActorID,
		CreatedAt:      e.CreatedAt,
		Reverted:       e.Reverted,
		RevertedAt:     e.RevertedAt,
		RevertedBy:     e.RevertedBy,
		RevertActionID: e.RevertActionID,
		CascadeCount:   cascade,
	}
}

func mapEventViews(items []engine.EventView) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, v := range items {
		res = append(res, eventResponse(v.Event, v.CascadeCount))
	}
	return res
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e, 0))
	}
	return res
}

func revertActionResponse(a domain.RevertAction) RevertActionResponse {
	ids := a.EventIDs
	if ids == nil {
		ids = []int64{}
	}
	return RevertActionResponse{
		ID:            a.ID,
		SessionID:     a.SessionID,
		Seq:           a.Seq,
		TargetEventID: a.TargetEventID,
		Cascade:       a.Cascade,
		EventIDs:      ids,
		ActorID:       a.ActorID,
		CreatedAt:     a.CreatedAt,
		Summary:       a.Summary,
	}
}

func mapRevertActions(items []domain.RevertAction) []RevertActionResponse {
	res := make([]RevertActionResponse, 0, len(items))
	for _, a := range items {
		res = append(res, revertActionResponse(a))
	}
	return res
}

func mutationResponse(r engine.MutationResult) MutationResponse {
	return MutationResponse{Event: eventResponse(r.Event, 0), Summary: r.Summary, State: r.State}
}

func revertResponse(r engine.RevertResult) RevertResponse {
	return RevertResponse{
		Action:   revertActionResponse(r.Action),
		Reverted: mapEvents(r.Reverted),
		Summary:  r.Summary,
		State:    r.State,
	}
}

func mapTimeline(entries []timeline.Entry) []TimelineEntryResponse {
	res := make([]TimelineEntryResponse, 0, len(entries))
	for _, en := range entries {
		out := TimelineEntryResponse{Type: en.Type, Seq: en.Seq}
		if en.Event != nil {
			ev := eventResponse(*en.Event, 0)
			out.Event = &ev
		}
		for _, r := range en.Reverts {
			out.Reverts = append(out.Reverts, RevertItemResponse{
				Action: revertActionResponse(r.Action),
				Events: mapEvents(r.Events),
			})
		}
		out.RevertedCount = en.RevertedCount()
		res = append(res, out)
	}
	return res
}

func decodeJSONMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
