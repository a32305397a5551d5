package domain

import "encoding/json"

// Role is one of the two fixed sides of a session.
type Role string

const (
	RolePlayer   Role = "player"
	RoleOpponent Role = "opponent"
)

// Roles lists both sides in turn order.
var Roles = []Role{RolePlayer, RoleOpponent}

func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleOpponent
}

// Other returns the opposite side.
func (r Role) Other() Role {
	if r == RolePlayer {
		return RoleOpponent
	}
	return RolePlayer
}

const (
	SessionActive = "active"
	SessionEnded  = "ended"
)

const (
	ModelLeader  = "leader"
	ModelRegular = "regular"
)

// Rules are the game rules a session is started with. A copy is stored with
// every session so edits to the workspace file never affect running games.
type Rules struct {
	Phases                []string `yaml:"phases" json:"phases"`
	MaxRounds             int      `yaml:"max_rounds" json:"max_rounds"`
	StartingCommandPoints int      `yaml:"starting_command_points" json:"starting_command_points"`
	Objectives            []string `yaml:"objectives" json:"objectives"`
	SubObjectives         []string `yaml:"sub_objectives" json:"sub_objectives,omitempty"`
	StatusFlags           []string `yaml:"status_flags" json:"status_flags,omitempty"`
}

func (r Rules) HasPhase(p string) bool { return contains(r.Phases, p) }

func (r Rules) HasObjective(id string) bool { return contains(r.Objectives, id) }

// HasSubObjective reports whether id is scorable. An empty catalog accepts anything.
func (r Rules) HasSubObjective(id string) bool {
	return len(r.SubObjectives) == 0 || contains(r.SubObjectives, id)
}

// HasStatusFlag reports whether flag is known. An empty catalog accepts anything.
func (r Rules) HasStatusFlag(flag string) bool {
	return len(r.StatusFlags) == 0 || contains(r.StatusFlags, flag)
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

// Session is the aggregate root. State is only changed through the mutation
// handlers; Initial is kept so the aggregate can be rebuilt by replay.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status" enum:"active,ended"`
	Rules     Rules     `json:"rules"`
	State     GameState `json:"state"`
	Initial   GameState `json:"-"`
	CreatedAt string    `json:"created_at" format:"date-time"`
	UpdatedAt string    `json:"updated_at" format:"date-time"`
	EndedAt   *string   `json:"ended_at,omitempty" format:"date-time"`
}

// EventKind is the closed set of mutation kinds.
type EventKind string

const (
	KindPhaseChange      EventKind = "phase_change"
	KindResourceDelta    EventKind = "resource_delta"
	KindObjectiveControl EventKind = "objective_control"
	KindUnitDamage       EventKind = "unit_damage"
	KindUnitStatus       EventKind = "unit_status"
	KindSubObjective     EventKind = "sub_objective_score"
	KindStratagem        EventKind = "stratagem"
	KindCustomNote       EventKind = "custom_note"
)

// EventKinds lists every kind; keep in sync with the mutation decoders.
var EventKinds = []EventKind{
	KindPhaseChange,
	KindResourceDelta,
	KindObjectiveControl,
	KindUnitDamage,
	KindUnitStatus,
	KindSubObjective,
	KindStratagem,
	KindCustomNote,
}

func (k EventKind) Valid() bool {
	for _, known := range EventKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Event is an immutable mutation record. Only the revert fields ever change,
// and only once.
type Event struct {
	ID             int64           `json:"id"`
	SessionID      string          `json:"session_id"`
	Seq            int64           `json:"seq"`
	Kind           EventKind       `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	Prior          json.RawMessage `json:"prior"`
	Description    string          `json:"description"`
	ActorID        string          `json:"actor_id"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	Reverted       bool            `json:"reverted"`
	RevertedAt     *string         `json:"reverted_at,omitempty" format:"date-time"`
	RevertedBy     *string         `json:"reverted_by,omitempty"`
	RevertActionID *string         `json:"revert_action_id,omitempty"`
}

// RevertAction is the audit record of one revert operation. EventIDs are in
// the order the reversals were applied (newest first).
type RevertAction struct {
	// Cursor is the storage row id, used to page through actions in insert order.
	Cursor        int64        `json:"-"`
	ID            string       `json:"id"`
	SessionID     string       `json:"session_id"`
	Seq           int64        `json:"seq"`
	TargetEventID int64        `json:"target_event_id"`
	Cascade       bool         `json:"cascade"`
	EventIDs      []int64      `json:"event_ids"`
	ActorID       string       `json:"actor_id"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	Summary       StateSummary `json:"summary"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
