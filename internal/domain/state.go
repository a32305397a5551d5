package domain

import "sort"

// ModelHealth is the health record of a single model inside a unit.
type ModelHealth struct {
	Role      string `json:"role" yaml:"role"`
	Health    int    `json:"health" yaml:"health"`
	MaxHealth int    `json:"max_health" yaml:"max_health"`
}

// Unit is a unit instance on the table. Destroyed units keep their model
// entries at zero health.
type Unit struct {
	ID          string        `json:"id"`
	Role        Role          `json:"role"`
	Datasheet   string        `json:"datasheet"`
	Name        string        `json:"name,omitempty"`
	ModelCount  int           `json:"model_count"`
	TotalHealth int           `json:"total_health"`
	Models      []ModelHealth `json:"models"`
	Status      []string      `json:"status,omitempty"`
	Destroyed   bool          `json:"destroyed"`
}

// Recount derives the aggregate counters from the per-model list.
func (u *Unit) Recount() {
	total, alive := 0, 0
	for _, m := range u.Models {
		total += m.Health
		if m.Health > 0 {
			alive++
		}
	}
	u.TotalHealth = total
	u.ModelCount = alive
	u.Destroyed = alive == 0
}

func (u Unit) HasStatus(flag string) bool {
	return contains(u.Status, flag)
}

// ObjectiveControl records who holds an objective and when it last changed.
// An empty Controller means nobody holds it.
type ObjectiveControl struct {
	Controller Role   `json:"controller,omitempty"`
	ChangedAt  string `json:"changed_at,omitempty"`
}

// SubObjectiveProgress is the score a role made on one sub-objective in one round.
type SubObjectiveProgress struct {
	Role      Role   `json:"role"`
	Round     int    `json:"round"`
	Objective string `json:"objective"`
	VP        int    `json:"vp"`
}

// GameState is the mutable aggregate of a session.
type GameState struct {
	Phase         string                      `json:"phase"`
	Round         int                         `json:"round"`
	TurnHolder    Role                        `json:"turn_holder"`
	FirstTurn     Role                        `json:"first_turn"`
	CommandPoints map[Role]int                `json:"command_points"`
	VictoryPoints map[Role]int                `json:"victory_points"`
	Objectives    map[string]ObjectiveControl `json:"objectives"`
	Units         []Unit                      `json:"units"`
	SubObjectives []SubObjectiveProgress      `json:"sub_objectives"`
}

// Clone returns a deep copy so callers can mutate it without touching the original.
func (s GameState) Clone() GameState {
	out := s
	out.CommandPoints = make(map[Role]int, len(s.CommandPoints))
	for k, v := range s.CommandPoints {
		out.CommandPoints[k] = v
	}
	out.VictoryPoints = make(map[Role]int, len(s.VictoryPoints))
	for k, v := range s.VictoryPoints {
		out.VictoryPoints[k] = v
	}
	out.Objectives = make(map[string]ObjectiveControl, len(s.Objectives))
	for k, v := range s.Objectives {
		out.Objectives[k] = v
	}
	out.Units = make([]Unit, len(s.Units))
	for i, u := range s.Units {
		cp := u
		cp.Models = append([]ModelHealth(nil), u.Models...)
		cp.Status = append([]string(nil), u.Status...)
		out.Units[i] = cp
	}
	out.SubObjectives = make([]SubObjectiveProgress, len(s.SubObjectives))
	copy(out.SubObjectives, s.SubObjectives)
	return out
}

// Unit returns a pointer into the unit list so handlers can edit in place.
func (s *GameState) Unit(id string) (*Unit, bool) {
	for i := range s.Units {
		if s.Units[i].ID == id {
			return &s.Units[i], true
		}
	}
	return nil, false
}

// ProgressIndex returns the index of the progress entry for the key, or -1.
func (s *GameState) ProgressIndex(role Role, round int, objective string) int {
	for i, p := range s.SubObjectives {
		if p.Role == role && p.Round == round && p.Objective == objective {
			return i
		}
	}
	return -1
}

// StateSummary is the compact view returned to callers and stored on revert actions.
type StateSummary struct {
	Phase          string          `json:"phase"`
	Round          int             `json:"round"`
	TurnHolder     Role            `json:"turn_holder"`
	CommandPoints  map[Role]int    `json:"command_points"`
	VictoryPoints  map[Role]int    `json:"victory_points"`
	Objectives     map[string]Role `json:"objectives"`
	UnitsAlive     int             `json:"units_alive"`
	UnitsDestroyed int             `json:"units_destroyed"`
}

func (s GameState) Summary() StateSummary {
	sum := StateSummary{
		Phase:         s.Phase,
		Round:         s.Round,
		TurnHolder:    s.TurnHolder,
		CommandPoints: map[Role]int{},
		VictoryPoints: map[Role]int{},
		Objectives:    map[string]Role{},
	}
	for k, v := range s.CommandPoints {
		sum.CommandPoints[k] = v
	}
	for k, v := range s.VictoryPoints {
		sum.VictoryPoints[k] = v
	}
	for k, v := range s.Objectives {
		sum.Objectives[k] = v.Controller
	}
	for _, u := range s.Units {
		if u.Destroyed {
			sum.UnitsDestroyed++
		} else {
			sum.UnitsAlive++
		}
	}
	return sum
}

// SortedObjectiveIDs returns objective ids in a stable order for display.
func (s GameState) SortedObjectiveIDs() []string {
	ids := make([]string, 0, len(s.Objectives))
	for id := range s.Objectives {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnitSpec describes a unit on a roster before the session starts.
type UnitSpec struct {
	ID        string        `yaml:"id" json:"id"`
	Role      Role          `yaml:"role" json:"role"`
	Datasheet string        `yaml:"datasheet" json:"datasheet"`
	Name      string        `yaml:"name,omitempty" json:"name,omitempty"`
	Models    []ModelHealth `yaml:"models" json:"models"`
}

// NewUnit builds a unit at full health from its spec.
func NewUnit(spec UnitSpec) Unit {
	u := Unit{
		ID:        spec.ID,
		Role:      spec.Role,
		Datasheet: spec.Datasheet,
		Name:      spec.Name,
		Models:    make([]ModelHealth, len(spec.Models)),
	}
	for i, m := range spec.Models {
		if m.Role == "" {
			m.Role = ModelRegular
		}
		if m.Health == 0 {
			m.Health = m.MaxHealth
		}
		u.Models[i] = m
	}
	u.Recount()
	return u
}
