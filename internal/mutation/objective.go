package mutation

import (
	"fmt"

	"battlelog/internal/domain"
)

// ObjectiveControl hands an objective to a role, or to nobody when Controller is empty.
type ObjectiveControl struct {
	Objective  string      `json:"objective" validate:"required"`
	Controller domain.Role `json:"controller,omitempty" validate:"omitempty,oneof=player opponent"`
}

type ObjectiveSnapshot struct {
	Objective string                  `json:"objective"`
	Prior     domain.ObjectiveControl `json:"prior"`
}

func (ObjectiveControl) Kind() domain.EventKind  { return domain.KindObjectiveControl }
func (ObjectiveSnapshot) Kind() domain.EventKind { return domain.KindObjectiveControl }

func (m ObjectiveControl) Describe() string {
	if m.Controller == "" {
		return fmt.Sprintf("Objective %s uncontrolled", m.Objective)
	}
	return fmt.Sprintf("Objective %s controlled by %s", m.Objective, m.Controller)
}

func (m ObjectiveControl) apply(env Env, s *domain.GameState) (Snapshot, error) {
	prior, ok := s.Objectives[m.Objective]
	if !ok && !env.Rules.HasObjective(m.Objective) {
		return nil, domain.NewInvalidPayload(m.Kind(), "objective", "unknown objective %q", m.Objective)
	}
	if s.Objectives == nil {
		s.Objectives = map[string]domain.ObjectiveControl{}
	}
	s.Objectives[m.Objective] = domain.ObjectiveControl{Controller: m.Controller, ChangedAt: env.timestamp()}
	return ObjectiveSnapshot{Objective: m.Objective, Prior: prior}, nil
}

func (p ObjectiveSnapshot) reverse(s *domain.GameState) error {
	if _, ok := s.Objectives[p.Objective]; !ok {
		return fmt.Errorf("objective %q not in state", p.Objective)
	}
	s.Objectives[p.Objective] = p.Prior
	return nil
}
