package mutation

import (
	"fmt"

	"battlelog/internal/domain"
)

// ResourceDelta adds a signed amount to one role's command point pool.
// The pool floors at zero.
type ResourceDelta struct {
	Role   domain.Role `json:"role" validate:"required"`
	Delta  int         `json:"delta" validate:"ne=0"`
	Reason string      `json:"reason,omitempty"`
}

// ResourceSnapshot holds the absolute pre-delta value, so reversal stays exact
// even when the forward step was clamped.
type ResourceSnapshot struct {
	Role  domain.Role `json:"role"`
	Value int         `json:"value"`
}

func (ResourceDelta) Kind() domain.EventKind    { return domain.KindResourceDelta }
func (ResourceSnapshot) Kind() domain.EventKind { return domain.KindResourceDelta }

func (m ResourceDelta) Describe() string {
	d := fmt.Sprintf("%s %+d CP", m.Role, m.Delta)
	if m.Reason != "" {
		d += " (" + m.Reason + ")"
	}
	return d
}

func (m ResourceDelta) apply(_ Env, s *domain.GameState) (Snapshot, error) {
	if err := checkRole(m.Kind(), m.Role); err != nil {
		return nil, err
	}
	if s.CommandPoints == nil {
		s.CommandPoints = map[domain.Role]int{}
	}
	prior := s.CommandPoints[m.Role]
	next := prior + m.Delta
	if next < 0 {
		next = 0
	}
	s.CommandPoints[m.Role] = next
	return ResourceSnapshot{Role: m.Role, Value: prior}, nil
}

func (p ResourceSnapshot) reverse(s *domain.GameState) error {
	if !p.Role.Valid() {
		return fmt.Errorf("snapshot role %q invalid", p.Role)
	}
	if s.CommandPoints == nil {
		s.CommandPoints = map[domain.Role]int{}
	}
	s.CommandPoints[p.Role] = p.Value
	return nil
}
