package mutation

import (
	"fmt"

	"battlelog/internal/domain"
)

// SubObjectiveScore awards victory points for a sub-objective in a round.
// Repeated awards for the same role/round/objective accumulate.
type SubObjectiveScore struct {
	Role      domain.Role `json:"role" validate:"required"`
	Round     int         `json:"round" validate:"gte=1"`
	Objective string      `json:"objective" validate:"required"`
	VP        int         `json:"vp" validate:"gte=1"`
}

// SubObjectiveSnapshot keeps the progress entry as it was (nil if absent)
// and the role's victory point total before the award.
type SubObjectiveSnapshot struct {
	Role          domain.Role                  `json:"role"`
	Round         int                          `json:"round"`
	Objective     string                       `json:"objective"`
	Entry         *domain.SubObjectiveProgress `json:"entry,omitempty"`
	VictoryPoints int                          `json:"victory_points"`
	Awarded       int                          `json:"awarded"`
}

func (SubObjectiveScore) Kind() domain.EventKind    { return domain.KindSubObjective }
func (SubObjectiveSnapshot) Kind() domain.EventKind { return domain.KindSubObjective }

func (m SubObjectiveScore) Describe() string {
	return fmt.Sprintf("%s scored %d VP on %s (round %d)", m.Role, m.VP, m.Objective, m.Round)
}

func (m SubObjectiveScore) apply(env Env, s *domain.GameState) (Snapshot, error) {
	if err := checkRole(m.Kind(), m.Role); err != nil {
		return nil, err
	}
	if !env.Rules.HasSubObjective(m.Objective) {
		return nil, domain.NewInvalidPayload(m.Kind(), "objective", "unknown sub-objective %q", m.Objective)
	}
	if env.Rules.MaxRounds > 0 && m.Round > env.Rules.MaxRounds {
		return nil, domain.NewInvalidPayload(m.Kind(), "round", "round %d exceeds max %d", m.Round, env.Rules.MaxRounds)
	}
	if s.VictoryPoints == nil {
		s.VictoryPoints = map[domain.Role]int{}
	}
	prior := SubObjectiveSnapshot{
		Role:          m.Role,
		Round:         m.Round,
		Objective:     m.Objective,
		VictoryPoints: s.VictoryPoints[m.Role],
		Awarded:       m.VP,
	}
	if i := s.ProgressIndex(m.Role, m.Round, m.Objective); i >= 0 {
		entry := s.SubObjectives[i]
		prior.Entry = &entry
		s.SubObjectives[i].VP += m.VP
	} else {
		s.SubObjectives = append(s.SubObjectives, domain.SubObjectiveProgress{
			Role: m.Role, Round: m.Round, Objective: m.Objective, VP: m.VP,
		})
	}
	s.VictoryPoints[m.Role] += m.VP
	return prior, nil
}

func (p SubObjectiveSnapshot) reverse(s *domain.GameState) error {
	i := s.ProgressIndex(p.Role, p.Round, p.Objective)
	if i < 0 {
		return fmt.Errorf("no progress for %s/%d/%s", p.Role, p.Round, p.Objective)
	}
	if p.Entry != nil {
		s.SubObjectives[i] = *p.Entry
	} else {
		s.SubObjectives = append(s.SubObjectives[:i], s.SubObjectives[i+1:]...)
	}
	if s.VictoryPoints == nil {
		s.VictoryPoints = map[domain.Role]int{}
	}
	s.VictoryPoints[p.Role] -= p.Awarded
	return nil
}

// Stratagem spends command points on a named stratagem.
type Stratagem struct {
	Role domain.Role `json:"role" validate:"required"`
	Name string      `json:"name" validate:"required"`
	Cost int         `json:"cost" validate:"gte=0"`
	// Target is an optional unit the stratagem was used on.
	Target string `json:"target,omitempty"`
}

type StratagemSnapshot struct {
	Role          domain.Role `json:"role"`
	CommandPoints int         `json:"command_points"`
}

func (Stratagem) Kind() domain.EventKind         { return domain.KindStratagem }
func (StratagemSnapshot) Kind() domain.EventKind { return domain.KindStratagem }

func (m Stratagem) Describe() string {
	d := fmt.Sprintf("%s used %s (%d CP)", m.Role, m.Name, m.Cost)
	if m.Target != "" {
		d += " on " + m.Target
	}
	return d
}

func (m Stratagem) apply(_ Env, s *domain.GameState) (Snapshot, error) {
	if err := checkRole(m.Kind(), m.Role); err != nil {
		return nil, err
	}
	if m.Target != "" {
		if _, ok := s.Unit(m.Target); !ok {
			return nil, domain.NewInvalidPayload(m.Kind(), "target", "unknown unit %q", m.Target)
		}
	}
	if s.CommandPoints == nil {
		s.CommandPoints = map[domain.Role]int{}
	}
	have := s.CommandPoints[m.Role]
	if have < m.Cost {
		return nil, domain.NewInvalidPayload(m.Kind(), "cost", "%s has %d CP, needs %d", m.Role, have, m.Cost)
	}
	s.CommandPoints[m.Role] = have - m.Cost
	return StratagemSnapshot{Role: m.Role, CommandPoints: have}, nil
}

func (p StratagemSnapshot) reverse(s *domain.GameState) error {
	if !p.Role.Valid() {
		return fmt.Errorf("snapshot role %q invalid", p.Role)
	}
	if s.CommandPoints == nil {
		s.CommandPoints = map[domain.Role]int{}
	}
	s.CommandPoints[p.Role] = p.CommandPoints
	return nil
}
