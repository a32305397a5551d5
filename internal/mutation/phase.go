package mutation

import (
	"fmt"

	"battlelog/internal/domain"
)

// PhaseChange moves the game to an explicit phase/round/turn-holder triple.
type PhaseChange struct {
	Phase      string      `json:"phase" validate:"required"`
	Round      int         `json:"round" validate:"gte=1"`
	TurnHolder domain.Role `json:"turn_holder" validate:"required,oneof=player opponent"`
}

// PhaseSnapshot is the exact previous triple. Reversal restores it verbatim
// because a phase change can roll over into a new round or turn-holder.
type PhaseSnapshot struct {
	Phase      string      `json:"phase"`
	Round      int         `json:"round"`
	TurnHolder domain.Role `json:"turn_holder"`
}

func (PhaseChange) Kind() domain.EventKind   { return domain.KindPhaseChange }
func (PhaseSnapshot) Kind() domain.EventKind { return domain.KindPhaseChange }

func (m PhaseChange) Describe() string {
	return fmt.Sprintf("Round %d, %s turn: %s phase", m.Round, m.TurnHolder, m.Phase)
}

func (m PhaseChange) apply(env Env, s *domain.GameState) (Snapshot, error) {
	if !env.Rules.HasPhase(m.Phase) {
		return nil, domain.NewInvalidPayload(m.Kind(), "phase", "unknown phase %q", m.Phase)
	}
	if env.Rules.MaxRounds > 0 && m.Round > env.Rules.MaxRounds {
		return nil, domain.NewInvalidPayload(m.Kind(), "round", "round %d exceeds max %d", m.Round, env.Rules.MaxRounds)
	}
	prior := PhaseSnapshot{Phase: s.Phase, Round: s.Round, TurnHolder: s.TurnHolder}
	s.Phase = m.Phase
	s.Round = m.Round
	s.TurnHolder = m.TurnHolder
	return prior, nil
}

func (p PhaseSnapshot) reverse(s *domain.GameState) error {
	s.Phase = p.Phase
	s.Round = p.Round
	s.TurnHolder = p.TurnHolder
	return nil
}

// NextPhase computes the phase that follows the current one. After the last
// phase the turn passes to the other role; once the role that opened the round
// (firstTurn) has it again, the round number increments.
func NextPhase(rules domain.Rules, s domain.GameState, firstTurn domain.Role) (PhaseChange, error) {
	if len(rules.Phases) == 0 {
		return PhaseChange{}, fmt.Errorf("rules define no phases")
	}
	idx := -1
	for i, p := range rules.Phases {
		if p == s.Phase {
			idx = i
			break
		}
	}
	if idx < 0 {
		return PhaseChange{}, fmt.Errorf("current phase %q not in rules", s.Phase)
	}
	next := PhaseChange{Round: s.Round, TurnHolder: s.TurnHolder}
	if idx+1 < len(rules.Phases) {
		next.Phase = rules.Phases[idx+1]
		return next, nil
	}
	next.Phase = rules.Phases[0]
	next.TurnHolder = s.TurnHolder.Other()
	if next.TurnHolder == firstTurn {
		next.Round++
	}
	if rules.MaxRounds > 0 && next.Round > rules.MaxRounds {
		return PhaseChange{}, fmt.Errorf("round %d is the last round", rules.MaxRounds)
	}
	return next, nil
}
