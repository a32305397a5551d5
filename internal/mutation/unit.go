package mutation

import (
	"fmt"
	"strings"

	"battlelog/internal/domain"
)

const (
	DamageModeDamage  = "damage"
	DamageModeHeal    = "heal"
	DamageModeDestroy = "destroy"
	DamageModeSet     = "set"
)

// UnitDamage changes per-model health on one unit. Damage goes to wounded
// models first, then regular models in roster order, leaders last; excess
// damage spills into the next model. Heal only reaches models still alive.
// Set replaces every model's health explicitly.
type UnitDamage struct {
	UnitID string `json:"unit_id" validate:"required"`
	Mode   string `json:"mode" validate:"required,oneof=damage heal destroy set"`
	Amount int    `json:"amount,omitempty" validate:"gte=0"`
	Health []int  `json:"health,omitempty" validate:"omitempty,dive,gte=0"`
}

// UnitSnapshot is the full per-model array plus the derived counters.
type UnitSnapshot struct {
	UnitID      string               `json:"unit_id"`
	Models      []domain.ModelHealth `json:"models"`
	ModelCount  int                  `json:"model_count"`
	TotalHealth int                  `json:"total_health"`
	Destroyed   bool                 `json:"destroyed"`
}

func (UnitDamage) Kind() domain.EventKind   { return domain.KindUnitDamage }
func (UnitSnapshot) Kind() domain.EventKind { return domain.KindUnitDamage }

func (m UnitDamage) Describe() string {
	switch m.Mode {
	case DamageModeHeal:
		return fmt.Sprintf("Unit %s healed %d", m.UnitID, m.Amount)
	case DamageModeDestroy:
		return fmt.Sprintf("Unit %s destroyed", m.UnitID)
	case DamageModeSet:
		return fmt.Sprintf("Unit %s health set to %s", m.UnitID, joinInts(m.Health))
	default:
		return fmt.Sprintf("Unit %s took %d damage", m.UnitID, m.Amount)
	}
}

func (m UnitDamage) apply(_ Env, s *domain.GameState) (Snapshot, error) {
	u, ok := s.Unit(m.UnitID)
	if !ok {
		return nil, domain.NewInvalidPayload(m.Kind(), "unit_id", "unknown unit %q", m.UnitID)
	}
	prior := UnitSnapshot{
		UnitID:      u.ID,
		Models:      append([]domain.ModelHealth(nil), u.Models...),
		ModelCount:  u.ModelCount,
		TotalHealth: u.TotalHealth,
		Destroyed:   u.Destroyed,
	}
	switch m.Mode {
	case DamageModeDamage:
		if m.Amount <= 0 {
			return nil, domain.NewInvalidPayload(m.Kind(), "amount", "damage amount must be positive")
		}
		allocateDamage(u.Models, m.Amount)
	case DamageModeHeal:
		if m.Amount <= 0 {
			return nil, domain.NewInvalidPayload(m.Kind(), "amount", "heal amount must be positive")
		}
		allocateHeal(u.Models, m.Amount)
	case DamageModeDestroy:
		for i := range u.Models {
			u.Models[i].Health = 0
		}
	case DamageModeSet:
		if len(m.Health) != len(u.Models) {
			return nil, domain.NewInvalidPayload(m.Kind(), "health", "expected %d values, got %d", len(u.Models), len(m.Health))
		}
		for i, h := range m.Health {
			if h > u.Models[i].MaxHealth {
				return nil, domain.NewInvalidPayload(m.Kind(), "health", "model %d health %d exceeds max %d", i, h, u.Models[i].MaxHealth)
			}
		}
		for i, h := range m.Health {
			u.Models[i].Health = h
		}
	}
	u.Recount()
	return prior, nil
}

func (p UnitSnapshot) reverse(s *domain.GameState) error {
	u, ok := s.Unit(p.UnitID)
	if !ok {
		return fmt.Errorf("unit %q not in state", p.UnitID)
	}
	if len(p.Models) != len(u.Models) {
		return fmt.Errorf("unit %q snapshot has %d models, state has %d", p.UnitID, len(p.Models), len(u.Models))
	}
	u.Models = append([]domain.ModelHealth(nil), p.Models...)
	u.ModelCount = p.ModelCount
	u.TotalHealth = p.TotalHealth
	u.Destroyed = p.Destroyed
	return nil
}

// damageOrder returns indexes of alive models in the order they absorb damage.
func damageOrder(models []domain.ModelHealth) []int {
	var wounded, regular, leaders []int
	for i, m := range models {
		switch {
		case m.Health <= 0:
		case m.Health < m.MaxHealth:
			wounded = append(wounded, i)
		case m.Role == domain.ModelLeader:
			leaders = append(leaders, i)
		default:
			regular = append(regular, i)
		}
	}
	order := append(wounded, regular...)
	return append(order, leaders...)
}

func allocateDamage(models []domain.ModelHealth, amount int) {
	for _, i := range damageOrder(models) {
		if amount == 0 {
			return
		}
		take := min(models[i].Health, amount)
		models[i].Health -= take
		amount -= take
	}
}

func allocateHeal(models []domain.ModelHealth, amount int) {
	for i := range models {
		if amount == 0 {
			return
		}
		m := &models[i]
		if m.Health <= 0 || m.Health >= m.MaxHealth {
			continue
		}
		gain := min(m.MaxHealth-m.Health, amount)
		m.Health += gain
		amount -= gain
	}
}

// UnitStatus adds and removes status flags on one unit.
type UnitStatus struct {
	UnitID string   `json:"unit_id" validate:"required"`
	Add    []string `json:"add,omitempty" validate:"omitempty,dive,required"`
	Remove []string `json:"remove,omitempty" validate:"omitempty,dive,required"`
}

type UnitStatusSnapshot struct {
	UnitID string   `json:"unit_id"`
	Status []string `json:"status"`
}

func (UnitStatus) Kind() domain.EventKind         { return domain.KindUnitStatus }
func (UnitStatusSnapshot) Kind() domain.EventKind { return domain.KindUnitStatus }

func (m UnitStatus) Describe() string {
	var parts []string
	if len(m.Add) > 0 {
		parts = append(parts, "+"+strings.Join(m.Add, ",+"))
	}
	if len(m.Remove) > 0 {
		parts = append(parts, "-"+strings.Join(m.Remove, ",-"))
	}
	return fmt.Sprintf("Unit %s status %s", m.UnitID, strings.Join(parts, " "))
}

func (m UnitStatus) apply(env Env, s *domain.GameState) (Snapshot, error) {
	if len(m.Add) == 0 && len(m.Remove) == 0 {
		return nil, domain.NewInvalidPayload(m.Kind(), "add", "nothing to add or remove")
	}
	u, ok := s.Unit(m.UnitID)
	if !ok {
		return nil, domain.NewInvalidPayload(m.Kind(), "unit_id", "unknown unit %q", m.UnitID)
	}
	for _, f := range m.Add {
		if !env.Rules.HasStatusFlag(f) {
			return nil, domain.NewInvalidPayload(m.Kind(), "add", "unknown status flag %q", f)
		}
	}
	prior := UnitStatusSnapshot{UnitID: u.ID, Status: append([]string(nil), u.Status...)}
	next := make([]string, 0, len(u.Status)+len(m.Add))
	for _, f := range u.Status {
		if !containsString(m.Remove, f) {
			next = append(next, f)
		}
	}
	for _, f := range m.Add {
		if !containsString(next, f) {
			next = append(next, f)
		}
	}
	u.Status = next
	return prior, nil
}

func (p UnitStatusSnapshot) reverse(s *domain.GameState) error {
	u, ok := s.Unit(p.UnitID)
	if !ok {
		return fmt.Errorf("unit %q not in state", p.UnitID)
	}
	u.Status = append([]string(nil), p.Status...)
	return nil
}

func containsString(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
