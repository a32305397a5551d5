// Package mutation holds the closed set of mutation kinds. Every kind pairs a
// forward Mutation with the Snapshot that undoes it; both interfaces carry
// unexported methods so only this package can add variants, and a variant
// cannot be added without its inverse.
package mutation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"battlelog/internal/domain"
)

// Env is what a forward application may read besides the state itself.
type Env struct {
	Rules domain.Rules
	Now   time.Time
}

func (e Env) timestamp() string {
	if e.Now.IsZero() {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return e.Now.UTC().Format(time.RFC3339)
}

// Mutation is a decoded forward payload.
type Mutation interface {
	Kind() domain.EventKind
	Describe() string
	apply(env Env, s *domain.GameState) (Snapshot, error)
}

// Snapshot is the prior state captured by a forward application.
type Snapshot interface {
	Kind() domain.EventKind
	reverse(s *domain.GameState) error
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report json field names in payload errors
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Decode parses a payload for kind, rejecting unknown fields and failing struct validation.
func Decode(kind domain.EventKind, raw json.RawMessage) (Mutation, error) {
	var m Mutation
	switch kind {
	case domain.KindPhaseChange:
		m = &PhaseChange{}
	case domain.KindResourceDelta:
		m = &ResourceDelta{}
	case domain.KindObjectiveControl:
		m = &ObjectiveControl{}
	case domain.KindUnitDamage:
		m = &UnitDamage{}
	case domain.KindUnitStatus:
		m = &UnitStatus{}
	case domain.KindSubObjective:
		m = &SubObjectiveScore{}
	case domain.KindStratagem:
		m = &Stratagem{}
	case domain.KindCustomNote:
		m = &CustomNote{}
	default:
		return nil, domain.NewInvalidPayload(kind, "kind", "unknown event kind %q", kind)
	}
	if err := strictUnmarshal(raw, m); err != nil {
		return nil, domain.NewInvalidPayload(kind, "", "%v", err)
	}
	if err := validate.Struct(m); err != nil {
		return nil, fieldError(kind, err)
	}
	return m, nil
}

// DecodeSnapshot parses a stored prior snapshot for kind.
func DecodeSnapshot(kind domain.EventKind, raw json.RawMessage) (Snapshot, error) {
	var s Snapshot
	switch kind {
	case domain.KindPhaseChange:
		s = &PhaseSnapshot{}
	case domain.KindResourceDelta:
		s = &ResourceSnapshot{}
	case domain.KindObjectiveControl:
		s = &ObjectiveSnapshot{}
	case domain.KindUnitDamage:
		s = &UnitSnapshot{}
	case domain.KindUnitStatus:
		s = &UnitStatusSnapshot{}
	case domain.KindSubObjective:
		s = &SubObjectiveSnapshot{}
	case domain.KindStratagem:
		s = &StratagemSnapshot{}
	case domain.KindCustomNote:
		s = &NoteSnapshot{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("prior snapshot missing")
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("malformed prior snapshot: %w", err)
	}
	return s, nil
}

// Apply runs m against s in place and returns the encoded prior snapshot.
// On error s may be partially modified; callers work on a clone.
func Apply(env Env, s *domain.GameState, m Mutation) (json.RawMessage, error) {
	snap, err := m.apply(env, s)
	if err != nil {
		return nil, err
	}
	if snap.Kind() != m.Kind() {
		return nil, fmt.Errorf("snapshot kind %s does not match %s", snap.Kind(), m.Kind())
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal prior snapshot: %w", err)
	}
	return raw, nil
}

// Reverse decodes the stored prior snapshot and restores it onto s.
func Reverse(kind domain.EventKind, prior json.RawMessage, s *domain.GameState) error {
	snap, err := DecodeSnapshot(kind, prior)
	if err != nil {
		return err
	}
	return snap.reverse(s)
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func fieldError(kind domain.EventKind, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if fe.Param() != "" {
			return domain.NewInvalidPayload(kind, field, "failed %s=%s", fe.Tag(), fe.Param())
		}
		return domain.NewInvalidPayload(kind, field, "failed %s", fe.Tag())
	}
	return domain.NewInvalidPayload(kind, "", "%v", err)
}

func checkRole(kind domain.EventKind, r domain.Role) error {
	if !r.Valid() {
		return domain.NewInvalidPayload(kind, "role", "unknown role %q", r)
	}
	return nil
}
