package mutation

import (
	"battlelog/internal/domain"
)

// CustomNote records free text. It never touches state.
type CustomNote struct {
	Text string `json:"text" validate:"required"`
}

type NoteSnapshot struct{}

func (CustomNote) Kind() domain.EventKind   { return domain.KindCustomNote }
func (NoteSnapshot) Kind() domain.EventKind { return domain.KindCustomNote }

func (m CustomNote) Describe() string { return "Note: " + m.Text }

func (CustomNote) apply(Env, *domain.GameState) (Snapshot, error) { return NoteSnapshot{}, nil }

func (NoteSnapshot) reverse(*domain.GameState) error { return nil }
