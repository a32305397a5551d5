package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"battlelog/internal/config"
	"battlelog/internal/db"
	"battlelog/internal/domain"
	"battlelog/internal/mutation"
	"battlelog/internal/repo"
)

type Engine struct {
	DB          *sql.DB
	Repo        repo.Repo
	Config      *config.Config
	Logger      *slog.Logger
	Now         func() time.Time
	LockTimeout time.Duration
	locks       *sessionLocks
}

func New(conn *sql.DB, cfg *config.Config, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:          conn,
		Repo:        repo.Repo{DB: conn},
		Config:      cfg,
		Logger:      logger,
		Now:         time.Now,
		LockTimeout: DefaultLockTimeout,
		locks:       newSessionLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// StartSessionOptions are parameters for starting a session. Zero Rules and
// nil Units fall back to the workspace config.
type StartSessionOptions struct {
	ID        string
	Name      string
	Rules     *domain.Rules
	Units     []domain.UnitSpec
	FirstTurn domain.Role
	ActorID   string
}

// StartSession creates a session with its initial state. Starting a session
// is not an event and cannot be reverted.
func (e Engine) StartSession(ctx context.Context, opts StartSessionOptions) (domain.Session, error) {
	rules := e.Config.Rules
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	if len(rules.Phases) == 0 {
		return domain.Session{}, errors.New("invalid rules: no phases")
	}
	units := opts.Units
	if units == nil {
		units = e.Config.Roster
	}
	if err := config.ValidateRoster(units); err != nil {
		return domain.Session{}, fmt.Errorf("invalid roster: %w", err)
	}
	first := opts.FirstTurn
	if first == "" {
		first = domain.RolePlayer
	}
	if !first.Valid() {
		return domain.Session{}, fmt.Errorf("invalid first turn: unknown role %q", first)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	} else if _, err := e.Repo.GetSession(ctx, id); err == nil {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionExists)
	}
	now := e.timestamp()
	state := domain.GameState{
		Phase:         rules.Phases[0],
		Round:         1,
		TurnHolder:    first,
		FirstTurn:     first,
		CommandPoints: map[domain.Role]int{},
		VictoryPoints: map[domain.Role]int{},
		Objectives:    map[string]domain.ObjectiveControl{},
		Units:         make([]domain.Unit, 0, len(units)),
		SubObjectives: []domain.SubObjectiveProgress{},
	}
	for _, r := range domain.Roles {
		state.CommandPoints[r] = rules.StartingCommandPoints
		state.VictoryPoints[r] = 0
	}
	for _, obj := range rules.Objectives {
		state.Objectives[obj] = domain.ObjectiveControl{}
	}
	for _, spec := range units {
		state.Units = append(state.Units, domain.NewUnit(spec))
	}
	s := domain.Session{
		ID:        id,
		Name:      opts.Name,
		Status:    domain.SessionActive,
		Rules:     rules,
		State:     state,
		Initial:   state.Clone(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertSessionTx(ctx, nil, s); err != nil {
		if db.IsUniqueViolation(err) {
			return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionExists)
		}
		return domain.Session{}, storeErr(err)
	}
	e.logger().Info("session started", "session_id", s.ID, "actor", opts.ActorID, "units", len(state.Units))
	return s, nil
}

func (e Engine) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return e.Repo.GetSession(ctx, id)
}

func (e Engine) ListSessions(ctx context.Context, f repo.SessionFilter) ([]domain.Session, error) {
	return e.Repo.ListSessions(ctx, f)
}

// EndSession archives a session. Mutations are refused afterwards; reverts
// are still allowed so a final score can be corrected.
func (e Engine) EndSession(ctx context.Context, id, actorID string) (domain.Session, error) {
	ctx, release, err := e.lock(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	defer release()
	if err := e.Repo.EndSessionTx(ctx, nil, id, e.timestamp()); err != nil {
		return domain.Session{}, storeErr(err)
	}
	e.logger().Info("session ended", "session_id", id, "actor", actorID)
	return e.Repo.GetSession(ctx, id)
}

// DeleteSession removes a session with its events and revert actions.
func (e Engine) DeleteSession(ctx context.Context, id, actorID string) error {
	ctx, release, err := e.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()
	if err := e.Repo.DeleteSession(ctx, id); err != nil {
		return storeErr(err)
	}
	e.locks.forget(id)
	e.logger().Info("session deleted", "session_id", id, "actor", actorID)
	return nil
}

// MutationOptions carries one mutation request.
type MutationOptions struct {
	SessionID   string
	Kind        domain.EventKind
	Payload     json.RawMessage
	Description string
	ActorID     string
}

// MutationResult is the appended event and the resulting state.
type MutationResult struct {
	Event   domain.Event        `json:"event"`
	Summary domain.StateSummary `json:"summary"`
	State   domain.GameState    `json:"state"`
}

// ApplyMutation validates the payload, applies it and appends the event.
func (e Engine) ApplyMutation(ctx context.Context, opts MutationOptions) (MutationResult, error) {
	m, err := mutation.Decode(opts.Kind, opts.Payload)
	if err != nil {
		mutationsTotal.WithLabelValues(string(opts.Kind), resultLabel(err)).Inc()
		return MutationResult{}, err
	}
	return e.append(ctx, opts.SessionID, opts.ActorID, opts.Description, func(domain.Session) (mutation.Mutation, error) {
		return m, nil
	})
}

// AdvancePhase appends a phase change to the phase after the current one,
// rolling over into the next turn and round.
func (e Engine) AdvancePhase(ctx context.Context, sessionID, actorID string) (MutationResult, error) {
	return e.append(ctx, sessionID, actorID, "", func(s domain.Session) (mutation.Mutation, error) {
		next, err := mutation.NextPhase(s.Rules, s.State, s.State.FirstTurn)
		if err != nil {
			return nil, domain.NewInvalidPayload(domain.KindPhaseChange, "phase", "%v", err)
		}
		return next, nil
	})
}

func (e Engine) append(ctx context.Context, sessionID, actorID, description string, build func(domain.Session) (mutation.Mutation, error)) (res MutationResult, err error) {
	kind := "unknown"
	defer func() {
		err = storeErr(err)
		mutationsTotal.WithLabelValues(kind, resultLabel(err)).Inc()
	}()
	if actorID == "" {
		return res, errors.New("actor is required")
	}
	ctx, release, err := e.lock(ctx, sessionID)
	if err != nil {
		return res, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetSessionTx(ctx, tx, sessionID)
	if err != nil {
		return res, err
	}
	if s.Status == domain.SessionEnded {
		return res, fmt.Errorf("session %s: %w", s.ID, domain.ErrSessionEnded)
	}
	m, err := build(s)
	if err != nil {
		return res, err
	}
	kind = string(m.Kind())
	now := e.now()
	state := s.State.Clone()
	prior, err := mutation.Apply(mutation.Env{Rules: s.Rules, Now: now}, &state, m)
	if err != nil {
		return res, err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return res, err
	}
	seq, err := e.Repo.NextSeqTx(ctx, tx, s.ID)
	if err != nil {
		return res, err
	}
	if description == "" {
		description = m.Describe()
	}
	ev := domain.Event{
		SessionID:   s.ID,
		Seq:         seq,
		Kind:        m.Kind(),
		Payload:     payload,
		Prior:       prior,
		Description: description,
		ActorID:     actorID,
		CreatedAt:   now.UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEventTx(ctx, tx, &ev); err != nil {
		return res, err
	}
	if err := e.Repo.UpdateSessionStateTx(ctx, tx, s.ID, state, ev.CreatedAt); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.logger().Info("event appended", "session_id", s.ID, "event_id", ev.ID, "seq", ev.Seq, "kind", ev.Kind, "actor", actorID)
	return MutationResult{Event: ev, Summary: state.Summary(), State: state}, nil
}

// EventView is an event plus how many active events a revert of it would cascade into.
type EventView struct {
	domain.Event
	CascadeCount int `json:"cascade_count"`
}

// ListEvents returns filtered events with their cascade hints.
func (e Engine) ListEvents(ctx context.Context, sessionID string, f repo.EventFilter) ([]EventView, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := e.Repo.ListEvents(ctx, sessionID, f)
	if err != nil {
		return nil, err
	}
	seqs, err := e.Repo.ActiveSeqs(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		v := EventView{Event: ev}
		if !ev.Reverted {
			v.CascadeCount = cascadeCount(seqs, ev.Seq)
		}
		out = append(out, v)
	}
	return out, nil
}

func (e Engine) GetEvent(ctx context.Context, sessionID string, id int64) (EventView, error) {
	ev, err := e.Repo.GetEvent(ctx, sessionID, id)
	if err != nil {
		return EventView{}, err
	}
	v := EventView{Event: ev}
	if !ev.Reverted {
		seqs, err := e.Repo.ActiveSeqs(ctx, sessionID)
		if err != nil {
			return EventView{}, err
		}
		v.CascadeCount = cascadeCount(seqs, ev.Seq)
	}
	return v, nil
}

// cascadeCount counts active seqs strictly after seq; seqs is ascending.
func cascadeCount(seqs []int64, seq int64) int {
	i := sort.Search(len(seqs), func(i int) bool { return seqs[i] > seq })
	return len(seqs) - i
}
