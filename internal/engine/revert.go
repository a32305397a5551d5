package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"battlelog/internal/domain"
	"battlelog/internal/mutation"
)

// RevertOptions selects the event to revert. Cascade must be set when later
// active events exist; they are reverted too.
type RevertOptions struct {
	SessionID string
	EventID   int64
	Cascade   bool
	ActorID   string
}

// RevertResult describes a committed revert.
type RevertResult struct {
	Action   domain.RevertAction `json:"action"`
	Reverted []domain.Event      `json:"reverted"`
	Summary  domain.StateSummary `json:"summary"`
	State    domain.GameState    `json:"state"`
}

// Revert undoes an event and, with Cascade, every active event after it.
// Reversals run newest first against a copy of the state; the marks, the
// revert action and the final state are written in one transaction, so a
// failed reversal leaves nothing behind.
func (e Engine) Revert(ctx context.Context, opts RevertOptions) (RevertResult, error) {
	return e.revert(ctx, opts.SessionID, opts.ActorID, opts.Cascade, func(ctx context.Context, tx *sql.Tx) (domain.Event, error) {
		return e.Repo.GetEventTx(ctx, tx, opts.SessionID, opts.EventID)
	})
}

// RevertLast undoes the newest active event. It never cascades.
func (e Engine) RevertLast(ctx context.Context, sessionID, actorID string) (RevertResult, error) {
	return e.revert(ctx, sessionID, actorID, false, func(ctx context.Context, tx *sql.Tx) (domain.Event, error) {
		return e.Repo.LastActiveTx(ctx, tx, sessionID)
	})
}

func (e Engine) revert(ctx context.Context, sessionID, actorID string, cascade bool, pick func(context.Context, *sql.Tx) (domain.Event, error)) (res RevertResult, err error) {
	defer func() {
		err = storeErr(err)
		revertsTotal.WithLabelValues(resultLabel(err)).Inc()
	}()
	if actorID == "" {
		return res, fmt.Errorf("actor is required")
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
	target, err := pick(ctx, tx)
	if err != nil {
		return res, err
	}
	if target.Reverted {
		return res, fmt.Errorf("event %d: %w", target.ID, domain.ErrAlreadyReverted)
	}
	later, err := e.Repo.ListActiveAfterTx(ctx, tx, s.ID, target.Seq)
	if err != nil {
		return res, err
	}
	if len(later) > 0 && !cascade {
		items := make([]domain.CascadeItem, 0, len(later))
		for _, ev := range later {
			items = append(items, domain.CascadeItem{EventID: ev.ID, Seq: ev.Seq, Kind: ev.Kind, Description: ev.Description})
		}
		return res, &domain.CascadeRequiredError{TargetID: target.ID, Events: items}
	}

	// newest first, target last
	order := make([]domain.Event, 0, len(later)+1)
	for i := len(later) - 1; i >= 0; i-- {
		order = append(order, later[i])
	}
	order = append(order, target)

	state := s.State.Clone()
	for _, ev := range order {
		if rerr := mutation.Reverse(ev.Kind, ev.Prior, &state); rerr != nil {
			e.logger().Error("revert restoration failed",
				"session_id", s.ID, "target", target.ID, "event", ev.ID, "seq", ev.Seq, "kind", ev.Kind, "err", rerr)
			return res, &domain.RestorationError{EventID: ev.ID, Kind: ev.Kind, Err: rerr}
		}
	}

	now := e.timestamp()
	seq, err := e.Repo.NextSeqTx(ctx, tx, s.ID)
	if err != nil {
		return res, err
	}
	action := domain.RevertAction{
		ID:            uuid.NewString(),
		SessionID:     s.ID,
		Seq:           seq,
		TargetEventID: target.ID,
		Cascade:       len(later) > 0,
		EventIDs:      make([]int64, 0, len(order)),
		ActorID:       actorID,
		CreatedAt:     now,
		Summary:       state.Summary(),
	}
	for i := range order {
		if err := e.Repo.MarkRevertedTx(ctx, tx, order[i].ID, now, actorID, action.ID); err != nil {
			return res, err
		}
		order[i].Reverted = true
		order[i].RevertedAt = &now
		order[i].RevertedBy = &action.ActorID
		order[i].RevertActionID = &action.ID
		action.EventIDs = append(action.EventIDs, order[i].ID)
	}
	if err := e.Repo.InsertRevertActionTx(ctx, tx, &action); err != nil {
		return res, err
	}
	if err := e.Repo.UpdateSessionStateTx(ctx, tx, s.ID, state, now); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	revertedEventsTotal.Add(float64(len(order)))
	e.logger().Info("revert applied",
		"session_id", s.ID, "target", target.ID, "reverted", len(order), "action", action.ID, "actor", actorID)
	return RevertResult{Action: action, Reverted: order, Summary: action.Summary, State: state}, nil
}

// ListRevertActions returns the revert history of a session in seq order.
func (e Engine) ListRevertActions(ctx context.Context, sessionID string, limit int) ([]domain.RevertAction, error) {
	if _, err := e.Repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return e.Repo.ListRevertActions(ctx, sessionID, limit)
}
