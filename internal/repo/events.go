package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"battlelog/internal/domain"
)

const eventColumns = `id,session_id,seq,kind,payload_json,prior_json,description,actor_id,created_at,reverted,reverted_at,reverted_by,revert_action_id`

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		e                         domain.Event
		payload, prior            string
		reverted                  int
		revAt, revBy, revActionID sql.NullString
	)
	if err := row.Scan(&e.ID, &e.SessionID, &e.Seq, &e.Kind, &payload, &prior, &e.Description, &e.ActorID, &e.CreatedAt,
		&reverted, &revAt, &revBy, &revActionID); err != nil {
		return e, err
	}
	e.Payload = []byte(payload)
	e.Prior = []byte(prior)
	e.Reverted = reverted != 0
	e.RevertedAt = stringPtr(revAt)
	e.RevertedBy = stringPtr(revBy)
	e.RevertActionID = stringPtr(revActionID)
	return e, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertEventTx appends an event and fills in its row id.
func (r Repo) InsertEventTx(ctx context.Context, tx *sql.Tx, e *domain.Event) error {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO events(session_id,seq,kind,payload_json,prior_json,description,actor_id,created_at,reverted) VALUES (?,?,?,?,?,?,?,?,0)`,
		e.SessionID, e.Seq, e.Kind, string(e.Payload), string(e.Prior), e.Description, e.ActorID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (r Repo) GetEvent(ctx context.Context, sessionID string, id int64) (domain.Event, error) {
	return r.GetEventTx(ctx, nil, sessionID, id)
}

// GetEventTx loads one event of a session, reverted or not.
func (r Repo) GetEventTx(ctx context.Context, tx *sql.Tx, sessionID string, id int64) (domain.Event, error) {
	e, err := scanEvent(r.q(tx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE session_id=? AND id=?`, sessionID, id))
	return e, notFound(err, fmt.Errorf("event %d: %w", id, domain.ErrNotFound))
}

// EventFilter narrows ListEvents. Zero values do not filter.
type EventFilter struct {
	Kind domain.EventKind
	// Since and Until bound created_at, both inclusive.
	Since           time.Time
	Until           time.Time
	SinceSeq        int64
	UntilSeq        int64
	Query           string
	Limit           int
	IncludeReverted bool
}

// ListEvents returns a session's events in seq order, active only unless asked.
func (r Repo) ListEvents(ctx context.Context, sessionID string, f EventFilter) ([]domain.Event, error) {
	query := builder.Select(eventColumns).From("events").
		Where(squirrel.Eq{"session_id": sessionID}).
		OrderBy("seq ASC")
	if !f.IncludeReverted {
		query = query.Where(squirrel.Eq{"reverted": 0})
	}
	if f.Kind != "" {
		query = query.Where(squirrel.Eq{"kind": string(f.Kind)})
	}
	if !f.Since.IsZero() {
		query = query.Where(squirrel.GtOrEq{"created_at": f.Since.UTC().Format(time.RFC3339)})
	}
	if !f.Until.IsZero() {
		query = query.Where(squirrel.LtOrEq{"created_at": f.Until.UTC().Format(time.RFC3339)})
	}
	if f.SinceSeq > 0 {
		query = query.Where(squirrel.GtOrEq{"seq": f.SinceSeq})
	}
	if f.UntilSeq > 0 {
		query = query.Where(squirrel.LtOrEq{"seq": f.UntilSeq})
	}
	if f.Query != "" {
		query = query.Where(squirrel.Expr(`description LIKE ? ESCAPE '\'`, "%"+escapeLike(f.Query)+"%"))
	}
	if f.Limit > 0 {
		query = query.Limit(uint64(f.Limit))
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// escapeLike makes % and _ match literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListActiveAfterTx returns non-reverted events with seq greater than afterSeq, oldest first.
func (r Repo) ListActiveAfterTx(ctx context.Context, tx *sql.Tx, sessionID string, afterSeq int64) ([]domain.Event, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE session_id=? AND reverted=0 AND seq>? ORDER BY seq ASC`, sessionID, afterSeq)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// LastActiveTx returns the newest non-reverted event.
func (r Repo) LastActiveTx(ctx context.Context, tx *sql.Tx, sessionID string) (domain.Event, error) {
	e, err := scanEvent(r.q(tx).QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE session_id=? AND reverted=0 ORDER BY seq DESC LIMIT 1`, sessionID))
	return e, notFound(err, fmt.Errorf("active event: %w", domain.ErrNotFound))
}

// ActiveSeqs returns the seq of every active event of a session, ascending.
func (r Repo) ActiveSeqs(ctx context.Context, sessionID string) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT seq FROM events WHERE session_id=? AND reverted=0 ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		res = append(res, seq)
	}
	return res, rows.Err()
}

// MarkRevertedTx flips the revert flag once. A second call for the same event
// returns ErrAlreadyReverted.
func (r Repo) MarkRevertedTx(ctx context.Context, tx *sql.Tx, id int64, at, by, actionID string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE events SET reverted=1, reverted_at=?, reverted_by=?, revert_action_id=? WHERE id=? AND reverted=0`,
		at, by, actionID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %d: %w", id, domain.ErrAlreadyReverted)
	}
	return nil
}

// EventsAfter returns events across sessions with ids greater than the cursor, ascending.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// LatestEventID returns the newest event row id, 0 when empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
