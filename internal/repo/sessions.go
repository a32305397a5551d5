package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"battlelog/internal/domain"
)

const sessionColumns = `id,name,status,rules_json,state_json,initial_state_json,created_at,updated_at,ended_at`

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s                         domain.Session
		rulesJSON, stateJSON, ini string
		endedAt                   sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Status, &rulesJSON, &stateJSON, &ini, &s.CreatedAt, &s.UpdatedAt, &endedAt); err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(rulesJSON), &s.Rules); err != nil {
		return s, fmt.Errorf("session %s rules: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &s.State); err != nil {
		return s, fmt.Errorf("session %s state: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(ini), &s.Initial); err != nil {
		return s, fmt.Errorf("session %s initial state: %w", s.ID, err)
	}
	s.EndedAt = stringPtr(endedAt)
	return s, nil
}

// InsertSessionTx stores a new session and seeds its sequence counter.
func (r Repo) InsertSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	rules, err := json.Marshal(s.Rules)
	if err != nil {
		return err
	}
	state, err := json.Marshal(s.State)
	if err != nil {
		return err
	}
	initial, err := json.Marshal(s.Initial)
	if err != nil {
		return err
	}
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `INSERT INTO sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.Status, string(rules), string(state), string(initial), s.CreatedAt, s.UpdatedAt, nullableString(s.EndedAt)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if _, err := q.ExecContext(ctx, `INSERT INTO session_seq(session_id,next_seq) VALUES (?,1)`, s.ID); err != nil {
		return fmt.Errorf("init session seq: %w", err)
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	return r.GetSessionTx(ctx, nil, id)
}

func (r Repo) GetSessionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Session, error) {
	s, err := scanSession(r.q(tx).QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=?`, id))
	return s, notFound(err, domain.ErrSessionNotFound)
}

type SessionFilter struct {
	Status string
	Limit  int
}

// ListSessions returns sessions newest first.
func (r Repo) ListSessions(ctx context.Context, f SessionFilter) ([]domain.Session, error) {
	query := builder.Select(sessionColumns).From("sessions").OrderBy("created_at DESC", "id DESC")
	if f.Status != "" {
		query = query.Where(squirrel.Eq{"status": f.Status})
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
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSessionStateTx persists the current aggregate state.
func (r Repo) UpdateSessionStateTx(ctx context.Context, tx *sql.Tx, id string, state domain.GameState, updatedAt string) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE sessions SET state_json=?, updated_at=? WHERE id=?`, string(payload), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// EndSessionTx marks the session ended. Ending twice is a no-op.
func (r Repo) EndSessionTx(ctx context.Context, tx *sql.Tx, id, endedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE sessions SET status=?, ended_at=COALESCE(ended_at, ?), updated_at=? WHERE id=?`,
		domain.SessionEnded, endedAt, endedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes the session; events and revert actions go with it.
func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// NextSeqTx reserves the next sequence number for a session. Events and
// revert actions draw from the same counter.
func (r Repo) NextSeqTx(ctx context.Context, tx *sql.Tx, sessionID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT next_seq FROM session_seq WHERE session_id=?`, sessionID).Scan(&seq)
	if err != nil {
		return 0, notFound(err, domain.ErrSessionNotFound)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE session_seq SET next_seq=? WHERE session_id=?`, seq+1, sessionID); err != nil {
		return 0, fmt.Errorf("update session seq: %w", err)
	}
	return seq, nil
}
