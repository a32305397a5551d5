package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"

	"battlelog/internal/domain"
)

const revertColumns = `row_id,id,session_id,seq,target_event_id,cascaded,event_ids_json,actor_id,created_at,summary_json`

func scanRevertAction(row rowScanner) (domain.RevertAction, error) {
	var (
		a                  domain.RevertAction
		cascaded           int
		idsJSON, summaryJS string
	)
	if err := row.Scan(&a.Cursor, &a.ID, &a.SessionID, &a.Seq, &a.TargetEventID, &cascaded, &idsJSON, &a.ActorID, &a.CreatedAt, &summaryJS); err != nil {
		return a, err
	}
	a.Cascade = cascaded != 0
	if err := json.Unmarshal([]byte(idsJSON), &a.EventIDs); err != nil {
		return a, fmt.Errorf("revert action %s event ids: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(summaryJS), &a.Summary); err != nil {
		return a, fmt.Errorf("revert action %s summary: %w", a.ID, err)
	}
	return a, nil
}

func collectRevertActions(rows *sql.Rows) ([]domain.RevertAction, error) {
	defer rows.Close()
	var res []domain.RevertAction
	for rows.Next() {
		a, err := scanRevertAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// InsertRevertActionTx stores the audit record of one revert.
func (r Repo) InsertRevertActionTx(ctx context.Context, tx *sql.Tx, a *domain.RevertAction) error {
	ids, err := json.Marshal(a.EventIDs)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(a.Summary)
	if err != nil {
		return err
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO revert_actions(id,session_id,seq,target_event_id,cascaded,event_ids_json,actor_id,created_at,summary_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SessionID, a.Seq, a.TargetEventID, boolInt(a.Cascade), string(ids), a.ActorID, a.CreatedAt, string(summary))
	if err != nil {
		return fmt.Errorf("insert revert action: %w", err)
	}
	if a.Cursor, err = res.LastInsertId(); err != nil {
		return err
	}
	return nil
}

func (r Repo) GetRevertAction(ctx context.Context, sessionID, id string) (domain.RevertAction, error) {
	a, err := scanRevertAction(r.DB.QueryRowContext(ctx, `SELECT `+revertColumns+` FROM revert_actions WHERE session_id=? AND id=?`, sessionID, id))
	return a, notFound(err, fmt.Errorf("revert action %s: %w", id, domain.ErrNotFound))
}

// ListRevertActions returns a session's revert actions in seq order.
func (r Repo) ListRevertActions(ctx context.Context, sessionID string, limit int) ([]domain.RevertAction, error) {
	query := builder.Select(revertColumns).From("revert_actions").
		Where(squirrel.Eq{"session_id": sessionID}).
		OrderBy("seq ASC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	return collectRevertActions(rows)
}

// RevertActionsAfter returns revert actions across sessions past the cursor, ascending.
func (r Repo) RevertActionsAfter(ctx context.Context, limit int, cursor int64) ([]domain.RevertAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+revertColumns+` FROM revert_actions WHERE row_id>? ORDER BY row_id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return collectRevertActions(rows)
}

// LatestRevertCursor returns the newest revert action row id, 0 when empty.
func (r Repo) LatestRevertCursor(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(row_id),0) FROM revert_actions`).Scan(&id)
	return id, err
}
