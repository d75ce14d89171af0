package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pressflow/internal/domain"
)

// GetPreference reads one row. groupID "" addresses the user default.
func (r Repo) GetPreference(ctx context.Context, userID, groupID string) (domain.NotificationPreference, error) {
	var p domain.NotificationPreference
	var group string
	err := r.conn().QueryRowContext(ctx, `SELECT user_id, group_id, mode, updated_at FROM notification_preferences WHERE user_id=? AND group_id=?`,
		userID, groupID).Scan(&p.UserID, &group, &p.Mode, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if group != "" {
		p.GroupID = &group
	}
	return p, nil
}

func (r Repo) UpsertPreference(ctx context.Context, p domain.NotificationPreference) error {
	group := ""
	if p.GroupID != nil {
		group = *p.GroupID
	}
	_, err := r.conn().ExecContext(ctx, `INSERT INTO notification_preferences(user_id, group_id, mode, updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id, group_id) DO UPDATE SET mode=excluded.mode, updated_at=excluded.updated_at`, p.UserID, group, p.Mode, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r Repo) DeletePreference(ctx context.Context, userID, groupID string) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM notification_preferences WHERE user_id=? AND group_id=?`, userID, groupID)
	return err
}

// ListPreferences returns the default first, then overrides by group.
func (r Repo) ListPreferences(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT user_id, group_id, mode, updated_at FROM notification_preferences WHERE user_id=? ORDER BY group_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.NotificationPreference
	for rows.Next() {
		var p domain.NotificationPreference
		var group string
		if err := rows.Scan(&p.UserID, &group, &p.Mode, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if group != "" {
			g := group
			p.GroupID = &g
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertQueueEntry(ctx context.Context, e domain.QueueEntry) (int64, error) {
	ctxJSON, err := domain.EncodeContext(e.Context)
	if err != nil {
		return 0, err
	}
	res, err := r.conn().ExecContext(ctx, `INSERT INTO notification_queue(user_id, group_id, reference_id, event_type, context_json, frequency, created_at)
VALUES (?,?,?,?,?,?,?)`, e.UserID, nullableStringPtr(e.GroupID), e.ReferenceID, e.EventType, nullable(ctxJSON), e.Frequency, e.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("queue notification: %w", err)
	}
	return res.LastInsertId()
}

// ListQueue returns entries for one frequency in insertion order. An entry
// whose context cannot be decoded is returned with a nil Context.
func (r Repo) ListQueue(ctx context.Context, freq domain.Frequency) ([]domain.QueueEntry, error) {
	rows, err := r.conn().QueryContext(ctx, `SELECT id, user_id, group_id, reference_id, event_type, context_json, frequency, created_at
FROM notification_queue WHERE frequency=? ORDER BY id ASC`, freq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		var group, ctxJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &group, &e.ReferenceID, &e.EventType, &ctxJSON, &e.Frequency, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.GroupID = stringPtr(group)
		if c, err := domain.DecodeContext(ctxJSON.String); err == nil {
			e.Context = c
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DeleteQueueEntries removes exactly the given ids.
func (r Repo) DeleteQueueEntries(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := r.conn().ExecContext(ctx, `DELETE FROM notification_queue WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete queue entries: %w", err)
	}
	return res.RowsAffected()
}

// CountQueue counts pending entries, optionally for one frequency.
func (r Repo) CountQueue(ctx context.Context, freq domain.Frequency) (int, error) {
	query := `SELECT count(*) FROM notification_queue`
	var args []any
	if freq != "" {
		query += ` WHERE frequency=?`
		args = append(args, freq)
	}
	var n int
	err := r.conn().QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}
