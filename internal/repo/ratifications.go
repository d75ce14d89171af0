package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pressflow/internal/domain"
)

const ratificationColumns = `id,task_id,content_item_id,junior_user_id,guild_id,mentor_user_id,status,feedback,created_at,updated_at,claimed_at,decided_at`

func scanRatification(s scanner) (domain.Ratification, error) {
	var rt domain.Ratification
	var mentor, feedback, claimedAt, decidedAt sql.NullString
	err := s.Scan(&rt.ID, &rt.TaskID, &rt.ContentItemID, &rt.JuniorUserID, &rt.GuildID, &mentor, &rt.Status, &feedback,
		&rt.CreatedAt, &rt.UpdatedAt, &claimedAt, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, ErrNotFound
	}
	if err != nil {
		return rt, err
	}
	rt.MentorUserID = stringPtr(mentor)
	rt.Feedback = feedback.String
	rt.ClaimedAt = stringPtr(claimedAt)
	rt.DecidedAt = stringPtr(decidedAt)
	return rt, nil
}

func (r Repo) InsertRatification(ctx context.Context, rt domain.Ratification) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO ratifications(`+ratificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rt.ID, rt.TaskID, rt.ContentItemID, rt.JuniorUserID, rt.GuildID, nullableStringPtr(rt.MentorUserID), rt.Status,
		nullable(rt.Feedback), rt.CreatedAt, rt.UpdatedAt, nullableStringPtr(rt.ClaimedAt), nullableStringPtr(rt.DecidedAt))
	if err != nil {
		return fmt.Errorf("insert ratification: %w", err)
	}
	return nil
}

func (r Repo) GetRatification(ctx context.Context, id string) (domain.Ratification, error) {
	return scanRatification(r.conn().QueryRowContext(ctx, `SELECT `+ratificationColumns+` FROM ratifications WHERE id=?`, id))
}

// ClaimRatification sets the mentor on a pending, unclaimed request. It
// returns ErrStale when another mentor got there first or the request was
// decided.
func (r Repo) ClaimRatification(ctx context.Context, id, mentorID, now string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE ratifications SET mentor_user_id=?, claimed_at=?, updated_at=?
WHERE id=? AND status='pending' AND mentor_user_id IS NULL`, mentorID, now, now, id)
	if err != nil {
		return fmt.Errorf("claim ratification: %w", err)
	}
	return expectOne(res)
}

// DecideRatification moves a pending request to a terminal status. The
// request must be unclaimed or claimed by mentorID.
func (r Repo) DecideRatification(ctx context.Context, id, mentorID string, status domain.RatificationStatus, feedback, now string) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE ratifications SET status=?, feedback=?, mentor_user_id=?, decided_at=?, updated_at=?,
claimed_at=COALESCE(claimed_at, ?) WHERE id=? AND status='pending' AND (mentor_user_id IS NULL OR mentor_user_id=?)`,
		status, nullable(feedback), mentorID, now, now, now, id, mentorID)
	if err != nil {
		return fmt.Errorf("decide ratification: %w", err)
	}
	return expectOne(res)
}

type RatificationFilters struct {
	GuildID      string
	JuniorUserID string
	TaskID       string
	Status       domain.RatificationStatus
	// AvailableTo keeps rows that are unclaimed or claimed by this mentor.
	AvailableTo string
	Limit       int
}

// ListRatifications returns requests oldest first.
func (r Repo) ListRatifications(ctx context.Context, f RatificationFilters) ([]domain.Ratification, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.GuildID != "" {
		clauses = append(clauses, "guild_id=?")
		args = append(args, f.GuildID)
	}
	if f.JuniorUserID != "" {
		clauses = append(clauses, "junior_user_id=?")
		args = append(args, f.JuniorUserID)
	}
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AvailableTo != "" {
		clauses = append(clauses, "(mentor_user_id IS NULL OR mentor_user_id=?)")
		args = append(args, f.AvailableTo)
	}
	query := `SELECT ` + ratificationColumns + ` FROM ratifications WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ratification
	for rows.Next() {
		rt, err := scanRatification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func (r Repo) HasPendingRatification(ctx context.Context, taskID string) (bool, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT count(*) FROM ratifications WHERE task_id=? AND status='pending'`, taskID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	return nil
}
