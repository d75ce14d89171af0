package repo

import (
	"context"
	"database/sql"
	"fmt"

	"pressflow/internal/domain"
)

// InsertScore appends a ledger row and returns its id.
func (r Repo) InsertScore(ctx context.Context, s domain.GuildScore) (int64, error) {
	res, err := r.conn().ExecContext(ctx, `INSERT INTO guild_scores(user_id,guild_id,skill_id,points,action_type,reference_type,reference_id,created_at)
VALUES (?,?,?,?,?,?,?,?)`, s.UserID, s.GuildID, nullableStringPtr(s.SkillID), s.Points, s.ActionType, s.ReferenceType, s.ReferenceID, s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert score: %w", err)
	}
	return res.LastInsertId()
}

// HasScore reports whether a ledger row for action already references refID.
func (r Repo) HasScore(ctx context.Context, action domain.ScoreAction, refType, refID string) (bool, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT count(*) FROM guild_scores WHERE action_type=? AND reference_type=? AND reference_id=?`,
		action, refType, refID).Scan(&n)
	return n > 0, err
}

func (r Repo) TotalScore(ctx context.Context, userID, guildID string) (int, error) {
	var total int
	err := r.conn().QueryRowContext(ctx, `SELECT COALESCE(SUM(points),0) FROM guild_scores WHERE user_id=? AND guild_id=?`, userID, guildID).Scan(&total)
	return total, err
}

// Leaderboard ranks users by total descending. Ties go to the user whose
// latest ledger row is oldest, which is the user who reached the total first.
func (r Repo) Leaderboard(ctx context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.conn().QueryContext(ctx, `SELECT s.user_id, s.total, g.created_at FROM (
	SELECT user_id, SUM(points) AS total, MAX(id) AS last_id FROM guild_scores WHERE guild_id=? GROUP BY user_id
) s JOIN guild_scores g ON g.id = s.last_id
ORDER BY s.total DESC, s.last_id ASC, s.user_id ASC LIMIT ?`, guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Total, &e.Reached); err != nil {
			return nil, err
		}
		e.Rank = len(res) + 1
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListScores(ctx context.Context, userID, guildID string, limit int) ([]domain.GuildScore, error) {
	query := `SELECT id,user_id,guild_id,skill_id,points,action_type,reference_type,reference_id,created_at FROM guild_scores WHERE user_id=?`
	args := []any{userID}
	if guildID != "" {
		query += ` AND guild_id=?`
		args = append(args, guildID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GuildScore
	for rows.Next() {
		var s domain.GuildScore
		var skill sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &s.GuildID, &skill, &s.Points, &s.ActionType, &s.ReferenceType, &s.ReferenceID, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.SkillID = stringPtr(skill)
		res = append(res, s)
	}
	return res, rows.Err()
}
