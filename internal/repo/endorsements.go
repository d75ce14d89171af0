package repo

import (
	"context"
	"database/sql"
	"fmt"

	"pressflow/internal/domain"
)

func (r Repo) InsertEndorsement(ctx context.Context, e domain.Endorsement) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO endorsements(id,endorser_id,endorsee_id,guild_id,skill_id,comment,created_at) VALUES (?,?,?,?,?,?,?)`,
		e.ID, e.EndorserID, e.EndorseeID, e.GuildID, nullableStringPtr(e.SkillID), nullable(e.Comment), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert endorsement: %w", err)
	}
	return nil
}

// ListEndorsements returns endorsements received by endorseeID, newest first.
func (r Repo) ListEndorsements(ctx context.Context, endorseeID, guildID string) ([]domain.Endorsement, error) {
	query := `SELECT id,endorser_id,endorsee_id,guild_id,skill_id,comment,created_at FROM endorsements WHERE endorsee_id=?`
	args := []any{endorseeID}
	if guildID != "" {
		query += ` AND guild_id=?`
		args = append(args, guildID)
	}
	rows, err := r.conn().QueryContext(ctx, query+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Endorsement
	for rows.Next() {
		var e domain.Endorsement
		var skill, comment sql.NullString
		if err := rows.Scan(&e.ID, &e.EndorserID, &e.EndorseeID, &e.GuildID, &skill, &comment, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SkillID = stringPtr(skill)
		e.Comment = comment.String
		res = append(res, e)
	}
	return res, rows.Err()
}
