package engine

import (
	"context"
	"strings"

	"pressflow/internal/domain"
)

// Award is one ledger entry to append. Points nil means the configured
// default for Action.
type Award struct {
	UserID        string
	GuildID       string
	Action        domain.ScoreAction
	Points        *int
	SkillID       string
	ReferenceType string
	ReferenceID   string
}

// AwardPoints appends a ledger row. Rows are never updated or deleted.
func (e Engine) AwardPoints(ctx context.Context, a Award) (domain.GuildScore, error) {
	if strings.TrimSpace(a.UserID) == "" {
		return domain.GuildScore{}, domain.Invalid("user_id", "is required")
	}
	if strings.TrimSpace(a.GuildID) == "" {
		return domain.GuildScore{}, domain.Invalid("guild_id", "is required")
	}
	if !a.Action.Valid() {
		return domain.GuildScore{}, domain.Invalid("action_type", "unknown action "+string(a.Action))
	}
	if a.ReferenceType == "" || a.ReferenceID == "" {
		return domain.GuildScore{}, domain.Invalid("reference", "type and id are required")
	}
	points := e.Config.Points(a.Action)
	if a.Points != nil {
		points = *a.Points
	}
	s := domain.GuildScore{
		UserID:        a.UserID,
		GuildID:       a.GuildID,
		Points:        points,
		ActionType:    a.Action,
		ReferenceType: a.ReferenceType,
		ReferenceID:   a.ReferenceID,
		CreatedAt:     e.stamp(),
	}
	if a.SkillID != "" {
		s.SkillID = ptr(a.SkillID)
	}
	id, err := e.Repo.InsertScore(ctx, s)
	if err != nil {
		return domain.GuildScore{}, storeErr("award points", err)
	}
	s.ID = id
	return s, nil
}

// awardBestEffort is used for scoring side effects of a committed
// transition; failure is logged only.
func (e Engine) awardBestEffort(ctx context.Context, a Award) {
	if _, err := e.AwardPoints(ctx, a); err != nil {
		e.log().Error("award points failed", "user", a.UserID, "guild", a.GuildID, "action", a.Action,
			"ref_type", a.ReferenceType, "ref", a.ReferenceID, "err", err)
	}
}

// awardCompletion credits task_completed to the assignee once per task.
func (e Engine) awardCompletion(ctx context.Context, t domain.WorkflowTask, assignee string) {
	if t.GuildID == nil || assignee == "" {
		return
	}
	done, err := e.Repo.HasScore(ctx, domain.ActionTaskCompleted, "task", t.ID)
	if err != nil {
		e.log().Error("award points failed", "user", assignee, "action", domain.ActionTaskCompleted, "ref", t.ID, "err", err)
		return
	}
	if done {
		return
	}
	e.awardBestEffort(ctx, Award{
		UserID: assignee, GuildID: *t.GuildID, Action: domain.ActionTaskCompleted,
		ReferenceType: "task", ReferenceID: t.ID,
	})
}

func (e Engine) GetTotalScore(ctx context.Context, userID, guildID string) (int, error) {
	total, err := e.Repo.TotalScore(ctx, userID, guildID)
	return total, storeErr("total score", err)
}

// GetLeaderboard ranks users by total. Equal totals go to whoever reached
// theirs first.
func (e Engine) GetLeaderboard(ctx context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	if guildID == "" {
		return nil, domain.Invalid("guild_id", "is required")
	}
	res, err := e.Repo.Leaderboard(ctx, guildID, limit)
	return res, storeErr("leaderboard", err)
}

// ScoreHistory lists a user's ledger rows, newest first.
func (e Engine) ScoreHistory(ctx context.Context, userID, guildID string, limit int) ([]domain.GuildScore, error) {
	res, err := e.Repo.ListScores(ctx, userID, guildID, limit)
	return res, storeErr("score history", err)
}
