package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

type guildUserPath struct {
	GuildID string `path:"guild_id"`
	UserID  string `path:"user_id"`
}

func registerGuilds(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/leaderboard",
		Summary:     "Guild leaderboard",
	}, func(ctx context.Context, input *struct {
		GuildID string `path:"guild_id"`
		Limit   int    `query:"limit" default:"10"`
	}) (*out[[]domain.LeaderboardEntry], error) {
		board, err := e.GetLeaderboard(ctx, input.GuildID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(board)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-score",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/scores/{user_id}",
		Summary:     "A member's total and recent ledger rows",
	}, func(ctx context.Context, input *struct {
		GuildID string `path:"guild_id"`
		UserID  string `path:"user_id"`
		Limit   int    `query:"limit" default:"20"`
	}) (*out[ScoreResponse], error) {
		total, err := e.GetTotalScore(ctx, input.UserID, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		history, err := e.ScoreHistory(ctx, input.UserID, input.GuildID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ScoreResponse{UserID: input.UserID, GuildID: input.GuildID, Total: total, History: nonNil(history)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "endorse",
		Method:        http.MethodPost,
		Path:          "/guilds/{guild_id}/endorsements",
		Summary:       "Endorse a guild member",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		GuildID string         `path:"guild_id"`
		Body    EndorseRequest `json:"body"`
	}) (*out[domain.Endorsement], error) {
		en, err := e.Endorse(ctx, engine.EndorseOptions{
			EndorserID: actorID(ctx),
			EndorseeID: input.Body.EndorseeID,
			GuildID:    input.GuildID,
			SkillID:    input.Body.SkillID,
			Comment:    input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(en), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-endorsements",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/endorsements/{user_id}",
		Summary:     "Endorsements a member received in a guild",
	}, func(ctx context.Context, input *guildUserPath) (*out[[]domain.Endorsement], error) {
		items, err := e.ListEndorsements(ctx, input.UserID, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}
