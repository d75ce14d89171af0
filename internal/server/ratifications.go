package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

func registerRatifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-ratification",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/ratifications",
		Summary:       "Raise a ratification request for a completed task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body RatificationRequest `json:"body"`
	}) (*out[domain.Ratification], error) {
		rt, err := e.CreateRatificationRequest(ctx, input.ID, input.Body.JuniorUserID, input.Body.GuildID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rt), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-ratifications",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/ratifications",
		Summary:     "Every ratification round for a task",
	}, func(ctx context.Context, input *taskPath) (*out[[]domain.Ratification], error) {
		items, err := e.GetForTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "guild-pending-ratifications",
		Method:      http.MethodGet,
		Path:        "/guilds/{guild_id}/ratifications/pending",
		Summary:     "Pending ratifications in a guild",
	}, func(ctx context.Context, input *struct {
		GuildID string `path:"guild_id"`
	}) (*out[[]domain.Ratification], error) {
		items, err := e.GetPendingForGuild(ctx, input.GuildID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-review-queue",
		Method:      http.MethodGet,
		Path:        "/me/ratifications/reviewable",
		Summary:     "Pending ratifications the caller may review",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Ratification], error) {
		items, err := e.GetPendingForMentor(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-ratifications",
		Method:      http.MethodGet,
		Path:        "/me/ratifications",
		Summary:     "Ratifications raised on the caller's work",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.Ratification], error) {
		items, err := e.GetForJunior(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-ratification",
		Method:      http.MethodGet,
		Path:        "/ratifications/{id}",
		Summary:     "Get ratification",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*out[domain.Ratification], error) {
		rt, err := e.GetRatification(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rt), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-ratification",
		Method:      http.MethodPost,
		Path:        "/ratifications/{id}/claim",
		Summary:     "Claim a pending ratification for review",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*out[domain.Ratification], error) {
		rt, err := e.ClaimRatification(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rt), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-ratification",
		Method:      http.MethodPost,
		Path:        "/ratifications/{id}/approve",
		Summary:     "Approve a ratification",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*out[domain.Ratification], error) {
		rt, err := e.Approve(ctx, input.ID, actorID(ctx), input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rt), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-changes",
		Method:      http.MethodPost,
		Path:        "/ratifications/{id}/request-changes",
		Summary:     "Send a ratified task back with feedback",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body FeedbackRequest `json:"body"`
	}) (*out[domain.Ratification], error) {
		rt, err := e.RequestChanges(ctx, input.ID, actorID(ctx), input.Body.Feedback)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rt), nil
	})
}
