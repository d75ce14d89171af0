package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

type taskPath struct {
	ID string `path:"id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "attach-sequence",
		Method:        http.MethodPost,
		Path:          "/content/{content_id}/sequence",
		Summary:       "Attach a task sequence to a content item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ContentID string                `path:"content_id"`
		Body      AttachSequenceRequest `json:"body"`
	}) (*out[[]domain.WorkflowTask], error) {
		tasks, err := e.AttachSequence(ctx, input.ContentID, stageSpecs(input.Body.Stages), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tasks), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "content-status",
		Method:      http.MethodGet,
		Path:        "/content/{content_id}/status",
		Summary:     "Task counts and stages for a content item",
	}, func(ctx context.Context, input *struct {
		ContentID string `path:"content_id"`
	}) (*out[ContentStatusResponse], error) {
		tasks, err := e.ListTasks(ctx, engine.TaskFilter{ContentItemID: input.ContentID})
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountTasksByStatus(ctx, input.ContentID)
		if err != nil {
			return nil, handleError(domain.Unavailable("record store", "count tasks", err))
		}
		return reply(ContentStatusResponse{ContentItemID: input.ContentID, Counts: counts, Tasks: nonNil(tasks)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ContentItemID  string `query:"content_item_id"`
		AssignedUserID string `query:"assigned_user_id"`
		GroupID        string `query:"group_id"`
		Status         string `query:"status" enum:"pending,in_progress,completed,skipped"`
		Limit          int    `query:"limit" default:"50"`
	}) (*out[[]domain.WorkflowTask], error) {
		f := engine.TaskFilter{
			ContentItemID:  input.ContentItemID,
			AssignedUserID: input.AssignedUserID,
			Status:         domain.TaskStatus(input.Status),
			Limit:          normalizeLimit(input.Limit),
		}
		if input.GroupID != "" {
			f.GroupIDs = []string{input.GroupID}
		}
		tasks, err := e.ListTasks(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-tasks",
		Method:      http.MethodGet,
		Path:        "/me/tasks",
		Summary:     "Tasks assigned to the caller or claimable in the caller's groups",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.WorkflowTask], error) {
		tasks, err := e.TasksForUser(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(tasks)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*out[domain.WorkflowTask], error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/claim",
		Summary:     "Claim a pending group task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*out[domain.WorkflowTask], error) {
		t, err := e.Claim(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete an in-progress task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *taskPath) (*out[domain.WorkflowTask], error) {
		t, err := e.Complete(ctx, input.ID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/release",
		Summary:     "Return a claimed task to its group",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		GroupID string `query:"group_id"`
	}) (*out[domain.WorkflowTask], error) {
		t, err := e.Release(ctx, input.ID, actorID(ctx), input.GroupID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/skip",
		Summary:     "Skip a task (task.override)",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Reason string `query:"reason"`
	}) (*out[domain.WorkflowTask], error) {
		t, err := e.Skip(ctx, input.ID, actorID(ctx), input.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})
}
