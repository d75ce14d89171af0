package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-preferences",
		Method:      http.MethodGet,
		Path:        "/me/preferences",
		Summary:     "The caller's default and per-group delivery modes",
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.NotificationPreference], error) {
		prefs, err := e.Preferences(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(prefs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-preference",
		Method:      http.MethodPut,
		Path:        "/me/preferences",
		Summary:     "Set the default (no group_id) or a group override",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body PreferenceRequest `json:"body"`
	}) (*out[domain.NotificationPreference], error) {
		p, err := e.SetPreference(ctx, actorID(ctx), input.Body.GroupID, domain.DeliveryMode(input.Body.Mode))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-preference",
		Method:        http.MethodDelete,
		Path:          "/me/preferences",
		Summary:       "Remove the default or a group override",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		GroupID string `query:"group_id"`
	}) (*struct{}, error) {
		if err := e.ClearPreference(ctx, actorID(ctx), input.GroupID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-preference",
		Method:      http.MethodGet,
		Path:        "/me/preferences/effective",
		Summary:     "Effective delivery mode for the caller, optionally within a group",
	}, func(ctx context.Context, input *struct {
		GroupID string `query:"group_id"`
	}) (*out[ResolvedModeResponse], error) {
		user := actorID(ctx)
		return reply(ResolvedModeResponse{UserID: user, GroupID: input.GroupID, Mode: e.Resolve(ctx, user, input.GroupID)}), nil
	})

	type digestPath struct {
		Frequency string `path:"frequency" enum:"daily,weekly"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "pending-digest",
		Method:      http.MethodGet,
		Path:        "/digests/{frequency}",
		Summary:     "Entries the next digest run would deliver (digest.run)",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *digestPath) (*out[[]QueueEntryResponse], error) {
		if err := requireSiteCapability(ctx, e, domain.CapDigestAdminister); err != nil {
			return nil, err
		}
		entries, err := e.PendingDigest(ctx, domain.Frequency(input.Frequency))
		if err != nil {
			return nil, handleError(err)
		}
		resp := make([]QueueEntryResponse, 0, len(entries))
		for _, en := range entries {
			resp = append(resp, queueEntryResponse(en))
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-digest",
		Method:      http.MethodPost,
		Path:        "/digests/{frequency}/run",
		Summary:     "Drain one digest frequency now (digest.run)",
		Errors:      []int{http.StatusForbidden, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *digestPath) (*out[engine.DigestReport], error) {
		if err := requireSiteCapability(ctx, e, domain.CapDigestAdminister); err != nil {
			return nil, err
		}
		report, err := e.RunDigest(ctx, domain.Frequency(input.Frequency))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(report), nil
	})
}

func requireSiteCapability(ctx context.Context, e engine.Engine, c domain.Capability) huma.StatusError {
	if e.Caps == nil {
		return newAPIError(http.StatusForbidden, "", "capability "+string(c)+" required", nil)
	}
	ok, err := e.Caps.HasCapability(ctx, actorID(ctx), c)
	if err != nil {
		return handleError(domain.Unavailable("capability", "has_capability", err))
	}
	if !ok {
		return newAPIError(http.StatusForbidden, "", "capability "+string(c)+" required", map[string]any{"capability": c})
	}
	return nil
}
