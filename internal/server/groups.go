package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
	"pressflow/internal/events"
	"pressflow/internal/membership"
)

func registerGroups(api huma.API, m *membership.Service) {
	if m == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "group-members",
		Method:      http.MethodGet,
		Path:        "/groups/{group_id}/members",
		Summary:     "Members of a group, optionally only those holding a capability",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		GroupID    string `path:"group_id"`
		Capability string `query:"capability"`
	}) (*out[MembersResponse], error) {
		var (
			members []string
			err     error
		)
		if input.Capability == "" {
			members, err = m.MembersOf(ctx, input.GroupID)
		} else {
			c := domain.Capability(input.Capability)
			if !c.Valid() {
				return nil, handleError(domain.Invalid("capability", "unknown capability "+input.Capability))
			}
			members, err = m.MembersWith(ctx, input.GroupID, c)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MembersResponse{GroupID: input.GroupID, Members: nonNil(members)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-groups",
		Method:      http.MethodGet,
		Path:        "/me/groups",
		Summary:     "Groups the caller belongs to",
	}, func(ctx context.Context, _ *struct{}) (*out[[]string], error) {
		groups, err := m.GroupsOf(ctx, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(groups)), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Recent audit events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*out[paginatedEvents], error) {
		items, err := events.Tail(ctx, e.DB, events.Filter{
			Type: input.Type, EntityKind: input.EntityKind, EntityID: input.EntityID, Limit: normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(domain.Unavailable("record store", "tail events", err))
		}
		return reply(paginatedEvents{Items: nonNil(items)}), nil
	})
}
