// Package membership answers group membership, role and capability questions
// from the group_members and site_capabilities tables.
package membership

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"pressflow/internal/domain"
	"pressflow/internal/repo"
)

// Service is the SQL-backed membership oracle. Role strings are resolved to
// capabilities once, here, through Roles.
type Service struct {
	Repo   repo.Repo
	Roles  domain.RoleCapabilities
	Logger *log.Logger
	Now    func() time.Time
}

func New(r repo.Repo, roles domain.RoleCapabilities) *Service {
	if roles == nil {
		roles = domain.DefaultRoleCapabilities()
	}
	return &Service{Repo: r, Roles: roles, Now: time.Now}
}

func (s *Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Service) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	roles, err := s.Repo.MemberRoles(ctx, groupID, userID)
	if err != nil {
		return false, domain.Unavailable("membership", "is_member", err)
	}
	return len(roles) > 0, nil
}

// RolesOf returns the known roles a user holds in a group. Stored role
// strings that do not parse are skipped.
func (s *Service) RolesOf(ctx context.Context, userID, groupID string) ([]domain.Role, error) {
	raw, err := s.Repo.MemberRoles(ctx, groupID, userID)
	if err != nil {
		return nil, domain.Unavailable("membership", "roles_of", err)
	}
	roles := make([]domain.Role, 0, len(raw))
	for _, r := range raw {
		role, ok := domain.ParseRole(r)
		if !ok {
			s.logger().Warn("ignoring unknown role", "user", userID, "group", groupID, "role", r)
			continue
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *Service) MembersOf(ctx context.Context, groupID string) ([]string, error) {
	members, err := s.Repo.GroupMembers(ctx, groupID)
	if err != nil {
		return nil, domain.Unavailable("membership", "members_of", err)
	}
	return members, nil
}

func (s *Service) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	groups, err := s.Repo.UserGroups(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable("membership", "groups_of", err)
	}
	return groups, nil
}

// HasCapability checks site-level grants, used for administrative overrides.
func (s *Service) HasCapability(ctx context.Context, userID string, c domain.Capability) (bool, error) {
	ok, err := s.Repo.HasSiteCapability(ctx, userID, string(c))
	if err != nil {
		return false, domain.Unavailable("membership", "has_capability", err)
	}
	return ok, nil
}

// GroupCapability reports whether the user's roles in groupID grant c, or a
// site-level grant does.
func (s *Service) GroupCapability(ctx context.Context, userID, groupID string, c domain.Capability) (bool, error) {
	if ok, err := s.HasCapability(ctx, userID, c); err != nil || ok {
		return ok, err
	}
	roles, err := s.RolesOf(ctx, userID, groupID)
	if err != nil {
		return false, err
	}
	return s.Roles.Grants(roles, c), nil
}

// MembersWith returns the members of groupID whose roles grant c.
func (s *Service) MembersWith(ctx context.Context, groupID string, c domain.Capability) ([]string, error) {
	members, err := s.MembersOf(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range members {
		roles, err := s.RolesOf(ctx, m, groupID)
		if err != nil {
			return nil, err
		}
		if s.Roles.Grants(roles, c) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Service) AddMember(ctx context.Context, groupID, userID string, role domain.Role) error {
	if groupID == "" {
		return domain.Invalid("group_id", "required")
	}
	if userID == "" {
		return domain.Invalid("user_id", "required")
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return domain.Invalid("role", "unknown role "+string(role))
	}
	return s.Repo.AddMember(ctx, groupID, userID, string(role), domain.Timestamp(s.now()))
}

func (s *Service) RemoveMember(ctx context.Context, groupID, userID string, role domain.Role) error {
	return s.Repo.RemoveMember(ctx, groupID, userID, string(role))
}

func (s *Service) Grant(ctx context.Context, userID string, c domain.Capability) error {
	if !c.Valid() {
		return domain.Invalid("capability", "unknown capability "+string(c))
	}
	return s.Repo.GrantSiteCapability(ctx, userID, string(c), domain.Timestamp(s.now()))
}

func (s *Service) Revoke(ctx context.Context, userID string, c domain.Capability) error {
	return s.Repo.RevokeSiteCapability(ctx, userID, string(c))
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
