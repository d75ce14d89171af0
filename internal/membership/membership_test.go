package membership_test

import (
	"context"
	"errors"
	"testing"

	"pressflow/internal/db"
	"pressflow/internal/domain"
	"pressflow/internal/membership"
	"pressflow/internal/migrate"
	"pressflow/internal/repo"
)

func newService(t *testing.T) *membership.Service {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	return membership.New(repo.Repo{DB: conn}, nil)
}

func TestRolesAndCapabilities(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	if err := s.AddMember(ctx, "desk", "ann", domain.RoleJunior); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMember(ctx, "desk", "ann", domain.RoleMentor); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMember(ctx, "desk", "ben", domain.RoleMember); err != nil {
		t.Fatal(err)
	}
	roles, err := s.RolesOf(ctx, "ann", "desk")
	if err != nil || len(roles) != 2 {
		t.Fatalf("roles: %v %v", roles, err)
	}
	ok, err := s.GroupCapability(ctx, "ann", "desk", domain.CapReviewRatify)
	if err != nil || !ok {
		t.Fatalf("mentor role should grant review: %v %v", ok, err)
	}
	reviewers, err := s.MembersWith(ctx, "desk", domain.CapReviewRatify)
	if err != nil || len(reviewers) != 1 || reviewers[0] != "ann" {
		t.Fatalf("reviewers: %v %v", reviewers, err)
	}
	members, _ := s.MembersOf(ctx, "desk")
	if len(members) != 2 {
		t.Fatalf("members: %v", members)
	}

	if err := s.RemoveMember(ctx, "desk", "ann", domain.RoleMentor); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.GroupCapability(ctx, "ann", "desk", domain.CapReviewRatify); ok {
		t.Fatalf("review should be gone with the mentor role")
	}
	if member, _ := s.IsMember(ctx, "ann", "desk"); !member {
		t.Fatalf("ann keeps the junior role")
	}
	if err := s.RemoveMember(ctx, "desk", "ann", ""); err != nil {
		t.Fatal(err)
	}
	if member, _ := s.IsMember(ctx, "ann", "desk"); member {
		t.Fatalf("ann should be gone")
	}
}

func TestSiteGrants(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	if err := s.Grant(ctx, "boss", domain.CapTaskOverride); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasCapability(ctx, "boss", domain.CapTaskOverride); !ok {
		t.Fatalf("grant not visible")
	}
	if ok, _ := s.GroupCapability(ctx, "boss", "anywhere", domain.CapTaskOverride); !ok {
		t.Fatalf("site grant should apply in every group")
	}
	if err := s.Revoke(ctx, "boss", domain.CapTaskOverride); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.HasCapability(ctx, "boss", domain.CapTaskOverride); ok {
		t.Fatalf("revoke not applied")
	}
	if err := s.Grant(ctx, "boss", "root"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown capability: %v", err)
	}
	if err := s.AddMember(ctx, "desk", "x", "overlord"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown role: %v", err)
	}
}
