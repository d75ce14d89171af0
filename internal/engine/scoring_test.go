package engine_test

import (
	"errors"
	"testing"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

func award(t *testing.T, env testEnv, user string, action domain.ScoreAction, points *int, ref string) domain.GuildScore {
	t.Helper()
	s, err := env.Engine.AwardPoints(env.Ctx, engine.Award{
		UserID: user, GuildID: "g1", Action: action, Points: points, ReferenceType: "task", ReferenceID: ref,
	})
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	return s
}

func TestTotalsAreLedgerSums(t *testing.T) {
	env := newTestEnv(t)
	seven := 7
	award(t, env, "u1", domain.ActionEndorsementGiven, nil, "r1")
	award(t, env, "u1", domain.ActionTaskRatified, &seven, "r2")
	award(t, env, "u2", domain.ActionTaskCompleted, nil, "r3")

	u1, _ := env.Engine.GetTotalScore(env.Ctx, "u1", "g1")
	u2, _ := env.Engine.GetTotalScore(env.Ctx, "u2", "g1")
	if u1 != 12 || u2 != 10 {
		t.Fatalf("totals u1=%d u2=%d, want 12 and 10", u1, u2)
	}
	row := award(t, env, "u1", domain.ActionTaskCompleted, nil, "r4")
	if row.Points != 10 || row.ID == 0 {
		t.Fatalf("default points not applied: %+v", row)
	}
	after1, _ := env.Engine.GetTotalScore(env.Ctx, "u1", "g1")
	after2, _ := env.Engine.GetTotalScore(env.Ctx, "u2", "g1")
	if after1 != u1+row.Points || after2 != u2 {
		t.Fatalf("after insert u1=%d u2=%d", after1, after2)
	}
	if other, _ := env.Engine.GetTotalScore(env.Ctx, "u1", "g2"); other != 0 {
		t.Fatalf("other guild total = %d", other)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	env := newTestEnv(t)
	award(t, env, "ann", domain.ActionTaskCompleted, nil, "1")     // ann 10
	award(t, env, "ben", domain.ActionTaskRatified, nil, "2")      // ben 15
	award(t, env, "cat", domain.ActionRatificationGiven, nil, "3") // cat 5
	award(t, env, "cat", domain.ActionRatificationGiven, nil, "4") // cat 10, after ann
	board, err := env.Engine.GetLeaderboard(env.Ctx, "g1", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"ben", "ann", "cat"}
	if len(board) != len(want) {
		t.Fatalf("board: %+v", board)
	}
	for i, u := range want {
		if board[i].UserID != u || board[i].Rank != i+1 {
			t.Fatalf("position %d = %+v, want %s", i, board[i], u)
		}
	}
	if top, _ := env.Engine.GetLeaderboard(env.Ctx, "g1", 1); len(top) != 1 || top[0].UserID != "ben" {
		t.Fatalf("limit not applied: %+v", top)
	}
}

func TestAwardValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AwardPoints(env.Ctx, engine.Award{UserID: "u", GuildID: "g", Action: "bribe", ReferenceType: "task", ReferenceID: "1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unknown action: %v", err)
	}
	_, err = env.Engine.AwardPoints(env.Ctx, engine.Award{UserID: "u", Action: domain.ActionTaskCompleted, ReferenceType: "task", ReferenceID: "1"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing guild: %v", err)
	}
}

func TestEndorse(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "g1", "ann", domain.RoleMember)
	env.member(t, "g1", "ben", domain.RoleJunior)
	env.prefer(t, "ben", "", domain.ModeImmediate)

	if _, err := env.Engine.Endorse(env.Ctx, engine.EndorseOptions{EndorserID: "ann", EndorseeID: "ann", GuildID: "g1"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("self-endorsement should be rejected, got %v", err)
	}
	if _, err := env.Engine.Endorse(env.Ctx, engine.EndorseOptions{EndorserID: "ben", EndorseeID: "ann", GuildID: "g1"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("junior may not endorse, got %v", err)
	}
	if _, err := env.Engine.Endorse(env.Ctx, engine.EndorseOptions{EndorserID: "ann", EndorseeID: "stranger", GuildID: "g1"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("endorsing a non-member should be rejected, got %v", err)
	}
	en, err := env.Engine.Endorse(env.Ctx, engine.EndorseOptions{EndorserID: "ann", EndorseeID: "ben", GuildID: "g1", SkillID: "headlines", Comment: "sharp"})
	if err != nil {
		t.Fatal(err)
	}
	if ann, _ := env.Engine.GetTotalScore(env.Ctx, "ann", "g1"); ann != 5 {
		t.Fatalf("endorser total = %d, want 5", ann)
	}
	if ben, _ := env.Engine.GetTotalScore(env.Ctx, "ben", "g1"); ben != 20 {
		t.Fatalf("endorsee total = %d, want 20", ben)
	}
	mails := env.Mail.to("ben", string(domain.EventEndorsementReceived))
	if len(mails) != 1 || mails[0].Params["endorser_id"] != "ann" {
		t.Fatalf("endorsee notification: %+v", mails)
	}
	list, err := env.Engine.ListEndorsements(env.Ctx, "ben", "g1")
	if err != nil || len(list) != 1 || list[0].ID != en.ID || *list[0].SkillID != "headlines" {
		t.Fatalf("list endorsements: %+v, %v", list, err)
	}
}
