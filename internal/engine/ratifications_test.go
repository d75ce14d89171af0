package engine_test

import (
	"errors"
	"testing"

	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

// seedReview builds a guild with a junior and two mentors and returns a
// ratification raised by the junior completing a sign-off task.
func seedReview(t *testing.T, env testEnv) (domain.WorkflowTask, domain.Ratification) {
	t.Helper()
	env.member(t, "guild-copy", "jr", domain.RoleJunior)
	env.member(t, "guild-copy", "mentor", domain.RoleMentor)
	env.member(t, "guild-copy", "mentor2", domain.RoleMentor)
	env.prefer(t, "jr", "", domain.ModeImmediate)
	env.prefer(t, "mentor", "", domain.ModeImmediate)
	tasks := env.attach(t, "article-1", engine.StageSpec{
		Weight: 1, AssignedType: domain.AssignUser, AssigneeID: "jr", Title: "Copy edit",
		GuildID: "guild-copy", RequiresRatification: true,
	})
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "jr"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rounds, err := env.Engine.GetForTask(env.Ctx, tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 1 || rounds[0].Status != domain.RatificationPending {
		t.Fatalf("expected one pending ratification, got %+v", rounds)
	}
	return tasks[0], rounds[0]
}

func TestApproveScenario(t *testing.T) {
	env := newTestEnv(t)
	task, rt := seedReview(t, env)
	if rt.MentorUserID != nil {
		t.Fatalf("new ratification should be unclaimed")
	}
	if len(env.Mail.to("mentor", string(domain.EventRatificationRequested))) != 1 {
		t.Fatalf("mentor should be asked to review")
	}
	if len(env.Mail.to("jr", string(domain.EventRatificationRequested))) != 0 {
		t.Fatalf("junior must not be asked to review their own work")
	}

	claimed, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "mentor")
	if err != nil {
		t.Fatal(err)
	}
	if claimed.MentorUserID == nil || *claimed.MentorUserID != "mentor" || claimed.Status != domain.RatificationPending {
		t.Fatalf("unexpected claim result: %+v", claimed)
	}

	approved, err := env.Engine.Approve(env.Ctx, rt.ID, "mentor", "looks good")
	if err != nil {
		t.Fatal(err)
	}
	if approved.Status != domain.RatificationApproved || approved.Feedback != "looks good" {
		t.Fatalf("unexpected ratification: %+v", approved)
	}
	stored, err := env.Engine.GetRatification(env.Ctx, rt.ID)
	if err != nil || stored.Status != domain.RatificationApproved {
		t.Fatalf("stored ratification: %+v, %v", stored, err)
	}
	if got := env.task(t, task.ID).Status; got != domain.TaskCompleted {
		t.Fatalf("task status = %s, want completed", got)
	}

	var ratRows []domain.GuildScore
	for _, user := range []string{"jr", "mentor"} {
		rows, err := env.Engine.ScoreHistory(env.Ctx, user, "guild-copy", 0)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range rows {
			if r.ReferenceType == "ratification" && r.ReferenceID == rt.ID {
				ratRows = append(ratRows, r)
			}
		}
	}
	if len(ratRows) != 2 {
		t.Fatalf("expected two ledger rows for the ratification, got %+v", ratRows)
	}
	actions := map[domain.ScoreAction]string{}
	for _, r := range ratRows {
		actions[r.ActionType] = r.UserID
	}
	if actions[domain.ActionTaskRatified] != "jr" || actions[domain.ActionRatificationGiven] != "mentor" {
		t.Fatalf("wrong recipients: %v", actions)
	}
	if total, _ := env.Engine.GetTotalScore(env.Ctx, "jr", "guild-copy"); total != 25 {
		t.Fatalf("junior total = %d, want 10 (completion) + 15 (ratified)", total)
	}
	if len(env.Mail.to("jr", string(domain.EventRatificationApproved))) != 1 {
		t.Fatalf("junior should be notified of approval")
	}
	if pending, _ := env.Engine.HasPendingRatification(env.Ctx, task.ID); pending {
		t.Fatalf("no ratification should be pending after approval")
	}
}

func TestRequestChangesRejectsEmptyFeedback(t *testing.T) {
	env := newTestEnv(t)
	task, rt := seedReview(t, env)
	before, err := env.Engine.ScoreHistory(env.Ctx, "mentor", "guild-copy", 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, fb := range []string{"", "   "} {
		if _, err := env.Engine.RequestChanges(env.Ctx, rt.ID, "mentor", fb); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("feedback %q: expected ValidationError, got %v", fb, err)
		}
	}
	stored, err := env.Engine.GetRatification(env.Ctx, rt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.RatificationPending || stored.MentorUserID != nil {
		t.Fatalf("ratification mutated: %+v", stored)
	}
	if got := env.task(t, task.ID).Status; got != domain.TaskCompleted {
		t.Fatalf("task mutated: %s", got)
	}
	after, _ := env.Engine.ScoreHistory(env.Ctx, "mentor", "guild-copy", 0)
	if len(after) != len(before) {
		t.Fatalf("ledger rows created: before=%d after=%d", len(before), len(after))
	}
}

func TestRequestChangesReopensTask(t *testing.T) {
	env := newTestEnv(t)
	task, rt := seedReview(t, env)
	res, err := env.Engine.RequestChanges(env.Ctx, rt.ID, "mentor", "tighten the lede")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.RatificationChangesRequested || res.Feedback != "tighten the lede" {
		t.Fatalf("unexpected ratification: %+v", res)
	}
	reopened := env.task(t, task.ID)
	if reopened.Status != domain.TaskInProgress || reopened.CompletedAt != nil {
		t.Fatalf("task not reopened: %+v", reopened)
	}
	mails := env.Mail.to("jr", string(domain.EventRatificationChangesRequested))
	if len(mails) != 1 || mails[0].Params["feedback"] != "tighten the lede" {
		t.Fatalf("junior should receive the feedback: %+v", mails)
	}
	// a second round opens after the junior completes again
	if _, err := env.Engine.Complete(env.Ctx, task.ID, "jr"); err != nil {
		t.Fatal(err)
	}
	rounds, err := env.Engine.GetForTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rounds) != 2 {
		t.Fatalf("expected two review rounds, got %d", len(rounds))
	}
}

func TestNoSelfRatification(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "guild-copy", "sam", domain.RoleMentor)
	tasks := env.attach(t, "article-1", engine.StageSpec{
		Weight: 1, AssignedType: domain.AssignUser, AssigneeID: "sam", Title: "Layout",
		GuildID: "guild-copy", RequiresRatification: true,
	})
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if pending, _ := env.Engine.HasPendingRatification(env.Ctx, tasks[0].ID); pending {
		t.Fatalf("a mentor's own work should not need ratification")
	}
	rt, err := env.Engine.CreateRatificationRequest(env.Ctx, tasks[0].ID, "sam", "guild-copy", "editor")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "sam"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("self-claim should be rejected, got %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, rt.ID, "sam", "fine"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("self-approval should be rejected, got %v", err)
	}
	if _, err := env.Engine.CreateRatificationRequest(env.Ctx, tasks[0].ID, "sam", "guild-copy", "editor"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second pending ratification should be rejected, got %v", err)
	}
}

func TestRatificationClaimIsExclusive(t *testing.T) {
	env := newTestEnv(t)
	_, rt := seedReview(t, env)
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "mentor"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "mentor"); err != nil {
		t.Fatalf("reclaim by the same mentor should be a no-op, got %v", err)
	}
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "mentor2"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second mentor should lose, got %v", err)
	}
	if _, err := env.Engine.Approve(env.Ctx, rt.ID, "mentor2", "ok"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("non-claimant approval should be rejected, got %v", err)
	}
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "outsider"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("user without review capability should be rejected, got %v", err)
	}
}

func TestPendingForMentor(t *testing.T) {
	env := newTestEnv(t)
	_, rt := seedReview(t, env)
	for _, m := range []string{"mentor", "mentor2"} {
		got, err := env.Engine.GetPendingForMentor(env.Ctx, m)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != rt.ID {
			t.Fatalf("%s should see the unclaimed request: %+v", m, got)
		}
	}
	if _, err := env.Engine.ClaimRatification(env.Ctx, rt.ID, "mentor"); err != nil {
		t.Fatal(err)
	}
	if got, _ := env.Engine.GetPendingForMentor(env.Ctx, "mentor2"); len(got) != 0 {
		t.Fatalf("claimed request should leave mentor2's queue: %+v", got)
	}
	if got, _ := env.Engine.GetPendingForMentor(env.Ctx, "jr"); len(got) != 0 {
		t.Fatalf("junior should not see their own request: %+v", got)
	}
	if got, _ := env.Engine.GetPendingForGuild(env.Ctx, "guild-copy"); len(got) != 1 {
		t.Fatalf("guild queue = %d, want 1", len(got))
	}
	if got, _ := env.Engine.GetForJunior(env.Ctx, "jr"); len(got) != 1 {
		t.Fatalf("junior history = %d, want 1", len(got))
	}
}

func countAction(t *testing.T, env testEnv, user string, action domain.ScoreAction, ref string) int {
	t.Helper()
	rows, err := env.Engine.ScoreHistory(env.Ctx, user, "guild-copy", 0)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, r := range rows {
		if r.ActionType == action && r.ReferenceID == ref {
			n++
		}
	}
	return n
}

func TestSequenceWaitsForApproval(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "guild-copy", "jr", domain.RoleJunior)
	env.member(t, "guild-copy", "mentor", domain.RoleMentor)
	env.prefer(t, "ed", "", domain.ModeImmediate)
	tasks := env.attach(t, "article-7",
		engine.StageSpec{
			Weight: 1, AssignedType: domain.AssignUser, AssigneeID: "jr", Title: "Draft",
			GuildID: "guild-copy", RequiresRatification: true,
		},
		userStage(2, "ed"),
		userStage(3, "pub"),
	)
	statuses := func() [3]domain.TaskStatus {
		return [3]domain.TaskStatus{
			env.task(t, tasks[0].ID).Status, env.task(t, tasks[1].ID).Status, env.task(t, tasks[2].ID).Status,
		}
	}
	review := func() domain.Ratification {
		t.Helper()
		rounds, err := env.Engine.GetPendingForGuild(env.Ctx, "guild-copy")
		if err != nil || len(rounds) != 1 {
			t.Fatalf("pending rounds: %+v %v", rounds, err)
		}
		return rounds[0]
	}

	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "jr"); err != nil {
		t.Fatal(err)
	}
	if got := statuses(); got != [3]domain.TaskStatus{domain.TaskCompleted, domain.TaskPending, domain.TaskPending} {
		t.Fatalf("after completion under review: %v", got)
	}
	if n := countAction(t, env, "jr", domain.ActionTaskCompleted, tasks[0].ID); n != 0 {
		t.Fatalf("completion credited before approval: %d rows", n)
	}

	if _, err := env.Engine.RequestChanges(env.Ctx, review().ID, "mentor", "more sources"); err != nil {
		t.Fatal(err)
	}
	if got := statuses(); got != [3]domain.TaskStatus{domain.TaskInProgress, domain.TaskPending, domain.TaskPending} {
		t.Fatalf("after changes requested: %v", got)
	}

	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "jr"); err != nil {
		t.Fatal(err)
	}
	if got := statuses(); got != [3]domain.TaskStatus{domain.TaskCompleted, domain.TaskPending, domain.TaskPending} {
		t.Fatalf("after second completion: %v", got)
	}
	if len(env.Mail.to("ed", string(domain.EventTaskAssigned))) != 0 {
		t.Fatalf("next assignee notified before approval")
	}

	if _, err := env.Engine.Approve(env.Ctx, review().ID, "mentor", ""); err != nil {
		t.Fatal(err)
	}
	if got := statuses(); got != [3]domain.TaskStatus{domain.TaskCompleted, domain.TaskInProgress, domain.TaskPending} {
		t.Fatalf("after approval: %v", got)
	}
	if len(env.Mail.to("ed", string(domain.EventTaskAssigned))) != 1 {
		t.Fatalf("next assignee should be notified on approval")
	}
	if n := countAction(t, env, "jr", domain.ActionTaskCompleted, tasks[0].ID); n != 1 {
		t.Fatalf("task_completed rows = %d, want 1", n)
	}
	if total, _ := env.Engine.GetTotalScore(env.Ctx, "jr", "guild-copy"); total != 25 {
		t.Fatalf("junior total = %d, want 25", total)
	}
}

func TestLateReviewLeavesSequenceAlone(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "guild-copy", "sam", domain.RoleMember)
	env.member(t, "guild-copy", "mentor", domain.RoleMentor)
	tasks := env.attach(t, "article-8",
		engine.StageSpec{Weight: 1, AssignedType: domain.AssignUser, AssigneeID: "sam", Title: "Draft", GuildID: "guild-copy"},
		userStage(2, "ed"),
		userStage(3, "pub"),
	)
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "sam"); err != nil {
		t.Fatal(err)
	}
	rt, err := env.Engine.CreateRatificationRequest(env.Ctx, tasks[0].ID, "sam", "guild-copy", "editor")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Approve(env.Ctx, rt.ID, "mentor", ""); err != nil {
		t.Fatal(err)
	}
	if got := env.task(t, tasks[1].ID).Status; got != domain.TaskInProgress {
		t.Fatalf("stage 2 = %s, want in_progress", got)
	}
	if got := env.task(t, tasks[2].ID).Status; got != domain.TaskPending {
		t.Fatalf("stage 3 = %s, want pending", got)
	}
	if n := countAction(t, env, "sam", domain.ActionTaskCompleted, tasks[0].ID); n != 1 {
		t.Fatalf("task_completed rows = %d, want 1", n)
	}
}

func TestRatificationRequestMustMatchTask(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "guild-copy", "sam", domain.RoleMentor)
	tasks := env.attach(t, "article-1", engine.StageSpec{
		Weight: 1, AssignedType: domain.AssignUser, AssigneeID: "sam", Title: "Layout", GuildID: "guild-copy",
	})
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "sam"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateRatificationRequest(env.Ctx, tasks[0].ID, "someone", "guild-copy", "editor"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("foreign junior: expected ValidationError, got %v", err)
	}
	if _, err := env.Engine.CreateRatificationRequest(env.Ctx, tasks[0].ID, "sam", "guild-other", "editor"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("foreign guild: expected ValidationError, got %v", err)
	}
	if pending, _ := env.Engine.HasPendingRatification(env.Ctx, tasks[0].ID); pending {
		t.Fatalf("rejected requests must not be stored")
	}
}

func TestDecisionsCommitWhenSideEffectsFail(t *testing.T) {
	env := newTestEnv(t)
	task, rt := seedReview(t, env)
	env.Mail.fail["jr"] = true

	approved, err := env.Engine.Approve(env.Ctx, rt.ID, "mentor", "")
	if err != nil {
		t.Fatalf("approve with failing mailer: %v", err)
	}
	if approved.Status != domain.RatificationApproved {
		t.Fatalf("status = %s", approved.Status)
	}
	stored, err := env.Engine.GetRatification(env.Ctx, rt.ID)
	if err != nil || stored.Status != domain.RatificationApproved {
		t.Fatalf("stored: %+v %v", stored, err)
	}
	if got := env.task(t, task.ID).Status; got != domain.TaskCompleted {
		t.Fatalf("task = %s, want completed", got)
	}
	if countAction(t, env, "jr", domain.ActionTaskRatified, rt.ID) != 1 || countAction(t, env, "mentor", domain.ActionRatificationGiven, rt.ID) != 1 {
		t.Fatalf("ledger rows missing after mail failure")
	}
}

func TestRequestChangesCommitsWhenScoringAndMailFail(t *testing.T) {
	env := newTestEnv(t)
	task, rt := seedReview(t, env)
	env.Mail.fail["jr"] = true
	if _, err := env.Engine.DB.Exec(`DROP TABLE guild_scores`); err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.RequestChanges(env.Ctx, rt.ID, "mentor", "cut the intro"); err != nil {
		t.Fatalf("request changes: %v", err)
	}
	if got := env.task(t, task.ID).Status; got != domain.TaskInProgress {
		t.Fatalf("task = %s, want in_progress", got)
	}
	if _, err := env.Engine.Complete(env.Ctx, task.ID, "jr"); err != nil {
		t.Fatal(err)
	}
	next, err := env.Engine.GetPendingForGuild(env.Ctx, "guild-copy")
	if err != nil || len(next) != 1 {
		t.Fatalf("second round: %+v %v", next, err)
	}
	if _, err := env.Engine.Approve(env.Ctx, next[0].ID, "mentor", ""); err != nil {
		t.Fatalf("approve with a broken ledger: %v", err)
	}
	if got := env.task(t, task.ID).Status; got != domain.TaskCompleted {
		t.Fatalf("task = %s, want completed", got)
	}
}
