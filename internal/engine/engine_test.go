package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pressflow/internal/config"
	"pressflow/internal/db"
	"pressflow/internal/domain"
	"pressflow/internal/engine"
	"pressflow/internal/events"
	"pressflow/internal/membership"
	"pressflow/internal/migrate"
	"pressflow/internal/repo"
	"pressflow/internal/runlock"
)

type sentMail struct {
	User     string
	Template string
	Params   map[string]string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail map[string]bool
	hook func(user, template string)
}

func (m *fakeMailer) Send(ctx context.Context, userID, templateKey string, params map[string]string) error {
	m.mu.Lock()
	if m.fail[userID] {
		m.mu.Unlock()
		return errors.New("relay unavailable")
	}
	m.sent = append(m.sent, sentMail{User: userID, Template: templateKey, Params: params})
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		hook(userID, templateKey)
	}
	return nil
}

func (m *fakeMailer) to(userID, templateKey string) []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMail
	for _, s := range m.sent {
		if s.User == userID && s.Template == templateKey {
			out = append(out, s)
		}
	}
	return out
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Mail    *fakeMailer
	Members *membership.Service
	Lock    *runlock.Local
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	members := membership.New(repo.Repo{DB: conn}, cfg.RoleCapabilities())
	mailer := &fakeMailer{fail: map[string]bool{}}
	lock := runlock.NewLocal()
	eng := engine.New(conn, cfg, engine.Deps{Members: members, Caps: members, Mailer: mailer, Lock: lock})
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background(), Mail: mailer, Members: members, Lock: lock}
}

func (env testEnv) member(t *testing.T, group, user string, role domain.Role) {
	t.Helper()
	if err := env.Members.AddMember(env.Ctx, group, user, role); err != nil {
		t.Fatalf("add member %s to %s: %v", user, group, err)
	}
}

func (env testEnv) prefer(t *testing.T, user, group string, mode domain.DeliveryMode) {
	t.Helper()
	if _, err := env.Engine.SetPreference(env.Ctx, user, group, mode); err != nil {
		t.Fatalf("set preference: %v", err)
	}
}

func (env testEnv) attach(t *testing.T, content string, stages ...engine.StageSpec) []domain.WorkflowTask {
	t.Helper()
	tasks, err := env.Engine.AttachSequence(env.Ctx, content, stages, "editor")
	if err != nil {
		t.Fatalf("attach sequence: %v", err)
	}
	return tasks
}

func userStage(w int, user string) engine.StageSpec {
	return engine.StageSpec{Weight: w, AssignedType: domain.AssignUser, AssigneeID: user, Title: "stage"}
}

func groupStage(w int, group string) engine.StageSpec {
	return engine.StageSpec{Weight: w, AssignedType: domain.AssignGroup, AssigneeID: group, Title: "stage"}
}

func (env testEnv) task(t *testing.T, id string) domain.WorkflowTask {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	return task
}

func TestClaimExclusivity(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "desk", "alice", domain.RoleMember)
	env.member(t, "desk", "bob", domain.RoleMember)
	tasks := env.attach(t, "article-1", groupStage(1, "desk"))

	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, 2)
	for i, user := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			<-start
			_, errs[i] = env.Engine.Claim(env.Ctx, tasks[0].ID, user)
		}(i, user)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, domain.ErrInvalidTransition):
			t.Fatalf("loser got %v, want InvalidTransition", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one successful claim, got %d (%v)", wins, errs)
	}
	got := env.task(t, tasks[0].ID)
	if got.Status != domain.TaskInProgress || got.AssignedType != domain.AssignUser {
		t.Fatalf("unexpected task after claim: %+v", got)
	}
	if got.AssignedGroupID != nil || got.PreviousGroupID == nil || *got.PreviousGroupID != "desk" {
		t.Fatalf("group fields not rewritten: %+v", got)
	}
}

func TestClaimRequiresMembershipAndPending(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "desk", "alice", domain.RoleMember)
	tasks := env.attach(t, "article-1", groupStage(1, "desk"))

	ok, err := env.Engine.CanClaim(env.Ctx, tasks[0], "mallory")
	if err != nil || ok {
		t.Fatalf("non-member CanClaim = %v, %v", ok, err)
	}
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "mallory"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for non-member, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "alice"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition on claimed task, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, "missing", "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSequenceActivation(t *testing.T) {
	t.Run("user stage activates", func(t *testing.T) {
		env := newTestEnv(t)
		env.prefer(t, "bob", "", domain.ModeImmediate)
		tasks := env.attach(t, "article-1", userStage(1, "alice"), userStage(2, "bob"), userStage(3, "carol"))
		if tasks[0].Status != domain.TaskInProgress {
			t.Fatalf("first user stage should start in_progress, got %s", tasks[0].Status)
		}
		if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "alice"); err != nil {
			t.Fatal(err)
		}
		if got := env.task(t, tasks[1].ID).Status; got != domain.TaskInProgress {
			t.Fatalf("weight 2 = %s, want in_progress", got)
		}
		if got := env.task(t, tasks[2].ID).Status; got != domain.TaskPending {
			t.Fatalf("weight 3 = %s, want pending", got)
		}
		if len(env.Mail.to("bob", string(domain.EventTaskAssigned))) != 1 {
			t.Fatalf("bob should be told about the activated stage")
		}
	})
	t.Run("group stage stays pending", func(t *testing.T) {
		env := newTestEnv(t)
		env.member(t, "desk", "dora", domain.RoleMember)
		env.prefer(t, "dora", "", domain.ModeImmediate)
		tasks := env.attach(t, "article-2", userStage(1, "alice"), groupStage(2, "desk"), userStage(3, "carol"))
		if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "alice"); err != nil {
			t.Fatal(err)
		}
		if got := env.task(t, tasks[1].ID).Status; got != domain.TaskPending {
			t.Fatalf("group stage = %s, want pending", got)
		}
		if got := env.task(t, tasks[2].ID).Status; got != domain.TaskPending {
			t.Fatalf("weight 3 = %s, want pending", got)
		}
		if len(env.Mail.to("dora", string(domain.EventTaskAvailable))) != 1 {
			t.Fatalf("group members should hear the stage is available")
		}
	})
}

func TestAttachSequenceValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string][]engine.StageSpec{
		"duplicate weight": {userStage(1, "a"), userStage(1, "b")},
		"zero weight":      {userStage(0, "a")},
		"no assignee":      {userStage(1, "")},
		"bad type":         {{Weight: 1, AssignedType: "robot", AssigneeID: "r", Title: "x"}},
	}
	for name, stages := range cases {
		if _, err := env.Engine.AttachSequence(env.Ctx, "c-"+name, stages, "editor"); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected ValidationError, got %v", name, err)
		}
	}
	env.attach(t, "article-1", userStage(1, "a"))
	if _, err := env.Engine.AttachSequence(env.Ctx, "article-1", []engine.StageSpec{userStage(1, "a")}, "editor"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second attach should be rejected, got %v", err)
	}
}

func TestCompleteRequiresAssigneeOrOverride(t *testing.T) {
	env := newTestEnv(t)
	tasks := env.attach(t, "article-1", userStage(1, "alice"), userStage(2, "bob"))
	if _, err := env.Engine.Complete(env.Ctx, tasks[1].ID, "bob"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completing a pending task should fail, got %v", err)
	}
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "bob"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("non-assignee completion should fail, got %v", err)
	}
	if err := env.Members.Grant(env.Ctx, "chief", domain.CapTaskOverride); err != nil {
		t.Fatal(err)
	}
	done, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "chief")
	if err != nil {
		t.Fatalf("override completion: %v", err)
	}
	if done.Status != domain.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected task: %+v", done)
	}
	if _, err := env.Engine.Complete(env.Ctx, tasks[0].ID, "alice"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completing twice should fail, got %v", err)
	}
}

func TestReleaseReturnsToPreviousGroup(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "desk", "alice", domain.RoleMember)
	tasks := env.attach(t, "article-1", groupStage(1, "desk"))
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Release(env.Ctx, tasks[0].ID, "alice", "other-desk"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("mismatched group should be rejected, got %v", err)
	}
	released, err := env.Engine.Release(env.Ctx, tasks[0].ID, "alice", "")
	if err != nil {
		t.Fatal(err)
	}
	if released.Status != domain.TaskPending || released.AssignedType != domain.AssignGroup || *released.AssignedGroupID != "desk" {
		t.Fatalf("unexpected released task: %+v", released)
	}
	if released.AssignedUserID != nil || released.PreviousGroupID != nil {
		t.Fatalf("user fields should be cleared: %+v", released)
	}
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "alice"); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestSkipNeedsOverride(t *testing.T) {
	env := newTestEnv(t)
	tasks := env.attach(t, "article-1", userStage(1, "alice"), userStage(2, "bob"))
	if _, err := env.Engine.Skip(env.Ctx, tasks[0].ID, "alice", "not needed"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("skip without override should fail, got %v", err)
	}
	if err := env.Members.Grant(env.Ctx, "chief", domain.CapTaskOverride); err != nil {
		t.Fatal(err)
	}
	skipped, err := env.Engine.Skip(env.Ctx, tasks[0].ID, "chief", "not needed")
	if err != nil {
		t.Fatal(err)
	}
	if skipped.Status != domain.TaskSkipped {
		t.Fatalf("status = %s", skipped.Status)
	}
	if got := env.task(t, tasks[1].ID).Status; got != domain.TaskInProgress {
		t.Fatalf("next stage = %s, want in_progress", got)
	}
	if _, err := env.Engine.Skip(env.Ctx, tasks[0].ID, "chief", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("skipping a skipped task should fail, got %v", err)
	}
}

func TestTasksForUser(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "desk", "alice", domain.RoleMember)
	env.attach(t, "a-1", userStage(1, "alice"))
	env.attach(t, "a-2", groupStage(1, "desk"))
	env.attach(t, "a-3", groupStage(1, "photo"))
	tasks, err := env.Engine.TasksForUser(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 || tasks[0].ContentItemID != "a-1" || tasks[1].ContentItemID != "a-2" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	pending, err := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{Status: domain.TaskPending})
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
}

func TestTransitionsAreLogged(t *testing.T) {
	env := newTestEnv(t)
	env.member(t, "desk", "alice", domain.RoleMember)
	tasks := env.attach(t, "article-9", groupStage(1, "desk"))
	if _, err := env.Engine.Claim(env.Ctx, tasks[0].ID, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	claimed, err := events.Tail(env.Ctx, env.Engine.DB, events.Filter{Type: "task.claimed"})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(claimed) != 1 || claimed[0].EntityID != tasks[0].ID || claimed[0].ActorID != "alice" {
		t.Fatalf("unexpected claim events: %+v", claimed)
	}
	attached, err := events.Tail(env.Ctx, env.Engine.DB, events.Filter{EntityKind: "content", EntityID: "article-9"})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(attached) != 1 || attached[0].Type != "sequence.attached" || attached[0].ActorID != "editor" {
		t.Fatalf("unexpected content events: %+v", attached)
	}
}
