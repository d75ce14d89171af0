package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"

	"pressflow/internal/app"
	"pressflow/internal/domain"
	"pressflow/internal/server"
	pressflowsdk "pressflow/sdk/go"
)

type testServer struct {
	URL string
	rt  *app.Runtime
}

func (s *testServer) client(actor string) *pressflowsdk.Client {
	return pressflowsdk.New(s.URL, actor)
}

func (s *testServer) member(t *testing.T, group, user string, role domain.Role) {
	t.Helper()
	if err := s.rt.Members.AddMember(context.Background(), group, user, role); err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	rt, err := app.Open(app.Options{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	handler, err := server.New(server.Config{Engine: rt.Engine, Members: rt.Members, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		rt.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), rt: rt}
}

func apiStatus(t *testing.T, err error) (int, string) {
	t.Helper()
	var apiErr *pressflowsdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected api error, got %v", err)
	}
	return apiErr.StatusCode, apiErr.Code
}

func TestActorHeaderRequired(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	_, err = srv.client("").MyTasks(context.Background())
	if status, code := apiStatus(t, err); status != http.StatusUnauthorized || code != "unauthorized" {
		t.Fatalf("got %d %s", status, code)
	}
}

func TestClaimConflict(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	srv.member(t, "desk", "alice", domain.RoleMember)
	srv.member(t, "desk", "bob", domain.RoleMember)

	tasks, err := srv.client("editor").AttachSequence(ctx, "article-1", []pressflowsdk.Stage{
		{Weight: 1, AssignedType: "group", AssigneeID: "desk", Title: "Copy edit"},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	mine, err := srv.client("bob").MyTasks(ctx)
	if err != nil || len(mine) != 1 {
		t.Fatalf("bob should see the claimable task: %v %v", mine, err)
	}
	claimed, err := srv.client("alice").Claim(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("alice claim: %v", err)
	}
	if claimed.Status != "in_progress" || claimed.AssignedUserID != "alice" {
		t.Fatalf("claimed task: %+v", claimed)
	}
	_, err = srv.client("bob").Claim(ctx, tasks[0].ID)
	if status, code := apiStatus(t, err); status != http.StatusConflict || code != "invalid_transition" {
		t.Fatalf("second claim: %d %s", status, code)
	}
	_, err = srv.client("bob").GetTask(ctx, "missing")
	if status, _ := apiStatus(t, err); status != http.StatusNotFound {
		t.Fatalf("missing task: %d", status)
	}
}

func TestRatificationOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	srv.member(t, "copy", "jr", domain.RoleJunior)
	srv.member(t, "copy", "sam", domain.RoleMentor)

	tasks, err := srv.client("editor").AttachSequence(ctx, "article-2", []pressflowsdk.Stage{
		{Weight: 1, AssignedType: "user", AssigneeID: "jr", Title: "Draft", GuildID: "copy", RequiresRatification: true},
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := srv.client("jr").Complete(ctx, tasks[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	queue, err := srv.client("sam").Reviewable(ctx)
	if err != nil || len(queue) != 1 {
		t.Fatalf("review queue: %v %v", queue, err)
	}
	_, err = srv.client("sam").RequestChanges(ctx, queue[0].ID, "  ")
	if status, code := apiStatus(t, err); status != http.StatusBadRequest || code != "validation_failed" {
		t.Fatalf("empty feedback: %d %s", status, code)
	}
	approved, err := srv.client("sam").Approve(ctx, queue[0].ID, "nice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != "approved" || approved.MentorUserID != "sam" {
		t.Fatalf("approved: %+v", approved)
	}
	board, err := srv.client("jr").Leaderboard(ctx, "copy", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 2 || board[0].UserID != "jr" || board[0].Total != 25 || board[1].Total != 5 {
		t.Fatalf("leaderboard: %+v", board)
	}
}

func TestPreferencesAndDigestPermission(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	bob := srv.client("bob")
	if _, err := bob.SetPreference(ctx, "", "weekly"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if _, err := bob.SetPreference(ctx, "desk", "use_default"); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if mode, err := bob.EffectiveMode(ctx, "desk"); err != nil || mode != "weekly" {
		t.Fatalf("effective mode: %s %v", mode, err)
	}
	_, err := bob.SetPreference(ctx, "", "use_default")
	if status, _ := apiStatus(t, err); status != http.StatusBadRequest {
		t.Fatalf("use_default as default: %d", status)
	}

	_, err = bob.RunDigest(ctx, "weekly")
	if status, _ := apiStatus(t, err); status != http.StatusForbidden {
		t.Fatalf("digest without capability: %d", status)
	}
	if err := srv.rt.Members.Grant(ctx, "ops", domain.CapDigestAdminister); err != nil {
		t.Fatal(err)
	}
	report, err := srv.client("ops").RunDigest(ctx, "weekly")
	if err != nil || report.Frequency != "weekly" {
		t.Fatalf("digest run: %+v %v", report, err)
	}
}

func TestOpenAPIConcurrentFirstFetch(t *testing.T) {
	srv := newTestServer(t)
	docs := make([][]byte, 8)
	errs := make([]error, len(docs))
	var wg sync.WaitGroup
	for i := range docs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := http.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			docs[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := range docs {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if !bytes.Contains(docs[i], []byte(`"openapi"`)) || !bytes.Equal(docs[i], docs[0]) {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
}
