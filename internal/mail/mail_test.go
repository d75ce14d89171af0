package mail_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"pressflow/internal/mail"
)

func TestSubject(t *testing.T) {
	got := mail.Subject("task.assigned", map[string]string{"title": "Copy edit"})
	if got != "Task assigned to you: Copy edit" {
		t.Fatalf("subject = %q", got)
	}
	if got := mail.Subject("custom.key", nil); got != "custom.key" {
		t.Fatalf("unknown key subject = %q", got)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := mail.RenderHTML("- **task.available** Copy edit\n- ratification.approved")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "<li>") || !strings.Contains(html, "<strong>task.available</strong>") {
		t.Fatalf("unexpected html: %s", html)
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := mail.LogMailer{Logger: log.New(&buf)}
	if err := m.Send(context.Background(), "u1", "task.available", map[string]string{"title": "Lede"}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "u1") || !strings.Contains(out, "New task available: Lede") {
		t.Fatalf("log output missing fields: %s", out)
	}
}

func TestWebhookMailer(t *testing.T) {
	var got struct {
		UserID   string            `json:"user_id"`
		Template string            `json:"template"`
		Params   map[string]string `json:"params"`
		HTML     string            `json:"html"`
	}
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Pressflow-Secret")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := mail.NewWebhookMailer(srv.URL, "s3cret", time.Second)
	err := m.Send(context.Background(), "u2", "digest.daily", map[string]string{"count": "2", mail.BodyParam: "- one\n- two"})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserID != "u2" || got.Template != "digest.daily" || secret != "s3cret" {
		t.Fatalf("unexpected delivery: %+v secret=%q", got, secret)
	}
	if !strings.Contains(got.HTML, "<li>two</li>") {
		t.Fatalf("html body not rendered: %q", got.HTML)
	}
}

func TestWebhookMailerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay down", http.StatusBadGateway)
	}))
	defer srv.Close()
	m := mail.NewWebhookMailer(srv.URL, "", time.Second)
	err := m.Send(context.Background(), "u3", "task.assigned", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}
