// Package mail holds the outbound notification transports. Delivery is
// fire-and-forget from the engine's point of view: a transport reports an
// error and the caller logs it.
package mail

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// BodyParam carries a Markdown body. Transports that can render HTML do so.
const BodyParam = "body"

var subjects = map[string]string{
	"task.available":                 "New task available: {title}",
	"task.assigned":                  "Task assigned to you: {title}",
	"ratification.requested":         "Ratification requested: {task_title}",
	"ratification.approved":          "Your work was approved: {task_title}",
	"ratification.changes_requested": "Changes requested: {task_title}",
	"endorsement.received":           "You were endorsed by {endorser_id}",
	"digest.daily":                   "Your daily digest ({count} updates)",
	"digest.weekly":                  "Your weekly digest ({count} updates)",
}

// Subject fills the subject line for a template key. Unknown keys fall back
// to the key itself.
func Subject(templateKey string, params map[string]string) string {
	s, ok := subjects[templateKey]
	if !ok {
		return templateKey
	}
	for k, v := range params {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

var (
	markdown     goldmark.Markdown
	markdownOnce sync.Once
)

func markdownRenderer() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

// RenderHTML converts a Markdown body to HTML.
func RenderHTML(body string) (string, error) {
	if body == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := markdownRenderer().Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// LogMailer writes each message to the structured log instead of sending it.
type LogMailer struct {
	Logger *log.Logger
}

func (m LogMailer) Send(ctx context.Context, userID, templateKey string, params map[string]string) error {
	logger := m.Logger
	if logger == nil {
		logger = log.Default()
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != BodyParam {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	kv := []any{"user", userID, "template", templateKey, "subject", Subject(templateKey, params)}
	for _, k := range keys {
		kv = append(kv, k, params[k])
	}
	if body, ok := params[BodyParam]; ok {
		kv = append(kv, "body_lines", strings.Count(body, "\n")+1)
	}
	logger.Info("mail", kv...)
	return nil
}
