package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pressflow/internal/domain"
	"pressflow/internal/runlock"
)

const defaultDigestLockTTL = 5 * time.Minute

// DigestReport summarises one RunDigest call.
type DigestReport struct {
	Frequency domain.Frequency `json:"frequency"`
	Users     int              `json:"users"`
	Entries   int              `json:"entries"`
	Sent      int              `json:"sent"`
	Deleted   int64            `json:"deleted"`
	Failed    []string         `json:"failed,omitempty"`
	Remaining int              `json:"remaining"`
}

// RunDigest drains the queue for one frequency: one batched message per
// user, then deletion of exactly the entries that message carried. Entries
// queued while the run is in flight are left for the next run, as are the
// entries of a user whose send failed.
func (e Engine) RunDigest(ctx context.Context, freq domain.Frequency) (DigestReport, error) {
	report := DigestReport{Frequency: freq}
	if _, err := domain.ParseFrequency(string(freq)); err != nil {
		return report, err
	}
	if e.Lock != nil {
		release, err := e.Lock.Acquire(ctx, "digest:"+string(freq), e.digestLockTTL())
		if errors.Is(err, runlock.ErrHeld) {
			return report, domain.Transition("digest", "a %s digest run is already in progress", freq)
		}
		if err != nil {
			return report, domain.Unavailable("run lock", "acquire", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				e.log().Warn("digest lock release failed", "frequency", freq, "err", err)
			}
		}()
	}
	if e.Mailer == nil {
		return report, domain.Unavailable("mailer", "digest", errors.New("no mailer configured"))
	}

	entries, err := e.Repo.ListQueue(ctx, freq)
	if err != nil {
		return report, storeErr("read queue", err)
	}
	report.Entries = len(entries)
	var order []string
	byUser := map[string][]domain.QueueEntry{}
	for _, en := range entries {
		if _, ok := byUser[en.UserID]; !ok {
			order = append(order, en.UserID)
		}
		byUser[en.UserID] = append(byUser[en.UserID], en)
	}
	report.Users = len(order)

	for _, user := range order {
		batch := byUser[user]
		params := map[string]string{
			"count":     strconv.Itoa(len(batch)),
			"frequency": string(freq),
			"body":      DigestBody(batch),
		}
		if err := e.Mailer.Send(ctx, user, "digest."+string(freq), params); err != nil {
			e.log().Warn("digest send failed; entries kept", "user", user, "frequency", freq, "entries", len(batch), "err", err)
			report.Failed = append(report.Failed, user)
			continue
		}
		report.Sent++
		ids := make([]int64, len(batch))
		for i, en := range batch {
			ids[i] = en.ID
		}
		n, err := e.Repo.DeleteQueueEntries(ctx, ids)
		if err != nil {
			// already sent; a retry would duplicate, so surface it loudly
			e.log().Error("digest delete failed after send", "user", user, "ids", ids, "err", err)
			return report, storeErr("delete queue entries", err)
		}
		report.Deleted += n
	}
	if n, err := e.Repo.CountQueue(ctx, freq); err != nil {
		e.log().Warn("digest queue count failed", "frequency", freq, "err", err)
	} else {
		report.Remaining = n
	}
	e.log().Info("digest run", "frequency", freq, "users", report.Users, "entries", report.Entries,
		"sent", report.Sent, "failed", len(report.Failed), "remaining", report.Remaining)
	return report, nil
}

func (e Engine) digestLockTTL() time.Duration {
	if e.Config != nil && e.Config.Lock.TTLSeconds > 0 {
		return time.Duration(e.Config.Lock.TTLSeconds) * time.Second
	}
	return defaultDigestLockTTL
}

// PendingDigest returns what the next run for freq would drain.
func (e Engine) PendingDigest(ctx context.Context, freq domain.Frequency) ([]domain.QueueEntry, error) {
	if _, err := domain.ParseFrequency(string(freq)); err != nil {
		return nil, err
	}
	res, err := e.Repo.ListQueue(ctx, freq)
	return res, storeErr("read queue", err)
}

// DigestBody renders a batch as a Markdown list, one line per entry.
func DigestBody(batch []domain.QueueEntry) string {
	var b strings.Builder
	for _, en := range batch {
		fmt.Fprintf(&b, "- **%s** %s\n", en.EventType, digestLine(en))
	}
	return b.String()
}

func digestLine(en domain.QueueEntry) string {
	if en.Context == nil {
		return "(" + en.ReferenceID + ")"
	}
	p := en.Context.Params()
	switch c := en.Context.(type) {
	case domain.TaskContext:
		return fmt.Sprintf("%s (content %s, stage %s)", c.Title, c.ContentItemID, p["sequence_weight"])
	case domain.RatificationContext:
		line := c.TaskTitle
		if c.Feedback != "" {
			line += ": " + c.Feedback
		}
		return line
	case domain.EndorsementContext:
		line := "from " + c.EndorserID
		if c.SkillID != "" {
			line += " for " + c.SkillID
		}
		if c.Comment != "" {
			line += ": " + c.Comment
		}
		return line
	}
	return "(" + en.ReferenceID + ")"
}
