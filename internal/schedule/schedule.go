// Package schedule fires digest runs at the configured wall-clock times.
package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"pressflow/internal/config"
	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

// Runner drains one digest frequency.
type Runner interface {
	RunDigest(ctx context.Context, freq domain.Frequency) (engine.DigestReport, error)
}

// Next returns the first moment strictly after now at which freq is due,
// evaluated in the digest timezone.
func Next(now time.Time, d config.Digest, freq domain.Frequency) (time.Time, error) {
	loc, err := d.Location()
	if err != nil {
		return time.Time{}, err
	}
	now = now.In(loc)
	switch freq {
	case domain.FrequencyDaily:
		t := time.Date(now.Year(), now.Month(), now.Day(), d.DailyHour, 0, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	case domain.FrequencyWeekly:
		t := time.Date(now.Year(), now.Month(), now.Day(), d.WeeklyHour, 0, 0, 0, loc)
		t = t.AddDate(0, 0, (d.WeeklyDay-int(t.Weekday())+7)%7)
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t, nil
	}
	return time.Time{}, domain.Invalid("frequency", "must be daily or weekly")
}

// Scheduler sleeps until the next due digest and runs it. Both frequencies
// due at the same instant run back to back, daily first.
type Scheduler struct {
	Runner Runner
	Digest config.Digest
	Logger *log.Logger
	Now    func() time.Time
	After  func(time.Duration) <-chan time.Time
}

func New(r Runner, d config.Digest, logger *log.Logger) *Scheduler {
	return &Scheduler{Runner: r, Digest: d, Logger: logger, Now: time.Now, After: time.After}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := s.now()
		at, due, err := s.upcoming(now)
		if err != nil {
			return err
		}
		s.log().Debug("next digest", "at", at, "frequencies", due)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(at.Sub(now)):
		}
		for _, freq := range due {
			s.run(ctx, freq)
		}
	}
}

func (s *Scheduler) upcoming(now time.Time) (time.Time, []domain.Frequency, error) {
	var at time.Time
	var due []domain.Frequency
	for _, freq := range []domain.Frequency{domain.FrequencyDaily, domain.FrequencyWeekly} {
		t, err := Next(now, s.Digest, freq)
		if err != nil {
			return at, nil, err
		}
		switch {
		case at.IsZero() || t.Before(at):
			at, due = t, []domain.Frequency{freq}
		case t.Equal(at):
			due = append(due, freq)
		}
	}
	return at, due, nil
}

func (s *Scheduler) run(ctx context.Context, freq domain.Frequency) {
	report, err := s.Runner.RunDigest(ctx, freq)
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		s.log().Info("digest skipped", "frequency", freq, "reason", err)
	case err != nil:
		s.log().Error("digest run failed", "frequency", freq, "err", err)
	default:
		s.log().Info("digest done", "frequency", freq, "users", report.Users, "sent", report.Sent, "failed", len(report.Failed), "remaining", report.Remaining)
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) after(d time.Duration) <-chan time.Time {
	if s.After != nil {
		return s.After(d)
	}
	return time.After(d)
}

func (s *Scheduler) log() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
