package engine

import (
	"context"
	"errors"

	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/repo"
)

// Resolve returns the effective delivery mode for a user, optionally within a
// group. A group override wins unless it says use_default; then the user's
// default applies; with neither, nothing is delivered. Unreadable or corrupt
// preferences also resolve to none.
func (e Engine) Resolve(ctx context.Context, userID, groupID string) domain.DeliveryMode {
	if groupID != "" {
		mode, ok := e.storedMode(ctx, userID, groupID)
		if ok && mode != domain.ModeUseDefault {
			return mode
		}
	}
	mode, ok := e.storedMode(ctx, userID, "")
	if !ok || mode == domain.ModeUseDefault {
		return domain.ModeNone
	}
	return mode
}

func (e Engine) storedMode(ctx context.Context, userID, groupID string) (domain.DeliveryMode, bool) {
	p, err := e.Repo.GetPreference(ctx, userID, groupID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", false
	}
	if err != nil {
		e.log().Warn("preference lookup failed; treating as unset", "user", userID, "group", groupID, "err", err)
		return "", false
	}
	mode, ok := domain.ParseMode(string(p.Mode))
	if !ok {
		e.log().Warn("ignoring corrupt preference", "user", userID, "group", groupID, "mode", p.Mode)
		return "", false
	}
	return mode, true
}

// SetPreference stores a default (groupID "") or a group override.
// use_default is only meaningful for overrides.
func (e Engine) SetPreference(ctx context.Context, userID, groupID string, mode domain.DeliveryMode) (domain.NotificationPreference, error) {
	if userID == "" {
		return domain.NotificationPreference{}, domain.Invalid("user_id", "is required")
	}
	if _, ok := domain.ParseMode(string(mode)); !ok {
		return domain.NotificationPreference{}, domain.Invalid("mode", "must be immediate, daily, weekly, none or use_default")
	}
	if groupID == "" && mode == domain.ModeUseDefault {
		return domain.NotificationPreference{}, domain.Invalid("mode", "use_default is only valid for a group override")
	}
	p := domain.NotificationPreference{UserID: userID, Mode: mode, UpdatedAt: e.stamp()}
	if groupID != "" {
		p.GroupID = ptr(groupID)
	}
	err := e.inTx(ctx, "set preference", func(r repo.Repo) error {
		if err := r.UpsertPreference(ctx, p); err != nil {
			return err
		}
		return e.appendEvent(ctx, r, "preference.set", "preference", userID, userID, events.EventPayload{
			"group_id": groupID, "mode": mode,
		})
	})
	if err != nil {
		return domain.NotificationPreference{}, err
	}
	return p, nil
}

// ClearPreference removes a default or override.
func (e Engine) ClearPreference(ctx context.Context, userID, groupID string) error {
	return e.inTx(ctx, "clear preference", func(r repo.Repo) error {
		if err := r.DeletePreference(ctx, userID, groupID); err != nil {
			return err
		}
		return e.appendEvent(ctx, r, "preference.cleared", "preference", userID, userID, events.EventPayload{"group_id": groupID})
	})
}

func (e Engine) Preferences(ctx context.Context, userID string) ([]domain.NotificationPreference, error) {
	res, err := e.Repo.ListPreferences(ctx, userID)
	return res, storeErr("list preferences", err)
}

type Notification struct {
	UserID      string
	GroupID     string
	EventType   domain.EventType
	ReferenceID string
	Context     domain.EventContext
}

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeQueued  Outcome = "queued"
	OutcomeDropped Outcome = "dropped"
	// OutcomeFailed means an immediate send was attempted and the mailer
	// reported an error. Nothing is kept for retry.
	OutcomeFailed Outcome = "failed"
)

// QueueOrSend routes one notification by the recipient's effective mode.
func (e Engine) QueueOrSend(ctx context.Context, n Notification) (Outcome, error) {
	if n.UserID == "" {
		return "", domain.Invalid("user_id", "is required")
	}
	mode := e.Resolve(ctx, n.UserID, n.GroupID)
	if mode == domain.ModeImmediate {
		if e.Mailer == nil {
			e.log().Warn("no mailer configured; dropping immediate notification", "user", n.UserID, "event", n.EventType)
			return OutcomeFailed, nil
		}
		params := map[string]string{"reference_id": n.ReferenceID}
		if n.Context != nil {
			for k, v := range n.Context.Params() {
				params[k] = v
			}
		}
		if err := e.Mailer.Send(ctx, n.UserID, string(n.EventType), params); err != nil {
			e.log().Warn("notification send failed", "user", n.UserID, "event", n.EventType, "ref", n.ReferenceID, "err", err)
			return OutcomeFailed, nil
		}
		return OutcomeSent, nil
	}
	freq, batched := mode.Frequency()
	if !batched {
		return OutcomeDropped, nil
	}
	entry := domain.QueueEntry{
		UserID:      n.UserID,
		ReferenceID: n.ReferenceID,
		EventType:   n.EventType,
		Context:     n.Context,
		Frequency:   freq,
		CreatedAt:   e.stamp(),
	}
	if n.GroupID != "" {
		entry.GroupID = ptr(n.GroupID)
	}
	if _, err := e.Repo.InsertQueueEntry(ctx, entry); err != nil {
		return "", storeErr("queue notification", err)
	}
	return OutcomeQueued, nil
}

// notify is QueueOrSend for side effects of a committed transition.
func (e Engine) notify(ctx context.Context, n Notification) {
	if _, err := e.QueueOrSend(ctx, n); err != nil {
		e.log().Error("notification dropped", "user", n.UserID, "event", n.EventType, "ref", n.ReferenceID, "err", err)
	}
}
