package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/repo"
)

// CreateRatificationRequest raises a pending review for a completed task and
// tells every guild member who can ratify.
func (e Engine) CreateRatificationRequest(ctx context.Context, taskID, juniorID, guildID, actorID string) (domain.Ratification, error) {
	if juniorID == "" {
		return domain.Ratification{}, domain.Invalid("junior_user_id", "is required")
	}
	if guildID == "" {
		return domain.Ratification{}, domain.Invalid("guild_id", "is required")
	}
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return domain.Ratification{}, err
	}
	if t.Status != domain.TaskCompleted {
		return domain.Ratification{}, domain.Transition("request ratification", "task is %s, not completed", t.Status)
	}
	if t.AssignedType != domain.AssignUser || deref(t.AssignedUserID) != juniorID {
		return domain.Ratification{}, domain.Invalid("junior_user_id", "must be the user who completed the task")
	}
	if t.GuildID != nil && *t.GuildID != guildID {
		return domain.Ratification{}, domain.Invalid("guild_id", "must match the task's guild ("+*t.GuildID+")")
	}
	var rt domain.Ratification
	err = e.inTx(ctx, "create ratification", func(r repo.Repo) error {
		created, err := e.insertRatification(ctx, r, t, juniorID, guildID, actorID)
		rt = created
		return err
	})
	if err != nil {
		return domain.Ratification{}, err
	}
	e.notifyReviewers(ctx, rt, t)
	return rt, nil
}

func (e Engine) insertRatification(ctx context.Context, r repo.Repo, t domain.WorkflowTask, juniorID, guildID, actorID string) (domain.Ratification, error) {
	pending, err := r.HasPendingRatification(ctx, t.ID)
	if err != nil {
		return domain.Ratification{}, err
	}
	if pending {
		return domain.Ratification{}, domain.Transition("request ratification", "task %s already has a pending ratification", t.ID)
	}
	now := e.stamp()
	rt := domain.Ratification{
		ID:            uuid.NewString(),
		TaskID:        t.ID,
		ContentItemID: t.ContentItemID,
		JuniorUserID:  juniorID,
		GuildID:       guildID,
		Status:        domain.RatificationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.InsertRatification(ctx, rt); err != nil {
		return domain.Ratification{}, err
	}
	err = e.appendEvent(ctx, r, "ratification.requested", "ratification", rt.ID, actorID, events.EventPayload{
		"task_id": t.ID, "junior": juniorID, "guild_id": guildID,
	})
	return rt, err
}

// notifyReviewers fans a request out to guild members able to ratify, other
// than the junior.
func (e Engine) notifyReviewers(ctx context.Context, rt domain.Ratification, t domain.WorkflowTask) {
	if e.Members == nil {
		return
	}
	members, err := e.Members.MembersOf(ctx, rt.GuildID)
	if err != nil {
		e.log().Warn("ratification fan-out skipped", "ratification", rt.ID, "guild", rt.GuildID, "err", err)
		return
	}
	c := ratificationContext(rt, t.Title)
	for _, m := range members {
		if m == rt.JuniorUserID {
			continue
		}
		ok, err := e.canInGroup(ctx, m, rt.GuildID, domain.CapReviewRatify)
		if err != nil {
			e.log().Warn("reviewer check failed", "ratification", rt.ID, "user", m, "err", err)
			continue
		}
		if !ok {
			continue
		}
		e.notify(ctx, Notification{
			UserID: m, GroupID: rt.GuildID, EventType: domain.EventRatificationRequested, ReferenceID: rt.ID, Context: c,
		})
	}
}

// checkReviewer enforces the preconditions shared by claim and the two
// decisions.
func (e Engine) checkReviewer(ctx context.Context, op string, rt domain.Ratification, mentorID string) error {
	if mentorID == "" {
		return domain.Invalid("mentor_user_id", "is required")
	}
	if rt.Status != domain.RatificationPending {
		return domain.Transition(op, "ratification is already %s", rt.Status)
	}
	if mentorID == rt.JuniorUserID {
		return domain.Transition(op, "%s cannot ratify their own work", mentorID)
	}
	if rt.MentorUserID != nil && *rt.MentorUserID != mentorID {
		return domain.Transition(op, "ratification is claimed by %s", *rt.MentorUserID)
	}
	ok, err := e.canInGroup(ctx, mentorID, rt.GuildID, domain.CapReviewRatify)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Transition(op, "%s may not ratify in guild %s", mentorID, rt.GuildID)
	}
	return nil
}

// ClaimRatification records mentorID as the reviewer. Claiming again as the
// same mentor is a no-op; a second mentor loses with InvalidTransition.
func (e Engine) ClaimRatification(ctx context.Context, ratificationID, mentorID string) (domain.Ratification, error) {
	rt, err := e.getRatification(ctx, ratificationID)
	if err != nil {
		return rt, err
	}
	if err := e.checkReviewer(ctx, "claim ratification", rt, mentorID); err != nil {
		return rt, err
	}
	if rt.MentorUserID != nil {
		return rt, nil
	}
	now := e.stamp()
	err = e.inTx(ctx, "claim ratification", func(r repo.Repo) error {
		if err := r.ClaimRatification(ctx, rt.ID, mentorID, now); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("claim ratification", "ratification %s was claimed or decided concurrently", rt.ID)
			}
			return err
		}
		return e.appendEvent(ctx, r, "ratification.claimed", "ratification", rt.ID, mentorID, nil)
	})
	if err != nil {
		return domain.Ratification{}, err
	}
	rt.MentorUserID = ptr(mentorID)
	rt.ClaimedAt = ptr(now)
	rt.UpdatedAt = now
	return rt, nil
}

// Approve accepts the junior's work. The originating task ends completed, the
// sequence moves on to the next stage and both parties earn points. Scoring
// and the notifications are best-effort.
func (e Engine) Approve(ctx context.Context, ratificationID, mentorID, feedback string) (domain.Ratification, error) {
	rt, err := e.getRatification(ctx, ratificationID)
	if err != nil {
		return rt, err
	}
	if err := e.checkReviewer(ctx, "approve", rt, mentorID); err != nil {
		return rt, err
	}
	feedback = strings.TrimSpace(feedback)
	now := e.stamp()
	var task domain.WorkflowTask
	var next *domain.WorkflowTask
	err = e.inTx(ctx, "approve ratification", func(r repo.Repo) error {
		if err := r.DecideRatification(ctx, rt.ID, mentorID, domain.RatificationApproved, feedback, now); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("approve", "ratification %s was claimed or decided concurrently", rt.ID)
			}
			return err
		}
		t, err := r.GetTask(ctx, rt.TaskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskCompleted {
			t.Status = domain.TaskCompleted
			t.CompletedAt = ptr(now)
			t.UpdatedAt = now
			if err := r.UpdateTask(ctx, &t); err != nil {
				return err
			}
		}
		task = t
		if err := e.appendEvent(ctx, r, "ratification.approved", "ratification", rt.ID, mentorID, events.EventPayload{
			"task_id": rt.TaskID, "junior": rt.JuniorUserID,
		}); err != nil {
			return err
		}
		activated, err := e.activateNext(ctx, r, t, mentorID)
		next = activated
		return err
	})
	if err != nil {
		return domain.Ratification{}, err
	}
	rt.Status = domain.RatificationApproved
	rt.Feedback = feedback
	rt.MentorUserID = ptr(mentorID)
	rt.DecidedAt = ptr(now)
	rt.UpdatedAt = now
	if rt.ClaimedAt == nil {
		rt.ClaimedAt = ptr(now)
	}

	e.awardCompletion(ctx, task, deref(task.AssignedUserID))
	e.awardBestEffort(ctx, Award{
		UserID: rt.JuniorUserID, GuildID: rt.GuildID, Action: domain.ActionTaskRatified,
		ReferenceType: "ratification", ReferenceID: rt.ID,
	})
	e.awardBestEffort(ctx, Award{
		UserID: mentorID, GuildID: rt.GuildID, Action: domain.ActionRatificationGiven,
		ReferenceType: "ratification", ReferenceID: rt.ID,
	})
	e.notify(ctx, Notification{
		UserID: rt.JuniorUserID, GroupID: rt.GuildID, EventType: domain.EventRatificationApproved,
		ReferenceID: rt.ID, Context: ratificationContext(rt, task.Title),
	})
	if next != nil {
		e.announceStage(ctx, *next)
	}
	return rt, nil
}

// RequestChanges sends the work back with feedback and reopens the task for
// the junior. Blank feedback is rejected before anything is read or written.
func (e Engine) RequestChanges(ctx context.Context, ratificationID, mentorID, feedback string) (domain.Ratification, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return domain.Ratification{}, domain.Invalid("feedback", "is required when requesting changes")
	}
	rt, err := e.getRatification(ctx, ratificationID)
	if err != nil {
		return rt, err
	}
	if err := e.checkReviewer(ctx, "request changes", rt, mentorID); err != nil {
		return rt, err
	}
	now := e.stamp()
	var task domain.WorkflowTask
	err = e.inTx(ctx, "request changes", func(r repo.Repo) error {
		if err := r.DecideRatification(ctx, rt.ID, mentorID, domain.RatificationChangesRequested, feedback, now); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("request changes", "ratification %s was claimed or decided concurrently", rt.ID)
			}
			return err
		}
		t, err := r.GetTask(ctx, rt.TaskID)
		if err != nil {
			return err
		}
		if t.Status != domain.TaskInProgress {
			t.Status = domain.TaskInProgress
			t.CompletedAt = nil
			t.UpdatedAt = now
			if err := r.UpdateTask(ctx, &t); err != nil {
				return err
			}
		}
		task = t
		return e.appendEvent(ctx, r, "ratification.changes_requested", "ratification", rt.ID, mentorID, events.EventPayload{
			"task_id": rt.TaskID, "junior": rt.JuniorUserID,
		})
	})
	if err != nil {
		return domain.Ratification{}, err
	}
	rt.Status = domain.RatificationChangesRequested
	rt.Feedback = feedback
	rt.MentorUserID = ptr(mentorID)
	rt.DecidedAt = ptr(now)
	rt.UpdatedAt = now
	if rt.ClaimedAt == nil {
		rt.ClaimedAt = ptr(now)
	}
	e.notify(ctx, Notification{
		UserID: rt.JuniorUserID, GroupID: rt.GuildID, EventType: domain.EventRatificationChangesRequested,
		ReferenceID: rt.ID, Context: ratificationContext(rt, task.Title),
	})
	return rt, nil
}

func ratificationContext(rt domain.Ratification, title string) domain.RatificationContext {
	return domain.RatificationContext{
		RatificationID: rt.ID,
		TaskID:         rt.TaskID,
		TaskTitle:      title,
		JuniorUserID:   rt.JuniorUserID,
		MentorUserID:   deref(rt.MentorUserID),
		Status:         rt.Status,
		Feedback:       rt.Feedback,
	}
}

func (e Engine) GetRatification(ctx context.Context, id string) (domain.Ratification, error) {
	return e.getRatification(ctx, id)
}

func (e Engine) GetPendingForGuild(ctx context.Context, guildID string) ([]domain.Ratification, error) {
	return e.listRatifications(ctx, repo.RatificationFilters{GuildID: guildID, Status: domain.RatificationPending})
}

// GetPendingForMentor lists pending reviews the mentor can act on: unclaimed
// ones in guilds where they may ratify, plus the ones they claimed. Oldest
// first.
func (e Engine) GetPendingForMentor(ctx context.Context, mentorID string) ([]domain.Ratification, error) {
	all, err := e.listRatifications(ctx, repo.RatificationFilters{Status: domain.RatificationPending, AvailableTo: mentorID})
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	var out []domain.Ratification
	for _, rt := range all {
		if rt.JuniorUserID == mentorID {
			continue
		}
		if rt.MentorUserID == nil {
			ok, seen := allowed[rt.GuildID]
			if !seen {
				can, err := e.canInGroup(ctx, mentorID, rt.GuildID, domain.CapReviewRatify)
				if err != nil {
					return nil, err
				}
				ok = can
				allowed[rt.GuildID] = can
			}
			if !ok {
				continue
			}
		}
		out = append(out, rt)
	}
	return out, nil
}

func (e Engine) GetForJunior(ctx context.Context, juniorID string) ([]domain.Ratification, error) {
	return e.listRatifications(ctx, repo.RatificationFilters{JuniorUserID: juniorID})
}

// GetForTask returns every review round of a task, oldest first.
func (e Engine) GetForTask(ctx context.Context, taskID string) ([]domain.Ratification, error) {
	return e.listRatifications(ctx, repo.RatificationFilters{TaskID: taskID})
}

func (e Engine) HasPendingRatification(ctx context.Context, taskID string) (bool, error) {
	ok, err := e.Repo.HasPendingRatification(ctx, taskID)
	return ok, storeErr("has pending ratification", err)
}

func (e Engine) listRatifications(ctx context.Context, f repo.RatificationFilters) ([]domain.Ratification, error) {
	res, err := e.Repo.ListRatifications(ctx, f)
	return res, storeErr("list ratifications", err)
}
