package engine

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/repo"
)

// StageSpec describes one stage of a sequence to attach.
type StageSpec struct {
	ID                   string
	Weight               int
	AssignedType         domain.AssigneeType
	AssigneeID           string
	Title                string
	Description          string
	DueDate              string
	GuildID              string
	RequiresRatification bool
}

// AttachSequence creates the tasks of a sequence on a content item. The
// lowest-weight stage becomes active: a user stage flips to in_progress and a
// group stage is announced to the group.
func (e Engine) AttachSequence(ctx context.Context, contentItemID string, stages []StageSpec, actorID string) ([]domain.WorkflowTask, error) {
	if strings.TrimSpace(contentItemID) == "" {
		return nil, domain.Invalid("content_item_id", "is required")
	}
	if len(stages) == 0 {
		return nil, domain.Invalid("stages", "at least one stage is required")
	}
	seen := map[int]bool{}
	for _, s := range stages {
		if s.Weight <= 0 {
			return nil, domain.Invalid("sequence_weight", "must be positive")
		}
		if seen[s.Weight] {
			return nil, domain.Invalid("sequence_weight", "must be unique within a sequence")
		}
		seen[s.Weight] = true
		if !s.AssignedType.Valid() {
			return nil, domain.Invalid("assigned_type", "must be user, group or destination")
		}
		if strings.TrimSpace(s.AssigneeID) == "" {
			return nil, domain.Invalid("assignee_id", "is required")
		}
		if strings.TrimSpace(s.Title) == "" {
			return nil, domain.Invalid("title", "is required")
		}
	}
	sorted := slices.Clone(stages)
	slices.SortFunc(sorted, func(a, b StageSpec) int { return a.Weight - b.Weight })

	now := e.stamp()
	tasks := make([]domain.WorkflowTask, 0, len(sorted))
	for i, s := range sorted {
		t := domain.WorkflowTask{
			ID:                   s.ID,
			ContentItemID:        contentItemID,
			SequenceWeight:       s.Weight,
			AssignedType:         s.AssignedType,
			Status:               domain.TaskPending,
			Title:                s.Title,
			Description:          s.Description,
			RequiresRatification: s.RequiresRatification,
			Version:              1,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		switch s.AssignedType {
		case domain.AssignUser:
			t.AssignedUserID = ptr(s.AssigneeID)
		case domain.AssignGroup:
			t.AssignedGroupID = ptr(s.AssigneeID)
		case domain.AssignDestination:
			t.AssignedDestinationID = ptr(s.AssigneeID)
		}
		if s.DueDate != "" {
			t.DueDate = ptr(s.DueDate)
		}
		if s.GuildID != "" {
			t.GuildID = ptr(s.GuildID)
		}
		if i == 0 && t.AssignedType == domain.AssignUser {
			t.Status = domain.TaskInProgress
		}
		tasks = append(tasks, t)
	}

	err := e.inTx(ctx, "attach sequence", func(r repo.Repo) error {
		existing, err := r.ListTasks(ctx, repo.TaskFilters{ContentItemID: contentItemID, Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.Transition("attach", "content item %s already has a sequence", contentItemID)
		}
		for _, t := range tasks {
			if err := r.InsertTask(ctx, t); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, r, "sequence.attached", "content", contentItemID, actorID, events.EventPayload{
			"stages": len(tasks),
		})
	})
	if err != nil {
		return nil, err
	}
	e.announceStage(ctx, tasks[0])
	return tasks, nil
}

// CanClaim is true iff the task is group-assigned, pending, and userID is a
// member of the assigned group.
func (e Engine) CanClaim(ctx context.Context, t domain.WorkflowTask, userID string) (bool, error) {
	ok, _, err := e.claimable(ctx, t, userID)
	return ok, err
}

func (e Engine) claimable(ctx context.Context, t domain.WorkflowTask, userID string) (bool, string, error) {
	if t.AssignedType != domain.AssignGroup || t.AssignedGroupID == nil {
		return false, "task is not assigned to a group", nil
	}
	if t.Status != domain.TaskPending {
		return false, "task is " + string(t.Status) + ", not pending", nil
	}
	member, err := e.isMember(ctx, userID, *t.AssignedGroupID)
	if err != nil {
		return false, "", err
	}
	if !member {
		return false, userID + " is not a member of group " + *t.AssignedGroupID, nil
	}
	return true, "", nil
}

// Claim takes a pending group task for userID. The write is conditional on
// the version read, so of two concurrent claims only one lands.
func (e Engine) Claim(ctx context.Context, taskID, userID string) (domain.WorkflowTask, error) {
	if userID == "" {
		return domain.WorkflowTask{}, domain.Invalid("user_id", "is required")
	}
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	ok, reason, err := e.claimable(ctx, t, userID)
	if err != nil {
		return t, err
	}
	if !ok {
		return t, domain.Transition("claim", "%s", reason)
	}
	group := *t.AssignedGroupID
	t.AssignedType = domain.AssignUser
	t.AssignedUserID = ptr(userID)
	t.AssignedGroupID = nil
	t.PreviousGroupID = ptr(group)
	t.Status = domain.TaskInProgress
	t.UpdatedAt = e.stamp()

	err = e.inTx(ctx, "claim task", func(r repo.Repo) error {
		if err := r.UpdateTask(ctx, &t); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("claim", "task %s was claimed or changed concurrently", taskID)
			}
			return err
		}
		return e.appendEvent(ctx, r, "task.claimed", "task", t.ID, userID, events.EventPayload{"group_id": group})
	})
	if err != nil {
		return domain.WorkflowTask{}, err
	}
	return t, nil
}

// Complete finishes an in-progress user task and activates the next stage.
// The assignee may complete it, as may a holder of task.override. When the
// task needs mentor sign-off a pending ratification is raised in the same
// transaction and the next stage waits for the approval.
func (e Engine) Complete(ctx context.Context, taskID, userID string) (domain.WorkflowTask, error) {
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.AssignedType != domain.AssignUser {
		return t, domain.Transition("complete", "task is assigned to a %s; claim it first", t.AssignedType)
	}
	if t.Status != domain.TaskInProgress {
		return t, domain.Transition("complete", "task is %s, not in_progress", t.Status)
	}
	if !t.AssignedTo(userID) {
		override, err := e.hasSiteCapability(ctx, userID, domain.CapTaskOverride)
		if err != nil {
			return t, domain.Unavailable("capability", "has_capability", err)
		}
		if !override {
			return t, domain.Transition("complete", "task is assigned to %s", deref(t.AssignedUserID))
		}
	}
	junior := deref(t.AssignedUserID)
	needsReview, err := e.needsRatification(ctx, t, junior)
	if err != nil {
		return t, err
	}

	now := e.stamp()
	t.Status = domain.TaskCompleted
	t.CompletedAt = ptr(now)
	t.UpdatedAt = now
	var created *domain.Ratification
	var next *domain.WorkflowTask
	err = e.inTx(ctx, "complete task", func(r repo.Repo) error {
		if err := r.UpdateTask(ctx, &t); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("complete", "task %s changed concurrently", taskID)
			}
			return err
		}
		if err := e.appendEvent(ctx, r, "task.completed", "task", t.ID, userID, events.EventPayload{
			"assignee": junior, "ratification": needsReview,
		}); err != nil {
			return err
		}
		if needsReview {
			rt, err := e.insertRatification(ctx, r, t, junior, *t.GuildID, userID)
			if err != nil {
				return err
			}
			created = &rt
			return nil
		}
		activated, err := e.activateNext(ctx, r, t, userID)
		if err != nil {
			return err
		}
		next = activated
		return nil
	})
	if err != nil {
		return domain.WorkflowTask{}, err
	}

	if !needsReview {
		e.awardCompletion(ctx, t, junior)
	}
	if created != nil {
		e.notifyReviewers(ctx, *created, t)
	}
	if next != nil {
		e.announceStage(ctx, *next)
	}
	return t, nil
}

// needsRatification is true when the task asks for sign-off, names a guild,
// and the assignee cannot review in that guild themselves.
func (e Engine) needsRatification(ctx context.Context, t domain.WorkflowTask, junior string) (bool, error) {
	if !t.RequiresRatification || t.GuildID == nil || junior == "" {
		return false, nil
	}
	senior, err := e.canInGroup(ctx, junior, *t.GuildID, domain.CapReviewRatify)
	if err != nil {
		return false, err
	}
	return !senior, nil
}

// Release hands an in-progress user task back to the group it was claimed
// from. groupID is only honoured when the task has no recorded group.
func (e Engine) Release(ctx context.Context, taskID, actorID, groupID string) (domain.WorkflowTask, error) {
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.AssignedType != domain.AssignUser || t.Status != domain.TaskInProgress {
		return t, domain.Transition("release", "only an in_progress user task can be released (task is %s, %s)", t.AssignedType, t.Status)
	}
	target := deref(t.PreviousGroupID)
	switch {
	case target == "" && groupID == "":
		return t, domain.Invalid("group_id", "is required: the task has no recorded group")
	case target == "":
		target = groupID
	case groupID != "" && groupID != target:
		return t, domain.Invalid("group_id", "does not match the group the task was claimed from ("+target+")")
	}
	if !t.AssignedTo(actorID) {
		override, err := e.hasSiteCapability(ctx, actorID, domain.CapTaskOverride)
		if err != nil {
			return t, domain.Unavailable("capability", "has_capability", err)
		}
		if !override {
			return t, domain.Transition("release", "task is assigned to %s", deref(t.AssignedUserID))
		}
	}
	previousUser := deref(t.AssignedUserID)
	t.AssignedType = domain.AssignGroup
	t.AssignedGroupID = ptr(target)
	t.AssignedUserID = nil
	t.PreviousGroupID = nil
	t.Status = domain.TaskPending
	t.UpdatedAt = e.stamp()
	err = e.inTx(ctx, "release task", func(r repo.Repo) error {
		if err := r.UpdateTask(ctx, &t); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("release", "task %s changed concurrently", taskID)
			}
			return err
		}
		return e.appendEvent(ctx, r, "task.released", "task", t.ID, actorID, events.EventPayload{
			"group_id": target, "previous_user": previousUser,
		})
	})
	if err != nil {
		return domain.WorkflowTask{}, err
	}
	e.announceStage(ctx, t)
	return t, nil
}

// Skip moves a pending or in-progress task to skipped. It needs task.override
// site-wide or in the task's guild.
func (e Engine) Skip(ctx context.Context, taskID, actorID, reason string) (domain.WorkflowTask, error) {
	t, err := e.getTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	allowed, err := e.hasSiteCapability(ctx, actorID, domain.CapTaskOverride)
	if err != nil {
		return t, domain.Unavailable("capability", "has_capability", err)
	}
	if !allowed && t.GuildID != nil {
		if allowed, err = e.canInGroup(ctx, actorID, *t.GuildID, domain.CapTaskOverride); err != nil {
			return t, err
		}
	}
	if !allowed {
		return t, domain.Transition("skip", "%s lacks %s", actorID, domain.CapTaskOverride)
	}
	if t.Status != domain.TaskPending && t.Status != domain.TaskInProgress {
		return t, domain.Transition("skip", "task is already %s", t.Status)
	}
	from := t.Status
	t.Status = domain.TaskSkipped
	t.UpdatedAt = e.stamp()
	var next *domain.WorkflowTask
	err = e.inTx(ctx, "skip task", func(r repo.Repo) error {
		if err := r.UpdateTask(ctx, &t); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.Transition("skip", "task %s changed concurrently", taskID)
			}
			return err
		}
		if err := e.appendEvent(ctx, r, "task.skipped", "task", t.ID, actorID, events.EventPayload{
			"from_status": from, "reason": reason,
		}); err != nil {
			return err
		}
		activated, err := e.activateNext(ctx, r, t, actorID)
		next = activated
		return err
	})
	if err != nil {
		return domain.WorkflowTask{}, err
	}
	if next != nil {
		e.announceStage(ctx, *next)
	}
	return t, nil
}

// activateNext finds the lowest-weight pending stage after done. A user
// stage flips to in_progress; other stages stay pending. The returned task is
// the stage that became actionable, or nil when the sequence is exhausted or
// another user stage of the content item is already in progress.
func (e Engine) activateNext(ctx context.Context, r repo.Repo, done domain.WorkflowTask, actorID string) (*domain.WorkflowTask, error) {
	active, err := r.ActiveUserStage(ctx, done.ContentItemID)
	switch {
	case err == nil:
		e.log().Debug("next stage not activated", "after", done.ID, "active", active.ID)
		return nil, nil
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}
	next, err := r.NextPendingStage(ctx, done.ContentItemID, done.SequenceWeight)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if next.AssignedType != domain.AssignUser {
		return &next, nil
	}
	next.Status = domain.TaskInProgress
	next.UpdatedAt = e.stamp()
	if err := r.UpdateTask(ctx, &next); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return nil, domain.Transition("activate", "next stage %s changed concurrently", next.ID)
		}
		return nil, err
	}
	if err := e.appendEvent(ctx, r, "task.activated", "task", next.ID, actorID, events.EventPayload{
		"after": done.ID, "sequence_weight": next.SequenceWeight,
	}); err != nil {
		return nil, err
	}
	return &next, nil
}

// announceStage notifies whoever can act on a newly actionable stage.
func (e Engine) announceStage(ctx context.Context, t domain.WorkflowTask) {
	c := domain.TaskContext{TaskID: t.ID, ContentItemID: t.ContentItemID, Title: t.Title, SequenceWeight: t.SequenceWeight}
	switch {
	case t.AssignedType == domain.AssignUser && t.Status == domain.TaskInProgress:
		e.notify(ctx, Notification{
			UserID: deref(t.AssignedUserID), EventType: domain.EventTaskAssigned, ReferenceID: t.ID, Context: c,
		})
	case t.AssignedType == domain.AssignGroup && t.Status == domain.TaskPending:
		group := *t.AssignedGroupID
		c.GroupID = group
		if e.Members == nil {
			return
		}
		members, err := e.Members.MembersOf(ctx, group)
		if err != nil {
			e.log().Warn("task announcement skipped", "task", t.ID, "group", group, "err", err)
			return
		}
		for _, m := range members {
			e.notify(ctx, Notification{
				UserID: m, GroupID: group, EventType: domain.EventTaskAvailable, ReferenceID: t.ID, Context: c,
			})
		}
	}
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.WorkflowTask, error) {
	return e.getTask(ctx, id)
}

type TaskFilter = repo.TaskFilters

func (e Engine) ListTasks(ctx context.Context, f TaskFilter) ([]domain.WorkflowTask, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.Invalid("status", "unknown status "+string(f.Status))
	}
	tasks, err := e.Repo.ListTasks(ctx, f)
	return tasks, storeErr("list tasks", err)
}

// TasksForUser returns the user's own tasks plus pending tasks of every group
// they belong to, ordered by content item and weight.
func (e Engine) TasksForUser(ctx context.Context, userID string) ([]domain.WorkflowTask, error) {
	own, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AssignedUserID: userID})
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	groups, err := e.Members.GroupsOf(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable("membership", "groups_of", err)
	}
	if len(groups) == 0 {
		return own, nil
	}
	open, err := e.Repo.ListTasks(ctx, repo.TaskFilters{GroupIDs: groups, Status: domain.TaskPending})
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	all := append(own, open...)
	slices.SortFunc(all, func(a, b domain.WorkflowTask) int {
		if c := strings.Compare(a.ContentItemID, b.ContentItemID); c != 0 {
			return c
		}
		return a.SequenceWeight - b.SequenceWeight
	})
	return all, nil
}
