package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp so
// that lexical order matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t with TimeLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskSkipped    TaskStatus = "skipped"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskCompleted, TaskSkipped:
		return true
	}
	return false
}

type AssigneeType string

const (
	AssignUser        AssigneeType = "user"
	AssignGroup       AssigneeType = "group"
	AssignDestination AssigneeType = "destination"
)

func (a AssigneeType) Valid() bool {
	switch a {
	case AssignUser, AssignGroup, AssignDestination:
		return true
	}
	return false
}

// WorkflowTask is one stage of a sequence attached to a content item.
// Exactly one of AssignedUserID, AssignedGroupID and AssignedDestinationID is
// set, matching AssignedType.
type WorkflowTask struct {
	ID                    string       `json:"id"`
	ContentItemID         string       `json:"content_item_id"`
	SequenceWeight        int          `json:"sequence_weight"`
	AssignedType          AssigneeType `json:"assigned_type" enum:"user,group,destination"`
	AssignedUserID        *string      `json:"assigned_user_id,omitempty"`
	AssignedGroupID       *string      `json:"assigned_group_id,omitempty"`
	AssignedDestinationID *string      `json:"assigned_destination_id,omitempty"`
	PreviousGroupID       *string      `json:"previous_group_id,omitempty"`
	Status                TaskStatus   `json:"status" enum:"pending,in_progress,completed,skipped"`
	Title                 string       `json:"title"`
	Description           string       `json:"description,omitempty"`
	Comments              string       `json:"comments,omitempty"`
	DueDate               *string      `json:"due_date,omitempty" format:"date-time"`
	GuildID               *string      `json:"guild_id,omitempty"`
	RequiresRatification  bool         `json:"requires_ratification"`
	Version               int          `json:"version"`
	CreatedAt             string       `json:"created_at" format:"date-time"`
	UpdatedAt             string       `json:"updated_at" format:"date-time"`
	CompletedAt           *string      `json:"completed_at,omitempty" format:"date-time"`
}

// Assignee returns the id matching AssignedType, or "" if unset.
func (t WorkflowTask) Assignee() string {
	var p *string
	switch t.AssignedType {
	case AssignUser:
		p = t.AssignedUserID
	case AssignGroup:
		p = t.AssignedGroupID
	case AssignDestination:
		p = t.AssignedDestinationID
	}
	if p == nil {
		return ""
	}
	return *p
}

// AssignedTo reports whether the task is user-assigned to userID.
func (t WorkflowTask) AssignedTo(userID string) bool {
	return t.AssignedType == AssignUser && t.AssignedUserID != nil && *t.AssignedUserID == userID
}

type RatificationStatus string

const (
	RatificationPending          RatificationStatus = "pending"
	RatificationApproved         RatificationStatus = "approved"
	RatificationChangesRequested RatificationStatus = "changes_requested"
)

// Ratification is a peer-review request raised when a junior member
// completes a task that needs mentor sign-off.
type Ratification struct {
	ID            string             `json:"id"`
	TaskID        string             `json:"task_id"`
	ContentItemID string             `json:"content_item_id"`
	JuniorUserID  string             `json:"junior_user_id"`
	GuildID       string             `json:"guild_id"`
	MentorUserID  *string            `json:"mentor_user_id,omitempty"`
	Status        RatificationStatus `json:"status" enum:"pending,approved,changes_requested"`
	Feedback      string             `json:"feedback,omitempty"`
	CreatedAt     string             `json:"created_at" format:"date-time"`
	UpdatedAt     string             `json:"updated_at" format:"date-time"`
	ClaimedAt     *string            `json:"claimed_at,omitempty" format:"date-time"`
	DecidedAt     *string            `json:"decided_at,omitempty" format:"date-time"`
}

type ScoreAction string

const (
	ActionTaskCompleted       ScoreAction = "task_completed"
	ActionTaskRatified        ScoreAction = "task_ratified"
	ActionRatificationGiven   ScoreAction = "ratification_given"
	ActionEndorsementReceived ScoreAction = "endorsement_received"
	ActionEndorsementGiven    ScoreAction = "endorsement_given"
)

func (a ScoreAction) Valid() bool {
	switch a {
	case ActionTaskCompleted, ActionTaskRatified, ActionRatificationGiven, ActionEndorsementReceived, ActionEndorsementGiven:
		return true
	}
	return false
}

// GuildScore is an append-only ledger row.
type GuildScore struct {
	ID            int64       `json:"id"`
	UserID        string      `json:"user_id"`
	GuildID       string      `json:"guild_id"`
	SkillID       *string     `json:"skill_id,omitempty"`
	Points        int         `json:"points"`
	ActionType    ScoreAction `json:"action_type"`
	ReferenceType string      `json:"reference_type"`
	ReferenceID   string      `json:"reference_id"`
	CreatedAt     string      `json:"created_at" format:"date-time"`
}

// LeaderboardEntry is a derived total for one user in a guild.
type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	Total   int    `json:"total"`
	Reached string `json:"reached_at" format:"date-time"`
}

type Endorsement struct {
	ID         string  `json:"id"`
	EndorserID string  `json:"endorser_id"`
	EndorseeID string  `json:"endorsee_id"`
	GuildID    string  `json:"guild_id"`
	SkillID    *string `json:"skill_id,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
