package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// DeliveryMode is a user's preferred notification cadence.
type DeliveryMode string

const (
	ModeImmediate  DeliveryMode = "immediate"
	ModeDaily      DeliveryMode = "daily"
	ModeWeekly     DeliveryMode = "weekly"
	ModeNone       DeliveryMode = "none"
	ModeUseDefault DeliveryMode = "use_default"
)

// ParseMode accepts any mode including use_default.
func ParseMode(s string) (DeliveryMode, bool) {
	switch m := DeliveryMode(s); m {
	case ModeImmediate, ModeDaily, ModeWeekly, ModeNone, ModeUseDefault:
		return m, true
	}
	return "", false
}

// Frequency returns the digest bucket for batched modes.
func (m DeliveryMode) Frequency() (Frequency, bool) {
	switch m {
	case ModeDaily:
		return FrequencyDaily, true
	case ModeWeekly:
		return FrequencyWeekly, true
	}
	return "", false
}

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case FrequencyDaily, FrequencyWeekly:
		return f, nil
	}
	return "", Invalid("frequency", fmt.Sprintf("must be daily or weekly, got %q", s))
}

// NotificationPreference is a user default (GroupID nil) or a group override.
type NotificationPreference struct {
	UserID    string       `json:"user_id"`
	GroupID   *string      `json:"group_id,omitempty"`
	Mode      DeliveryMode `json:"mode" enum:"immediate,daily,weekly,none,use_default"`
	UpdatedAt string       `json:"updated_at" format:"date-time"`
}

type EventType string

const (
	EventTaskAvailable                EventType = "task.available"
	EventTaskAssigned                 EventType = "task.assigned"
	EventRatificationRequested        EventType = "ratification.requested"
	EventRatificationApproved         EventType = "ratification.approved"
	EventRatificationChangesRequested EventType = "ratification.changes_requested"
	EventEndorsementReceived          EventType = "endorsement.received"
)

// QueueEntry is one pending batched notification.
type QueueEntry struct {
	ID          int64        `json:"id"`
	UserID      string       `json:"user_id"`
	GroupID     *string      `json:"group_id,omitempty"`
	ReferenceID string       `json:"reference_id"`
	EventType   EventType    `json:"event_type"`
	Context     EventContext `json:"-"`
	Frequency   Frequency    `json:"frequency"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
}

type ContextKind string

const (
	ContextTask         ContextKind = "task"
	ContextRatification ContextKind = "ratification"
	ContextEndorsement  ContextKind = "endorsement"
)

// EventContext is the closed set of payload shapes a notification carries.
type EventContext interface {
	Kind() ContextKind
	Params() map[string]string
}

type TaskContext struct {
	TaskID         string `json:"task_id"`
	ContentItemID  string `json:"content_item_id"`
	Title          string `json:"title"`
	SequenceWeight int    `json:"sequence_weight"`
	GroupID        string `json:"group_id,omitempty"`
}

func (TaskContext) Kind() ContextKind { return ContextTask }

func (c TaskContext) Params() map[string]string {
	p := map[string]string{
		"task_id":         c.TaskID,
		"content_item_id": c.ContentItemID,
		"title":           c.Title,
		"sequence_weight": strconv.Itoa(c.SequenceWeight),
	}
	if c.GroupID != "" {
		p["group_id"] = c.GroupID
	}
	return p
}

type RatificationContext struct {
	RatificationID string             `json:"ratification_id"`
	TaskID         string             `json:"task_id"`
	TaskTitle      string             `json:"task_title"`
	JuniorUserID   string             `json:"junior_user_id"`
	MentorUserID   string             `json:"mentor_user_id,omitempty"`
	Status         RatificationStatus `json:"status"`
	Feedback       string             `json:"feedback,omitempty"`
}

func (RatificationContext) Kind() ContextKind { return ContextRatification }

func (c RatificationContext) Params() map[string]string {
	p := map[string]string{
		"ratification_id": c.RatificationID,
		"task_id":         c.TaskID,
		"task_title":      c.TaskTitle,
		"junior_user_id":  c.JuniorUserID,
		"status":          string(c.Status),
	}
	if c.MentorUserID != "" {
		p["mentor_user_id"] = c.MentorUserID
	}
	if c.Feedback != "" {
		p["feedback"] = c.Feedback
	}
	return p
}

type EndorsementContext struct {
	EndorsementID string `json:"endorsement_id"`
	EndorserID    string `json:"endorser_id"`
	GuildID       string `json:"guild_id"`
	SkillID       string `json:"skill_id,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

func (EndorsementContext) Kind() ContextKind { return ContextEndorsement }

func (c EndorsementContext) Params() map[string]string {
	p := map[string]string{
		"endorsement_id": c.EndorsementID,
		"endorser_id":    c.EndorserID,
		"guild_id":       c.GuildID,
	}
	if c.SkillID != "" {
		p["skill_id"] = c.SkillID
	}
	if c.Comment != "" {
		p["comment"] = c.Comment
	}
	return p
}

type contextEnvelope struct {
	Kind         ContextKind          `json:"kind"`
	Task         *TaskContext         `json:"task,omitempty"`
	Ratification *RatificationContext `json:"ratification,omitempty"`
	Endorsement  *EndorsementContext  `json:"endorsement,omitempty"`
}

// EncodeContext serializes c with its kind tag.
func EncodeContext(c EventContext) (string, error) {
	env := contextEnvelope{}
	switch v := c.(type) {
	case nil:
		return "", nil
	case TaskContext:
		env.Kind, env.Task = ContextTask, &v
	case RatificationContext:
		env.Kind, env.Ratification = ContextRatification, &v
	case EndorsementContext:
		env.Kind, env.Endorsement = ContextEndorsement, &v
	default:
		return "", fmt.Errorf("unsupported event context %T", c)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeContext reverses EncodeContext. An empty string yields nil.
func DecodeContext(s string) (EventContext, error) {
	if s == "" {
		return nil, nil
	}
	var env contextEnvelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("decode event context: %w", err)
	}
	switch env.Kind {
	case ContextTask:
		if env.Task != nil {
			return *env.Task, nil
		}
	case ContextRatification:
		if env.Ratification != nil {
			return *env.Ratification, nil
		}
	case ContextEndorsement:
		if env.Endorsement != nil {
			return *env.Endorsement, nil
		}
	}
	return nil, fmt.Errorf("decode event context: unknown or empty kind %q", env.Kind)
}
