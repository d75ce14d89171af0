package server

import (
	"pressflow/internal/domain"
	"pressflow/internal/engine"
)

// Request payloads

type StageRequest struct {
	ID                   string `json:"id,omitempty"`
	Weight               int    `json:"weight" minimum:"1"`
	AssignedType         string `json:"assigned_type" enum:"user,group,destination"`
	AssigneeID           string `json:"assignee_id"`
	Title                string `json:"title"`
	Description          string `json:"description,omitempty"`
	DueDate              string `json:"due_date,omitempty" format:"date-time"`
	GuildID              string `json:"guild_id,omitempty"`
	RequiresRatification bool   `json:"requires_ratification,omitempty"`
}

type AttachSequenceRequest struct {
	Stages []StageRequest `json:"stages" minItems:"1"`
}

type RatificationRequest struct {
	JuniorUserID string `json:"junior_user_id"`
	GuildID      string `json:"guild_id"`
}

type FeedbackRequest struct {
	Feedback string `json:"feedback,omitempty"`
}

type EndorseRequest struct {
	EndorseeID string `json:"endorsee_id"`
	SkillID    string `json:"skill_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type PreferenceRequest struct {
	GroupID string `json:"group_id,omitempty"`
	Mode    string `json:"mode" enum:"immediate,daily,weekly,none,use_default"`
}

// Response payloads

type ContentStatusResponse struct {
	ContentItemID string                    `json:"content_item_id"`
	Counts        map[domain.TaskStatus]int `json:"counts"`
	Tasks         []domain.WorkflowTask     `json:"tasks"`
}

type ScoreResponse struct {
	UserID  string              `json:"user_id"`
	GuildID string              `json:"guild_id"`
	Total   int                 `json:"total"`
	History []domain.GuildScore `json:"history"`
}

type ResolvedModeResponse struct {
	UserID  string              `json:"user_id"`
	GroupID string              `json:"group_id,omitempty"`
	Mode    domain.DeliveryMode `json:"mode"`
}

type QueueEntryResponse struct {
	ID          int64             `json:"id"`
	UserID      string            `json:"user_id"`
	GroupID     string            `json:"group_id,omitempty"`
	EventType   string            `json:"event_type"`
	ReferenceID string            `json:"reference_id"`
	Context     map[string]string `json:"context,omitempty"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
}

type MembersResponse struct {
	GroupID string   `json:"group_id"`
	Members []string `json:"members"`
}

type paginatedEvents struct {
	Items []domain.Event `json:"items"`
}

func stageSpecs(in []StageRequest) []engine.StageSpec {
	out := make([]engine.StageSpec, 0, len(in))
	for _, s := range in {
		out = append(out, engine.StageSpec{
			ID:                   s.ID,
			Weight:               s.Weight,
			AssignedType:         domain.AssigneeType(s.AssignedType),
			AssigneeID:           s.AssigneeID,
			Title:                s.Title,
			Description:          s.Description,
			DueDate:              s.DueDate,
			GuildID:              s.GuildID,
			RequiresRatification: s.RequiresRatification,
		})
	}
	return out
}

func queueEntryResponse(en domain.QueueEntry) QueueEntryResponse {
	resp := QueueEntryResponse{
		ID:          en.ID,
		UserID:      en.UserID,
		EventType:   string(en.EventType),
		ReferenceID: en.ReferenceID,
		CreatedAt:   en.CreatedAt,
	}
	if en.GroupID != nil {
		resp.GroupID = *en.GroupID
	}
	if en.Context != nil {
		resp.Context = en.Context.Params()
	}
	return resp
}
