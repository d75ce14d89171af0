package pressflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal pressflow HTTP API client acting as one user.
type Client struct {
	BaseURL    string
	ActorID    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ActorID:  actorID,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// As returns a copy of the client acting as another user.
func (c *Client) As(actorID string) *Client {
	cp := *c
	cp.ActorID = actorID
	return &cp
}

// Task represents the API task model (partial).
type Task struct {
	ID              string `json:"id"`
	ContentItemID   string `json:"content_item_id"`
	SequenceWeight  int    `json:"sequence_weight"`
	AssignedType    string `json:"assigned_type"`
	AssignedUserID  string `json:"assigned_user_id,omitempty"`
	AssignedGroupID string `json:"assigned_group_id,omitempty"`
	Status          string `json:"status"`
	Title           string `json:"title"`
	GuildID         string `json:"guild_id,omitempty"`
	Version         int    `json:"version"`
}

// Stage describes one step when attaching a sequence.
type Stage struct {
	Weight               int    `json:"weight"`
	AssignedType         string `json:"assigned_type"`
	AssigneeID           string `json:"assignee_id"`
	Title                string `json:"title"`
	GuildID              string `json:"guild_id,omitempty"`
	RequiresRatification bool   `json:"requires_ratification,omitempty"`
}

type Ratification struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	JuniorUserID string `json:"junior_user_id"`
	GuildID      string `json:"guild_id"`
	MentorUserID string `json:"mentor_user_id,omitempty"`
	Status       string `json:"status"`
	Feedback     string `json:"feedback,omitempty"`
}

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Total  int    `json:"total"`
}

type Preference struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id,omitempty"`
	Mode    string `json:"mode"`
}

type DigestReport struct {
	Frequency string   `json:"frequency"`
	Users     int      `json:"users"`
	Entries   int      `json:"entries"`
	Sent      int      `json:"sent"`
	Deleted   int64    `json:"deleted"`
	Failed    []string `json:"failed,omitempty"`
	Remaining int      `json:"remaining"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) AttachSequence(ctx context.Context, contentID string, stages []Stage) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodPost, "content/"+url.PathEscape(contentID)+"/sequence", map[string]any{"stages": stages}, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// MyTasks lists tasks assigned to the actor or claimable in the actor's groups.
func (c *Client) MyTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "me/tasks", nil, &resp)
	return resp, err
}

func (c *Client) Claim(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "claim", nil)
}

func (c *Client) Complete(ctx context.Context, taskID string) (Task, error) {
	return c.taskAction(ctx, taskID, "complete", nil)
}

// Release returns a claimed task to its group. groupID may be empty.
func (c *Client) Release(ctx context.Context, taskID, groupID string) (Task, error) {
	q := url.Values{}
	if groupID != "" {
		q.Set("group_id", groupID)
	}
	return c.taskAction(ctx, taskID, "release", q)
}

func (c *Client) Skip(ctx context.Context, taskID, reason string) (Task, error) {
	q := url.Values{}
	if reason != "" {
		q.Set("reason", reason)
	}
	return c.taskAction(ctx, taskID, "skip", q)
}

func (c *Client) taskAction(ctx context.Context, taskID, action string, q url.Values) (Task, error) {
	endpoint := "tasks/" + url.PathEscape(taskID) + "/" + action
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) TaskRatifications(ctx context.Context, taskID string) ([]Ratification, error) {
	var resp []Ratification
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/ratifications", nil, &resp)
	return resp, err
}

// Reviewable lists pending ratifications the actor may review.
func (c *Client) Reviewable(ctx context.Context) ([]Ratification, error) {
	var resp []Ratification
	err := c.do(ctx, http.MethodGet, "me/ratifications/reviewable", nil, &resp)
	return resp, err
}

func (c *Client) ClaimRatification(ctx context.Context, id string) (Ratification, error) {
	var resp Ratification
	err := c.do(ctx, http.MethodPost, "ratifications/"+url.PathEscape(id)+"/claim", nil, &resp)
	return resp, err
}

func (c *Client) Approve(ctx context.Context, id, feedback string) (Ratification, error) {
	var resp Ratification
	err := c.do(ctx, http.MethodPost, "ratifications/"+url.PathEscape(id)+"/approve", map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

func (c *Client) RequestChanges(ctx context.Context, id, feedback string) (Ratification, error) {
	var resp Ratification
	err := c.do(ctx, http.MethodPost, "ratifications/"+url.PathEscape(id)+"/request-changes", map[string]any{"feedback": feedback}, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, guildID string, limit int) ([]LeaderboardEntry, error) {
	endpoint := "guilds/" + url.PathEscape(guildID) + "/leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LeaderboardEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Endorse(ctx context.Context, guildID, endorseeID, skillID, comment string) error {
	body := map[string]any{"endorsee_id": endorseeID, "skill_id": skillID, "comment": comment}
	return c.do(ctx, http.MethodPost, "guilds/"+url.PathEscape(guildID)+"/endorsements", body, nil)
}

// SetPreference sets the actor's default mode, or a group override when
// groupID is set.
func (c *Client) SetPreference(ctx context.Context, groupID, mode string) (Preference, error) {
	var resp Preference
	err := c.do(ctx, http.MethodPut, "me/preferences", map[string]any{"group_id": groupID, "mode": mode}, &resp)
	return resp, err
}

// EffectiveMode resolves the actor's delivery mode, optionally within a group.
func (c *Client) EffectiveMode(ctx context.Context, groupID string) (string, error) {
	endpoint := "me/preferences/effective"
	if groupID != "" {
		endpoint += "?group_id=" + url.QueryEscape(groupID)
	}
	var resp struct {
		Mode string `json:"mode"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Mode, err
}

func (c *Client) RunDigest(ctx context.Context, frequency string) (DigestReport, error) {
	var resp DigestReport
	err := c.do(ctx, http.MethodPost, "digests/"+url.PathEscape(frequency)+"/run", nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-ID", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
