package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"pressflow/internal/config"
	"pressflow/internal/domain"
	"pressflow/internal/events"
	"pressflow/internal/repo"
	"pressflow/internal/runlock"
)

// Membership answers group questions. Implementations must not hold a
// database transaction open across calls.
type Membership interface {
	IsMember(ctx context.Context, userID, groupID string) (bool, error)
	RolesOf(ctx context.Context, userID, groupID string) ([]domain.Role, error)
	MembersOf(ctx context.Context, groupID string) ([]string, error)
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// Capabilities answers site-level capability checks used by override paths.
type Capabilities interface {
	HasCapability(ctx context.Context, userID string, c domain.Capability) (bool, error)
}

// Mailer delivers one message. Failures are reported, never retried here.
type Mailer interface {
	Send(ctx context.Context, userID, templateKey string, params map[string]string) error
}

type Deps struct {
	Members Membership
	Caps    Capabilities
	Mailer  Mailer
	// Lock guards digest runs. Nil disables locking.
	Lock   runlock.Locker
	Logger *log.Logger
}

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Members Membership
	Caps    Capabilities
	Mailer  Mailer
	Lock    runlock.Locker
	Config  *config.Config
	Logger  *log.Logger
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config, deps Deps) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Members: deps.Members,
		Caps:    deps.Caps,
		Mailer:  deps.Mailer,
		Lock:    deps.Lock,
		Config:  cfg,
		Logger:  deps.Logger,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.Timestamp(e.now())
}

func (e Engine) log() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) appendEvent(ctx context.Context, r repo.Repo, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := events.Writer{Now: e.now}
	return w.Append(ctx, r.Exec(), evtType, entityKind, entityID, actorID, payload)
}

// inTx runs a primary mutation. Store failures come back as
// CollaboratorUnavailable; taxonomy errors pass through untouched.
func (e Engine) inTx(ctx context.Context, op string, fn func(repo.Repo) error) error {
	return storeErr(op, e.Repo.InTx(ctx, fn))
}

func storeErr(op string, err error) error {
	return domain.Unavailable("record store", op, err)
}

func (e Engine) getTask(ctx context.Context, id string) (domain.WorkflowTask, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return t, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t, storeErr("load task", err)
}

func (e Engine) getRatification(ctx context.Context, id string) (domain.Ratification, error) {
	rt, err := e.Repo.GetRatification(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return rt, fmt.Errorf("ratification %s: %w", id, domain.ErrNotFound)
	}
	return rt, storeErr("load ratification", err)
}

// hasSiteCapability treats a missing capability oracle as "no grant".
func (e Engine) hasSiteCapability(ctx context.Context, userID string, c domain.Capability) (bool, error) {
	if e.Caps == nil {
		return false, nil
	}
	return e.Caps.HasCapability(ctx, userID, c)
}

// canInGroup reports whether userID holds c in groupID through a role, or
// through a site-level grant.
func (e Engine) canInGroup(ctx context.Context, userID, groupID string, c domain.Capability) (bool, error) {
	if ok, err := e.hasSiteCapability(ctx, userID, c); err != nil || ok {
		return ok, err
	}
	if e.Members == nil {
		return false, domain.Unavailable("membership", "roles_of", errors.New("no membership oracle configured"))
	}
	roles, err := e.Members.RolesOf(ctx, userID, groupID)
	if err != nil {
		return false, domain.Unavailable("membership", "roles_of", err)
	}
	return e.Config.RoleCapabilities().Grants(roles, c), nil
}

func (e Engine) isMember(ctx context.Context, userID, groupID string) (bool, error) {
	if e.Members == nil {
		return false, domain.Unavailable("membership", "is_member", errors.New("no membership oracle configured"))
	}
	ok, err := e.Members.IsMember(ctx, userID, groupID)
	return ok, domain.Unavailable("membership", "is_member", err)
}

func ptr(s string) *string {
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
