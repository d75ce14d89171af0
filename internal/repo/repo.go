package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"pressflow/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo is the record store over SQLite. The zero-value q runs statements on
// DB; WithTx binds a transaction.
type Repo struct {
	DB *sql.DB
	q  Querier
}

// ErrNotFound is shared with the domain taxonomy.
var ErrNotFound = domain.ErrNotFound

// ErrStale is returned when a conditional update matched no row because the
// record changed since it was read.
var ErrStale = errors.New("record changed concurrently")

func (r Repo) WithTx(tx *sql.Tx) Repo {
	return Repo{DB: r.DB, q: tx}
}

func (r Repo) conn() Querier {
	if r.q != nil {
		return r.q
	}
	return r.DB
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (r Repo) InTx(ctx context.Context, fn func(Repo) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(r.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// Exec exposes the bound connection for the event writer.
func (r Repo) Exec() Querier {
	return r.conn()
}

const taskColumns = `id,content_item_id,sequence_weight,assigned_type,assigned_user_id,assigned_group_id,assigned_destination_id,previous_group_id,status,title,description,comments,due_date,guild_id,requires_ratification,version,created_at,updated_at,completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (domain.WorkflowTask, error) {
	var t domain.WorkflowTask
	var userID, groupID, destID, prevGroup, description, comments, dueDate, guildID, completedAt sql.NullString
	var requires int
	err := s.Scan(&t.ID, &t.ContentItemID, &t.SequenceWeight, &t.AssignedType, &userID, &groupID, &destID, &prevGroup,
		&t.Status, &t.Title, &description, &comments, &dueDate, &guildID, &requires, &t.Version, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.AssignedUserID = stringPtr(userID)
	t.AssignedGroupID = stringPtr(groupID)
	t.AssignedDestinationID = stringPtr(destID)
	t.PreviousGroupID = stringPtr(prevGroup)
	t.Description = description.String
	t.Comments = comments.String
	t.DueDate = stringPtr(dueDate)
	t.GuildID = stringPtr(guildID)
	t.RequiresRatification = requires != 0
	t.CompletedAt = stringPtr(completedAt)
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.WorkflowTask) error {
	_, err := r.conn().ExecContext(ctx, `INSERT INTO workflow_tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ContentItemID, t.SequenceWeight, t.AssignedType, nullableStringPtr(t.AssignedUserID), nullableStringPtr(t.AssignedGroupID),
		nullableStringPtr(t.AssignedDestinationID), nullableStringPtr(t.PreviousGroupID), t.Status, t.Title, nullable(t.Description),
		nullable(t.Comments), nullableStringPtr(t.DueDate), nullableStringPtr(t.GuildID), boolInt(t.RequiresRatification), t.Version,
		t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask writes t when the stored version still equals t.Version and
// bumps the version on success. A lost race yields ErrStale.
func (r Repo) UpdateTask(ctx context.Context, t *domain.WorkflowTask) error {
	res, err := r.conn().ExecContext(ctx, `UPDATE workflow_tasks SET assigned_type=?, assigned_user_id=?, assigned_group_id=?, assigned_destination_id=?,
previous_group_id=?, status=?, title=?, description=?, comments=?, due_date=?, guild_id=?, requires_ratification=?, updated_at=?, completed_at=?,
version=version+1 WHERE id=? AND version=?`,
		t.AssignedType, nullableStringPtr(t.AssignedUserID), nullableStringPtr(t.AssignedGroupID), nullableStringPtr(t.AssignedDestinationID),
		nullableStringPtr(t.PreviousGroupID), t.Status, t.Title, nullable(t.Description), nullable(t.Comments), nullableStringPtr(t.DueDate),
		nullableStringPtr(t.GuildID), boolInt(t.RequiresRatification), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStale
	}
	t.Version++
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.WorkflowTask, error) {
	return scanTask(r.conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM workflow_tasks WHERE id=?`, id))
}

type TaskFilters struct {
	ContentItemID  string
	AssignedUserID string
	GroupIDs       []string
	Status         domain.TaskStatus
	Limit          int
}

// ListTasks returns tasks ordered by content item and sequence weight. When
// both AssignedUserID and GroupIDs are set the result is their union.
func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.WorkflowTask, error) {
	var clauses []string
	var args []any
	if f.ContentItemID != "" {
		clauses = append(clauses, "content_item_id=?")
		args = append(args, f.ContentItemID)
	}
	var who []string
	if f.AssignedUserID != "" {
		who = append(who, "assigned_user_id=?")
		args = append(args, f.AssignedUserID)
	}
	if len(f.GroupIDs) > 0 {
		who = append(who, "assigned_group_id IN ("+placeholders(len(f.GroupIDs))+")")
		for _, g := range f.GroupIDs {
			args = append(args, g)
		}
	}
	if len(who) > 0 {
		clauses = append(clauses, "("+strings.Join(who, " OR ")+")")
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks ` + where + ` ORDER BY content_item_id ASC, sequence_weight ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// NextPendingStage returns the lowest-weight pending task on contentItemID
// whose weight is greater than afterWeight.
func (r Repo) NextPendingStage(ctx context.Context, contentItemID string, afterWeight int) (domain.WorkflowTask, error) {
	return scanTask(r.conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM workflow_tasks
WHERE content_item_id=? AND status='pending' AND sequence_weight>? ORDER BY sequence_weight ASC LIMIT 1`, contentItemID, afterWeight))
}

// ActiveUserStage returns the in-progress user-assigned task of a content
// item, if any.
func (r Repo) ActiveUserStage(ctx context.Context, contentItemID string) (domain.WorkflowTask, error) {
	return scanTask(r.conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM workflow_tasks
WHERE content_item_id=? AND status='in_progress' AND assigned_type='user' ORDER BY sequence_weight ASC LIMIT 1`, contentItemID))
}

func (r Repo) CountTasksByStatus(ctx context.Context, contentItemID string) (map[domain.TaskStatus]int, error) {
	query := `SELECT status, count(*) FROM workflow_tasks`
	var args []any
	if contentItemID != "" {
		query += ` WHERE content_item_id=?`
		args = append(args, contentItemID)
	}
	rows, err := r.conn().QueryContext(ctx, query+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.TaskStatus]int{}
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
