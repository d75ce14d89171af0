package repo

import (
	"context"
	"database/sql"
)

func (r Repo) AddMember(ctx context.Context, groupID, userID, role, now string) error {
	_, err := r.conn().ExecContext(ctx, `INSERT OR IGNORE INTO group_members(group_id, user_id, role, created_at) VALUES (?,?,?,?)`, groupID, userID, role, now)
	return err
}

// RemoveMember drops one role, or every role when role is "".
func (r Repo) RemoveMember(ctx context.Context, groupID, userID, role string) error {
	if role == "" {
		_, err := r.conn().ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=?`, groupID, userID)
		return err
	}
	_, err := r.conn().ExecContext(ctx, `DELETE FROM group_members WHERE group_id=? AND user_id=? AND role=?`, groupID, userID, role)
	return err
}

func (r Repo) MemberRoles(ctx context.Context, groupID, userID string) ([]string, error) {
	return r.strings(ctx, `SELECT role FROM group_members WHERE group_id=? AND user_id=? ORDER BY role`, groupID, userID)
}

// GroupMembers returns distinct user ids in a group, sorted.
func (r Repo) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return r.strings(ctx, `SELECT DISTINCT user_id FROM group_members WHERE group_id=? ORDER BY user_id`, groupID)
}

func (r Repo) UserGroups(ctx context.Context, userID string) ([]string, error) {
	return r.strings(ctx, `SELECT DISTINCT group_id FROM group_members WHERE user_id=? ORDER BY group_id`, userID)
}

func (r Repo) GrantSiteCapability(ctx context.Context, userID, capability, now string) error {
	_, err := r.conn().ExecContext(ctx, `INSERT OR IGNORE INTO site_capabilities(user_id, capability, created_at) VALUES (?,?,?)`, userID, capability, now)
	return err
}

func (r Repo) RevokeSiteCapability(ctx context.Context, userID, capability string) error {
	_, err := r.conn().ExecContext(ctx, `DELETE FROM site_capabilities WHERE user_id=? AND capability=?`, userID, capability)
	return err
}

func (r Repo) HasSiteCapability(ctx context.Context, userID, capability string) (bool, error) {
	var n int
	err := r.conn().QueryRowContext(ctx, `SELECT count(*) FROM site_capabilities WHERE user_id=? AND capability=?`, userID, capability).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
