package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bastionbot/bastion"
)

// AddAdmin grants bot-admin to a user. CreatedAt fixes seniority; the
// caller passes time.Now() for new grants.
func (s *Session) AddAdmin(ctx context.Context, userID string, createdAt time.Time) error {
	_, err := s.tx.ExecContext(ctx,
		`INSERT INTO admins (user_id, created_at) VALUES (?, ?)`,
		userID, createdAt.Unix())
	if isUniqueViolation(err) {
		return &bastion.IntegrityError{Constraint: "admins.user_id", Err: err}
	}
	if err != nil {
		return fmt.Errorf("add admin: %w", err)
	}
	return nil
}

// RemoveAdmin revokes bot-admin. Seniority is enforced here: the remover
// must have been granted strictly earlier than the target.
func (s *Session) RemoveAdmin(ctx context.Context, removerID, targetID string) error {
	remover, err := s.Admin(ctx, removerID)
	if err != nil {
		return err
	}
	target, err := s.Admin(ctx, targetID)
	if err != nil {
		return err
	}
	if !remover.CreatedAt.Before(target.CreatedAt) {
		return &bastion.PermissionError{Cmd: "admin", Msg: "only an earlier admin may remove a later one"}
	}
	_, err = s.tx.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, targetID)
	if err != nil {
		return fmt.Errorf("remove admin: %w", err)
	}
	return nil
}

// Admin returns one admin row.
func (s *Session) Admin(ctx context.Context, userID string) (bastion.AdminPermission, error) {
	var a bastion.AdminPermission
	var created int64
	err := s.tx.QueryRowContext(ctx,
		`SELECT user_id, created_at FROM admins WHERE user_id = ?`, userID).
		Scan(&a.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return a, &bastion.NoMatchError{Kind: "admin", Needle: userID}
	}
	if err != nil {
		return a, fmt.Errorf("get admin: %w", err)
	}
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}

// IsAdmin reports whether the user holds bot-admin.
func (s *Session) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is admin: %w", err)
	}
	return n > 0, nil
}

// Admins lists all admins, seniority first.
func (s *Session) Admins(ctx context.Context) ([]bastion.AdminPermission, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT user_id, created_at FROM admins ORDER BY created_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	defer rows.Close()

	var out []bastion.AdminPermission
	for rows.Next() {
		var a bastion.AdminPermission
		var created int64
		if err := rows.Scan(&a.UserID, &created); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		a.CreatedAt = time.Unix(created, 0)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddChannelPerm restricts cmd to a channel. Adding the first row for a
// (cmd, guild) pair flips that command from open to restricted. A rule
// already present is an argument error.
func (s *Session) AddChannelPerm(ctx context.Context, p bastion.ChannelPermission) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO perms_channel (cmd, guild, channel) VALUES (?, ?, ?)`,
		p.Cmd, p.Guild, p.Channel)
	if err != nil {
		return fmt.Errorf("add channel perm: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bastion.Argf("channel rule for %q already exists", p.Cmd)
	}
	return nil
}

// RemoveChannelPerm lifts one channel restriction. Removing a rule that
// was never added is an argument error.
func (s *Session) RemoveChannelPerm(ctx context.Context, p bastion.ChannelPermission) error {
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM perms_channel WHERE cmd = ? AND guild = ? AND channel = ?`,
		p.Cmd, p.Guild, p.Channel)
	if err != nil {
		return fmt.Errorf("remove channel perm: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bastion.Argf("no such channel rule for %q", p.Cmd)
	}
	return nil
}

// ChannelAllowed reports whether cmd may run in the channel. A command
// with no channel rows for the guild runs anywhere.
func (s *Session) ChannelAllowed(ctx context.Context, cmd, guild, channel string) (bool, error) {
	var total int
	err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM perms_channel WHERE cmd = ? AND guild = ?`,
		cmd, guild).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("channel perm count: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	var match int
	err = s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM perms_channel WHERE cmd = ? AND guild = ? AND channel = ?`,
		cmd, guild, channel).Scan(&match)
	if err != nil {
		return false, fmt.Errorf("channel perm match: %w", err)
	}
	return match > 0, nil
}

// AddRolePerm restricts cmd to a role. A rule already present is an
// argument error.
func (s *Session) AddRolePerm(ctx context.Context, p bastion.RolePermission) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO perms_role (cmd, guild, role) VALUES (?, ?, ?)`,
		p.Cmd, p.Guild, p.Role)
	if err != nil {
		return fmt.Errorf("add role perm: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bastion.Argf("role rule for %q already exists", p.Cmd)
	}
	return nil
}

// RemoveRolePerm lifts one role restriction. Removing a rule that was
// never added is an argument error.
func (s *Session) RemoveRolePerm(ctx context.Context, p bastion.RolePermission) error {
	res, err := s.tx.ExecContext(ctx,
		`DELETE FROM perms_role WHERE cmd = ? AND guild = ? AND role = ?`,
		p.Cmd, p.Guild, p.Role)
	if err != nil {
		return fmt.Errorf("remove role perm: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bastion.Argf("no such role rule for %q", p.Cmd)
	}
	return nil
}

// RoleAllowed reports whether a holder of the given roles may run cmd.
// A command with no role rows for the guild is open to everyone.
func (s *Session) RoleAllowed(ctx context.Context, cmd, guild string, roles []string) (bool, error) {
	var total int
	err := s.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM perms_role WHERE cmd = ? AND guild = ?`,
		cmd, guild).Scan(&total)
	if err != nil {
		return false, fmt.Errorf("role perm count: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	for _, r := range roles {
		var match int
		err = s.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM perms_role WHERE cmd = ? AND guild = ? AND role = ?`,
			cmd, guild, r).Scan(&match)
		if err != nil {
			return false, fmt.Errorf("role perm match: %w", err)
		}
		if match > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ChannelPerms lists channel restrictions, optionally for one command.
func (s *Session) ChannelPerms(ctx context.Context, cmd string) ([]bastion.ChannelPermission, error) {
	query := `SELECT cmd, guild, channel FROM perms_channel`
	var args []any
	if cmd != "" {
		query += ` WHERE cmd = ?`
		args = append(args, cmd)
	}
	query += ` ORDER BY cmd, guild, channel`

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list channel perms: %w", err)
	}
	defer rows.Close()

	var out []bastion.ChannelPermission
	for rows.Next() {
		var p bastion.ChannelPermission
		if err := rows.Scan(&p.Cmd, &p.Guild, &p.Channel); err != nil {
			return nil, fmt.Errorf("scan channel perm: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RolePerms lists role restrictions, optionally for one command.
func (s *Session) RolePerms(ctx context.Context, cmd string) ([]bastion.RolePermission, error) {
	query := `SELECT cmd, guild, role FROM perms_role`
	var args []any
	if cmd != "" {
		query += ` WHERE cmd = ?`
		args = append(args, cmd)
	}
	query += ` ORDER BY cmd, guild, role`

	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list role perms: %w", err)
	}
	defer rows.Close()

	var out []bastion.RolePermission
	for rows.Next() {
		var p bastion.RolePermission
		if err := rows.Scan(&p.Cmd, &p.Guild, &p.Role); err != nil {
			return nil, fmt.Errorf("scan role perm: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
