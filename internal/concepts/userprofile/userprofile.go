// Package userprofile lets users share a display name, an image and the
// hobbies they are pursuing.
package userprofile

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

const Name = "UserProfile"

type Concept struct {
	db  *sql.DB
	env concept.Env
}

func New(ctx context.Context, db *sql.DB, env concept.Env) (*Concept, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("%s schema: %w", Name, err)
	}
	return &Concept{db: db, env: env}, nil
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"createProfile": c.createProfile,
		"setName":       c.setName,
		"setImage":      c.setImage,
		"setHobby":      c.setHobby,
		"closeHobby":    c.closeHobby,
		"closeProfile":  c.closeProfile,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_getUserProfile":   c.getUserProfile,
		"_getUserHobbies":   c.getUserHobbies,
		"_getActiveHobbies": c.getActiveHobbies,
	}
}

func (c *Concept) createProfile(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, active) VALUES (?, 1) ON CONFLICT(user_id) DO NOTHING`, user)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, concept.Errorf("Profile for user %s already exists.", user)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) setName(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	return c.updateProfile(ctx, concept.Str(args, "user"), "displayname", concept.Str(args, "displayname"))
}

func (c *Concept) setImage(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	return c.updateProfile(ctx, concept.Str(args, "user"), "image", concept.Str(args, "image"))
}

func (c *Concept) closeProfile(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	return c.updateProfile(ctx, concept.Str(args, "user"), "active", 0)
}

// column is always one of the fixed names above.
func (c *Concept) updateProfile(ctx context.Context, user, column string, value any) (ir.IRObject, error) {
	res, err := c.db.ExecContext(ctx, `UPDATE profiles SET `+column+` = ? WHERE user_id = ?`, value, user)
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, concept.Errorf("User profile for %s not found.", user)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) requireProfile(ctx context.Context, user string) error {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles WHERE user_id = ?`, user).Scan(&n); err != nil {
		return fmt.Errorf("lookup profile: %w", err)
	}
	if n == 0 {
		return concept.Errorf("User profile for %s not found.", user)
	}
	return nil
}

func (c *Concept) hobbyState(ctx context.Context, user, hobby string) (active, found bool, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT active FROM profile_hobbies WHERE user_id = ? AND hobby = ?`, user, hobby).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("lookup hobby: %w", err)
	}
	return active, true, nil
}

func (c *Concept) setHobby(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user, hobby := concept.Str(args, "user"), concept.Str(args, "hobby")
	if err := c.requireProfile(ctx, user); err != nil {
		return nil, err
	}
	active, found, err := c.hobbyState(ctx, user, hobby)
	if err != nil {
		return nil, err
	}
	switch {
	case found && active:
		return nil, concept.Errorf("Hobby '%s' is already active for user %s.", hobby, user)
	case found:
		_, err = c.db.ExecContext(ctx,
			`UPDATE profile_hobbies SET active = 1 WHERE user_id = ? AND hobby = ?`, user, hobby)
	default:
		_, err = c.db.ExecContext(ctx,
			`INSERT INTO profile_hobbies (id, user_id, hobby, active, created_at) VALUES (?, ?, ?, 1, ?)`,
			c.env.NewID(), user, hobby, c.env.Timestamp())
	}
	if err != nil {
		return nil, fmt.Errorf("set hobby: %w", err)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) closeHobby(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user, hobby := concept.Str(args, "user"), concept.Str(args, "hobby")
	if err := c.requireProfile(ctx, user); err != nil {
		return nil, err
	}
	active, found, err := c.hobbyState(ctx, user, hobby)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, concept.Errorf("Hobby '%s' not found for user %s.", hobby, user)
	}
	if !active {
		return nil, concept.Errorf("Hobby '%s' is already inactive for user %s.", hobby, user)
	}
	if _, err := c.db.ExecContext(ctx,
		`UPDATE profile_hobbies SET active = 0 WHERE user_id = ? AND hobby = ?`, user, hobby); err != nil {
		return nil, fmt.Errorf("close hobby: %w", err)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) getUserProfile(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	user := concept.Str(args, "user")
	var active bool
	var name, image string
	err := c.db.QueryRowContext(ctx,
		`SELECT active, displayname, image FROM profiles WHERE user_id = ?`, user).Scan(&active, &name, &image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concept.Errorf("User profile for %s not found.", user)
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	profile := ir.O("user", user, "displayname", name, "image", image, "active", active)
	return []ir.IRObject{{"userProfile": profile}}, nil
}

func (c *Concept) getUserHobbies(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.listHobbies(ctx, concept.Str(args, "user"), false)
}

func (c *Concept) getActiveHobbies(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.listHobbies(ctx, concept.Str(args, "user"), true)
}

func (c *Concept) listHobbies(ctx context.Context, user string, activeOnly bool) ([]ir.IRObject, error) {
	if err := c.requireProfile(ctx, user); err != nil {
		return nil, err
	}
	query := `SELECT hobby, active FROM profile_hobbies WHERE user_id = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	rows, err := c.db.QueryContext(ctx, query+` ORDER BY created_at ASC, hobby ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("list hobbies: %w", err)
	}
	defer rows.Close()

	out := []ir.IRObject{}
	for rows.Next() {
		var hobby string
		var active bool
		if err := rows.Scan(&hobby, &active); err != nil {
			return nil, fmt.Errorf("scan hobby: %w", err)
		}
		out = append(out, ir.O("hobby", hobby, "active", active))
	}
	return out, rows.Err()
}
