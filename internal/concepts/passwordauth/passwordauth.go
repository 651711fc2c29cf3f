// Package passwordauth associates usernames and passwords with user
// identities. Passwords are stored as bcrypt hashes.
package passwordauth

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Name is the concept name used in action references.
const Name = "PasswordAuthentication"

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Concept is the PasswordAuthentication concept.
type Concept struct {
	db   *sql.DB
	env  concept.Env
	cost int
}

// Option configures the concept.
type Option func(*Concept)

// WithBcryptCost overrides bcrypt.DefaultCost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(c *Concept) { c.cost = cost }
}

// New creates the users table if needed.
func New(ctx context.Context, db *sql.DB, env concept.Env, opts ...Option) (*Concept, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("%s schema: %w", Name, err)
	}
	c := &Concept{db: db, env: env, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"register":       c.register,
		"authenticate":   c.authenticate,
		"changePassword": c.changePassword,
		"deleteUser":     c.deleteUser,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_getUser":           c.getUser,
		"_getUserByUsername": c.getUserByUsername,
	}
}

func (c *Concept) register(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	username, password := concept.Str(args, "username"), concept.Str(args, "password")
	if username == "" || password == "" {
		return nil, concept.Errorf("Username and password are required.")
	}
	if len(password) < MinPasswordLength {
		return nil, concept.Errorf("Password must be at least %d characters long.", MinPasswordLength)
	}

	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auth_users WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup username: %w", err)
	}
	if exists > 0 {
		return nil, concept.Errorf("Username '%s' is already taken.", username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := c.env.NewID()
	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO auth_users (id, username, password_hash) VALUES (?, ?, ?)`,
		user, username, string(hash)); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return ir.O("user", user), nil
}

func (c *Concept) authenticate(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	username, password := concept.Str(args, "username"), concept.Str(args, "password")

	var user, hash string
	err := c.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM auth_users WHERE username = ?`, username).Scan(&user, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concept.Errorf("Invalid username or password.")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, concept.Errorf("Invalid username or password.")
	}
	return ir.O("user", user), nil
}

func (c *Concept) changePassword(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	oldPassword, newPassword := concept.Str(args, "oldPassword"), concept.Str(args, "newPassword")

	var hash string
	err := c.db.QueryRowContext(ctx, `SELECT password_hash FROM auth_users WHERE id = ?`, user).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concept.Errorf("User %s not found.", user)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		return nil, concept.Errorf("Invalid current password.")
	}
	if len(newPassword) < MinPasswordLength {
		return nil, concept.Errorf("New password must be at least %d characters long.", MinPasswordLength)
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), c.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE auth_users SET password_hash = ? WHERE id = ?`, string(newHash), user); err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) deleteUser(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	res, err := c.db.ExecContext(ctx, `DELETE FROM auth_users WHERE id = ?`, user)
	if err != nil {
		return nil, fmt.Errorf("delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, concept.Errorf("User %s not found.", user)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) getUser(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.lookup(ctx, `SELECT id, username FROM auth_users WHERE id = ?`, concept.Str(args, "user"))
}

func (c *Concept) getUserByUsername(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.lookup(ctx, `SELECT id, username FROM auth_users WHERE username = ?`, concept.Str(args, "username"))
}

func (c *Concept) lookup(ctx context.Context, query, key string) ([]ir.IRObject, error) {
	var id, username string
	err := c.db.QueryRowContext(ctx, query, key).Scan(&id, &username)
	if errors.Is(err, sql.ErrNoRows) {
		return []ir.IRObject{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return []ir.IRObject{ir.O("user", id, "username", username)}, nil
}
