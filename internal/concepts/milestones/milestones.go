// Package milestones tracks per-hobby goals and the ordered steps toward
// them. Steps can be written by hand or generated by an LLM.
package milestones

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/llm"
)

//go:embed schema.sql
var schemaSQL string

const Name = "MilestoneTracker"

type Concept struct {
	db  *sql.DB
	env concept.Env
	llm llm.Client
}

// New creates the goal and step tables. client may be nil.
func New(ctx context.Context, db *sql.DB, env concept.Env, client llm.Client) (*Concept, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("%s schema: %w", Name, err)
	}
	return &Concept{db: db, env: env, llm: client}, nil
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"createGoal":      c.createGoal,
		"closeGoal":       c.closeGoal,
		"generateSteps":   c.generateSteps,
		"regenerateSteps": c.regenerateSteps,
		"addStep":         c.addStep,
		"completeStep":    c.completeStep,
		"removeStep":      c.removeStep,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_getGoal":            c.getGoal,
		"_getGoals":           c.getGoals,
		"_getSteps":           c.stepsQuery(""),
		"_getIncompleteSteps": c.stepsQuery(" AND is_complete = 0"),
		"_getCompleteSteps":   c.stepsQuery(" AND is_complete = 1"),
	}
}

type goal struct {
	id, user, hobby, description string
	active                       bool
}

func (c *Concept) loadGoal(ctx context.Context, id string) (goal, error) {
	g := goal{id: id}
	err := c.db.QueryRowContext(ctx,
		`SELECT user_id, hobby, description, is_active FROM goals WHERE id = ?`, id).
		Scan(&g.user, &g.hobby, &g.description, &g.active)
	if errors.Is(err, sql.ErrNoRows) {
		return goal{}, concept.Errorf("Goal %s not found.", id)
	}
	if err != nil {
		return goal{}, fmt.Errorf("load goal: %w", err)
	}
	return g, nil
}

func (c *Concept) loadActiveGoal(ctx context.Context, id string) (goal, error) {
	g, err := c.loadGoal(ctx, id)
	if err != nil {
		return goal{}, err
	}
	if !g.active {
		return goal{}, concept.Errorf("Goal %s is not active.", id)
	}
	return g, nil
}

func (c *Concept) createGoal(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user, hobby := concept.Str(args, "user"), concept.Str(args, "hobby")
	description := strings.TrimSpace(concept.Str(args, "description"))
	if description == "" {
		return nil, concept.Errorf("Description cannot be empty.")
	}
	if hobby == "" {
		return nil, concept.Errorf("Hobby cannot be empty.")
	}

	var n int
	if err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM goals WHERE user_id = ? AND hobby = ? AND is_active = 1`, user, hobby).Scan(&n); err != nil {
		return nil, fmt.Errorf("lookup goals: %w", err)
	}
	if n > 0 {
		return nil, concept.Errorf("An active goal for hobby '%s' already exists for user %s.", hobby, user)
	}

	id := c.env.NewID()
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, hobby, description, is_active, auto_generate, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		id, user, hobby, description, concept.Bool(args, "autoGenerate"), c.env.Timestamp()); err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return ir.O("goalId", id), nil
}

func (c *Concept) closeGoal(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	g, err := c.loadGoal(ctx, concept.Str(args, "goalId"))
	if err != nil {
		return nil, err
	}
	if !g.active {
		return nil, concept.Errorf("Goal %s is already closed.", g.id)
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE goals SET is_active = 0 WHERE id = ?`, g.id); err != nil {
		return nil, fmt.Errorf("close goal: %w", err)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) countSteps(ctx context.Context, goalID, filter string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM goal_steps WHERE goal_id = ?`+filter, goalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count steps: %w", err)
	}
	return n, nil
}

// suggest asks the model for steps. Failures map to fixed user-facing messages.
func (c *Concept) suggest(ctx context.Context, g goal) ([]string, error) {
	if c.llm == nil {
		return nil, concept.Errorf("LLM not initialized. API key might be missing or invalid.")
	}
	reply, err := c.llm.Generate(ctx, BuildStepsPrompt(g.hobby, g.description))
	if err != nil {
		slog.Warn("step generation failed", "goal", g.id, "error", err)
		return nil, concept.Errorf("Failed to generate steps")
	}
	steps, msg := ParseSteps(reply)
	if msg != "" {
		return nil, concept.Errorf("%s", msg)
	}
	return steps, nil
}

func (c *Concept) generateSteps(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	g, err := c.loadActiveGoal(ctx, concept.Str(args, "goal"))
	if err != nil {
		return nil, err
	}
	n, err := c.countSteps(ctx, g.id, "")
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, concept.Errorf("Steps already exist for goal %s.", g.id)
	}
	steps, err := c.suggest(ctx, g)
	if err != nil {
		return nil, err
	}
	if _, err := c.appendSteps(ctx, g.id, steps, false); err != nil {
		return nil, err
	}
	return ir.O("steps", steps), nil
}

// regenerateSteps replaces the incomplete steps of a goal; completed steps stay.
func (c *Concept) regenerateSteps(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	g, err := c.loadActiveGoal(ctx, concept.Str(args, "goal"))
	if err != nil {
		return nil, err
	}
	steps, err := c.suggest(ctx, g)
	if err != nil {
		return nil, err
	}
	if _, err := c.appendSteps(ctx, g.id, steps, true); err != nil {
		return nil, err
	}
	return ir.O("steps", steps), nil
}

// appendSteps returns the ids of the inserted steps in order.
func (c *Concept) appendSteps(ctx context.Context, goalID string, steps []string, replaceIncomplete bool) ([]string, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if replaceIncomplete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM goal_steps WHERE goal_id = ? AND is_complete = 0`, goalID); err != nil {
			return nil, fmt.Errorf("delete incomplete steps: %w", err)
		}
	}
	var pos int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM goal_steps WHERE goal_id = ?`, goalID).Scan(&pos); err != nil {
		return nil, fmt.Errorf("max position: %w", err)
	}
	start := c.env.Timestamp()
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		pos++
		id := c.env.NewID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_steps (id, goal_id, position, description, start)
			VALUES (?, ?, ?, ?, ?)`, id, goalID, pos, s, start); err != nil {
			return nil, fmt.Errorf("insert step: %w", err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit steps: %w", err)
	}
	return ids, nil
}

func (c *Concept) addStep(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	description := strings.TrimSpace(concept.Str(args, "description"))
	if description == "" {
		return nil, concept.Errorf("Step cannot be empty")
	}
	g, err := c.loadActiveGoal(ctx, concept.Str(args, "goal"))
	if err != nil {
		return nil, err
	}
	ids, err := c.appendSteps(ctx, g.id, []string{description}, false)
	if err != nil {
		return nil, err
	}
	return ir.O("step", ids[0]), nil
}

// completeStep closes the goal once its last open step is done.
func (c *Concept) completeStep(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	step := concept.Str(args, "step")
	var goalID string
	err := c.db.QueryRowContext(ctx, `
		SELECT s.goal_id FROM goal_steps s
		JOIN goals g ON g.id = s.goal_id
		WHERE s.id = ? AND s.is_complete = 0 AND g.is_active = 1`, step).Scan(&goalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, concept.Errorf("Step not found or already completed")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup step: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE goal_steps SET is_complete = 1, completion = ? WHERE id = ?`, c.env.Timestamp(), step); err != nil {
		return nil, fmt.Errorf("complete step: %w", err)
	}
	open, err := c.countSteps(ctx, goalID, " AND is_complete = 0")
	if err != nil {
		return nil, err
	}
	if open == 0 {
		if _, err := c.db.ExecContext(ctx, `UPDATE goals SET is_active = 0 WHERE id = ?`, goalID); err != nil {
			return nil, fmt.Errorf("close goal: %w", err)
		}
	}
	return ir.IRObject{}, nil
}

func (c *Concept) removeStep(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	step := concept.Str(args, "step")
	res, err := c.db.ExecContext(ctx, `DELETE FROM goal_steps WHERE id = ?`, step)
	if err != nil {
		return nil, fmt.Errorf("remove step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, concept.Errorf("Step %s not found.", step)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) listGoals(ctx context.Context, query string, args ...any) ([]ir.IRObject, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	out := []ir.IRObject{}
	for rows.Next() {
		var id, description, hobby string
		var active bool
		if err := rows.Scan(&id, &description, &hobby, &active); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, ir.O("id", id, "description", description, "hobby", hobby, "isActive", active))
	}
	return out, rows.Err()
}

func (c *Concept) getGoal(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.listGoals(ctx, `
		SELECT id, description, hobby, is_active FROM goals
		WHERE user_id = ? AND hobby = ?
		ORDER BY is_active DESC, created_at DESC, id ASC`,
		concept.Str(args, "user"), concept.Str(args, "hobby"))
}

func (c *Concept) getGoals(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.listGoals(ctx, `
		SELECT id, description, hobby, is_active FROM goals
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, concept.Str(args, "user"))
}

func (c *Concept) stepsQuery(filter string) concept.Query {
	return func(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
		rows, err := c.db.QueryContext(ctx, `
			SELECT id, description, start, completion, is_complete FROM goal_steps
			WHERE goal_id = ?`+filter+`
			ORDER BY position ASC`, concept.Str(args, "goal"))
		if err != nil {
			return nil, fmt.Errorf("list steps: %w", err)
		}
		defer rows.Close()

		out := []ir.IRObject{}
		for rows.Next() {
			var id, description, start, completion string
			var complete bool
			if err := rows.Scan(&id, &description, &start, &completion, &complete); err != nil {
				return nil, fmt.Errorf("scan step: %w", err)
			}
			out = append(out, ir.O(
				"id", id, "description", description, "start", start,
				"completion", completion, "isComplete", complete))
		}
		return out, rows.Err()
	}
}
