// Package quizmatch matches users with a hobby from their answers to a
// fixed quiz. The suggestion comes from an LLM.
package quizmatch

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
	"github.com/roach88/hobbysync/internal/llm"
)

//go:embed schema.sql
var schemaSQL string

const Name = "QuizMatchmaker"

type Concept struct {
	db  *sql.DB
	env concept.Env
	llm llm.Client
}

// New creates the match table. client may be nil, in which case
// generateHobbyMatch reports that the LLM is not initialized.
func New(ctx context.Context, db *sql.DB, env concept.Env, client llm.Client) (*Concept, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("%s schema: %w", Name, err)
	}
	return &Concept{db: db, env: env, llm: client}, nil
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"generateHobbyMatch": c.generateHobbyMatch,
		"deleteHobbyMatches": c.deleteHobbyMatches,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_getQuestions":       c.getQuestions,
		"_getAllHobbyMatches": c.getAllHobbyMatches,
		"_getMatchedHobby":    c.getMatchedHobby,
	}
}

func (c *Concept) generateHobbyMatch(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	answers, ok := concept.Strings(args, "answers")
	if !ok || len(answers) != len(Questions) {
		return nil, concept.Errorf("Must provide exactly %d answers.", len(Questions))
	}
	if c.llm == nil {
		return nil, concept.Errorf("LLM not initialized. API key might be missing or invalid.")
	}

	reply, err := c.llm.Generate(ctx, BuildPrompt(answers))
	if err != nil {
		return nil, concept.Errorf("Failed to generate hobby match with LLM: %s", err.Error())
	}
	hobby, ok := SanitizeHobby(reply)
	if !ok {
		return nil, concept.Errorf("LLM returned an empty or unparseable hobby suggestion.")
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO hobby_matches (id, user_id, matched_hobby, matched_at) VALUES (?, ?, ?, ?)`,
		c.env.NewID(), user, hobby, c.env.Timestamp()); err != nil {
		return nil, fmt.Errorf("insert hobby match: %w", err)
	}
	return ir.O("matchedHobby", hobby), nil
}

func (c *Concept) deleteHobbyMatches(ctx context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	res, err := c.db.ExecContext(ctx, `DELETE FROM hobby_matches WHERE user_id = ?`, user)
	if err != nil {
		return nil, fmt.Errorf("delete hobby matches: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, concept.Errorf("No hobby matches exist for user %s.", user)
	}
	return ir.IRObject{}, nil
}

func (c *Concept) getQuestions(context.Context, ir.IRObject) ([]ir.IRObject, error) {
	out := make([]ir.IRObject, len(Questions))
	for i, q := range Questions {
		out[i] = ir.O("id", q.ID, "text", q.Text)
	}
	return out, nil
}

func (c *Concept) matches(ctx context.Context, user string, limit int) ([]ir.IRObject, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, matched_hobby, matched_at FROM hobby_matches
		WHERE user_id = ?
		ORDER BY matched_at DESC, rowid DESC
		LIMIT ?`, user, limit)
	if err != nil {
		return nil, fmt.Errorf("list hobby matches: %w", err)
	}
	defer rows.Close()

	out := []ir.IRObject{}
	for rows.Next() {
		var id, hobby, at string
		if err := rows.Scan(&id, &hobby, &at); err != nil {
			return nil, fmt.Errorf("scan hobby match: %w", err)
		}
		out = append(out, ir.O("id", id, "hobby", hobby, "matchedAt", at))
	}
	return out, rows.Err()
}

func (c *Concept) getAllHobbyMatches(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	return c.matches(ctx, concept.Str(args, "user"), -1)
}

// getMatchedHobby returns only the most recent match.
func (c *Concept) getMatchedHobby(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	latest, err := c.matches(ctx, concept.Str(args, "user"), 1)
	if err != nil || len(latest) == 0 {
		return latest, err
	}
	return []ir.IRObject{ir.O("matchedHobby", latest[0]["hobby"], "matchedAt", latest[0]["matchedAt"])}, nil
}
