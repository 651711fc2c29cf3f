// Package sessioning tracks active user sessions in an embedded badger
// key-value store.
package sessioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/roach88/hobbysync/internal/concept"
	"github.com/roach88/hobbysync/internal/ir"
)

const Name = "Sessioning"

const (
	sessionKeyPrefix     = "session:"
	sessionUserKeyPrefix = "session_user:"
)

type record struct {
	User    string `json:"user"`
	Started string `json:"started"`
}

// Concept is the Sessioning concept.
type Concept struct {
	db  *badger.DB
	env concept.Env
	ttl time.Duration
}

// OpenDB opens a badger database at dir, or an in-memory one when dir is empty.
func OpenDB(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	return db, nil
}

// New wraps db. A zero ttl keeps sessions until they are ended.
func New(db *badger.DB, env concept.Env, ttl time.Duration) *Concept {
	return &Concept{db: db, env: env, ttl: ttl}
}

func (c *Concept) Name() string { return Name }

func (c *Concept) Actions() map[string]concept.Action {
	return map[string]concept.Action{
		"start":         c.start,
		"end":           c.end,
		"endAllForUser": c.endAllForUser,
	}
}

func (c *Concept) Queries() map[string]concept.Query {
	return map[string]concept.Query{
		"_getUser":    c.getUser,
		"_isLoggedIn": c.isLoggedIn,
	}
}

func (c *Concept) start(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	session := c.env.NewID()
	data, err := json.Marshal(record{User: user, Started: c.env.Timestamp()})
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(sessionKeyPrefix+session), data)
		u := badger.NewEntry([]byte(sessionUserKeyPrefix+user+":"+session), []byte(session))
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
			u = u.WithTTL(c.ttl)
		}
		if err := txn.SetEntry(e); err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		return txn.SetEntry(u)
	})
	if err != nil {
		return nil, err
	}
	return ir.O("session", session), nil
}

func (c *Concept) lookup(session string) (record, bool, error) {
	var rec record
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + session))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, fmt.Errorf("get session: %w", err)
	}
	return rec, true, nil
}

func (c *Concept) end(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
	session := concept.Str(args, "session")
	rec, ok, err := c.lookup(session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, concept.Errorf("Session %s not found.", session)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(sessionKeyPrefix + session)); err != nil {
			return err
		}
		return txn.Delete([]byte(sessionUserKeyPrefix + rec.User + ":" + session))
	})
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}
	return ir.IRObject{}, nil
}

// endAllForUser drops every session of a user; used when an account is deleted.
func (c *Concept) endAllForUser(_ context.Context, args ir.IRObject) (ir.IRObject, error) {
	user := concept.Str(args, "user")
	prefix := []byte(sessionUserKeyPrefix + user + ":")

	var sessions []string
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				sessions = append(sessions, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for _, s := range sessions {
			if err := txn.Delete([]byte(sessionKeyPrefix + s)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(sessionUserKeyPrefix + user + ":" + s)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete user sessions: %w", err)
	}
	return ir.O("count", len(sessions)), nil
}

func (c *Concept) getUser(_ context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	session := concept.Str(args, "session")
	rec, ok, err := c.lookup(session)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, concept.Errorf("Session %s not found.", session)
	}
	return []ir.IRObject{ir.O("user", rec.User)}, nil
}

func (c *Concept) isLoggedIn(_ context.Context, args ir.IRObject) ([]ir.IRObject, error) {
	_, ok, err := c.lookup(concept.Str(args, "session"))
	if err != nil {
		return nil, err
	}
	return []ir.IRObject{ir.O("loggedIn", ok)}, nil
}
