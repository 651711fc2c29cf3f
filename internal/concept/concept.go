package concept

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/hobbysync/internal/ir"
)

// Action mutates concept state and returns a result object.
type Action func(ctx context.Context, args ir.IRObject) (ir.IRObject, error)

// Query reads concept state. It returns zero or more rows.
type Query func(ctx context.Context, args ir.IRObject) ([]ir.IRObject, error)

// Concept is an isolated unit of state with named actions and queries.
// Query names start with an underscore.
type Concept interface {
	Name() string
	Actions() map[string]Action
	Queries() map[string]Query
}

// Error is an expected domain failure. The registry turns it into an
// {error: message} result instead of failing the invocation.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Errorf builds a domain error.
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// IsError reports whether err is (or wraps) a domain error.
func IsError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// ErrorResult is the result object recorded for a domain error.
func ErrorResult(msg string) ir.IRObject {
	return ir.IRObject{"error": ir.IRString(msg)}
}

// Str returns the string argument at key, or "" when missing or not a string.
func Str(args ir.IRObject, key string) string {
	s, _ := args.String(key)
	return s
}

// Bool returns the bool argument at key, or false.
func Bool(args ir.IRObject, key string) bool {
	b, _ := args.Bool(key)
	return b
}

// Strings returns the argument at key as a list of strings. Non-string
// elements make ok false.
func Strings(args ir.IRObject, key string) (out []string, ok bool) {
	arr, isArr := args[key].(ir.IRArray)
	if !isArr {
		return nil, false
	}
	out = make([]string, 0, len(arr))
	for _, v := range arr {
		s, isStr := v.(ir.IRString)
		if !isStr {
			return nil, false
		}
		out = append(out, string(s))
	}
	return out, true
}
