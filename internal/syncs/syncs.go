// Package syncs holds the built-in sync rule catalog and loads rule sets
// from CUE sources.
package syncs

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/hobbysync/internal/compiler"
	"github.com/roach88/hobbysync/internal/ir"
)

//go:embed catalog/*.cue
var catalog embed.FS

// Catalog returns the embedded rule files.
func Catalog() fs.FS {
	sub, err := fs.Sub(catalog, "catalog")
	if err != nil {
		panic(err)
	}
	return sub
}

// Load compiles the rules under dir, or the embedded catalog when dir is
// empty.
func Load(dir string) ([]ir.SyncRule, error) {
	if dir == "" {
		return LoadFS(Catalog())
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load syncs: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load syncs: %s is not a directory", dir)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS compiles every top-level .cue file of fsys in filename order.
// Rule order within a file is declaration order. The combined set must
// pass validation.
func LoadFS(fsys fs.FS) ([]ir.SyncRule, error) {
	names, err := fs.Glob(fsys, "*.cue")
	if err != nil {
		return nil, fmt.Errorf("load syncs: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("load syncs: no .cue files found")
	}
	sort.Strings(names)

	ctx := cuecontext.New()
	var rules []ir.SyncRule
	origin := make(map[string]string)
	for _, name := range names {
		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("load syncs: %w", err)
		}
		v := ctx.CompileBytes(src, cue.Filename(name))
		if err := v.Err(); err != nil {
			return nil, &FileError{File: name, Err: err}
		}
		compiled, err := compiler.CompileSyncs(v)
		if err != nil {
			return nil, &FileError{File: name, Err: err}
		}
		for _, r := range compiled {
			if prev, dup := origin[r.ID]; dup {
				return nil, &FileError{File: name, Err: fmt.Errorf("duplicate sync ID %q (first declared in %s)", r.ID, prev)}
			}
			origin[r.ID] = name
		}
		rules = append(rules, compiled...)
	}

	if errs := compiler.Validate(rules); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: errs}
	}
	return rules, nil
}

// FileError ties a compile failure to its source file.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return path.Base(e.File) + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error { return e.Err }

// ValidationErrors carries every rule problem found in a set.
type ValidationErrors struct {
	Errors []compiler.ValidationError
}

func (e *ValidationErrors) Error() string {
	lines := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		lines[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation error(s):\n%s", len(e.Errors), strings.Join(lines, "\n"))
}
