// Package patch applies single path-addressed edits to JSON objects.
//
// A Patch names a location with a path of object keys and array indexes and
// one of four operations. Apply never mutates its target: it works on a deep
// copy and returns the new value, so a failed or vetoed edit leaves the
// caller's object untouched.
package patch

import (
	"errors"
	"fmt"
	"math"
)

// Operations
const (
	OpSet    = "set"
	OpInsert = "insert"
	OpRemove = "remove"
	OpMerge  = "merge"
)

// AppendIndex as the last insert path element appends to the array
const AppendIndex = "-"

var (
	ErrInvalidOp     = errors.New("invalid patch operation")
	ErrInvalidPath   = errors.New("invalid patch path")
	ErrInvalidValue  = errors.New("invalid patch value")
	ErrPathNotFound  = errors.New("patch path not found")
	ErrGuardRejected = errors.New("guard rejected the mutated object")
)

// Patch is one edit. P is the path, V the value, Op the operation (set when
// empty).
type Patch struct {
	P  []any  `json:"p"`
	V  any    `json:"v,omitempty"`
	Op string `json:"op,omitempty"`
}

// Operation returns the effective operation
func (p Patch) Operation() string {
	if p.Op == "" {
		return OpSet
	}
	return p.Op
}

// Guard may veto an edit. It receives the innermost object that owns the
// mutated location: the addressed object itself for set, remove and merge on
// an object value, otherwise the object containing the location.
type Guard func(candidate map[string]any) bool

// Result is the outcome of Apply
type Result struct {
	Success bool
	Value   map[string]any
	Err     error
}

// Applier validates and applies patches
type Applier interface {
	Validate(p Patch) error
	Apply(target map[string]any, p Patch, guard Guard) Result
}

// Inserted returns the payload a patch writes into the document, or nil for
// removals. Callers rewrite server-owned fields (such as identifiers) in it
// before applying.
func Inserted(p Patch) any {
	if p.Operation() == OpRemove {
		return nil
	}
	return p.V
}

// pathIndex interprets a path element as an array index
func pathIndex(step any) (int, bool) {
	switch v := step.(type) {
	case int:
		return v, v >= 0
	case int64:
		return int(v), v >= 0
	case float64:
		if v < 0 || v != math.Trunc(v) || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

func describe(path []any) string {
	return fmt.Sprint(path)
}
