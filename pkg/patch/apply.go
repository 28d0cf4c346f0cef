package patch

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// JSONApplier applies patches to decoded JSON documents
// (map[string]any / []any trees).
type JSONApplier struct{}

var _ Applier = JSONApplier{}

// Validate checks the shape of a patch without touching any document
func (JSONApplier) Validate(p Patch) error {
	op := p.Operation()
	switch op {
	case OpSet, OpInsert, OpRemove, OpMerge:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOp, p.Op)
	}

	for i, step := range p.P {
		if _, ok := step.(string); ok {
			if step == AppendIndex && (op != OpInsert || i != len(p.P)-1) {
				return fmt.Errorf("%w: %q is only valid as the last element of an insert", ErrInvalidPath, AppendIndex)
			}
			continue
		}
		if _, ok := pathIndex(step); !ok {
			return fmt.Errorf("%w: element %d (%v) is neither a key nor an index", ErrInvalidPath, i, step)
		}
	}

	switch op {
	case OpSet:
		if len(p.P) == 0 {
			if _, ok := p.V.(map[string]any); !ok {
				return fmt.Errorf("%w: replacing the whole object needs an object value", ErrInvalidValue)
			}
		}
	case OpInsert, OpRemove:
		if len(p.P) == 0 {
			return fmt.Errorf("%w: %s needs a non-empty path", ErrInvalidPath, op)
		}
	case OpMerge:
		if _, ok := p.V.(map[string]any); !ok {
			return fmt.Errorf("%w: merge needs an object value", ErrInvalidValue)
		}
	}
	return nil
}

// slot is a writable location in the copied document
type slot struct {
	get func() any
	set func(any)
}

// Apply validates p and applies it to a deep copy of target
func (a JSONApplier) Apply(target map[string]any, p Patch, guard Guard) Result {
	if err := a.Validate(p); err != nil {
		return Result{Err: err}
	}

	doc, _ := deepcopy.Copy(target).(map[string]any)
	if doc == nil {
		doc = map[string]any{}
	}
	value := deepcopy.Copy(p.V)

	if len(p.P) == 0 {
		return applyRoot(doc, p.Operation(), value, guard)
	}

	// Walk to the container of the last step, tracking the innermost object.
	owner := doc
	container := slot{get: func() any { return doc }, set: func(any) {}}
	for i, step := range p.P[:len(p.P)-1] {
		next, err := child(container, step)
		if err != nil {
			return Result{Err: fmt.Errorf("%w: %s at element %d", err, describe(p.P), i)}
		}
		if m, ok := next.get().(map[string]any); ok {
			owner = m
		}
		container = next
	}
	last := p.P[len(p.P)-1]

	switch p.Operation() {
	case OpSet:
		return applySet(doc, owner, container, last, value, guard)
	case OpInsert:
		return applyInsert(doc, owner, container, last, value, guard)
	case OpRemove:
		return applyRemove(doc, owner, container, last, guard)
	default:
		return applyMerge(doc, container, last, value, guard)
	}
}

func applyRoot(doc map[string]any, op string, value any, guard Guard) Result {
	if !allowed(guard, doc) {
		return Result{Err: ErrGuardRejected}
	}
	obj := value.(map[string]any)
	if op == OpSet {
		return Result{Success: true, Value: obj}
	}
	for k, v := range obj {
		doc[k] = v
	}
	return Result{Success: true, Value: doc}
}

func applySet(doc, owner map[string]any, container slot, last, value any, guard Guard) Result {
	switch c := container.get().(type) {
	case map[string]any:
		key, ok := last.(string)
		if !ok {
			return Result{Err: fmt.Errorf("%w: index %v into an object", ErrInvalidPath, last)}
		}
		if !allowed(guard, candidate(c[key], c)) {
			return Result{Err: ErrGuardRejected}
		}
		c[key] = value
	case []any:
		idx, ok := pathIndex(last)
		if !ok || idx >= len(c) {
			return Result{Err: fmt.Errorf("%w: index %v out of range", ErrPathNotFound, last)}
		}
		if !allowed(guard, candidate(c[idx], owner)) {
			return Result{Err: ErrGuardRejected}
		}
		c[idx] = value
	default:
		return Result{Err: fmt.Errorf("%w: cannot set %v on a scalar", ErrPathNotFound, last)}
	}
	return Result{Success: true, Value: doc}
}

func applyInsert(doc, owner map[string]any, container slot, last, value any, guard Guard) Result {
	// ["rows"] on an object addresses an array field: append to it
	if obj, ok := container.get().(map[string]any); ok {
		key, _ := last.(string)
		arr, ok := obj[key].([]any)
		if !ok {
			return Result{Err: fmt.Errorf("%w: insert target %v is not an array", ErrInvalidPath, last)}
		}
		if !allowed(guard, obj) {
			return Result{Err: ErrGuardRejected}
		}
		obj[key] = append(arr, value)
		return Result{Success: true, Value: doc}
	}

	arr, ok := container.get().([]any)
	if !ok {
		return Result{Err: fmt.Errorf("%w: insert needs an array container", ErrInvalidPath)}
	}
	idx := len(arr)
	if last != AppendIndex {
		i, ok := pathIndex(last)
		if !ok || i > len(arr) {
			return Result{Err: fmt.Errorf("%w: insert index %v out of range", ErrPathNotFound, last)}
		}
		idx = i
	}
	if !allowed(guard, owner) {
		return Result{Err: ErrGuardRejected}
	}
	grown := make([]any, 0, len(arr)+1)
	grown = append(grown, arr[:idx]...)
	grown = append(grown, value)
	grown = append(grown, arr[idx:]...)
	container.set(grown)
	return Result{Success: true, Value: doc}
}

func applyRemove(doc, owner map[string]any, container slot, last any, guard Guard) Result {
	switch c := container.get().(type) {
	case map[string]any:
		key, ok := last.(string)
		if !ok {
			return Result{Err: fmt.Errorf("%w: index %v into an object", ErrInvalidPath, last)}
		}
		existing, ok := c[key]
		if !ok {
			return Result{Err: fmt.Errorf("%w: key %q", ErrPathNotFound, key)}
		}
		if !allowed(guard, candidate(existing, c)) {
			return Result{Err: ErrGuardRejected}
		}
		delete(c, key)
	case []any:
		idx, ok := pathIndex(last)
		if !ok || idx >= len(c) {
			return Result{Err: fmt.Errorf("%w: index %v out of range", ErrPathNotFound, last)}
		}
		if !allowed(guard, candidate(c[idx], owner)) {
			return Result{Err: ErrGuardRejected}
		}
		shrunk := make([]any, 0, len(c)-1)
		shrunk = append(shrunk, c[:idx]...)
		shrunk = append(shrunk, c[idx+1:]...)
		container.set(shrunk)
	default:
		return Result{Err: fmt.Errorf("%w: cannot remove %v from a scalar", ErrPathNotFound, last)}
	}
	return Result{Success: true, Value: doc}
}

func applyMerge(doc map[string]any, container slot, last, value any, guard Guard) Result {
	next, err := child(container, last)
	if err != nil {
		return Result{Err: err}
	}
	obj, ok := next.get().(map[string]any)
	if !ok {
		return Result{Err: fmt.Errorf("%w: merge target %v is not an object", ErrInvalidPath, last)}
	}
	if !allowed(guard, obj) {
		return Result{Err: ErrGuardRejected}
	}
	for k, v := range value.(map[string]any) {
		obj[k] = v
	}
	return Result{Success: true, Value: doc}
}

// child resolves one path step below parent
func child(parent slot, step any) (slot, error) {
	switch c := parent.get().(type) {
	case map[string]any:
		key, ok := step.(string)
		if !ok {
			return slot{}, fmt.Errorf("%w: index %v into an object", ErrInvalidPath, step)
		}
		if _, ok := c[key]; !ok {
			return slot{}, fmt.Errorf("%w: key %q", ErrPathNotFound, key)
		}
		return slot{
			get: func() any { return c[key] },
			set: func(v any) { c[key] = v },
		}, nil
	case []any:
		idx, ok := pathIndex(step)
		if !ok || idx >= len(c) {
			return slot{}, fmt.Errorf("%w: index %v", ErrPathNotFound, step)
		}
		// re-read the parent on every access: an earlier set may have
		// replaced the slice header
		return slot{
			get: func() any { return parent.get().([]any)[idx] },
			set: func(v any) { parent.get().([]any)[idx] = v },
		}, nil
	default:
		return slot{}, fmt.Errorf("%w: step %v below a scalar", ErrPathNotFound, step)
	}
}

// candidate picks the object handed to the guard: the addressed value when
// it is an object, otherwise its owner.
func candidate(addressed any, owner map[string]any) map[string]any {
	if m, ok := addressed.(map[string]any); ok {
		return m
	}
	return owner
}

func allowed(guard Guard, candidate map[string]any) bool {
	return guard == nil || guard(candidate)
}
