package graph

import (
	"math"
	"strconv"
	"sync"
)

// IdentifierField is the sub-object field minted by the counter
const IdentifierField = "identifier"

// IdentifierCounter mints graph-unique identifiers encoded in base 36.
// Values are strictly increasing in issuance order.
type IdentifierCounter struct {
	mu   sync.Mutex
	next int64
}

// NewIdentifierCounter returns a counter starting at 1
func NewIdentifierCounter() *IdentifierCounter {
	return &IdentifierCounter{next: 1}
}

// Seed scans every value for "identifier" fields at any depth and moves the
// counter past the largest one found. Seed never moves the counter backwards.
func (c *IdentifierCounter) Seed(values ...any) {
	max := int64(0)
	for _, v := range values {
		walkIdentifiers(v, func(m map[string]any) {
			if n, ok := ParseIdentifier(m[IdentifierField]); ok && n > max {
				max = n
			}
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if max+1 > c.next {
		c.next = max + 1
	}
}

// Next returns a fresh identifier
func (c *IdentifierCounter) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return strconv.FormatInt(n, 36)
}

// Peek returns the value the next call to Next will decode to
func (c *IdentifierCounter) Peek() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Rewrite overwrites every identifier found in payload, at any depth, with a
// freshly minted value. It returns the number of identifiers rewritten.
func (c *IdentifierCounter) Rewrite(payload any) int {
	n := 0
	walkIdentifiers(payload, func(m map[string]any) {
		if _, ok := m[IdentifierField]; ok {
			m[IdentifierField] = c.Next()
			n++
		}
	})
	return n
}

// ParseIdentifier decodes a base-36 identifier. JSON numbers are accepted
// as already-decoded values.
func ParseIdentifier(v any) (int64, bool) {
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(id, 36, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	case float64:
		if id < 0 || id > math.MaxInt64 || id != math.Trunc(id) {
			return 0, false
		}
		return int64(id), true
	case int:
		return int64(id), id >= 0
	case int64:
		return id, id >= 0
	default:
		return 0, false
	}
}

func walkIdentifiers(v any, visit func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		visit(t)
		for _, child := range t {
			walkIdentifiers(child, visit)
		}
	case Node:
		walkIdentifiers(map[string]any(t), visit)
	case Edge:
		walkIdentifiers(map[string]any(t), visit)
	case []any:
		for _, child := range t {
			walkIdentifiers(child, visit)
		}
	case []map[string]any:
		for _, child := range t {
			walkIdentifiers(child, visit)
		}
	case []Node:
		for _, child := range t {
			walkIdentifiers(map[string]any(child), visit)
		}
	case []Edge:
		for _, child := range t {
			walkIdentifiers(map[string]any(child), visit)
		}
	}
}
