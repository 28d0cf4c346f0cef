package graph

import "context"

// Loader reads a persisted graph. It returns ErrGraphNotFound for unknown keys.
type Loader interface {
	LoadGraph(ctx context.Context, key string) (*Document, error)
}

// Store is a Loader that can also replace a persisted graph wholesale
type Store interface {
	Loader
	SaveGraph(ctx context.Context, doc *Document) error
}

// Sheet returns the sheet with the given id, or nil
func (d *Document) Sheet(id string) *Sheet {
	if d == nil {
		return nil
	}
	for i := range d.Sheets {
		if d.Sheets[i].ID == id {
			return &d.Sheets[i]
		}
	}
	return nil
}
