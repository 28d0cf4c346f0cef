// Package store opens the shared backend that hosts the heartbeat table,
// ownership claims and persisted graphs.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dd0wney/cluso-collab/pkg/cluster"
	"github.com/dd0wney/cluso-collab/pkg/graph"
	"github.com/dd0wney/cluso-collab/pkg/ownership"
	"github.com/dd0wney/cluso-collab/pkg/store/memory"
	"github.com/dd0wney/cluso-collab/pkg/store/postgres"
	redisstore "github.com/dd0wney/cluso-collab/pkg/store/redis"
)

// Drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var (
	ErrUnknownDriver = errors.New("store: unknown driver")
	ErrMissingURL    = errors.New("store: url is required for this driver")
)

// Backend is everything a peer needs from the shared store
type Backend interface {
	cluster.HeartbeatStore
	ownership.ClaimStore
	graph.Store
	io.Closer
	Ping(ctx context.Context) error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*redisstore.Store)(nil)
)

// Drivers lists the supported driver names
func Drivers() []string {
	return []string{DriverMemory, DriverPostgres, DriverRedis}
}

// Open connects to the backend named by driver
func Open(ctx context.Context, driver, url string) (Backend, error) {
	switch driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverPostgres:
		if url == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingURL, driver)
		}
		s, err := postgres.New(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverRedis:
		if url == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingURL, driver)
		}
		s, err := redisstore.New(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
