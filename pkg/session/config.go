package session

import (
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/patch"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Config configures a Manager
type Config struct {
	PeerID string

	MaxBatch      int           // instructions per batch (default 20)
	SweepInterval time.Duration // closed-connection sweep (default 10s)
	HistoryLimit  int           // history entries kept per sheet (default 1000)
	EvictTimeout  time.Duration // bound on the cluster-wide eviction fan-out (default 2s)

	// AtomicBatches commits nothing when any instruction of a batch fails.
	// When false the instructions before the failing one are committed.
	AtomicBatches bool

	Applier patch.Applier // default patch.JSONApplier
	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		MaxBatch:      20,
		SweepInterval: 10 * time.Second,
		HistoryLimit:  1000,
		EvictTimeout:  2 * time.Second,
	}
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	c.MaxBatch = validation.DefaultOrInt(c.MaxBatch, d.MaxBatch)
	c.SweepInterval = validation.DefaultOrDuration(c.SweepInterval, d.SweepInterval)
	c.HistoryLimit = validation.DefaultOrInt(c.HistoryLimit, d.HistoryLimit)
	c.EvictTimeout = validation.DefaultOrDuration(c.EvictTimeout, d.EvictTimeout)
	if c.Applier == nil {
		c.Applier = patch.JSONApplier{}
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("session.Config").
		Required("PeerID", c.PeerID).
		RangeInt("MaxBatch", c.MaxBatch, 1, 1000).
		MinDuration("SweepInterval", c.SweepInterval, 10*time.Millisecond).
		Positive("HistoryLimit", c.HistoryLimit).
		Validate()
}
