package routing

import (
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Config configures the routing endpoint
type Config struct {
	PeerID string
	Host   string // advertised host of this peer
	Port   int    // control port of this peer

	SelfPortOffset int           // added to Port when this peer owns the key (default 1)
	PeerPortOffset int           // added to a remote owner's port (default 1)
	Timeout        time.Duration // bound on store work per request (default 5s)

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns the default offsets
func DefaultConfig() Config {
	return Config{
		SelfPortOffset: 1,
		PeerPortOffset: 1,
		Timeout:        5 * time.Second,
	}
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	c.SelfPortOffset = validation.DefaultOrInt(c.SelfPortOffset, d.SelfPortOffset)
	c.PeerPortOffset = validation.DefaultOrInt(c.PeerPortOffset, d.PeerPortOffset)
	c.Timeout = validation.DefaultOrDuration(c.Timeout, d.Timeout)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("routing.Config").
		Required("PeerID", c.PeerID).
		Required("Host", c.Host).
		Port("Port", c.Port).
		RangeInt("SelfPortOffset", c.SelfPortOffset, 0, 1000).
		RangeInt("PeerPortOffset", c.PeerPortOffset, 0, 1000).
		Validate()
}
