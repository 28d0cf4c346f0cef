package cluster

import (
	"fmt"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// RegistryConfig configures the peer registry
type RegistryConfig struct {
	// This peer's identity as advertised in the heartbeat table
	PeerID string
	Host   string
	Port   int

	HeartbeatInterval time.Duration // own record refresh (default 60s)
	DiscoveryInterval time.Duration // peer table scan (default 30s)
	StaleAfter        time.Duration // records older than this are dead (default 2m)
	StoreTimeout      time.Duration // bound on each store round trip (default 5s)

	// Fabric endpoints are derived from a peer's host and base port
	Scheme              string // default "tcp"
	BroadcastPortOffset int    // default 10
	DirectPortOffset    int    // default 11

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultRegistryConfig returns the default timings and offsets
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HeartbeatInterval:   60 * time.Second,
		DiscoveryInterval:   30 * time.Second,
		StaleAfter:          2 * time.Minute,
		StoreTimeout:        5 * time.Second,
		Scheme:              "tcp",
		BroadcastPortOffset: 10,
		DirectPortOffset:    11,
	}
}

// ApplyDefaults fills zero values from DefaultRegistryConfig
func (c *RegistryConfig) ApplyDefaults() {
	d := DefaultRegistryConfig()
	c.HeartbeatInterval = validation.DefaultOrDuration(c.HeartbeatInterval, d.HeartbeatInterval)
	c.DiscoveryInterval = validation.DefaultOrDuration(c.DiscoveryInterval, d.DiscoveryInterval)
	c.StaleAfter = validation.DefaultOrDuration(c.StaleAfter, d.StaleAfter)
	c.StoreTimeout = validation.DefaultOrDuration(c.StoreTimeout, d.StoreTimeout)
	c.Scheme = validation.DefaultOr(c.Scheme, d.Scheme)
	c.BroadcastPortOffset = validation.DefaultOrInt(c.BroadcastPortOffset, d.BroadcastPortOffset)
	c.DirectPortOffset = validation.DefaultOrInt(c.DirectPortOffset, d.DirectPortOffset)
}

// Validate checks the configuration
func (c *RegistryConfig) Validate() error {
	if c.PeerID == "" {
		return ErrInvalidPeerID
	}
	if c.Host == "" {
		return ErrInvalidPeerHost
	}
	return validation.NewConfigValidator("RegistryConfig").
		Port("Port", c.Port).
		Less("HeartbeatInterval", c.HeartbeatInterval, "StaleAfter", c.StaleAfter).
		Less("DiscoveryInterval", c.DiscoveryInterval, "StaleAfter", c.StaleAfter).
		Custom("DirectPortOffset", func() error {
			if c.DirectPortOffset == c.BroadcastPortOffset {
				return fmt.Errorf("must differ from BroadcastPortOffset (%d)", c.BroadcastPortOffset)
			}
			return nil
		}).
		Validate()
}

// EndpointsFor derives a peer's fabric endpoints from its base address
func (c *RegistryConfig) EndpointsFor(host string, port int) fabric.Endpoints {
	return fabric.Endpoints{
		Broadcast: fmt.Sprintf("%s://%s:%d", c.Scheme, host, port+c.BroadcastPortOffset),
		Direct:    fmt.Sprintf("%s://%s:%d", c.Scheme, host, port+c.DirectPortOffset),
	}
}
