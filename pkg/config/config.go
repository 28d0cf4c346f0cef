// Package config loads a peer's configuration from a YAML file, a .env
// file and COLLAB_* environment variables, in that order of precedence
// (later wins). Command-line flags are applied on top by the binary.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-collab/pkg/fabric"
	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/store"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Config is the complete configuration of one peer
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	HTTP    HTTPConfig    `yaml:"http"`
	Cluster ClusterConfig `yaml:"cluster"`
	Routing RoutingConfig `yaml:"routing"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
}

// NodeConfig identifies the peer. Port is the control port; every other
// port is derived from it by an offset.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// HTTPConfig tunes the control and collaboration listeners
type HTTPConfig struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadLimit       int64         `yaml:"read_limit"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// ClusterConfig configures discovery and the messaging fabric
type ClusterConfig struct {
	Transport           string        `yaml:"transport"`
	BroadcastPortOffset int           `yaml:"broadcast_port_offset"`
	DirectPortOffset    int           `yaml:"direct_port_offset"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	DiscoveryInterval   time.Duration `yaml:"discovery_interval"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	CompressThreshold   int           `yaml:"compress_threshold"`
}

// RoutingConfig holds the port offsets handed to clients
type RoutingConfig struct {
	SelfPortOffset int `yaml:"self_port_offset"`
	PeerPortOffset int `yaml:"peer_port_offset"`
}

// StoreConfig selects the shared store
type StoreConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// SessionConfig tunes the session manager
type SessionConfig struct {
	MaxBatch      int           `yaml:"max_batch"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	HistoryLimit  int           `yaml:"history_limit"`
	EvictTimeout  time.Duration `yaml:"evict_timeout"`
	AtomicBatches bool          `yaml:"atomic_batches"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing is set. The
// node id is left empty and generated by ApplyDefaults.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{Host: "127.0.0.1", Port: 8080},
		HTTP: HTTPConfig{ShutdownTimeout: 15 * time.Second, ReadLimit: 1 << 20},
		Cluster: ClusterConfig{
			Transport:           "mangos",
			BroadcastPortOffset: 10,
			DirectPortOffset:    11,
			HeartbeatInterval:   60 * time.Second,
			DiscoveryInterval:   30 * time.Second,
			StaleAfter:          2 * time.Minute,
			CallTimeout:         10 * time.Second,
			CompressThreshold:   4096,
		},
		Routing: RoutingConfig{SelfPortOffset: 1, PeerPortOffset: 1},
		Store:   StoreConfig{Driver: store.DriverMemory},
		Session: SessionConfig{
			MaxBatch:      20,
			SweepInterval: 10 * time.Second,
			HistoryLimit:  1000,
			EvictTimeout:  2 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path (optional), then envFile (optional, missing is fine),
// then the process environment. The result has defaults applied and is
// validated.
func Load(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the process
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values and generates a node id if none is set
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	c.Node.Host = validation.DefaultOr(c.Node.Host, d.Node.Host)
	c.Node.Port = validation.DefaultOrInt(c.Node.Port, d.Node.Port)

	c.HTTP.ShutdownTimeout = validation.DefaultOrDuration(c.HTTP.ShutdownTimeout, d.HTTP.ShutdownTimeout)
	if c.HTTP.ReadLimit <= 0 {
		c.HTTP.ReadLimit = d.HTTP.ReadLimit
	}

	c.Cluster.Transport = validation.DefaultOr(c.Cluster.Transport, d.Cluster.Transport)
	c.Cluster.BroadcastPortOffset = validation.DefaultOrInt(c.Cluster.BroadcastPortOffset, d.Cluster.BroadcastPortOffset)
	c.Cluster.DirectPortOffset = validation.DefaultOrInt(c.Cluster.DirectPortOffset, d.Cluster.DirectPortOffset)
	c.Cluster.HeartbeatInterval = validation.DefaultOrDuration(c.Cluster.HeartbeatInterval, d.Cluster.HeartbeatInterval)
	c.Cluster.DiscoveryInterval = validation.DefaultOrDuration(c.Cluster.DiscoveryInterval, d.Cluster.DiscoveryInterval)
	c.Cluster.StaleAfter = validation.DefaultOrDuration(c.Cluster.StaleAfter, d.Cluster.StaleAfter)
	c.Cluster.CallTimeout = validation.DefaultOrDuration(c.Cluster.CallTimeout, d.Cluster.CallTimeout)
	if c.Cluster.CompressThreshold == 0 {
		c.Cluster.CompressThreshold = d.Cluster.CompressThreshold
	}

	c.Routing.SelfPortOffset = validation.DefaultOrInt(c.Routing.SelfPortOffset, d.Routing.SelfPortOffset)
	c.Routing.PeerPortOffset = validation.DefaultOrInt(c.Routing.PeerPortOffset, d.Routing.PeerPortOffset)

	c.Store.Driver = validation.DefaultOr(c.Store.Driver, d.Store.Driver)

	c.Session.MaxBatch = validation.DefaultOrInt(c.Session.MaxBatch, d.Session.MaxBatch)
	c.Session.SweepInterval = validation.DefaultOrDuration(c.Session.SweepInterval, d.Session.SweepInterval)
	c.Session.HistoryLimit = validation.DefaultOrInt(c.Session.HistoryLimit, d.Session.HistoryLimit)
	c.Session.EvictTimeout = validation.DefaultOrDuration(c.Session.EvictTimeout, d.Session.EvictTimeout)

	c.Log.Level = validation.DefaultOr(c.Log.Level, d.Log.Level)
}

// Validate checks the whole configuration and reports every problem
func (c *Config) Validate() error {
	offsets := []int{c.Routing.SelfPortOffset, c.Cluster.BroadcastPortOffset, c.Cluster.DirectPortOffset}

	return validation.NewConfigValidator("Config").
		Required("node.id", c.Node.ID).
		Required("node.host", c.Node.Host).
		Port("node.port", c.Node.Port).
		Port("node.port+cluster.direct_port_offset", c.Node.Port+c.Cluster.DirectPortOffset).
		OneOf("cluster.transport", c.Cluster.Transport, fabric.Transports()...).
		Custom("port_offsets", func() error {
			seen := map[int]bool{0: true}
			for _, off := range offsets {
				if seen[off] {
					return fmt.Errorf("offsets %v must be distinct and non-zero", offsets)
				}
				seen[off] = true
			}
			return nil
		}).
		Less("cluster.heartbeat_interval", c.Cluster.HeartbeatInterval, "cluster.stale_after", c.Cluster.StaleAfter).
		Less("cluster.discovery_interval", c.Cluster.DiscoveryInterval, "cluster.stale_after", c.Cluster.StaleAfter).
		MinDuration("cluster.call_timeout", c.Cluster.CallTimeout, time.Millisecond).
		NonNegative("routing.peer_port_offset", c.Routing.PeerPortOffset).
		OneOf("store.driver", c.Store.Driver, store.Drivers()...).
		When(c.Store.Driver != store.DriverMemory, func(v *validation.ConfigValidator) {
			v.Required("store.url", c.Store.URL)
		}).
		RangeInt("session.max_batch", c.Session.MaxBatch, 1, 1000).
		MinDuration("session.sweep_interval", c.Session.SweepInterval, 10*time.Millisecond).
		Positive("session.history_limit", c.Session.HistoryLimit).
		OneOf("log.level", c.Log.Level, "debug", "info", "warn", "error").
		Validate()
}

// LogLevel returns the parsed log level
func (c *Config) LogLevel() logging.Level {
	return logging.ParseLevel(c.Log.Level)
}

// CollabPort is the port of the collaboration (websocket) listener
func (c *Config) CollabPort() int {
	return c.Node.Port + c.Routing.SelfPortOffset
}
