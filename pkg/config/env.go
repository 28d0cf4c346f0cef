package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

type envVar struct {
	name  string
	apply func(c *Config, value string) error
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setDuration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

// envVars lists every supported override
var envVars = []envVar{
	{"COLLAB_NODE_ID", setString(func(c *Config) *string { return &c.Node.ID })},
	{"COLLAB_HOST", setString(func(c *Config) *string { return &c.Node.Host })},
	{"COLLAB_PORT", setInt(func(c *Config) *int { return &c.Node.Port })},
	{"COLLAB_TRANSPORT", setString(func(c *Config) *string { return &c.Cluster.Transport })},
	{"COLLAB_HEARTBEAT_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Cluster.HeartbeatInterval })},
	{"COLLAB_DISCOVERY_INTERVAL", setDuration(func(c *Config) *time.Duration { return &c.Cluster.DiscoveryInterval })},
	{"COLLAB_STALE_AFTER", setDuration(func(c *Config) *time.Duration { return &c.Cluster.StaleAfter })},
	{"COLLAB_CALL_TIMEOUT", setDuration(func(c *Config) *time.Duration { return &c.Cluster.CallTimeout })},
	{"COLLAB_STORE_DRIVER", setString(func(c *Config) *string { return &c.Store.Driver })},
	{"COLLAB_STORE_URL", setString(func(c *Config) *string { return &c.Store.URL })},
	{"COLLAB_MAX_BATCH", setInt(func(c *Config) *int { return &c.Session.MaxBatch })},
	{"COLLAB_HISTORY_LIMIT", setInt(func(c *Config) *int { return &c.Session.HistoryLimit })},
	{"COLLAB_ATOMIC_BATCHES", setBool(func(c *Config) *bool { return &c.Session.AtomicBatches })},
	{"COLLAB_ALLOWED_ORIGINS", func(c *Config, v string) error {
		c.HTTP.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.HTTP.AllowedOrigins = append(c.HTTP.AllowedOrigins, o)
			}
		}
		return nil
	}},
	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Log.Level })},
}

// EnvVars returns the names of the supported environment overrides
func EnvVars() []string {
	names := make([]string, len(envVars))
	for i, ev := range envVars {
		names[i] = ev.name
	}
	return names
}

// ApplyEnv overrides fields from the environment. Empty values are ignored.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%s=%q: %w", ev.name, v, err)
		}
	}
	return nil
}
