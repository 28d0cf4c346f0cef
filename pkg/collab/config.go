package collab

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/validation"
)

// Config configures the collaboration endpoint
type Config struct {
	ReadLimit  int64         // largest inbound frame in bytes (default 1 MiB)
	WriteWait  time.Duration // deadline for a single write (default 10s)
	PongWait   time.Duration // idle time before the connection is dropped (default 60s)
	PingPeriod time.Duration // websocket ping interval, below PongWait (default 54s)
	SendBuffer int           // queued outbound frames per connection (default 256)

	// AllowedOrigins restricts the Origin header by host. Empty allows all.
	AllowedOrigins []string

	Logger  logging.Logger
	Metrics *metrics.Registry
}

// DefaultConfig returns the default limits
func DefaultConfig() Config {
	return Config{
		ReadLimit:  1 << 20,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		SendBuffer: 256,
	}
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	c.WriteWait = validation.DefaultOrDuration(c.WriteWait, d.WriteWait)
	c.PongWait = validation.DefaultOrDuration(c.PongWait, d.PongWait)
	if c.PingPeriod == 0 {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	c.SendBuffer = validation.DefaultOrInt(c.SendBuffer, d.SendBuffer)
}

// Validate checks the configuration
func (c *Config) Validate() error {
	return validation.NewConfigValidator("collab.Config").
		MinDuration("WriteWait", c.WriteWait, time.Millisecond).
		Less("PingPeriod", c.PingPeriod, "PongWait", c.PongWait).
		Positive("SendBuffer", c.SendBuffer).
		Validate()
}

// checkOrigin matches the Origin host against AllowedOrigins. Requests
// without an Origin header are not from a browser and pass.
func (c *Config) checkOrigin(r *http.Request) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if u.Host == allowed || u.Hostname() == allowed {
			return true
		}
	}
	return false
}
