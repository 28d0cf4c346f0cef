package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidator_CollectsAllErrors(t *testing.T) {
	err := NewConfigValidator("ClusterConfig").
		Required("NodeID", "").
		Port("Port", 0).
		MinDuration("CallTimeout", 10*time.Millisecond, 100*time.Millisecond).
		OneOf("Transport", "carrier-pigeon", "mangos", "zmq", "memory").
		Validate()

	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"NodeID", "Port", "CallTimeout", "Transport", "4 errors"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error to mention %q, got: %v", want, err)
		}
	}
}

func TestConfigValidator_SingleError(t *testing.T) {
	err := NewConfigValidator("SessionConfig").Positive("MaxBatch", 0).Validate()
	if err == nil {
		t.Fatal("Expected error")
	}
	if got := err.Error(); got != "SessionConfig.MaxBatch: value 0 must be positive" {
		t.Errorf("Unexpected message: %s", got)
	}
}

func TestConfigValidator_Valid(t *testing.T) {
	err := NewConfigValidator("ClusterConfig").
		Required("NodeID", "peer-1").
		Port("Port", 8080).
		RangeInt("DirectOffset", 11, 1, 1000).
		Less("HeartbeatInterval", time.Minute, "StaleAfter", 2*time.Minute).
		OneOf("Transport", "mangos", "mangos", "zmq").
		Validate()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestConfigValidator_When(t *testing.T) {
	cv := NewConfigValidator("StoreConfig")
	cv.When(false, func(v *ConfigValidator) { v.Required("URL", "") })
	if len(cv.Errors()) != 0 {
		t.Errorf("Expected no errors when condition is false, got %v", cv.Errors())
	}
	cv.When(true, func(v *ConfigValidator) { v.Required("URL", "") })
	if len(cv.Errors()) != 1 {
		t.Errorf("Expected 1 error, got %d", len(cv.Errors()))
	}
}

func TestConfigValidator_CustomWraps(t *testing.T) {
	sentinel := errors.New("bad address")
	err := NewConfigValidator("NodeConfig").Custom("Host", func() error { return sentinel }).Validate()
	if !errors.Is(err, sentinel) {
		t.Errorf("Expected wrapped sentinel, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	if got := DefaultOrInt(0, 20); got != 20 {
		t.Errorf("DefaultOrInt(0, 20) = %d", got)
	}
	if got := DefaultOrInt(5, 20); got != 5 {
		t.Errorf("DefaultOrInt(5, 20) = %d", got)
	}
	if got := DefaultOrDuration(-time.Second, 10*time.Second); got != 10*time.Second {
		t.Errorf("DefaultOrDuration = %v", got)
	}
	if got := DefaultOr("", "mangos"); got != "mangos" {
		t.Errorf("DefaultOr = %q", got)
	}
	if got := ClampInt(50, 1, 20); got != 20 {
		t.Errorf("ClampInt(50, 1, 20) = %d", got)
	}
	if got := ClampInt(-3, 1, 20); got != 1 {
		t.Errorf("ClampInt(-3, 1, 20) = %d", got)
	}
}
