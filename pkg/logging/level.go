package logging

import "strings"

// Level represents a log level
type Level int32

const (
	// DebugLevel carries per-frame and per-envelope detail
	DebugLevel Level = iota
	// InfoLevel is the default
	InfoLevel
	// WarnLevel is for recoverable cluster problems (unreachable peer, failed tick)
	WarnLevel
	// ErrorLevel is for failures an operator must look at
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level. Unknown names map to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}
