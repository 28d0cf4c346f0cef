package logging

import "time"

func String(key, value string) Field      { return Field{Key: key, Value: value} }
func Int(key string, value int) Field     { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field   { return Field{Key: key, Value: value} }
func Any(key string, value any) Field     { return Field{Key: key, Value: value} }

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Domain fields. Keys are stable so log queries survive refactors.

func Component(name string) Field   { return String("component", name) }
func PeerID(id string) Field        { return String("peer_id", id) }
func GraphKey(key string) Field     { return String("graph_key", key) }
func SheetID(id string) Field       { return String("sheet_id", id) }
func UserID(id string) Field        { return String("user_id", id) }
func ConnID(id string) Field        { return String("conn_id", id) }
func MessageType(t string) Field    { return String("message_type", t) }
func Namespace(ns string) Field     { return String("namespace", ns) }
func ResourceKey(key string) Field  { return String("resource_key", key) }
func Addr(addr string) Field        { return String("addr", addr) }
func Count(n int) Field             { return Int("count", n) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
