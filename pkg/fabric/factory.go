package fabric

import (
	"fmt"
	"sort"
	"sync"
)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]func() SocketFactory{
		"mangos": func() SocketFactory { return NewMangosSocketFactory() },
		"memory": func() SocketFactory { return DefaultMemoryNetwork() },
	}
)

// registerFactory makes a transport selectable by name. Optional transports
// register themselves from build-tagged files.
func registerFactory(name string, fn func() SocketFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = fn
}

// FactoryFor returns the socket factory for a transport name
func FactoryFor(transport string) (SocketFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	fn, ok := factories[transport]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q (available: %v)", ErrInvalidConfig, transport, transportsLocked())
	}
	return fn(), nil
}

// Transports lists the transport names compiled into this binary
func Transports() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	return transportsLocked()
}

func transportsLocked() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
