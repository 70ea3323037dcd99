package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"terminal-pointofsale/internal/terminal"
)

// Driver is a terminal integration the manager can load.
type Driver interface {
	Name() string
	Load(ctx context.Context, opts terminal.SDKOptions) (terminal.SDK, error)
}

// Simulation is implemented by drivers that can inject reader events for
// demos and tests.
type Simulation interface {
	// DeclineNext makes the next presented card fail.
	DeclineNext()
	// DisconnectReader drops the connected reader as if it went away.
	DisconnectReader() error
}

// Stopper is implemented by drivers holding background work that must end
// when the driver is replaced.
type Stopper interface {
	Stop() error
}

// NewFunc builds a driver from its raw configuration block.
type NewFunc func(logger *logrus.Entry, rawConfig json.RawMessage) (Driver, error)

var (
	registryMu     sync.RWMutex
	driverRegistry = make(map[string]NewFunc)
)

// Register adds a driver constructor. Driver packages call it from init.
func Register(name string, newFunc NewFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := driverRegistry[name]; exists {
		return
	}
	driverRegistry[name] = newFunc
}

// Get returns the constructor registered under name.
func Get(name string) (NewFunc, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	newFunc, exists := driverRegistry[name]
	if !exists {
		return nil, fmt.Errorf("no terminal driver registered with name: %s", name)
	}
	return newFunc, nil
}

// Names lists the registered drivers.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(driverRegistry))
	for name := range driverRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
