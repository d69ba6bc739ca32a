package compute

import (
	"sort"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Factory opens a backend. Backend packages register one in an init
// function so importing the package is enough to make it available.
type Factory func(logger golog.Logger) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// defaultPriority orders backends for OpenDefault.
var defaultPriority = []string{"wgpu"}

// Register makes a backend available by name. It panics if the name is
// empty or already taken.
func Register(name string, factory Factory) {
	if name == "" {
		panic(errors.New("compute backend name cannot be empty"))
	}
	if factory == nil {
		panic(errors.Errorf("compute backend %q has a nil factory", name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(errors.Errorf("compute backend %q already registered", name))
	}
	registry[name] = factory
}

// Registered returns the names of all registered backends, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named backend.
func Open(name string, logger golog.Logger) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoBackend, "backend %q is not registered", name)
	}
	backend, err := factory(logger)
	if err != nil {
		return nil, errors.Wrapf(err, "opening backend %q", name)
	}
	return backend, nil
}

// OpenDefault opens the first backend in priority order that is
// registered and able to open a device.
func OpenDefault(logger golog.Logger) (Backend, error) {
	var errs error
	for _, name := range defaultPriority {
		registryMu.RLock()
		factory, ok := registry[name]
		registryMu.RUnlock()
		if !ok {
			continue
		}
		backend, err := factory(logger)
		if err != nil {
			errs = multierr.Combine(errs, errors.Wrapf(err, "backend %q", name))
			continue
		}
		return backend, nil
	}
	if errs != nil {
		return nil, errors.Wrapf(ErrNoBackend, "every backend failed: %s", errs)
	}
	return nil, ErrNoBackend
}
