package depmanager

import (
	"sync"

	"github.com/sirupsen/logrus"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/metrics"
	"github.com/gocelix/gocelix/pkg/registry"
)

// DependencyManager owns every component declared by one bundle and wires
// their declared service dependencies to registry events.
type DependencyManager struct {
	bundleID uint64
	registry *registry.Registry
	metrics  *metrics.Provider
	logger   logrus.FieldLogger

	mu         sync.Mutex
	components map[string]*Component
}

// New returns a DependencyManager scoped to bundleID.
func New(bundleID uint64, reg *registry.Registry, provider *metrics.Provider, logger logrus.FieldLogger) *DependencyManager {
	return &DependencyManager{
		bundleID:   bundleID,
		registry:   reg,
		metrics:    provider,
		logger:     logger,
		components: make(map[string]*Component),
	}
}

// CreateComponent declares a new component named name, bound to impl, in
// the Inactive state. name must be unique within the manager.
func (dm *DependencyManager) CreateComponent(name string, impl interface{}) (*Component, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, exists := dm.components[name]; exists {
		return nil, celixerrors.NewInvalidArgument("CreateComponent", "component %q already exists", name)
	}
	c := &Component{name: name, impl: impl, dm: dm, state: Inactive}
	dm.components[name] = c
	return c, nil
}

// Component returns the named component, if it exists.
func (dm *DependencyManager) Component(name string) (*Component, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	c, ok := dm.components[name]
	return c, ok
}

// Components returns every component the manager owns.
func (dm *DependencyManager) Components() []*Component {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	out := make([]*Component, 0, len(dm.components))
	for _, c := range dm.components {
		out = append(out, c)
	}
	return out
}

// RemoveComponent disables and drops the named component.
func (dm *DependencyManager) RemoveComponent(name string) error {
	dm.mu.Lock()
	c, ok := dm.components[name]
	if ok {
		delete(dm.components, name)
	}
	dm.mu.Unlock()
	if !ok {
		return celixerrors.NewNotFound("RemoveComponent", "no such component %q", name)
	}
	return c.Disable()
}

// Clear disables and drops every component the manager owns, used by the
// Module Lifecycle Manager when the owning bundle stops.
func (dm *DependencyManager) Clear() {
	dm.mu.Lock()
	names := make([]string, 0, len(dm.components))
	for name := range dm.components {
		names = append(names, name)
	}
	dm.mu.Unlock()

	for _, name := range names {
		_ = dm.RemoveComponent(name)
	}
}
