// Package depmanager implements the Dependency Manager: per-bundle
// declarative components that expose provided services and consume
// required/optional service dependencies, driven as state machines off
// registry events.
package depmanager

import (
	"sync"

	"github.com/gocelix/gocelix/pkg/filter"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/registry"
	"github.com/gocelix/gocelix/pkg/version"
)

// ComponentState is a component's lifecycle state.
type ComponentState int

const (
	Inactive ComponentState = iota
	Tracking
	Initialised
	Starting
	Active
	Stopping
	Suspended
)

func (s ComponentState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Tracking:
		return "Tracking"
	case Initialised:
		return "Initialised"
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Stopping:
		return "Stopping"
	case Suspended:
		return "Suspended"
	default:
		return "Unknown"
	}
}

// Cardinality declares whether a dependency expects one or many matching
// services. It does not limit binding: every matching service is bound,
// and a required dependency is satisfied by one bound reference either way.
type Cardinality int

const (
	One Cardinality = iota
	Many
)

// Strategy controls how a component reacts to a bound service changing.
type Strategy int

const (
	Suspend Strategy = iota
	Locking
)

// Callbacks fire as a dependency's bound set changes. svc is the
// consumable service pointer obtained via registry.GetService.
type Callbacks struct {
	Add    func(impl interface{}, ref *registry.Reference, svc interface{})
	Change func(impl interface{}, ref *registry.Reference, svc interface{})
	Remove func(impl interface{}, ref *registry.Reference, svc interface{})
}

// LifecycleCallbacks are invoked as a component transitions Starting<->
// Active<->Stopping.
type LifecycleCallbacks struct {
	Start func(impl interface{}) error
	Stop  func(impl interface{}) error
}

type boundRef struct {
	ref     *registry.Reference
	svc     interface{}
	ranking int64
	id      uint64
}

// ServiceDependency is a component's declared need for one or more
// services matching an interface and optional filter.
type ServiceDependency struct {
	iface       string
	userFilter  filter.Filter
	cardinality Cardinality
	required    bool
	strategy    Strategy
	callbacks   Callbacks

	comp       *Component
	listenerID uint64
	mu         sync.Mutex
	bound      []boundRef
}

// Interface returns the dependency's required interface name.
func (d *ServiceDependency) Interface() string { return d.iface }

// Satisfied reports whether the dependency currently has at least one
// bound reference.
func (d *ServiceDependency) Satisfied() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bound) > 0
}

// ProvidedService is a service a component publishes while Active.
type ProvidedService struct {
	iface   string
	version version.Version
	props   *properties.Properties

	comp   *Component
	handle *registry.RegistrationHandle
}

// Interface returns the provided service's interface name.
func (p *ProvidedService) Interface() string { return p.iface }
