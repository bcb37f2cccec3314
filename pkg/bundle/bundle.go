// Package bundle implements the Module Lifecycle Manager: bundle state
// transitions, activator invocation, and manifest-driven import/export
// resolution.
package bundle

import (
	"sync"

	"github.com/gocelix/gocelix/pkg/depmanager"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/registry"
)

// State is a bundle's lifecycle state.
type State int

const (
	Installed State = iota
	Resolved
	Starting
	Active
	Stopping
	Uninstalled
)

func (s State) String() string {
	switch s {
	case Installed:
		return "Installed"
	case Resolved:
		return "Resolved"
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Stopping:
		return "Stopping"
	case Uninstalled:
		return "Uninstalled"
	default:
		return "Unknown"
	}
}

// Archive is the opaque handle the Module Lifecycle Manager requires from
// an on-disk (or in-memory) bundle package; its format is not specified
// here.
type Archive interface {
	ID() uint64
	Location() string
	Manifest() map[string]string
	OpenEntry(path string) ([]byte, bool)
}

// Activator is the bundle-supplied collaborator invoked during the
// bundle's start, stop and uninstall transitions. Manager does not hand
// these calls to the event bus: they run synchronously on whichever
// goroutine calls Manager.Start, Manager.Stop or Manager.Uninstall (the
// event thread only when the uninstall came from UninstallAsync).
type Activator interface {
	Create(ctx *Context) (interface{}, error)
	Start(state interface{}, ctx *Context) error
	Stop(state interface{}, ctx *Context) error
	Destroy(state interface{}, ctx *Context) error
}

// Context is the per-bundle handle activators use to reach the service
// registry and dependency manager as the owning bundle.
type Context struct {
	bundle *Bundle
	reg    *registry.Registry
	dm     *depmanager.DependencyManager
}

// BundleID returns the owning bundle's id.
func (c *Context) BundleID() uint64 { return c.bundle.id }

// RegisterService publishes svc under iface on behalf of this context's
// bundle.
func (c *Context) RegisterService(iface string, svc interface{}, props *properties.Properties) (registry.RegistrationHandle, error) {
	return c.reg.Register(c.bundle.id, iface, svc, props)
}

// Registry returns the underlying service registry, for operations not
// wrapped by Context (find_references, get/unget_service, listeners).
func (c *Context) Registry() *registry.Registry { return c.reg }

// DependencyManager returns this bundle's dependency manager, for
// activators that prefer declarative components over manual
// RegisterService/FindReferences calls.
func (c *Context) DependencyManager() *depmanager.DependencyManager { return c.dm }

// Bundle is one installed unit of code plus manifest, managed by Manager.
type Bundle struct {
	id       uint64
	location string
	archive  Archive
	manifest map[string]string

	activator      Activator
	activatorState interface{}

	mu    sync.RWMutex
	state State
	ctx   *Context
}

// ID returns the bundle's unique id. Bundle 0 is always the framework.
func (b *Bundle) ID() uint64 { return b.id }

// Location returns the bundle's install location string.
func (b *Bundle) Location() string { return b.location }

// Manifest returns the bundle's parsed manifest key/value map.
func (b *Bundle) Manifest() map[string]string { return b.manifest }

// State returns the bundle's current lifecycle state.
func (b *Bundle) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Bundle) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// Context returns the bundle's context, set when the bundle is installed.
func (b *Bundle) Context() *Context { return b.ctx }
