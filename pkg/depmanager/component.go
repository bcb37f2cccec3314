package depmanager

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/filter"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/registry"
	"github.com/gocelix/gocelix/pkg/version"
)

// Component is a dependency-manager-managed object: an implementation
// pointer plus declared provided services and required/optional service
// dependencies, driven through ComponentState by registry events.
type Component struct {
	name string
	impl interface{}
	dm   *DependencyManager

	lifecycle LifecycleCallbacks

	mu       sync.RWMutex
	state    ComponentState
	provides []*ProvidedService
	depends  []*ServiceDependency
}

// Name returns the component's name.
func (c *Component) Name() string { return c.name }

// State returns the component's current lifecycle state.
func (c *Component) State() ComponentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetLifecycle installs the start/stop callbacks invoked around
// activation and deactivation.
func (c *Component) SetLifecycle(cbs LifecycleCallbacks) *Component {
	c.mu.Lock()
	c.lifecycle = cbs
	c.mu.Unlock()
	return c
}

// AddServiceDependency declares a need for iface (optionally narrowed by
// filt) before Enable is called.
func (c *Component) AddServiceDependency(iface string, filt filter.Filter, required bool, cardinality Cardinality, strategy Strategy, cbs Callbacks) *ServiceDependency {
	dep := &ServiceDependency{
		iface:       iface,
		userFilter:  filt,
		cardinality: cardinality,
		required:    required,
		strategy:    strategy,
		callbacks:   cbs,
		comp:        c,
	}
	c.mu.Lock()
	c.depends = append(c.depends, dep)
	c.mu.Unlock()
	return dep
}

// AddProvidedService declares a service that is registered when the
// component activates and deregistered when it is suspended or disabled.
// Registration happens after the Start callback succeeds but before the
// state becomes Active; deregistration happens after the Stop callback,
// once the state is Stopping.
func (c *Component) AddProvidedService(iface string, ver version.Version, props *properties.Properties) *ProvidedService {
	ps := &ProvidedService{iface: iface, version: ver, props: props, comp: c}
	c.mu.Lock()
	c.provides = append(c.provides, ps)
	c.mu.Unlock()
	return ps
}

// Enable begins tracking every declared dependency and attempts an
// initial activation if all required dependencies are already satisfied.
func (c *Component) Enable() error {
	c.mu.Lock()
	if c.state != Inactive {
		c.mu.Unlock()
		return nil
	}
	c.state = Tracking
	deps := append([]*ServiceDependency(nil), c.depends...)
	c.mu.Unlock()

	for _, dep := range deps {
		c.trackDependency(dep)
	}
	return c.evaluate()
}

func (c *Component) trackDependency(dep *ServiceDependency) {
	reg := c.dm.registry
	combined := filter.Equal(registry.ObjectClassKey, dep.iface)
	full := combined
	if dep.userFilter != nil {
		full = filter.And([]filter.Filter{combined, dep.userFilter})
	}

	dep.listenerID = reg.AddListener(c.dm.bundleID, full, func(ev registry.ServiceEvent) {
		c.handleServiceEvent(dep, ev)
	})

	refs, err := reg.FindReferences(dep.iface, dep.userFilter)
	if err != nil {
		return
	}
	for _, ref := range refs {
		c.bind(dep, ref)
	}
}

func (c *Component) handleServiceEvent(dep *ServiceDependency, ev registry.ServiceEvent) {
	switch ev.Kind {
	case registry.Registered:
		c.bind(dep, ev.Ref)
		_ = c.evaluate()
	case registry.Modified:
		c.change(dep, ev.Ref)
	case registry.Unregistering:
		c.unbind(dep, ev.Ref)
		_ = c.evaluate()
	}
}

func (c *Component) bind(dep *ServiceDependency, ref *registry.Reference) {
	reg := c.dm.registry
	svc, err := reg.GetService(c.dm.bundleID, ref)
	if err != nil {
		return
	}
	props, _ := reg.Properties(ref)
	br := boundRef{ref: ref, svc: svc, ranking: props.GetLong(registry.ServiceRankingKey, 0), id: ref.ID()}

	dep.mu.Lock()
	for _, existing := range dep.bound {
		if existing.id == br.id {
			dep.mu.Unlock()
			_, _ = reg.UngetService(c.dm.bundleID, ref)
			return
		}
	}
	dep.bound = append(dep.bound, br)
	sort.Slice(dep.bound, func(i, j int) bool {
		if dep.bound[i].ranking != dep.bound[j].ranking {
			return dep.bound[i].ranking > dep.bound[j].ranking
		}
		return dep.bound[i].id < dep.bound[j].id
	})
	dep.mu.Unlock()

	if dep.callbacks.Add != nil {
		dep.callbacks.Add(c.impl, ref, svc)
	}
}

func (c *Component) change(dep *ServiceDependency, ref *registry.Reference) {
	dep.mu.Lock()
	var svc interface{}
	for _, br := range dep.bound {
		if br.id == ref.ID() {
			svc = br.svc
			break
		}
	}
	dep.mu.Unlock()
	if svc == nil {
		return
	}
	if dep.strategy == Locking {
		c.mu.Lock()
		if dep.callbacks.Change != nil {
			dep.callbacks.Change(c.impl, ref, svc)
		}
		c.mu.Unlock()
		return
	}
	if c.State() == Active {
		c.suspend(dep.strategy)
		if dep.callbacks.Change != nil {
			dep.callbacks.Change(c.impl, ref, svc)
		}
		_ = c.evaluate()
		return
	}
	if dep.callbacks.Change != nil {
		dep.callbacks.Change(c.impl, ref, svc)
	}
}

func (c *Component) unbind(dep *ServiceDependency, ref *registry.Reference) {
	reg := c.dm.registry

	dep.mu.Lock()
	var svc interface{}
	idx := -1
	for i, br := range dep.bound {
		if br.id == ref.ID() {
			svc = br.svc
			idx = i
			break
		}
	}
	if idx >= 0 {
		dep.bound = append(dep.bound[:idx], dep.bound[idx+1:]...)
	}
	remaining := len(dep.bound)
	dep.mu.Unlock()

	if idx < 0 {
		return
	}
	_, _ = reg.UngetService(c.dm.bundleID, ref)
	if dep.callbacks.Remove != nil {
		dep.callbacks.Remove(c.impl, ref, svc)
	}

	if dep.required && remaining == 0 && c.State() == Active {
		c.suspend(dep.strategy)
	}
}

// suspend stops an Active component and deregisters its provided services,
// leaving it Suspended. strategy is not consulted: the same sequence runs
// for Suspend and Locking.
func (c *Component) suspend(strategy Strategy) {
	c.mu.Lock()
	if c.state != Active {
		c.mu.Unlock()
		return
	}
	stop := c.lifecycle.Stop
	provides := append([]*ProvidedService(nil), c.provides...)
	c.state = Stopping
	c.mu.Unlock()

	if stop != nil {
		safeCall(c.dm.logger, func() { stop(c.impl) })
	}
	c.deregisterProvides(provides)

	c.mu.Lock()
	c.state = Suspended
	c.mu.Unlock()
}

func (c *Component) deregisterProvides(provides []*ProvidedService) {
	reg := c.dm.registry
	for _, ps := range provides {
		if ps.handle != nil {
			_ = reg.Unregister(*ps.handle)
			ps.handle = nil
		}
	}
}

func (c *Component) registerProvides() {
	reg := c.dm.registry
	c.mu.RLock()
	provides := append([]*ProvidedService(nil), c.provides...)
	c.mu.RUnlock()
	for _, ps := range provides {
		p := ps.props
		if p == nil {
			p = properties.New()
		}
		handle, err := reg.Register(c.dm.bundleID, ps.iface, c.impl, p)
		if err != nil {
			continue
		}
		ps.handle = &handle
	}
}

func (c *Component) requiredSatisfied() bool {
	_, unsatisfied := c.firstUnsatisfiedRequired()
	return !unsatisfied
}

// firstUnsatisfiedRequired returns the interface name of the first
// required dependency with no bound reference, if any.
func (c *Component) firstUnsatisfiedRequired() (iface string, found bool) {
	c.mu.RLock()
	deps := append([]*ServiceDependency(nil), c.depends...)
	c.mu.RUnlock()
	for _, dep := range deps {
		if dep.required && !dep.Satisfied() {
			return dep.iface, true
		}
	}
	return "", false
}

// CheckSatisfied reports whether the component is Active, or, for a
// component still waiting to activate, whether every required
// dependency is currently bound. It lets a caller observe a stalled
// activation synchronously (DependencyUnsatisfiedError naming the first
// unmet required dependency) instead of only waiting on a future
// ServiceEvent.
func (c *Component) CheckSatisfied() error {
	if c.State() == Active {
		return nil
	}
	if iface, ok := c.firstUnsatisfiedRequired(); ok {
		return celixerrors.NewDependencyUnsatisfied(c.name, iface)
	}
	return nil
}

// evaluate drives the component's state machine forward when its
// dependency set makes progress possible: Tracking/Initialised -> Active
// on satisfaction, or reactivation from Suspended.
func (c *Component) evaluate() error {
	satisfied := c.requiredSatisfied()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch {
	case !satisfied:
		return nil
	case state == Tracking || state == Initialised:
		c.mu.Lock()
		c.state = Initialised
		c.mu.Unlock()
		return c.activate()
	case state == Suspended:
		return c.activate()
	default:
		return nil
	}
}

func (c *Component) activate() error {
	c.mu.Lock()
	c.state = Starting
	start := c.lifecycle.Start
	c.mu.Unlock()

	if start != nil {
		if err := start(c.impl); err != nil {
			c.mu.Lock()
			c.state = Initialised
			c.mu.Unlock()
			return err
		}
	}

	c.registerProvides()

	c.mu.Lock()
	c.state = Active
	c.mu.Unlock()

	if c.dm.metrics != nil {
		c.dm.metrics.ComponentActivated()
	}
	return nil
}

// Disable deregisters provided services, stops the component if Active,
// removes every dependency listener, and returns to Inactive.
func (c *Component) Disable() error {
	c.mu.Lock()
	state := c.state
	stop := c.lifecycle.Stop
	provides := append([]*ProvidedService(nil), c.provides...)
	deps := append([]*ServiceDependency(nil), c.depends...)
	c.state = Stopping
	c.mu.Unlock()

	if state == Active && stop != nil {
		safeCall(c.dm.logger, func() { stop(c.impl) })
	}
	c.deregisterProvides(provides)

	reg := c.dm.registry
	for _, dep := range deps {
		reg.RemoveListener(dep.listenerID)
		dep.mu.Lock()
		for _, br := range dep.bound {
			_, _ = reg.UngetService(c.dm.bundleID, br.ref)
		}
		dep.bound = nil
		dep.mu.Unlock()
	}

	c.mu.Lock()
	c.state = Inactive
	c.mu.Unlock()
	return nil
}

func safeCall(logger logrus.FieldLogger, fn func()) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.WithField("panic", r).Error("component lifecycle callback panicked")
		}
	}()
	fn()
}
