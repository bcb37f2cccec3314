// Package registry implements the framework's concurrency-safe, ranked,
// filter-queryable service directory: registrations keyed by a
// monotonically increasing id, reference-counted consumption, and
// listener/find-hook notification, all serialised through the framework's
// event bus.
package registry

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gocelix/gocelix/pkg/eventbus"
	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/filter"
	"github.com/gocelix/gocelix/pkg/metrics"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/version"
)

// Registry is the framework's single service directory. All tables and
// the registrations they hold are guarded by one reader/writer lock;
// mutating operations emit their corresponding event on the bus after
// releasing the lock, carrying a pre-captured Reference snapshot.
type Registry struct {
	logger  logrus.FieldLogger
	bus     *eventbus.Bus
	metrics *metrics.Provider

	mu sync.RWMutex

	nextID uint64
	regs   map[uint64]*registration
	byBundle map[uint64]map[uint64]*registration

	nextListenerID uint64
	listeners      map[uint64]*listenerEntry

	listenerHooks []*registration // registrations whose svc implements ListenerHook
	findHooks     []*registration

	notifying map[uint64]bool // registration ids currently mid-dispatch

	findHookMu        sync.Mutex
	findHooksInFlight map[uint64]bool // goroutine id -> true while that goroutine is inside a find-hook Find call
}

// New returns an empty Registry driven by bus.
func New(bus *eventbus.Bus, logger logrus.FieldLogger, provider *metrics.Provider) *Registry {
	return &Registry{
		bus:      bus,
		logger:   logger,
		metrics:  provider,
		regs:     make(map[uint64]*registration),
		byBundle: make(map[uint64]map[uint64]*registration),
		listeners: make(map[uint64]*listenerEntry),
		notifying: make(map[uint64]bool),
		findHooksInFlight: make(map[uint64]bool),
	}
}

func synthesizeProps(id uint64, iface string, user *properties.Properties) *properties.Properties {
	p := properties.New()
	if user != nil {
		for _, k := range user.Keys() {
			v, _ := user.Get(k)
			p.Set(k, v)
		}
	}
	if !p.Has(ServiceRankingKey) {
		p.SetLong(ServiceRankingKey, 0)
	}
	p.SetLong(ServiceIDKey, int64(id))
	p.SetString(ObjectClassKey, iface)
	return p
}

// Register publishes svc under iface on behalf of bundleID.
func (r *Registry) Register(bundleID uint64, iface string, svc interface{}, props *properties.Properties) (RegistrationHandle, error) {
	return r.register(bundleID, iface, svc, nil, false, props)
}

// RegisterFactory publishes a per-consumer service factory under iface.
func (r *Registry) RegisterFactory(bundleID uint64, iface string, factory ServiceFactory, props *properties.Properties) (RegistrationHandle, error) {
	return r.register(bundleID, iface, nil, factory, true, props)
}

func (r *Registry) register(bundleID uint64, iface string, plain interface{}, factory ServiceFactory, isFactory bool, props *properties.Properties) (RegistrationHandle, error) {
	if iface == "" {
		return RegistrationHandle{}, celixerrors.NewInvalidArgument("Register", "interface name must not be empty")
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	reg := &registration{
		id:        id,
		bundleID:  bundleID,
		ifaceName: iface,
		version:   properties.Value{}.AsVersion(version.Zero),
		plain:     plain,
		factory:   factory,
		isFactory: isFactory,
		props:     synthesizeProps(id, iface, props),
		state:     Active,
		useCount:  make(map[uint64]uint32),
	}
	if v, ok := propsVersion(props); ok {
		reg.version = v
	}
	r.regs[id] = reg
	if r.byBundle[bundleID] == nil {
		r.byBundle[bundleID] = make(map[uint64]*registration)
	}
	r.byBundle[bundleID][id] = reg

	if iface == ListenerHookInterface {
		r.listenerHooks = append(r.listenerHooks, reg)
	}
	if iface == FindHookInterface {
		r.findHooks = append(r.findHooks, reg)
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ServiceRegistered()
	}

	ref := r.newReference(reg)
	r.bus.Enqueue(func() {
		r.dispatchServiceEvent(ServiceEvent{Kind: Registered, Ref: ref})
	})

	return RegistrationHandle{reg: reg}, nil
}

// propsVersion reads an optional "service.version" key off caller-supplied
// props, tolerating a nil map.
func propsVersion(p *properties.Properties) (version.Version, bool) {
	if p == nil || !p.Has("service.version") {
		return version.Zero, false
	}
	return p.GetVersion("service.version", version.Zero), true
}

// Unregister transitions handle's registration to Unregistering then
// Unregistered. The registration object survives while readers or
// use-counts remain, but becomes non-discoverable immediately.
func (r *Registry) Unregister(handle RegistrationHandle) error {
	reg := handle.reg

	r.mu.Lock()
	if r.notifying[reg.id] {
		r.mu.Unlock()
		return celixerrors.NewIllegalState("Unregister", "service %d cannot unregister itself from within its own listener notification", reg.id)
	}
	if reg.state != Active {
		r.mu.Unlock()
		return celixerrors.NewNotFound("Unregister", "registration %d is not active", reg.id)
	}
	reg.state = Unregistering
	r.mu.Unlock()

	ref := r.newReference(reg)
	r.bus.Enqueue(func() {
		r.dispatchServiceEvent(ServiceEvent{Kind: Unregistering, Ref: ref})
	})

	r.mu.Lock()
	reg.state = Unregistered
	delete(r.byBundle[reg.bundleID], reg.id)
	r.mu.Unlock()

	r.tryDestroy(reg)
	return nil
}

// ModifyProperties atomically swaps reg's user-set properties (synthesised
// keys are preserved) and emits a Modified event carrying the prior
// property snapshot. Changing objectClass via this call is forbidden.
func (r *Registry) ModifyProperties(handle RegistrationHandle, newProps *properties.Properties) error {
	reg := handle.reg
	if newProps != nil {
		if v, ok := newProps.Get(ObjectClassKey); ok && v.AsString() != reg.ifaceName {
			return celixerrors.NewInvalidArgument("ModifyProperties", "objectClass is immutable via ModifyProperties")
		}
	}

	r.mu.Lock()
	if reg.state != Active {
		r.mu.Unlock()
		return celixerrors.NewIllegalState("ModifyProperties", "registration %d is not active", reg.id)
	}
	old := reg.props.Clone()
	keep := map[string]struct{}{
		"service.id": {}, "objectclass": {}, "service.ranking": {},
	}
	merged := reg.props.Clone()
	if err := merged.ReplaceUserKeys(newProps, keep); err != nil {
		r.mu.Unlock()
		return err
	}
	reg.props = merged
	r.mu.Unlock()

	ref := r.newReference(reg)
	r.bus.Enqueue(func() {
		r.dispatchServiceEvent(ServiceEvent{Kind: Modified, Ref: ref, OldProps: old})
	})
	return nil
}

// newReference returns a fresh, reader-counted handle to reg.
func (r *Registry) newReference(reg *registration) *Reference {
	r.mu.Lock()
	reg.readerCount++
	r.mu.Unlock()
	return &Reference{reg: reg}
}

// Release drops a reader's hold on ref. When the underlying registration
// is Unregistered, has no remaining readers and no remaining use-count,
// it is destroyed.
func (r *Registry) Release(ref *Reference) {
	r.mu.Lock()
	if ref.reg.readerCount > 0 {
		ref.reg.readerCount--
	}
	r.mu.Unlock()
	r.tryDestroy(ref.reg)
}

// tryDestroy removes reg from the registry's tables once it is
// Unregistered with zero readers and zero use-count across all bundles.
func (r *Registry) tryDestroy(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg.state != Unregistered || reg.readerCount != 0 {
		return
	}
	for _, n := range reg.useCount {
		if n != 0 {
			return
		}
	}
	delete(r.regs, reg.id)
	if bundleRegs, ok := r.byBundle[reg.bundleID]; ok {
		delete(bundleRegs, reg.id)
	}
	for i, h := range r.listenerHooks {
		if h == reg {
			r.listenerHooks = append(r.listenerHooks[:i], r.listenerHooks[i+1:]...)
			break
		}
	}
	for i, h := range r.findHooks {
		if h == reg {
			r.findHooks = append(r.findHooks[:i], r.findHooks[i+1:]...)
			break
		}
	}
}

// dispatchServiceEvent invokes every listener whose filter matches ev.Ref's
// properties, guarding against the listener trying to unregister the very
// service it is being notified about.
func (r *Registry) dispatchServiceEvent(ev ServiceEvent) {
	r.mu.Lock()
	r.notifying[ev.Ref.reg.id] = true
	listeners := make([]*listenerEntry, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	props := ev.Ref.reg.props
	for _, l := range listeners {
		if l.filter == nil || l.filter.Matches(props) {
			r.safeInvoke(l.cb, ev)
		}
	}

	r.mu.Lock()
	delete(r.notifying, ev.Ref.reg.id)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ListenerDispatched()
	}
	r.Release(ev.Ref)
}

func (r *Registry) safeInvoke(cb ListenerFunc, ev ServiceEvent) {
	defer func() {
		if rec := recover(); rec != nil && r.logger != nil {
			r.logger.WithField("panic", rec).Error("service listener panicked")
		}
	}()
	cb(ev)
}

// AddListener registers cb to receive ServiceEvents whose reference's
// properties match filt (nil matches everything). Listener hooks are
// notified of the addition after the mutation is visible.
func (r *Registry) AddListener(bundleID uint64, filt filter.Filter, cb ListenerFunc) uint64 {
	r.mu.Lock()
	r.nextListenerID++
	id := r.nextListenerID
	r.listeners[id] = &listenerEntry{id: id, bundleID: bundleID, filter: filt, cb: cb}
	hooks := append([]*registration(nil), r.listenerHooks...)
	r.mu.Unlock()

	r.notifyListenerHooks(hooks, []ListenerInfo{{BundleID: bundleID, Filter: filt}}, true)
	return id
}

// RemoveListener unregisters the listener with the given id.
func (r *Registry) RemoveListener(id uint64) {
	r.mu.Lock()
	l, ok := r.listeners[id]
	if ok {
		delete(r.listeners, id)
	}
	hooks := append([]*registration(nil), r.listenerHooks...)
	r.mu.Unlock()

	if ok {
		r.notifyListenerHooks(hooks, []ListenerInfo{{BundleID: l.bundleID, Filter: l.filter}}, false)
	}
}

// RemoveListenersForBundle drops every listener owned by bundleID, as the
// Module Lifecycle Manager does when a bundle stops.
func (r *Registry) RemoveListenersForBundle(bundleID uint64) {
	r.mu.Lock()
	var removed []ListenerInfo
	for id, l := range r.listeners {
		if l.bundleID == bundleID {
			removed = append(removed, ListenerInfo{BundleID: l.bundleID, Filter: l.filter})
			delete(r.listeners, id)
		}
	}
	hooks := append([]*registration(nil), r.listenerHooks...)
	r.mu.Unlock()

	if len(removed) > 0 {
		r.notifyListenerHooks(hooks, removed, false)
	}
}

func (r *Registry) notifyListenerHooks(hooks []*registration, changed []ListenerInfo, added bool) {
	for _, h := range hooks {
		hook, ok := h.plain.(ListenerHook)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil && r.logger != nil {
					r.logger.WithField("panic", rec).Error("listener hook panicked")
				}
			}()
			if added {
				hook.Added(changed)
			} else {
				hook.Removed(changed)
			}
		}()
	}
}

// UnregisterAllForBundle unregisters every active registration owned by
// bundleID, used by the Module Lifecycle Manager when a bundle stops.
func (r *Registry) UnregisterAllForBundle(bundleID uint64) {
	r.mu.RLock()
	regs := make([]*registration, 0, len(r.byBundle[bundleID]))
	for _, reg := range r.byBundle[bundleID] {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	for _, reg := range regs {
		_ = r.Unregister(RegistrationHandle{reg: reg})
	}
}

// UngetAllForBundle releases every use-count bundleID holds as a consumer,
// used when a bundle stops to release its imports.
func (r *Registry) UngetAllForBundle(bundleID uint64) {
	r.mu.Lock()
	var toRelease []*registration
	for _, reg := range r.regs {
		if reg.useCount[bundleID] > 0 {
			toRelease = append(toRelease, reg)
		}
	}
	r.mu.Unlock()

	for _, reg := range toRelease {
		ref := &Reference{reg: reg}
		for reg.useCount[bundleID] > 0 {
			_, _ = r.UngetService(bundleID, ref)
		}
	}
}
