package bundle

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gocelix/gocelix/pkg/depmanager"
	"github.com/gocelix/gocelix/pkg/eventbus"
	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/metrics"
	"github.com/gocelix/gocelix/pkg/registry"
)

// ArchiveFactory builds an Archive for a bundle install location; it is
// the core's only dependency on an on-disk bundle format, supplied by the
// embedder.
type ArchiveFactory func(location string) (Archive, error)

// Manager is the Module Lifecycle Manager: it owns every installed
// bundle, drives its state machine, and emits bundle events through the
// framework's event bus.
type Manager struct {
	logger  logrus.FieldLogger
	bus     *eventbus.Bus
	reg     *registry.Registry
	metrics *metrics.Provider
	newArchive ArchiveFactory

	mu       sync.RWMutex
	nextID   uint64
	bundles  map[uint64]*Bundle
	installOrder []uint64

	nextListenerID uint64
	listeners      map[uint64]ListenerFunc
}

// NewManager returns a Manager with no bundles installed beyond bundle 0,
// which the caller (the Framework Facade) installs separately as Active.
func NewManager(bus *eventbus.Bus, reg *registry.Registry, provider *metrics.Provider, archiveFactory ArchiveFactory, logger logrus.FieldLogger) *Manager {
	return &Manager{
		logger:     logger,
		bus:        bus,
		reg:        reg,
		metrics:    provider,
		newArchive: archiveFactory,
		bundles:    make(map[uint64]*Bundle),
		listeners:  make(map[uint64]ListenerFunc),
	}
}

// AddListener registers cb to receive every bundle event.
func (m *Manager) AddListener(cb ListenerFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.listeners[id] = cb
	return id
}

// RemoveListener unregisters the listener with the given id.
func (m *Manager) RemoveListener(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	cbs := make([]ListenerFunc, 0, len(m.listeners))
	for _, cb := range m.listeners {
		cbs = append(cbs, cb)
	}
	m.mu.RUnlock()

	if m.metrics != nil {
		m.metrics.BundleTransitioned(ev.Kind.String())
	}

	m.bus.Enqueue(func() {
		for _, cb := range cbs {
			m.safeInvoke(cb, ev)
		}
	})
}

func (m *Manager) safeInvoke(cb ListenerFunc, ev Event) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.WithField("panic", r).Error("bundle listener panicked")
		}
	}()
	cb(ev)
}

// GetBundle returns the bundle with the given id.
func (m *Manager) GetBundle(id uint64) (*Bundle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[id]
	return b, ok
}

// Bundles returns every bundle known to the manager, in install order.
func (m *Manager) Bundles() []*Bundle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Bundle, 0, len(m.installOrder))
	for _, id := range m.installOrder {
		out = append(out, m.bundles[id])
	}
	return out
}

// InstallBundle0 registers bundle 0, the framework itself, as Active
// without going through an archive or activator.
func (m *Manager) InstallBundle0(reg *registry.Registry) *Bundle {
	b := &Bundle{id: 0, location: "framework", manifest: map[string]string{}, state: Active}
	b.ctx = &Context{bundle: b, reg: reg, dm: depmanager.New(0, reg, m.metrics, m.logger)}
	m.mu.Lock()
	m.bundles[0] = b
	m.installOrder = append(m.installOrder, 0)
	m.mu.Unlock()
	return b
}

// Install creates the bundle's archive, reads its manifest, allocates an
// id, and transitions it to Installed.
func (m *Manager) Install(location string) (uint64, error) {
	archive, err := m.newArchive(location)
	if err != nil {
		return 0, celixerrors.NewInstallFailed(location, errors.Wrapf(err, "opening archive at %s", location))
	}
	manifest := archive.Manifest()
	if manifest["Bundle-SymbolicName"] == "" {
		return 0, celixerrors.NewInstallFailed(location, fmt.Errorf("manifest missing Bundle-SymbolicName"))
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	b := &Bundle{id: id, location: location, archive: archive, manifest: manifest, state: Installed}
	b.ctx = &Context{bundle: b, reg: m.reg, dm: depmanager.New(id, m.reg, m.metrics, m.logger)}
	if act, ok := archive.(interface{ Activator() Activator }); ok {
		b.activator = act.Activator()
	}
	m.bundles[id] = b
	m.installOrder = append(m.installOrder, id)
	m.mu.Unlock()

	m.emit(Event{Kind: EventInstalled, BundleID: id})
	return id, nil
}

// InstallAsync enqueues the install on the event bus and returns the
// prospective bundle id immediately; callers may WaitForEvent on the
// returned eventID via the Bus.
func (m *Manager) InstallAsync(location string) (bundleID uint64, eventID uint64) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()

	eventID = m.bus.Enqueue(func() {
		archive, err := m.newArchive(location)
		if err != nil {
			m.emit(Event{Kind: EventInstalled, BundleID: id, Diagnostic: err.Error()})
			return
		}
		manifest := archive.Manifest()
		b := &Bundle{id: id, location: location, archive: archive, manifest: manifest, state: Installed}
		b.ctx = &Context{bundle: b, reg: m.reg, dm: depmanager.New(id, m.reg, m.metrics, m.logger)}
		if act, ok := archive.(interface{ Activator() Activator }); ok {
			b.activator = act.Activator()
		}
		m.mu.Lock()
		m.bundles[id] = b
		m.installOrder = append(m.installOrder, id)
		m.mu.Unlock()
		m.emit(Event{Kind: EventInstalled, BundleID: id})
	})
	return id, eventID
}

// resolve checks that every Import-Package clause in b's manifest is
// satisfiable by the Export-Package clauses of some other installed
// bundle, transitioning b to Resolved on success.
func (m *Manager) resolve(b *Bundle) error {
	if b.State() != Installed {
		return nil
	}
	imports, err := parseImports(b.manifest["Import-Package"])
	if err != nil {
		return err
	}

	m.mu.RLock()
	var allExports []packageExport
	for _, other := range m.bundles {
		if other.id == b.id {
			continue
		}
		exports, _ := parseExports(other.manifest["Export-Package"])
		allExports = append(allExports, exports...)
	}
	m.mu.RUnlock()

	for _, imp := range imports {
		if !imp.satisfiedBy(allExports) {
			return celixerrors.NewInvalidArgument("resolve", "unresolvable import %q for bundle %d", imp.name, b.id)
		}
	}
	b.setState(Resolved)
	m.emit(Event{Kind: EventResolved, BundleID: b.id})
	return nil
}

// Start resolves b if needed, then calls its activator's Create/Start.
// A panic or non-success return rolls the bundle back to Resolved and
// surfaces ActivatorFailedError; an unresolvable bundle surfaces
// InvalidArgumentError ("Unresolved" per the bundle event taxonomy).
func (m *Manager) Start(id uint64) error {
	b, ok := m.GetBundle(id)
	if !ok {
		return celixerrors.NewNotFound("Start", "no such bundle %d", id)
	}
	if b.State() == Installed {
		if err := m.resolve(b); err != nil {
			m.emit(Event{Kind: EventUnresolved, BundleID: id, Diagnostic: err.Error()})
			return err
		}
	}
	if b.State() != Resolved {
		return celixerrors.NewIllegalState("Start", "bundle %d is not in a startable state (%s)", id, b.State())
	}

	b.setState(Starting)
	diagnostic, err := m.runActivator(b)
	if err != nil {
		b.setState(Resolved)
		afErr := celixerrors.NewActivatorFailed(id, diagnostic)
		m.emit(Event{Kind: EventStartFailed, BundleID: id, Diagnostic: diagnostic})
		return afErr
	}
	b.setState(Active)
	m.emit(Event{Kind: EventStarted, BundleID: id})
	return nil
}

func (m *Manager) runActivator(b *Bundle) (diagnostic string, err error) {
	if b.activator == nil {
		return "", nil
	}
	defer func() {
		if r := recover(); r != nil {
			diagnostic = fmt.Sprintf("activator panicked: %v", r)
			err = fmt.Errorf("%s", diagnostic)
		}
	}()

	state, cerr := b.activator.Create(b.ctx)
	if cerr != nil {
		return cerr.Error(), cerr
	}
	b.activatorState = state
	if serr := b.activator.Start(state, b.ctx); serr != nil {
		return serr.Error(), serr
	}
	return "", nil
}

// Stop calls the activator's Stop entry (driving the bundle to Resolved
// regardless of outcome), implicitly unregisters any services the bundle
// left registered, and releases any service imports it still holds.
func (m *Manager) Stop(id uint64) error {
	b, ok := m.GetBundle(id)
	if !ok {
		return celixerrors.NewNotFound("Stop", "no such bundle %d", id)
	}
	if b.State() != Active {
		return celixerrors.NewIllegalState("Stop", "bundle %d is not Active", id)
	}

	b.setState(Stopping)
	var stopErr error
	if b.activator != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					stopErr = fmt.Errorf("deactivator panicked: %v", r)
				}
			}()
			stopErr = b.activator.Stop(b.activatorState, b.ctx)
		}()
	}

	if b.ctx != nil && b.ctx.dm != nil {
		b.ctx.dm.Clear()
	}
	m.reg.UnregisterAllForBundle(id)
	m.reg.RemoveListenersForBundle(id)
	m.reg.UngetAllForBundle(id)

	b.setState(Resolved)
	m.emit(Event{Kind: EventStopped, BundleID: id})
	return stopErr
}

// Uninstall stops b if Active, calls its activator's Destroy entry, and
// transitions it to the terminal Uninstalled state.
func (m *Manager) Uninstall(id uint64) error {
	b, ok := m.GetBundle(id)
	if !ok {
		return celixerrors.NewNotFound("Uninstall", "no such bundle %d", id)
	}
	if b.State() == Uninstalled {
		return celixerrors.NewIllegalState("Uninstall", "bundle %d is already Uninstalled", id)
	}
	if b.State() == Active {
		if err := m.Stop(id); err != nil && m.logger != nil {
			m.logger.WithError(err).Warnf("bundle %d stop failed during uninstall", id)
		}
	}
	if b.activator != nil {
		func() {
			defer func() { recover() }()
			_ = b.activator.Destroy(b.activatorState, b.ctx)
		}()
	}
	b.setState(Uninstalled)
	m.bus.MarkBundleUninstalled(id)
	m.emit(Event{Kind: EventUninstalled, BundleID: id})
	return nil
}

// UninstallAsync enqueues the uninstall on the event bus, returning the
// event id the caller can WaitForEvent on.
func (m *Manager) UninstallAsync(id uint64) uint64 {
	return m.bus.Enqueue(func() {
		_ = m.Uninstall(id)
	})
}

// StopAll stops every Active bundle in reverse install order, as the
// Framework Facade does during shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	order := append([]uint64(nil), m.installOrder...)
	m.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		if id == 0 {
			continue
		}
		if b, ok := m.GetBundle(id); ok && b.State() == Active {
			if err := m.Stop(id); err != nil && m.logger != nil {
				m.logger.WithError(err).Warnf("bundle %d failed to stop cleanly", id)
			}
		}
	}
}
