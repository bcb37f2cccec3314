// Package framework implements the Framework Facade: the single entry
// point an embedder uses to stand up the registry, event bus, and module
// lifecycle manager together, install bundle 0, and drive orderly
// shutdown.
package framework

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/gocelix/gocelix/pkg/bundle"
	"github.com/gocelix/gocelix/pkg/depmanager"
	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/eventbus"
	"github.com/gocelix/gocelix/pkg/metrics"
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/registry"
)

// Config is the embedder-supplied launch configuration. PropertiesConfig
// builds one from a Properties map; cmd/celixd fills one directly from its
// flags.
type Config struct {
	StorageDir   string
	CleanStorage bool
	AutoStart    []string
	UUID         string
	LogLevel     string
}

// PropertiesConfig builds a Config from a Properties map, reading the
// framework.storage, framework.storage.clean, framework.uuid, log.level and
// auto_start.N keys. AutoStart is assembled from the
// auto_start.1..N keys, read in numeric order; each value is split on
// whitespace into one or more bundle locations.
func PropertiesConfig(p *properties.Properties) Config {
	var autoStart []string
	for n := 1; ; n++ {
		v, ok := p.Get(fmt.Sprintf("auto_start.%d", n))
		if !ok {
			break
		}
		autoStart = append(autoStart, strings.Fields(v.AsString())...)
	}
	return Config{
		StorageDir:   p.GetString("framework.storage", ".gocelix"),
		CleanStorage: p.GetBool("framework.storage.clean", false),
		AutoStart:    autoStart,
		UUID:         p.GetString("framework.uuid", ""),
		LogLevel:     p.GetString("log.level", "info"),
	}
}

// Framework is the facade binding the registry, event bus and module
// lifecycle manager into one embeddable unit.
type Framework struct {
	logger  logrus.FieldLogger
	config  Config
	bus     *eventbus.Bus
	reg     *registry.Registry
	metrics *metrics.Provider
	bundles *bundle.Manager

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
}

// Create builds a Framework from cfg and archiveFactory, installing bundle
// 0 (the framework itself) in the module lifecycle manager as Active. The framework is
// not yet running; call Start.
func Create(cfg Config, archiveFactory bundle.ArchiveFactory, logger logrus.FieldLogger) *Framework {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bus := eventbus.New(logger)
	provider := metrics.NewProvider()
	reg := registry.New(bus, logger, provider)
	mgr := bundle.NewManager(bus, reg, provider, archiveFactory, logger)

	f := &Framework{
		logger:  logger,
		config:  cfg,
		bus:     bus,
		reg:     reg,
		metrics: provider,
		bundles: mgr,
		stopCh:  make(chan struct{}),
	}
	mgr.InstallBundle0(reg)
	return f
}

// Registry returns the framework's service registry.
func (f *Framework) Registry() *registry.Registry { return f.reg }

// Bundles returns the framework's module lifecycle manager.
func (f *Framework) Bundles() *bundle.Manager { return f.bundles }

// Metrics returns the framework's private Prometheus registry provider.
func (f *Framework) Metrics() *metrics.Provider { return f.metrics }

// FrameworkContext returns bundle 0's context, the handle an embedder
// uses to register framework-level services before any other bundle
// starts.
func (f *Framework) FrameworkContext() *bundle.Context {
	b, _ := f.bundles.GetBundle(0)
	return b.Context()
}

// NewDependencyManager returns a fresh DependencyManager scoped to
// bundle 0, for an embedder that wants to declare components directly
// against the framework rather than through an installed bundle. It
// fails with FrameworkShutdownError once the framework has stopped.
func (f *Framework) NewDependencyManager() (*depmanager.DependencyManager, error) {
	if f.isStopped() {
		return nil, celixerrors.NewFrameworkShutdown("NewDependencyManager")
	}
	return depmanager.New(0, f.reg, f.metrics, f.logger), nil
}

// NextEventID allocates an event id without enqueuing work. No work is
// ever attached to it; WaitForEvent on it returns once a later-enqueued
// event has completed.
func (f *Framework) NextEventID() uint64 { return f.bus.NextEventID() }

// FireGenericEvent enqueues doWork on the event thread, guaranteeing
// onDone runs after doWork completes or panics. It fails with
// FrameworkShutdownError once the framework has stopped, since the event
// bus is no longer draining new work at that point.
func (f *Framework) FireGenericEvent(doWork, onDone func()) (uint64, error) {
	if f.isStopped() {
		return 0, celixerrors.NewFrameworkShutdown("FireGenericEvent")
	}
	return f.bus.FireGeneric(0, doWork, onDone), nil
}

// WaitForEvent blocks until the event with the given id has completed.
func (f *Framework) WaitForEvent(eventID uint64) { f.bus.WaitForEvent(eventID) }

// Install installs a bundle from location through the framework's
// module lifecycle manager. It fails with FrameworkShutdownError once
// the framework has stopped, rather than silently installing a bundle
// that will never be started.
func (f *Framework) Install(location string) (uint64, error) {
	if f.isStopped() {
		return 0, celixerrors.NewFrameworkShutdown("Install")
	}
	return f.bundles.Install(location)
}

// StartBundle starts an installed bundle. It fails with
// FrameworkShutdownError once the framework has stopped.
func (f *Framework) StartBundle(id uint64) error {
	if f.isStopped() {
		return celixerrors.NewFrameworkShutdown("StartBundle")
	}
	return f.bundles.Start(id)
}

func (f *Framework) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Start launches the event dispatch thread and installs/starts every
// bundle location named in the config's AutoStart list, in order. A
// bundle that fails to install or start is logged and skipped; Start
// does not abort early.
func (f *Framework) Start() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return celixerrors.NewFrameworkShutdown("Start")
	}
	if f.started {
		f.mu.Unlock()
		return celixerrors.NewIllegalState("Start", "framework already started")
	}
	f.started = true
	f.mu.Unlock()

	f.bus.Start()

	for _, loc := range f.config.AutoStart {
		id, err := f.bundles.Install(loc)
		if err != nil {
			f.logger.WithError(err).WithField("location", loc).Warn("auto_start bundle failed to install")
			continue
		}
		if err := f.bundles.Start(id); err != nil {
			f.logger.WithError(err).WithField("bundle", id).Warn("auto_start bundle failed to start")
		}
	}
	return nil
}

// Stop stops every active bundle in reverse install order and shuts down
// the event bus, draining any work already queued.
func (f *Framework) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	f.mu.Unlock()

	f.bundles.StopAll()
	f.bus.Stop()
	close(f.stopCh)
	return nil
}

// WaitForStop blocks until Stop has completed, for a launcher driving
// the framework from a signal handler.
func (f *Framework) WaitForStop() {
	<-f.stopCh
}
