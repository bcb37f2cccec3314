package bundle

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
	"github.com/gocelix/gocelix/pkg/eventbus"
	"github.com/gocelix/gocelix/pkg/metrics"
	"github.com/gocelix/gocelix/pkg/registry"
)

type fakeArchive struct {
	id       uint64
	location string
	manifest map[string]string
	act      Activator
}

func (a *fakeArchive) ID() uint64                  { return a.id }
func (a *fakeArchive) Location() string            { return a.location }
func (a *fakeArchive) Manifest() map[string]string { return a.manifest }
func (a *fakeArchive) OpenEntry(path string) ([]byte, bool) { return nil, false }
func (a *fakeArchive) Activator() Activator         { return a.act }

type fakeActivator struct {
	createErr, startErr, stopErr, destroyErr error
	started, stopped, destroyed              bool
}

func (a *fakeActivator) Create(ctx *Context) (interface{}, error) { return "state", a.createErr }
func (a *fakeActivator) Start(state interface{}, ctx *Context) error {
	a.started = true
	return a.startErr
}
func (a *fakeActivator) Stop(state interface{}, ctx *Context) error {
	a.stopped = true
	return a.stopErr
}
func (a *fakeActivator) Destroy(state interface{}, ctx *Context) error {
	a.destroyed = true
	return a.destroyErr
}

func newTestManager(t *testing.T, factory ArchiveFactory) *Manager {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	bus := eventbus.New(logger)
	bus.Start()
	t.Cleanup(bus.Stop)
	reg := registry.New(bus, logger, metrics.NewProvider())
	return NewManager(bus, reg, metrics.NewProvider(), factory, logger)
}

func TestInstallRequiresSymbolicName(t *testing.T) {
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{manifest: map[string]string{}}, nil
	})
	_, err := m.Install("loc")
	assert.Error(t, err)
}

func TestInstallStartStopUninstallLifecycle(t *testing.T) {
	act := &fakeActivator{}
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{
			manifest: map[string]string{"Bundle-SymbolicName": "com.example.Bundle"},
			act:      act,
		}, nil
	})

	id, err := m.Install("loc")
	require.NoError(t, err)

	b, ok := m.GetBundle(id)
	require.True(t, ok)
	assert.Equal(t, Installed, b.State())

	require.NoError(t, m.Start(id))
	assert.Equal(t, Active, b.State())
	assert.True(t, act.started)

	require.NoError(t, m.Stop(id))
	assert.Equal(t, Resolved, b.State())
	assert.True(t, act.stopped)

	require.NoError(t, m.Uninstall(id))
	assert.Equal(t, Uninstalled, b.State())
	assert.True(t, act.destroyed)
}

// panicActivator's Start panics on its first call, covering scenario S5:
// a panicking activator must still roll the bundle back to Resolved,
// surface exactly one StartFailed event, and leave the bundle startable
// again afterwards.
type panicActivator struct {
	*fakeActivator
	calls int
}

func (a *panicActivator) Start(state interface{}, ctx *Context) error {
	a.calls++
	if a.calls == 1 {
		panic("activator exploded")
	}
	return a.fakeActivator.Start(state, ctx)
}

func TestStartPanicRollsBundleBackAndEmitsExactlyOneStartFailedEvent(t *testing.T) {
	act := &panicActivator{fakeActivator: &fakeActivator{}}
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{
			manifest: map[string]string{"Bundle-SymbolicName": "com.example.Bundle"},
			act:      act,
		}, nil
	})

	events := make(chan Event, 8)
	m.AddListener(func(ev Event) { events <- ev })

	id, err := m.Install("loc")
	require.NoError(t, err)

	err = m.Start(id)
	assert.Error(t, err)
	assert.True(t, celixerrors.IsActivatorFailed(err))

	b, _ := m.GetBundle(id)
	assert.Equal(t, Resolved, b.State())

	var startFailed int
	drain := true
	for drain {
		select {
		case ev := <-events:
			if ev.Kind == EventStartFailed {
				startFailed++
			}
		case <-time.After(200 * time.Millisecond):
			drain = false
		}
	}
	assert.Equal(t, 1, startFailed)

	// The bundle is startable again after the rollback.
	require.NoError(t, m.Start(id))
	assert.Equal(t, Active, b.State())
}

func TestStartFailurePutsBundleBackToResolved(t *testing.T) {
	act := &fakeActivator{startErr: fmt.Errorf("boom")}
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{
			manifest: map[string]string{"Bundle-SymbolicName": "com.example.Bundle"},
			act:      act,
		}, nil
	})

	id, err := m.Install("loc")
	require.NoError(t, err)

	err = m.Start(id)
	assert.Error(t, err)

	b, _ := m.GetBundle(id)
	assert.Equal(t, Resolved, b.State())
}

func TestUnresolvableImportBlocksStart(t *testing.T) {
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{
			manifest: map[string]string{
				"Bundle-SymbolicName": "com.example.Bundle",
				"Import-Package":      "com.example.Missing;version=>=1.0.0 <2.0.0",
			},
		}, nil
	})

	id, err := m.Install("loc")
	require.NoError(t, err)

	err = m.Start(id)
	assert.Error(t, err)
}

func TestResolvedImportSatisfiedByAnotherBundlesExport(t *testing.T) {
	m := newTestManager(t, func(location string) (Archive, error) {
		switch location {
		case "provider":
			return &fakeArchive{manifest: map[string]string{
				"Bundle-SymbolicName": "provider",
				"Export-Package":      "com.example.Api;version=1.2.0",
			}}, nil
		default:
			return &fakeArchive{manifest: map[string]string{
				"Bundle-SymbolicName": "consumer",
				"Import-Package":      "com.example.Api;version=>=1.0.0 <2.0.0",
			}}, nil
		}
	})

	_, err := m.Install("provider")
	require.NoError(t, err)

	consumerID, err := m.Install("consumer")
	require.NoError(t, err)

	act := &fakeActivator{}
	b, _ := m.GetBundle(consumerID)
	b.activator = act

	require.NoError(t, m.Start(consumerID))
	assert.Equal(t, Active, b.State())
}

func TestBundleEventsAreDelivered(t *testing.T) {
	m := newTestManager(t, func(location string) (Archive, error) {
		return &fakeArchive{manifest: map[string]string{"Bundle-SymbolicName": "x"}}, nil
	})

	events := make(chan Event, 8)
	m.AddListener(func(ev Event) { events <- ev })

	_, err := m.Install("loc")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, EventInstalled, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for install event")
	}
}

func TestStopAllStopsInReverseOrder(t *testing.T) {
	var order []string
	newArchive := func(location string) (Archive, error) {
		loc := location
		act := &fakeActivator{}
		return &fakeArchive{
			manifest: map[string]string{"Bundle-SymbolicName": loc},
			act:      stopTrackingActivator{fakeActivator: act, name: loc, order: &order},
		}, nil
	}
	m := newTestManager(t, newArchive)

	idA, err := m.Install("a")
	require.NoError(t, err)
	idB, err := m.Install("b")
	require.NoError(t, err)

	require.NoError(t, m.Start(idA))
	require.NoError(t, m.Start(idB))

	m.StopAll()
	assert.Equal(t, []string{"b", "a"}, order)
}

type stopTrackingActivator struct {
	*fakeActivator
	name  string
	order *[]string
}

func (a stopTrackingActivator) Stop(state interface{}, ctx *Context) error {
	*a.order = append(*a.order, a.name)
	return a.fakeActivator.Stop(state, ctx)
}
