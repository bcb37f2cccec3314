package depmanager

import (
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
	"github.com/gocelix/gocelix/pkg/version"
)

func newTestDM(t *testing.T) (*DependencyManager, *registry.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	bus := eventbus.New(logger)
	bus.Start()
	t.Cleanup(bus.Stop)
	reg := registry.New(bus, logger, metrics.NewProvider())
	return New(1, reg, metrics.NewProvider(), logger), reg
}

type greeter struct{ calls int }

func (g *greeter) Greet() string { g.calls++; return "hi" }

func waitForState(t *testing.T, c *Component, want ComponentState) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("component never reached state %s, stuck at %s", want, c.State())
}

func TestComponentActivatesWhenNoDependencies(t *testing.T) {
	dm, _ := newTestDM(t)
	impl := &greeter{}
	started := false

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.SetLifecycle(LifecycleCallbacks{
		Start: func(i interface{}) error { started = true; return nil },
	})

	require.NoError(t, c.Enable())
	assert.Equal(t, Active, c.State())
	assert.True(t, started)
}

func TestComponentWaitsOnRequiredDependency(t *testing.T) {
	dm, reg := newTestDM(t)
	impl := &greeter{}

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.AddServiceDependency("com.example.Logger", nil, true, One, Suspend, Callbacks{})

	require.NoError(t, c.Enable())
	assert.Equal(t, Tracking, c.State())

	_, err = reg.Register(2, "com.example.Logger", "logger-impl", nil)
	require.NoError(t, err)

	waitForState(t, c, Active)
}

func TestComponentSuspendsOnLostRequiredDependencyAndReactivates(t *testing.T) {
	dm, reg := newTestDM(t)
	impl := &greeter{}

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.AddServiceDependency("com.example.Logger", nil, true, One, Suspend, Callbacks{})

	handle, err := reg.Register(2, "com.example.Logger", "logger-impl", nil)
	require.NoError(t, err)

	require.NoError(t, c.Enable())
	waitForState(t, c, Active)

	require.NoError(t, reg.Unregister(handle))
	waitForState(t, c, Suspended)

	_, err = reg.Register(2, "com.example.Logger", "logger-impl-2", nil)
	require.NoError(t, err)
	waitForState(t, c, Active)
}

func TestComponentProvidesServiceWhileActive(t *testing.T) {
	dm, reg := newTestDM(t)
	impl := &greeter{}

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.AddProvidedService("com.example.Greeter", version.Zero, nil)

	require.NoError(t, c.Enable())
	assert.Equal(t, Active, c.State())

	refs, err := reg.FindReferences("com.example.Greeter", nil)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	require.NoError(t, c.Disable())
	refs, err = reg.FindReferences("com.example.Greeter", nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestDisableRemovesListenersAndReleasesBoundServices(t *testing.T) {
	dm, reg := newTestDM(t)
	impl := &greeter{}

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.AddServiceDependency("com.example.Logger", nil, true, One, Suspend, Callbacks{})

	hook := &listenerRemovalCounter{}
	_, err = reg.Register(2, registry.ListenerHookInterface, hook, nil)
	require.NoError(t, err)

	_, err = reg.Register(2, "com.example.Logger", "logger-impl", nil)
	require.NoError(t, err)

	require.NoError(t, c.Enable())
	waitForState(t, c, Active)

	require.NoError(t, c.Disable())
	assert.Equal(t, Inactive, c.State())
	assert.Equal(t, 1, hook.removed)

	refs, err := reg.FindReferences("com.example.Logger", nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	_, err = reg.UngetService(1, refs[0])
	assert.True(t, celixerrors.IsIllegalState(err))
}

// listenerRemovalCounter is a listener hook counting removed listeners.
type listenerRemovalCounter struct{ removed int }

func (h *listenerRemovalCounter) Added(listeners []registry.ListenerInfo)   {}
func (h *listenerRemovalCounter) Removed(listeners []registry.ListenerInfo) { h.removed += len(listeners) }

func TestCheckSatisfiedReportsDependencyUnsatisfiedUntilBound(t *testing.T) {
	dm, reg := newTestDM(t)
	impl := &greeter{}

	c, err := dm.CreateComponent("greeter", impl)
	require.NoError(t, err)
	c.AddServiceDependency("com.example.Logger", nil, true, One, Suspend, Callbacks{})

	require.NoError(t, c.Enable())
	assert.Equal(t, Tracking, c.State())

	checkErr := c.CheckSatisfied()
	require.Error(t, checkErr)
	assert.True(t, celixerrors.IsDependencyUnsatisfied(checkErr))

	_, err = reg.Register(2, "com.example.Logger", "logger-impl", nil)
	require.NoError(t, err)
	waitForState(t, c, Active)

	assert.NoError(t, c.CheckSatisfied())
}

func TestCreateComponentRejectsDuplicateNames(t *testing.T) {
	dm, _ := newTestDM(t)
	_, err := dm.CreateComponent("dup", &greeter{})
	require.NoError(t, err)
	_, err = dm.CreateComponent("dup", &greeter{})
	assert.Error(t, err)
}
