package eventbus

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := New(logger)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func TestEnqueueRunsInOrder(t *testing.T) {
	b := newTestBus(t)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		id := b.Enqueue(func() { order = append(order, i) })
		if i == 4 {
			go func() {
				b.WaitForEvent(id)
				close(done)
			}()
		}
	}
	<-done
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestWaitForEventBlocksUntilWorkAndDoneComplete covers scenario S6:
// fire_generic_event with slow work, wait_for_event from another
// goroutine returning only after both work and done have run.
func TestWaitForEventBlocksUntilWorkAndDoneComplete(t *testing.T) {
	b := newTestBus(t)

	var workDone, onDoneRan int32
	id := b.FireGeneric(1, func() {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&workDone, 1)
	}, func() {
		atomic.StoreInt32(&onDoneRan, 1)
	})

	waitReturned := make(chan struct{})
	go func() {
		b.WaitForEvent(id)
		close(waitReturned)
	}()

	select {
	case <-waitReturned:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForEvent did not return")
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&workDone))
	assert.Equal(t, int32(1), atomic.LoadInt32(&onDoneRan))
}

func TestWaitForEventOnUnissuedIDReturnsImmediately(t *testing.T) {
	b := newTestBus(t)
	b.WaitForEvent(9999)
}

func TestFireGenericRunsOnDoneEvenWhenWorkPanics(t *testing.T) {
	b := newTestBus(t)

	var onDoneRan int32
	id := b.FireGeneric(1, func() {
		panic("boom")
	}, func() {
		atomic.StoreInt32(&onDoneRan, 1)
	})

	b.WaitForEvent(id)
	assert.Equal(t, int32(1), atomic.LoadInt32(&onDoneRan))
}

func TestMarkBundleUninstalledSkipsQueuedWorkButStillRunsDone(t *testing.T) {
	b := newTestBus(t)

	var ran, onDoneRan int32
	b.MarkBundleUninstalled(7)
	id := b.FireGeneric(7, func() {
		atomic.StoreInt32(&ran, 1)
	}, func() {
		atomic.StoreInt32(&onDoneRan, 1)
	})

	b.WaitForEvent(id)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
	assert.Equal(t, int32(1), atomic.LoadInt32(&onDoneRan))
}

func TestNextEventIDAllocatesIncreasingIDs(t *testing.T) {
	b := newTestBus(t)

	first := b.NextEventID()
	second := b.NextEventID()
	require.NotZero(t, first)
	assert.Greater(t, second, first)
}

func TestStopIsIdempotent(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	b := New(logger)
	b.Start()

	b.Stop()
	b.Stop()
}
