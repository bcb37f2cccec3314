// Package eventbus implements the framework's single-threaded cooperative
// event queue, driving registry-event delivery, bundle-event delivery, and
// generic framework work, all serialised against each other in enqueue
// order. It is built on top of client-go's generic rate-limited workqueue,
// the same queue type the framework's queue-informer machinery drains its
// sync loop from.
package eventbus

import (
	"sync"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/util/workqueue"
)

// workItem is the unit of work tracked per event id.
type workItem struct {
	bundleID uint64
	hasOwner bool
	run      func()
	done     func()
}

// Bus is the framework's single-threaded cooperative event dispatcher.
// All registry and bundle events, plus ad-hoc generic work, are enqueued
// here and drained by one worker goroutine, preserving the total order in
// which they were enqueued.
type Bus struct {
	logger logrus.FieldLogger

	queue workqueue.TypedRateLimitingInterface[uint64]

	mu        sync.Mutex
	cond      *sync.Cond
	nextID    uint64
	completed uint64 // high water mark: every id <= completed has finished
	issued    uint64 // highest id ever assigned
	items     map[uint64]workItem
	uninstalled map[uint64]struct{}

	stopped  bool
	doneCh   chan struct{}
	startOne sync.Once
}

// New returns a Bus ready to have Start called on it.
func New(logger logrus.FieldLogger) *Bus {
	b := &Bus{
		logger: logger,
		queue: workqueue.NewTypedRateLimitingQueueWithConfig[uint64](
			workqueue.DefaultTypedControllerRateLimiter[uint64](),
			workqueue.TypedRateLimitingQueueConfig[uint64]{Name: "celix-eventbus"},
		),
		items:       make(map[uint64]workItem),
		uninstalled: make(map[uint64]struct{}),
		doneCh:      make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the single dispatch worker. Safe to call only once.
func (b *Bus) Start() {
	b.startOne.Do(func() {
		go b.run()
	})
}

func (b *Bus) run() {
	for {
		id, shutdown := b.queue.Get()
		if shutdown {
			close(b.doneCh)
			return
		}
		b.process(id)
		b.queue.Done(id)
	}
}

func (b *Bus) process(id uint64) {
	b.mu.Lock()
	item, ok := b.items[id]
	if ok {
		delete(b.items, id)
	}
	_, bundleGone := b.uninstalled[item.bundleID]
	skip := ok && item.hasOwner && bundleGone
	b.mu.Unlock()

	if ok && !skip {
		b.safeRun(item.run)
	}
	if ok {
		b.safeRun(item.done)
	}

	b.mu.Lock()
	if id > b.completed {
		b.completed = id
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// safeRun traps panics from caller-supplied work so that a bundle's own
// callback can never take down the dispatch thread.
func (b *Bus) safeRun(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.WithField("panic", r).Error("event bus callback panicked")
			}
		}
	}()
	fn()
}

// NextEventID allocates and returns the next event id without enqueuing
// anything. No work is attached to that id and no Bus method enqueues work
// under a pre-allocated id; WaitForEvent on it returns once a
// later-enqueued event has completed.
func (b *Bus) NextEventID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.issued = b.nextID
	return b.nextID
}

// Enqueue schedules run to execute on the dispatch thread and returns its
// event id. run is invoked with no bundle association, so it is never
// dropped during a bundle-scoped drain.
func (b *Bus) Enqueue(run func()) uint64 {
	return b.enqueue(0, false, run, nil)
}

// FireGeneric enqueues doWork to run on the event thread for bundleID, and
// guarantees onDone runs after doWork returns, even if doWork panics.
func (b *Bus) FireGeneric(bundleID uint64, doWork, onDone func()) uint64 {
	return b.enqueue(bundleID, true, doWork, onDone)
}

func (b *Bus) enqueue(bundleID uint64, hasOwner bool, run, done func()) uint64 {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.issued = id
	b.items[id] = workItem{bundleID: bundleID, hasOwner: hasOwner, run: run, done: done}
	b.mu.Unlock()

	b.queue.Add(id)
	return id
}

// WaitForEvent blocks until every event with id <= eventID has completed
// processing. If eventID was never issued, it returns immediately.
func (b *Bus) WaitForEvent(eventID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventID > b.issued {
		return
	}
	for b.completed < eventID {
		b.cond.Wait()
	}
}

// MarkBundleUninstalled causes every event scoped to bundleID that is
// processed afterwards to be dropped (its onDone is still invoked) rather
// than run. It takes effect immediately, not only during a shutdown drain.
func (b *Bus) MarkBundleUninstalled(bundleID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uninstalled[bundleID] = struct{}{}
}

// Stop drains the queue to completion (except events scoped to uninstalled
// bundles, which are dropped) and shuts the worker down.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	b.queue.ShutDownWithDrain()
	<-b.doneCh
}
