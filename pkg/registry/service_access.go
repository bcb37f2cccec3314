package registry

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	celixerrors "github.com/gocelix/gocelix/pkg/errors"
)

var factoryGroup singleflight.Group

// GetService increments ref's use count for bundleID and returns the
// consumable service pointer. For a factory registration, the factory's
// GetService is called only on the first use by bundleID; concurrent
// first uses from the same bundle are deduplicated with a singleflight
// group so the factory is invoked exactly once.
func (r *Registry) GetService(bundleID uint64, ref *Reference) (interface{}, error) {
	reg := ref.reg

	r.mu.Lock()
	if reg.state == Unregistered && reg.readerCount == 0 {
		r.mu.Unlock()
		return nil, celixerrors.NewNotFound("GetService", "registration %d is stale", reg.id)
	}
	if _, ok := r.regs[reg.id]; !ok {
		r.mu.Unlock()
		return nil, celixerrors.NewNotFound("GetService", "registration %d no longer discoverable", reg.id)
	}
	reg.useCount[bundleID]++
	firstUse := reg.isFactory && reg.useCount[bundleID] == 1
	if !reg.isFactory {
		svc := reg.plain
		r.mu.Unlock()
		return svc, nil
	}
	if !firstUse {
		svc := reg.factoryCache[bundleID]
		r.mu.Unlock()
		return svc, nil
	}
	factory := reg.factory
	r.mu.Unlock()

	key := fmt.Sprintf("%d:%d", reg.id, bundleID)
	svc, err, _ := factoryGroup.Do(key, func() (interface{}, error) {
		return factory.GetService(bundleID)
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if reg.factoryCache == nil {
		reg.factoryCache = make(map[uint64]interface{})
	}
	reg.factoryCache[bundleID] = svc
	r.mu.Unlock()

	return svc, nil
}

// UngetService decrements ref's use count for bundleID. When the count
// reaches zero and the registration is a factory, the factory's
// UngetService is invoked. Returns true when this call was the last
// holder of a registration already Unregistered, which triggers final
// destruction.
func (r *Registry) UngetService(bundleID uint64, ref *Reference) (bool, error) {
	reg := ref.reg

	r.mu.Lock()
	if reg.useCount[bundleID] == 0 {
		r.mu.Unlock()
		return false, celixerrors.NewIllegalState("UngetService", "bundle %d holds no use count on registration %d", bundleID, reg.id)
	}
	reg.useCount[bundleID]--
	last := reg.useCount[bundleID] == 0
	var cachedSvc interface{}
	if last {
		delete(reg.useCount, bundleID)
		if reg.isFactory {
			cachedSvc = reg.factoryCache[bundleID]
			delete(reg.factoryCache, bundleID)
		}
	}
	factory := reg.factory
	isFactory := reg.isFactory
	wasUnregistered := reg.state == Unregistered
	r.mu.Unlock()

	if last && isFactory && factory != nil {
		factory.UngetService(bundleID, cachedSvc)
	}

	if last {
		r.tryDestroy(reg)
	}

	return last && wasUnregistered, nil
}
