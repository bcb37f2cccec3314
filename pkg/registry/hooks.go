package registry

import "github.com/gocelix/gocelix/pkg/filter"

// Well-known interface names under which a bundle registers a hook service.
const (
	ListenerHookInterface = "celix.registry.ListenerHook"
	FindHookInterface     = "celix.registry.FindHook"
)

// ListenerInfo describes one registered listener, as presented to listener
// hooks.
type ListenerInfo struct {
	BundleID uint64
	Filter   filter.Filter
}

// ListenerHook is notified when the set of registered listeners changes,
// either by explicit add/remove or because a bundle stopped.
type ListenerHook interface {
	Added(listeners []ListenerInfo)
	Removed(listeners []ListenerInfo)
}

// FindHook may filter the result of FindReferences before it is returned
// to the caller.
type FindHook interface {
	Find(iface string, filt filter.Filter, refs []*Reference) []*Reference
}
