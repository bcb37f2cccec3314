package registry

import (
	"github.com/gocelix/gocelix/pkg/filter"
	"github.com/gocelix/gocelix/pkg/properties"
)

// EventKind enumerates the service event taxonomy.
type EventKind int

const (
	Registered EventKind = iota
	Modified
	Unregistering
)

func (k EventKind) String() string {
	switch k {
	case Registered:
		return "Registered"
	case Modified:
		return "Modified"
	case Unregistering:
		return "Unregistering"
	default:
		return "Unknown"
	}
}

// ServiceEvent is delivered to listeners matching a registration's
// properties. OldProps is only populated for Modified events.
type ServiceEvent struct {
	Kind     EventKind
	Ref      *Reference
	OldProps *properties.Properties
}

// ListenerFunc is a registry listener callback.
type ListenerFunc func(ev ServiceEvent)

type listenerEntry struct {
	id       uint64
	bundleID uint64
	filter   filter.Filter
	cb       ListenerFunc
}
