package registry

import (
	"github.com/gocelix/gocelix/pkg/properties"
	"github.com/gocelix/gocelix/pkg/version"
)

// Synthesised property keys the registry maintains on every registration.
const (
	ServiceIDKey      = "service.id"
	ObjectClassKey    = "objectClass"
	ServiceRankingKey = "service.ranking"
)

// RegState is a registration's lifecycle state.
type RegState int

const (
	Active RegState = iota
	Unregistering
	Unregistered
)

func (s RegState) String() string {
	switch s {
	case Active:
		return "Active"
	case Unregistering:
		return "Unregistering"
	case Unregistered:
		return "Unregistered"
	default:
		return "Unknown"
	}
}

// ServiceFactory produces a per-consumer-bundle service instance.
type ServiceFactory interface {
	GetService(bundleID uint64) (interface{}, error)
	UngetService(bundleID uint64, svc interface{})
}

// registration is the record describing one published service. All
// mutable fields are guarded by the owning Registry's single reader/writer
// lock; registration never takes its own lock, per the registry's
// single-lock concurrency model.
type registration struct {
	id        uint64
	bundleID  uint64
	ifaceName string
	version   version.Version

	plain     interface{}
	factory   ServiceFactory
	isFactory bool

	props *properties.Properties

	state        RegState
	useCount     map[uint64]uint32
	factoryCache map[uint64]interface{}
	readerCount  int32
}

// RegistrationHandle is returned to the bundle that registered a service;
// it is used to unregister or modify the registration's properties. It is
// distinct from Reference, which is the reader-counted handle consumers
// obtain via FindReferences.
type RegistrationHandle struct {
	reg *registration
}

// ID returns the registration's unique, monotonically increasing id.
func (h RegistrationHandle) ID() uint64 { return h.reg.id }

// Reference is an opaque, reader-counted handle to a registration, as
// returned by FindReferences and carried on ServiceEvent. Holders must
// call Release when finished; property reads after the registration is
// destroyed report stale=true.
type Reference struct {
	reg *registration
}

// ID returns the referenced registration's id, stable even once stale.
func (r *Reference) ID() uint64 { return r.reg.id }
