package registry

import "github.com/gocelix/gocelix/pkg/properties"

// Properties returns a snapshot of the referenced registration's
// properties. stale is true once the registration has been unregistered;
// in that case the snapshot reflects the last known properties rather
// than live state.
func (r *Registry) Properties(ref *Reference) (props *properties.Properties, stale bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ref.reg.props.Clone(), ref.reg.state != Active
}

// Interface returns the interface name under which the registration was
// published.
func (r *Registry) Interface(ref *Reference) string {
	return ref.reg.ifaceName
}

// BundleID returns the id of the bundle that owns the registration.
func (r *Registry) BundleID(ref *Reference) uint64 {
	return ref.reg.bundleID
}
