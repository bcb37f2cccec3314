// Package metrics exposes the framework's Prometheus metrics surface,
// grounded on the teacher's metrics.MetricsProvider pattern: a small set
// of counters registered against a private registry rather than the
// global default, so embedding a framework twice in one process does not
// panic on duplicate registration.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// MetricsProvider is implemented by components that want their counters
// folded into the framework's registry on each significant event.
type MetricsProvider interface {
	HandleMetrics() error
}

// Provider owns the framework's counters.
type Provider struct {
	registry *prometheus.Registry

	serviceRegistrations prometheus.Counter
	listenerDispatches   prometheus.Counter
	bundleTransitions    *prometheus.CounterVec
	componentActivations prometheus.Counter
}

// NewProvider builds and registers the framework's counters against a
// fresh, private prometheus.Registry.
func NewProvider() *Provider {
	p := &Provider{
		registry: prometheus.NewRegistry(),
		serviceRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "celix_service_registrations_total",
			Help: "Number of services registered with the service registry.",
		}),
		listenerDispatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "celix_listener_dispatches_total",
			Help: "Number of service events delivered to listeners.",
		}),
		bundleTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "celix_bundle_state_transitions_total",
			Help: "Number of bundle lifecycle events, including failed starts and resolutions, labelled by event kind.",
		}, []string{"state"}),
		componentActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "celix_component_activations_total",
			Help: "Number of dependency-manager components that reached Active.",
		}),
	}
	p.registry.MustRegister(p.serviceRegistrations, p.listenerDispatches, p.bundleTransitions, p.componentActivations)
	return p
}

// Registry returns the private prometheus registry backing this provider,
// for an embedder that wants to expose it over its own /metrics handler.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

func (p *Provider) ServiceRegistered()                  { p.serviceRegistrations.Inc() }
func (p *Provider) ListenerDispatched()                 { p.listenerDispatches.Inc() }
func (p *Provider) BundleTransitioned(state string)     { p.bundleTransitions.WithLabelValues(state).Inc() }
func (p *Provider) ComponentActivated()                 { p.componentActivations.Inc() }
