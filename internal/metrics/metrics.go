// Package metrics holds the server's ambient Prometheus instrumentation.
// It is not a spec feature; it is the operational surface a deployed
// handshake driver needs around it, grounded on the teacher ecosystem's
// use of github.com/prometheus/client_golang for exactly this role.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric this server emits. Register installs
// them into a caller-supplied prometheus.Registerer so a demo binary and
// a library caller embedding this package don't fight over the default
// global registry.
type Collectors struct {
	HandshakesStarted  prometheus.Counter
	HandshakesComplete prometheus.Counter
	HandshakesFailed   *prometheus.CounterVec
	HandshakeDuration  prometheus.Histogram
}

// New constructs a Collectors without registering it; call Register to
// attach it to a registry.
func New() *Collectors {
	return &Collectors{
		HandshakesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsd",
			Name:      "handshakes_started_total",
			Help:      "Total DTLS server handshakes accepted for processing.",
		}),
		HandshakesComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dtlsd",
			Name:      "handshakes_complete_total",
			Help:      "Total DTLS server handshakes that reached the Complete state.",
		}),
		HandshakesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dtlsd",
			Name:      "handshakes_failed_total",
			Help:      "Total DTLS server handshakes that failed, by alert description.",
		}, []string{"alert"}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dtlsd",
			Name:      "handshake_duration_seconds",
			Help:      "Wall-clock duration of accept() calls that completed the handshake.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register attaches every collector to reg. Call once per Collectors
// instance.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	for _, coll := range []prometheus.Collector{
		c.HandshakesStarted,
		c.HandshakesComplete,
		c.HandshakesFailed,
		c.HandshakeDuration,
	} {
		if err := reg.Register(coll); err != nil {
			return err
		}
	}
	return nil
}
