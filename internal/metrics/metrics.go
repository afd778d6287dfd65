package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the service's Prometheus collectors. A nil *Registry is
// valid and records nothing, which keeps tests free of metric plumbing.
type Registry struct {
	reg *prometheus.Registry

	Transitions  *prometheus.CounterVec
	LockRequests *prometheus.CounterVec
	RushActive   *prometheus.GaugeVec
	RushVelocity *prometheus.GaugeVec
	WSClients    prometheus.Gauge
	Published    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kds_transitions_total",
		Help: "Status transition requests by outcome.",
	}, []string{"outcome"})
	lockRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kds_lock_requests_total",
		Help: "Lock acquire attempts by result.",
	}, []string{"result"})
	rushActive := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kds_rush_active",
		Help: "1 while a venue is in rush mode.",
	}, []string{"venue"})
	rushVelocity := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kds_rush_velocity",
		Help: "Orders created within the trailing rush window.",
	}, []string{"venue"})
	wsClients := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kds_ws_clients",
		Help: "Connected display websockets.",
	})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kds_events_published_total",
		Help: "Events handed to publishers by sink and result.",
	}, []string{"sink", "result"})

	r.MustRegister(transitions, lockRequests, rushActive, rushVelocity, wsClients, published)
	return &Registry{
		reg:          r,
		Transitions:  transitions,
		LockRequests: lockRequests,
		RushActive:   rushActive,
		RushVelocity: rushVelocity,
		WSClients:    wsClients,
		Published:    published,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) ObserveTransition(outcome string) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(outcome).Inc()
}

func (r *Registry) ObserveLock(result string) {
	if r == nil {
		return
	}
	r.LockRequests.WithLabelValues(result).Inc()
}

func (r *Registry) ObserveRush(venue string, velocity int, active bool) {
	if r == nil {
		return
	}
	r.RushVelocity.WithLabelValues(venue).Set(float64(velocity))
	v := 0.0
	if active {
		v = 1
	}
	r.RushActive.WithLabelValues(venue).Set(v)
}

func (r *Registry) ObservePublish(sink string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.Published.WithLabelValues(sink, result).Inc()
}

func (r *Registry) SetWSClients(n int) {
	if r == nil {
		return
	}
	r.WSClients.Set(float64(n))
}
