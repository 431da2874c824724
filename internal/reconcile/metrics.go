package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dshills/whiteboard/internal/scene"
)

// Metrics exports reconciler activity. A nil *Metrics records nothing.
type Metrics struct {
	Updates    prometheus.Counter
	Applies    *prometheus.CounterVec
	Failures   *prometheus.CounterVec
	Nodes      *prometheus.CounterVec
	Redraws    *prometheus.CounterVec
	Duplicates prometheus.Counter
}

// NewMetrics registers the reconciler metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Updates: f.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_reconcile_updates_total",
			Help: "Total number of input changes processed",
		}),
		Applies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_reconcile_applies_total",
			Help: "Module apply steps that changed the scene",
		}, []string{"module"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_reconcile_failures_total",
			Help: "Module apply steps that returned an error or panicked",
		}, []string{"module"}),
		Nodes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_scene_node_ops_total",
			Help: "Scene node operations by layer and kind (create|patch|destroy)",
		}, []string{"layer", "op"}),
		Redraws: f.NewCounterVec(prometheus.CounterOpts{
			Name: "whiteboard_scene_redraws_total",
			Help: "Layer redraw requests issued to the graphics library",
		}, []string{"layer"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_scene_duplicate_identities_total",
			Help: "Scene nodes re-keyed because another node claimed the same element",
		}),
	}
}

func (m *Metrics) update() {
	if m == nil || m.Updates == nil {
		return
	}
	m.Updates.Inc()
}

func (m *Metrics) apply(module string) {
	if m == nil || m.Applies == nil {
		return
	}
	m.Applies.WithLabelValues(module).Inc()
}

func (m *Metrics) failure(module string) {
	if m == nil || m.Failures == nil {
		return
	}
	m.Failures.WithLabelValues(module).Inc()
}

func (m *Metrics) node(layer scene.LayerID, op string) {
	if m == nil || m.Nodes == nil {
		return
	}
	m.Nodes.WithLabelValues(layer.String(), op).Inc()
}

func (m *Metrics) redraw(layer scene.LayerID) {
	if m == nil || m.Redraws == nil {
		return
	}
	m.Redraws.WithLabelValues(layer.String()).Inc()
}

func (m *Metrics) duplicate() {
	if m == nil || m.Duplicates == nil {
		return
	}
	m.Duplicates.Inc()
}
