package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"swave/core/events"
)

// EngineEvents counts structured engine events by type so operators can watch
// origination, repayment and liquidation activity without scraping logs.
type EngineEvents struct {
	emitted *prometheus.CounterVec
}

// NewEngineEvents registers the event counter with the supplied registerer and
// returns an emitter suitable for Engine.SetEmitter.
func NewEngineEvents(reg prometheus.Registerer) *EngineEvents {
	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swave",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Count of engine events segmented by event type.",
	}, []string{"type"})
	if reg != nil {
		reg.MustRegister(emitted)
	}
	return &EngineEvents{emitted: emitted}
}

// Emit implements the events.Emitter interface.
func (m *EngineEvents) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
}
