package activitysink

import (
	"context"

	"github.com/karpithal/go-accounts"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink counts activity events. Register it with a prometheus
// registerer and expose it through promhttp.
type MetricsSink struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewMetricsSink creates the collectors and registers them on reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsSink(reg prometheus.Registerer) (*MetricsSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	s := &MetricsSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karpithal",
			Subsystem: "accounts",
			Name:      "activity_events_total",
			Help:      "Account activity events by type and actor type.",
		}, []string{"event", "actor_type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "karpithal",
			Subsystem: "accounts",
			Name:      "status_transitions_total",
			Help:      "Account lifecycle transitions by source and target status.",
		}, []string{"from", "to"}),
	}

	for _, c := range []prometheus.Collector{s.events, s.transitions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Record implements accounts.ActivitySink
func (s *MetricsSink) Record(_ context.Context, event accounts.ActivityEvent) error {
	actorType := event.Actor.Type
	if actorType == "" {
		actorType = accounts.ActorTypeSystem
	}
	s.events.WithLabelValues(string(event.EventType), actorType).Inc()

	if event.EventType == accounts.ActivityEventAccountStatusChanged {
		s.transitions.WithLabelValues(string(event.FromStatus), string(event.ToStatus)).Inc()
	}
	return nil
}

// Events exposes the event counter, mostly for tests
func (s *MetricsSink) Events() *prometheus.CounterVec {
	return s.events
}

// Transitions exposes the transition counter
func (s *MetricsSink) Transitions() *prometheus.CounterVec {
	return s.transitions
}
