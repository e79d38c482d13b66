package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classroom_rooms_active",
		Help: "Rooms currently held in memory.",
	})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_events_relayed_total",
		Help: "Outbound events handed to connections, by event kind.",
	}, []string{"event"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_events_dropped_total",
		Help: "Outbound or inbound events dropped, by reason.",
	}, []string{"reason"})

	Grades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_grades_total",
		Help: "Graded submissions, by outcome.",
	}, []string{"outcome"})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classroom_persist_failures_total",
		Help: "Failed graded result writes, by target log.",
	}, []string{"target"})
)
