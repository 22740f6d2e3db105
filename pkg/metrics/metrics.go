package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "v2tic"

var (
	Deposits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deposits_total",
		Help:      "Deposits received per delivery type and outcome.",
	}, []string{"delivery_type", "outcome"})

	Notes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notes_total",
		Help:      "Component failures recorded on requests.",
	}, []string{"component"})

	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "conversions_total",
		Help:      "Finished requests per status and conversion status.",
	}, []string{"status", "conversion_status"})

	EjectionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ejection_attempts_total",
		Help:      "Delivery attempts including retries.",
	}, []string{"delivery_type"})

	Ejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ejections_total",
		Help:      "Final delivery outcomes.",
	}, []string{"delivery_type", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent per pipeline stage.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipelines_in_flight",
		Help:      "Requests scheduled and not yet ejected.",
	})
)

const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeTimeout  = "timeout"
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
)
