package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "egressprov"
)

var (
	provisionDurationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

	// Provisioning runs
	ProvisionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provision_runs_total",
		Help:      "Count of connection provisioning calls.",
	}, []string{"path", "status"})

	ProvisionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "provision_duration_seconds",
		Help:      "Time taken for a provisioning call to finish.",
		Buckets:   provisionDurationBuckets,
	}, []string{"path"})

	ProvisionLastSuccessTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "provision_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful provisioning call.",
	}, []string{"path"})

	// Steps
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Time taken by each provisioning step, including the collaborator call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step"})

	StepFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "step_failures_total",
		Help:      "Count of provisioning step failures by failure kind.",
	}, []string{"step", "kind"})

	// Compensation
	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensations_total",
		Help:      "Count of compensating actions attempted after a failed call.",
	}, []string{"action", "status"})

	// Audit
	AuditWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_write_failures_total",
		Help:      "Count of provisioning runs that could not be written to the audit store.",
	})
)
