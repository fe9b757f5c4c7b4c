package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	admissionGrantedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "admission_granted_total",
			Help:      "VRAM admissions granted",
		},
		[]string{"backend"},
	)

	admissionDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "admission_denied_total",
			Help:      "VRAM admissions denied on first attempt",
		},
		[]string{"backend"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "evictions_total",
			Help:      "Instances evicted to reclaim VRAM",
		},
		[]string{"cause"},
	)

	crashesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "instance_crashes_total",
			Help:      "Unexpected instance process exits",
		},
		[]string{"backend"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Admission waiters queued per backend",
		},
		[]string{"backend"},
	)

	vramReservedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inferd",
			Subsystem: "scheduler",
			Name:      "vram_reserved_bytes",
			Help:      "Bytes currently reserved in the VRAM ledger",
		},
	)
)

func init() {
	prometheus.MustRegister(
		admissionGrantedTotal,
		admissionDeniedTotal,
		evictionsTotal,
		crashesTotal,
		queueDepth,
		vramReservedBytes,
	)
}
