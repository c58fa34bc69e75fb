package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ETL workflow.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec   // labels: outcome={success,failed}
	TaskDuration     *prometheus.HistogramVec // labels: task
	TaskRetries      *prometheus.CounterVec   // labels: task
	SensorPokes      *prometheus.CounterVec   // labels: result={ready,not_ready}
	TransformErrors  prometheus.Counter
	ObjectsUploaded  prometheus.Counter
	RecordsPublished prometheus.Counter
	LastSuccess      prometheus.Gauge
	SchedulerRunning prometheus.Gauge
}

// NewMetrics creates and registers all workflow metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.TaskDuration,
		m.TaskRetries,
		m.SensorPokes,
		m.TransformErrors,
		m.ObjectsUploaded,
		m.RecordsPublished,
		m.LastSuccess,
		m.SchedulerRunning,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by outcome.",
		}, []string{"outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of each workflow task including retries.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 900},
		}, []string{"task"}),
		TaskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_retries_total",
			Help:      "Task retries after a failed attempt.",
		}, []string{"task"}),
		SensorPokes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_pokes_total",
			Help:      "Weather API readiness probes by result.",
		}, []string{"result"}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Payloads rejected as malformed.",
		}),
		ObjectsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_uploaded_total",
			Help:      "CSV objects written to object storage.",
		}),
		RecordsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Records written to optional publishers.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the scheduler loop is active, 0 when shut down.",
		}),
	}
}
