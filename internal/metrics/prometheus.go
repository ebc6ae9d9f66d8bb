package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription backend.
type Metrics struct {
	// Engine metrics
	RunsStarted      *prometheus.CounterVec
	RunsCompleted    *prometheus.CounterVec
	PartsTranscribed prometheus.Counter
	UploadedBytes    prometheus.Counter
	PollAttempts     prometheus.Histogram
	PartDuration     prometheus.Histogram

	// Job queue metrics
	JobsEnqueued prometheus.Counter
	JobsFinished *prometheus.CounterVec
	JobsActive   prometheus.Gauge
}

// New creates and registers all metrics on reg. A nil registerer gets a
// private registry so embedded and test use never collides with the
// process-wide default.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clipscribe_runs_started_total",
			Help: "Total number of transcription runs started, by engine",
		}, []string{"engine"}),
		RunsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clipscribe_runs_completed_total",
			Help: "Total number of transcription runs finished, by engine and outcome",
		}, []string{"engine", "outcome"}),
		PartsTranscribed: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipscribe_parts_transcribed_total",
			Help: "Total number of media parts successfully transcribed",
		}),
		UploadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipscribe_uploaded_bytes_total",
			Help: "Total bytes uploaded to the remote provider",
		}),
		PollAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipscribe_poll_attempts",
			Help:    "Status checks needed before an uploaded part became ready",
			Buckets: prometheus.LinearBuckets(0, 3, 11), // 0 to 30 checks
		}),
		PartDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipscribe_part_duration_seconds",
			Help:    "Wall time to upload, process and transcribe one part",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		JobsEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "clipscribe_jobs_enqueued_total",
			Help: "Total number of jobs accepted into the queue",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clipscribe_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		}, []string{"status"}),
		JobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clipscribe_jobs_active",
			Help: "Number of jobs currently being processed",
		}),
	}
}
