// Package metrics exposes Prometheus instruments for blob operations and
// task outcomes.
//
// A nil *Recorder is valid and records nothing, so components take one
// unconditionally and the wiring decides whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder struct {
	reg prometheus.Gatherer

	blobOps      *prometheus.CounterVec
	blobDuration *prometheus.HistogramVec
	blobBytes    *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	dropped      prometheus.Counter
	swept        *prometheus.CounterVec
}

// New registers the instruments on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Recorder{
		reg: reg,
		blobOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treevault_blob_operations_total",
				Help: "Blob store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		blobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "treevault_blob_operation_duration_milliseconds",
				Help: "Duration of blob store operations in milliseconds",
				Buckets: []float64{
					5,     // HEAD on a warm connection
					25,    //
					100,   // small PUT
					500,   //
					2000,  // a few MiB
					10000, // one 30MiB part on a slow link
					60000, //
				},
			},
			[]string{"operation"},
		),
		blobBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treevault_blob_bytes_total",
				Help: "Bytes moved to the blob store",
			},
			[]string{"operation"},
		),
		tasks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treevault_tasks_finished_total",
				Help: "Finished tasks by operation and terminal status",
			},
			[]string{"operation", "status"},
		),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "treevault_task_events_dropped_total",
			Help: "Task events not delivered to a slow subscriber",
		}),
		swept: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treevault_sweep_objects_total",
				Help: "Objects examined by the orphan sweep by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (r *Recorder) ObserveBlobOp(op string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.blobOps.WithLabelValues(op, status(err)).Inc()
	r.blobDuration.WithLabelValues(op).Observe(float64(elapsed.Milliseconds()))
}

func (r *Recorder) AddBlobBytes(op string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.blobBytes.WithLabelValues(op).Add(float64(n))
}

func (r *Recorder) TaskFinished(op, status string) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(op, status).Inc()
}

func (r *Recorder) EventDropped() {
	if r == nil {
		return
	}
	r.dropped.Inc()
}

// SweepObserved counts sweep outcomes: "scanned", "orphaned", "deleted", "failed".
func (r *Recorder) SweepObserved(outcome string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.swept.WithLabelValues(outcome).Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
