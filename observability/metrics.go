// Package observability defines the Prometheus metrics surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskSubmitted counts accepted submissions by model and priority.
	TaskSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_task_submitted_total",
		Help: "Total number of tasks submitted",
	}, []string{"model", "priority"})

	// TaskCompleted counts tasks that reached SUCCESS.
	TaskCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_task_completed_total",
		Help: "Total number of tasks completed successfully",
	}, []string{"model"})

	// TaskFailed counts every terminal failure path, timeouts included.
	TaskFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_task_failed_total",
		Help: "Total number of tasks failed",
	})

	// TaskRetried counts retry attempts scheduled by workers.
	TaskRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_task_retried_total",
		Help: "Total number of task retry attempts",
	})

	// TaskStatusChecked counts status reads by the state returned.
	TaskStatusChecked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inference_task_status_checked_total",
		Help: "Total number of task status checks",
	}, []string{"status"})

	// InferenceDuration observes the inference phase in seconds.
	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inference_duration_seconds",
		Help:    "Time spent in model inference",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"model"})

	// StorageDuration observes the artifact upload phase in seconds.
	StorageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storage_duration_seconds",
		Help:    "Time spent uploading results to storage",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// TotalDuration observes end-to-end task processing in seconds.
	TotalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "task_total_duration_seconds",
		Help:    "Total time to process a task",
		Buckets: []float64{0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"model"})

	// ModelLoadDuration observes runner model loads in seconds.
	ModelLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "model_load_duration_seconds",
		Help:    "Time to load a model",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"model"})

	// ActiveWorkers gauges live worker slots per device.
	ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inference_active_workers",
		Help: "Number of active GPU workers",
	}, []string{"gpu_id"})

	// QueueSize gauges pending tasks per priority queue.
	QueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inference_queue_size",
		Help: "Number of tasks in queue",
	}, []string{"priority"})

	// APIRequestDuration observes gateway request handling in seconds.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "API request duration",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"endpoint", "method", "status"})

	// RateLimitExceeded counts 429s per (redacted) API key.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_exceeded_total",
		Help: "Number of rate limit exceeded errors",
	}, []string{"api_key"})

	// AuthFailures counts rejected or missing API keys.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Number of authentication failures",
	})

	// CallbackFailures counts result callbacks that could not be
	// delivered. Callback failure never fails the task.
	CallbackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callback_failures_total",
		Help: "Number of result callbacks that failed to deliver",
	})
)
