package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmitted tracks tasks admitted into the queue.
	TasksSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxlane_tasks_submitted_total",
		Help: "Total number of tasks submitted",
	}, []string{"kind"})

	// TasksCompleted tracks tasks that reached Completed.
	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxlane_tasks_completed_total",
		Help: "Total number of tasks completed successfully",
	}, []string{"kind"})

	// TasksFailed tracks tasks that reached Failed.
	TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxlane_tasks_failed_total",
		Help: "Total number of tasks that exhausted retries and failed",
	}, []string{"kind"})

	// TasksRetried tracks transient failures that were re-queued.
	TasksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxlane_tasks_retried_total",
		Help: "Total number of task retry attempts",
	})

	// TasksTimedOut tracks tasks swept to TimedOut.
	TasksTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxlane_tasks_timed_out_total",
		Help: "Total number of tasks marked timed out by the sweeper",
	})

	// TaskRuntimeSeconds tracks processor execution time.
	TaskRuntimeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voxlane_task_runtime_seconds",
		Help:    "Task execution time distribution",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
	}, []string{"kind"})

	// TasksInFlight tracks tasks currently held by a worker.
	TasksInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxlane_tasks_in_flight",
		Help: "Current number of tasks being processed",
	}, []string{"kind"})

	// CallbackFailures tracks callback deliveries that errored. Delivery is
	// best-effort so this counter is the only trace of a lost notification.
	CallbackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxlane_callback_failures_total",
		Help: "Total number of failed callback deliveries",
	}, []string{"type"})

	// AuthRequests tracks credential checks by outcome.
	AuthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxlane_auth_requests_total",
		Help: "Total number of API key verifications",
	}, []string{"result"}) // ok, missing, invalid, expired, suspended, forbidden, rate_limited

	// DownloadBytes tracks audio bytes materialized by ingress.
	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxlane_ingress_download_bytes_total",
		Help: "Total bytes of audio input downloaded",
	})

	// EventSubscribers tracks websocket clients on the task event stream.
	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voxlane_event_subscribers",
		Help: "Current number of task event stream subscribers",
	})
)
