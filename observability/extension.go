package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/bpmcore/execution"
	"github.com/xraph/bpmcore/ext"
	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
	"github.com/xraph/bpmcore/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*MetricsExtension)(nil)
	_ ext.JobEnqueued           = (*MetricsExtension)(nil)
	_ ext.JobAcquired           = (*MetricsExtension)(nil)
	_ ext.JobCompleted          = (*MetricsExtension)(nil)
	_ ext.JobFailed             = (*MetricsExtension)(nil)
	_ ext.JobExhausted          = (*MetricsExtension)(nil)
	_ ext.JobCancelled          = (*MetricsExtension)(nil)
	_ ext.TaskClaimed           = (*MetricsExtension)(nil)
	_ ext.TaskCompleted         = (*MetricsExtension)(nil)
	_ ext.ExecutionTransitioned = (*MetricsExtension)(nil)
)

// MetricsExtension records engine lifecycle metrics in Prometheus.
// Register it as an extension to track acquisition and completion rates,
// failures, incidents, task throughput and case transitions.
type MetricsExtension struct {
	JobEnqueued          *prometheus.CounterVec
	JobAcquired          *prometheus.CounterVec
	JobCompleted         *prometheus.CounterVec
	JobFailed            *prometheus.CounterVec
	JobExhausted         *prometheus.CounterVec
	JobCancelled         prometheus.Counter
	JobDuration          *prometheus.HistogramVec
	TaskClaimed          *prometheus.CounterVec
	TaskCompleted        prometheus.Counter
	TaskJobsEnqueued     prometheus.Counter
	ExecutionTransitions *prometheus.CounterVec
}

// NewMetricsExtension creates a MetricsExtension registered with the
// default Prometheus registerer.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegisterer creates a MetricsExtension whose
// collectors are registered with reg. Use a fresh prometheus.Registry in
// tests.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	m := &MetricsExtension{
		JobEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_jobs_enqueued_total",
			Help: "Total number of jobs enqueued.",
		}, []string{"job_name"}),
		JobAcquired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_jobs_acquired_total",
			Help: "Total number of jobs locked by this node.",
		}, []string{"job_name"}),
		JobCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_jobs_completed_total",
			Help: "Total number of jobs that ran successfully.",
		}, []string{"job_name"}),
		JobFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_jobs_failed_total",
			Help: "Total number of failed attempts that left retries.",
		}, []string{"job_name"}),
		JobExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_jobs_exhausted_total",
			Help: "Total number of jobs that failed terminally.",
		}, []string{"job_name"}),
		JobCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpmcore_jobs_cancelled_total",
			Help: "Total number of jobs cancelled.",
		}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bpmcore_job_duration_seconds",
			Help:    "Duration of successful job executions in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name"}),
		TaskClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_tasks_assigned_total",
			Help: "Total number of task claims and unclaims.",
		}, []string{"state"}),
		TaskCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpmcore_tasks_completed_total",
			Help: "Total number of tasks completed.",
		}),
		TaskJobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bpmcore_task_continuation_jobs_total",
			Help: "Total number of jobs enqueued by task completions.",
		}),
		ExecutionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bpmcore_execution_transitions_total",
			Help: "Total number of case execution state transitions.",
		}, []string{"from", "to"}),
	}

	reg.MustRegister(
		m.JobEnqueued,
		m.JobAcquired,
		m.JobCompleted,
		m.JobFailed,
		m.JobExhausted,
		m.JobCancelled,
		m.JobDuration,
		m.TaskClaimed,
		m.TaskCompleted,
		m.TaskJobsEnqueued,
		m.ExecutionTransitions,
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.JobEnqueued.WithLabelValues(j.Name).Inc()
	return nil
}

// OnJobAcquired implements ext.JobAcquired.
func (m *MetricsExtension) OnJobAcquired(_ context.Context, j *job.Job) error {
	m.JobAcquired.WithLabelValues(j.Name).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobCompleted.WithLabelValues(j.Name).Inc()
	m.JobDuration.WithLabelValues(j.Name).Observe(elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	m.JobFailed.WithLabelValues(j.Name).Inc()
	return nil
}

// OnJobExhausted implements ext.JobExhausted.
func (m *MetricsExtension) OnJobExhausted(_ context.Context, j *job.Job, _ error) error {
	m.JobExhausted.WithLabelValues(j.Name).Inc()
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(_ context.Context, _ id.JobID) error {
	m.JobCancelled.Inc()
	return nil
}

// ── Task and execution hooks ────────────────────────

// OnTaskClaimed implements ext.TaskClaimed.
func (m *MetricsExtension) OnTaskClaimed(_ context.Context, t *task.Task) error {
	m.TaskClaimed.WithLabelValues(string(t.State)).Inc()
	return nil
}

// OnTaskCompleted implements ext.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(_ context.Context, _ *task.Task, jobs []*job.Job) error {
	m.TaskCompleted.Inc()
	m.TaskJobsEnqueued.Add(float64(len(jobs)))
	return nil
}

// OnExecutionTransitioned implements ext.ExecutionTransitioned.
func (m *MetricsExtension) OnExecutionTransitioned(_ context.Context, e *execution.Execution, from execution.State) error {
	m.ExecutionTransitions.WithLabelValues(string(from), string(e.State)).Inc()
	return nil
}
