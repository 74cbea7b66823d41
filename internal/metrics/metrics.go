// Package metrics records pipeline counters and latencies for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelanni/acegrader/internal/model"
)

// Recorder holds the collectors. A nil *Recorder records nothing.
type Recorder struct {
	reg           *prometheus.Registry
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	artifactScore *prometheus.HistogramVec
	routed        *prometheus.CounterVec
	reports       *prometheus.CounterVec
	dispatched    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "acegrader_tasks_total",
			Help: "Processing tasks finished, by artifact type and status.",
		}, []string{"artifact_type", "status"}),
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acegrader_task_duration_seconds",
			Help:    "Wall-clock time spent scoring one artifact.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"artifact_type"}),
		artifactScore: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acegrader_artifact_overall_score",
			Help:    "Overall score of completed artifacts.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}, []string{"artifact_type"}),
		routed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "acegrader_tasks_routed_total",
			Help: "Tasks produced by the router, by artifact type and target.",
		}, []string{"artifact_type", "target"}),
		reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "acegrader_student_reports_total",
			Help: "Student reports generated, by outcome.",
		}, []string{"outcome"}),
		dispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "acegrader_queue_messages_total",
			Help: "Queue messages sent, by queue and result.",
		}, []string{"queue", "result"}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// TaskFinished records one executed task.
func (r *Recorder) TaskFinished(t model.ArtifactType, status model.Status, elapsed time.Duration, score float64) {
	if r == nil {
		return
	}
	r.tasks.WithLabelValues(string(t), string(status)).Inc()
	r.taskDuration.WithLabelValues(string(t)).Observe(elapsed.Seconds())
	if status == model.StatusCompleted {
		r.artifactScore.WithLabelValues(string(t)).Observe(score)
	}
}

// TaskRouted records a task handed to target ("local" or a queue URL).
func (r *Recorder) TaskRouted(t model.ArtifactType, target string) {
	if r == nil {
		return
	}
	r.routed.WithLabelValues(string(t), target).Inc()
}

// ReportGenerated records one student report.
func (r *Recorder) ReportGenerated(rep model.StudentReport) {
	if r == nil {
		return
	}
	outcome := "failed"
	switch {
	case rep.ExcellenceAchieved:
		outcome = "excellent"
	case rep.Passed:
		outcome = "passed"
	}
	r.reports.WithLabelValues(outcome).Inc()
}

// MessagesSent records queue sends.
func (r *Recorder) MessagesSent(queue string, sent, failed int) {
	if r == nil {
		return
	}
	r.dispatched.WithLabelValues(queue, "sent").Add(float64(sent))
	r.dispatched.WithLabelValues(queue, "failed").Add(float64(failed))
}
