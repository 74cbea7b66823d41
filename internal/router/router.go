// Package router turns submissions into processing tasks, one per artifact.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/model"
)

// ErrNoRoutingConfig is returned when an artifact type has no routing config
// at any tier. Only unsupported types reach it.
var ErrNoRoutingConfig = errors.New("no routing configuration for artifact type")

// ConfigSource provides stored institution configs. config.Loader implements it.
type ConfigSource interface {
	Institution(ctx context.Context, id string) (model.InstitutionConfig, error)
	DefaultInstitution(ctx context.Context) (model.InstitutionConfig, error)
}

// Router resolves routing configs and builds tasks.
type Router struct {
	configs    ConfigSource
	maxRetries int
	queues     map[model.ArtifactType]string
	newID      func() string
	now        func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithQueues sends tasks of the listed types to SQS queue URLs instead of
// the in-process executor.
func WithQueues(queues map[model.ArtifactType]string) Option {
	return func(r *Router) {
		for t, u := range queues {
			if u != "" {
				r.queues[t] = u
			}
		}
	}
}

// New creates a router. A nil configs source skips the stored tiers.
func New(configs ConfigSource, maxRetries int, opts ...Option) *Router {
	r := &Router{
		configs:    configs,
		maxRetries: maxRetries,
		queues:     map[model.ArtifactType]string{},
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the routing config for t: the institution's own, then the
// stored default institution's, then the built-in default for t.
func (r *Router) Resolve(ctx context.Context, institutionID string, t model.ArtifactType) (model.RoutingConfig, error) {
	if !t.Valid() {
		return model.RoutingConfig{}, fmt.Errorf("%w: %q", ErrNoRoutingConfig, t)
	}
	if r.configs != nil {
		if institutionID != "" && institutionID != config.DefaultInstitutionID {
			inst, err := r.configs.Institution(ctx, institutionID)
			if cfg, ok := routingFor(inst, err, t); ok {
				return cfg, nil
			}
			logLookup(err, "institution", institutionID, t)
		}
		def, err := r.configs.DefaultInstitution(ctx)
		if cfg, ok := routingFor(def, err, t); ok {
			return cfg, nil
		}
		logLookup(err, "default institution", config.DefaultInstitutionID, t)
	}
	return config.DefaultRoutingConfig(t), nil
}

func routingFor(inst model.InstitutionConfig, err error, t model.ArtifactType) (model.RoutingConfig, bool) {
	if err != nil {
		return model.RoutingConfig{}, false
	}
	cfg, ok := inst.RoutingConfigs[t]
	if !ok {
		return model.RoutingConfig{}, false
	}
	if cfg.ArtifactType == "" {
		cfg.ArtifactType = t
	}
	return cfg, true
}

func logLookup(err error, tier, id string, t model.ArtifactType) {
	switch {
	case err == nil:
		slog.Debug("no routing config in "+tier, "institution", id, "type", t)
	case errors.Is(err, config.ErrNoInstitution):
		slog.Debug(tier+" config not found", "institution", id)
	default:
		slog.Warn("loading "+tier+" config failed, falling back", "institution", id, "error", err)
	}
}

// Route builds one task per artifact. Artifacts that cannot be routed are
// logged and skipped; an empty result is valid.
func (r *Router) Route(ctx context.Context, sub model.Submission) []model.ProcessingTask {
	md := sub.Metadata
	tasks := make([]model.ProcessingTask, 0, len(sub.Artifacts))
	for _, a := range sub.Artifacts {
		task, err := r.routeArtifact(ctx, a, md)
		if err != nil {
			slog.Error("failed to route artifact", "submission", md.SubmissionID, "artifact", a.ArtifactID, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	for i := range tasks {
		tasks[i].ExpectedTasks = len(tasks)
	}
	slog.Info("routed submission", "submission", md.SubmissionID, "tasks", len(tasks), "artifacts", len(sub.Artifacts))
	return tasks
}

func (r *Router) routeArtifact(ctx context.Context, a model.Artifact, md model.SubmissionMetadata) (model.ProcessingTask, error) {
	cfg, err := r.Resolve(ctx, md.InstitutionID, a.ArtifactType)
	if err != nil {
		return model.ProcessingTask{}, err
	}
	payload, err := Payload(a, md)
	if err != nil {
		return model.ProcessingTask{}, err
	}
	if a.Weight > 0 && a.Weight != 1 {
		// The aggregator weighs by artifact type only.
		slog.Warn("artifact weight ignored by aggregation", "artifact", a.ArtifactID, "weight", a.Weight)
	}
	cfgMap, err := cfg.ToMap()
	if err != nil {
		return model.ProcessingTask{}, fmt.Errorf("encode routing config: %w", err)
	}
	return model.ProcessingTask{
		TaskID:          r.newID(),
		SubmissionID:    md.SubmissionID,
		StudentID:       md.StudentID,
		BatchID:         md.BatchID,
		InstitutionID:   md.InstitutionID,
		ArtifactID:      a.ArtifactID,
		ArtifactType:    a.ArtifactType,
		ArtifactPayload: payload,
		RoutingConfig:   cfgMap,
		MaxRetries:      r.maxRetries,
		CreatedAt:       r.now().UTC(),
	}, nil
}

// reservedKeys are payload keys artifact metadata may not overwrite.
var reservedKeys = map[string]bool{
	"artifact_id": true, "artifact_type": true, "content": true, "metadata": true,
	"weight": true, "submission_metadata": true,
	"mcq_data": true, "text_data": true, "audio_data": true,
}

// Payload serializes an artifact and its submission identity into JSON
// primitives. Artifact metadata is also merged into the top level so
// fields like audio_url reach the scorer directly.
func Payload(a model.Artifact, md model.SubmissionMetadata) (map[string]any, error) {
	content, err := model.ToPrimitive(a.Content)
	if err != nil {
		return nil, fmt.Errorf("encode content of %s: %w", a.ArtifactID, err)
	}
	metadata, err := model.ToPrimitive(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata of %s: %w", a.ArtifactID, err)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	p := map[string]any{
		"artifact_id":   a.ArtifactID,
		"artifact_type": string(a.ArtifactType),
		"content":       content,
		"metadata":      metadata,
		"weight":        a.Weight,
		"submission_metadata": map[string]any{
			"submission_id":  md.SubmissionID,
			"batch_id":       md.BatchID,
			"student_id":     md.StudentID,
			"course_id":      md.CourseID,
			"assignment_id":  md.AssignmentID,
			"institution_id": md.InstitutionID,
		},
	}
	switch c := a.Content.(type) {
	case model.MCQContent:
		answers, err := model.ToPrimitive(c.Answers)
		if err != nil {
			return nil, fmt.Errorf("encode answers of %s: %w", a.ArtifactID, err)
		}
		if answers == nil {
			answers = []any{}
		}
		p["mcq_data"] = map[string]any{"answers": answers, "total_questions": c.TotalQuestions}
	case model.TextContent:
		p["text_data"] = map[string]any{"text_content": c.TextContent, "word_count": c.WordCount, "language": c.Language}
	case model.AudioContent:
		p["audio_data"] = map[string]any{
			"audio_url":        c.AudioURL,
			"duration_seconds": c.DurationSeconds,
			"sample_rate":      c.SampleRate,
			"format":           c.Format,
		}
	}
	if m, ok := metadata.(map[string]any); ok {
		for k, v := range m {
			if !reservedKeys[k] {
				p[k] = v
			}
		}
	}
	return p, nil
}

// QueueFor returns the queue URL configured for t, or "" when tasks of that
// type run in-process.
func (r *Router) QueueFor(t model.ArtifactType) string {
	return r.queues[t]
}

// Split separates tasks that run in-process from those sent to queues,
// grouped by queue URL.
func (r *Router) Split(tasks []model.ProcessingTask) (local []model.ProcessingTask, queued map[string][]model.ProcessingTask) {
	queued = map[string][]model.ProcessingTask{}
	for _, t := range tasks {
		if u := r.queues[t.ArtifactType]; u != "" {
			queued[u] = append(queued[u], t)
			continue
		}
		local = append(local, t)
	}
	return local, queued
}

// Summary describes a set of routed tasks.
type Summary struct {
	TotalTasks       int                        `json:"total_tasks"`
	TasksByType      map[model.ArtifactType]int `json:"tasks_by_type"`
	QueueDistrib     map[string]int             `json:"queue_distribution"`
	EstimatedSeconds int                        `json:"estimated_processing_time"`
}

var estimatedSeconds = map[model.ArtifactType]int{
	model.ArtifactMCQ:   1,
	model.ArtifactText:  30,
	model.ArtifactAudio: 60,
}

// Summarize counts tasks per type and target and estimates processing time.
func (r *Router) Summarize(tasks []model.ProcessingTask) Summary {
	s := Summary{
		TotalTasks:   len(tasks),
		TasksByType:  map[model.ArtifactType]int{},
		QueueDistrib: map[string]int{},
	}
	for _, t := range tasks {
		s.TasksByType[t.ArtifactType]++
		target := r.queues[t.ArtifactType]
		if target == "" {
			target = "local"
		}
		s.QueueDistrib[target]++
		s.EstimatedSeconds += estimatedSeconds[t.ArtifactType]
	}
	return s
}
