// Package executor runs processing tasks through their scoring strategy.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/acegrader/internal/ingest"
	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/scoring"
)

// Executor scores tasks. Every task ends as a CompletedArtifact, whether the
// strategy succeeded or not.
type Executor struct {
	strategies scoring.Table
	metrics    *metrics.Recorder
	states     *xsync.MapOf[string, model.Status]
	now        func() time.Time
}

func New(strategies scoring.Table, rec *metrics.Recorder) *Executor {
	return &Executor{
		strategies: strategies,
		metrics:    rec,
		states:     xsync.NewMapOf[string, model.Status](),
		now:        time.Now,
	}
}

// State returns the last known state of a task.
func (e *Executor) State(taskID string) (model.Status, bool) {
	return e.states.Load(taskID)
}

// Execute runs one task. Strategy errors and panics become a zero-score
// failed result.
func (e *Executor) Execute(ctx context.Context, task model.ProcessingTask) model.CompletedArtifact {
	e.states.Store(task.TaskID, model.StatusRunning)
	start := e.now()

	res, err := e.score(ctx, task)
	status := model.StatusCompleted
	if err != nil {
		slog.Error("artifact processing failed",
			"task", task.TaskID, "submission", task.SubmissionID, "artifact", task.ArtifactID, "error", err)
		res = FailureResult(task, err)
		status = model.StatusFailed
	}
	elapsed := e.now().Sub(start)
	res.ArtifactID = task.ArtifactID
	res.ArtifactType = task.ArtifactType
	res.ProcessingTimeMS = elapsed.Milliseconds()

	e.states.Store(task.TaskID, status)
	e.metrics.TaskFinished(task.ArtifactType, status, elapsed, res.OverallScore)
	slog.Debug("task finished", "task", task.TaskID, "status", status, "score", res.OverallScore, "elapsed", elapsed)

	return model.CompletedArtifact{
		TaskID:         task.TaskID,
		SubmissionID:   task.SubmissionID,
		StudentID:      task.StudentID,
		BatchID:        task.BatchID,
		InstitutionID:  task.InstitutionID,
		ExpectedTasks:  task.ExpectedTasks,
		Status:         status,
		ArtifactResult: res,
		CompletedAt:    e.now().UTC(),
	}
}

func (e *Executor) score(ctx context.Context, task model.ProcessingTask) (res model.ArtifactResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("strategy panicked", "task", task.TaskID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	strategy, err := e.strategies.For(task.ArtifactType)
	if err != nil {
		return model.ArtifactResult{}, err
	}
	cfg, err := model.RoutingConfigFromMap(task.RoutingConfig)
	if err != nil {
		return model.ArtifactResult{}, err
	}
	return strategy.Score(ctx, ingest.ArtifactFromTask(task), cfg)
}

// FailureResult is the zero-score envelope for a task whose scoring failed.
func FailureResult(task model.ProcessingTask, err error) model.ArtifactResult {
	msg := err.Error()
	return model.ArtifactResult{
		ArtifactID:   task.ArtifactID,
		ArtifactType: task.ArtifactType,
		ACEScores:    []model.ACEScore{},
		OverallScore: 0,
		Feedback:     "Processor error: " + msg,
		Metadata:     map[string]any{"error": msg},
		Errors:       []string{msg},
		ProcessedAt:  time.Now().UTC(),
	}
}

// RunAll executes tasks on up to workers goroutines. Results keep the order
// of tasks. When ctx is cancelled, tasks not yet started are dropped and
// ctx.Err() is returned alongside the results that did complete.
func (e *Executor) RunAll(ctx context.Context, tasks []model.ProcessingTask, workers int) ([]model.CompletedArtifact, error) {
	if workers < 1 {
		workers = 1
	}
	for _, t := range tasks {
		e.states.Store(t.TaskID, model.StatusPending)
	}

	results := make([]*model.CompletedArtifact, len(tasks))
	var g errgroup.Group
	g.SetLimit(workers)
	dispatched := 0
	for i, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			c := e.Execute(ctx, t)
			results[i] = &c
			return nil
		})
		dispatched++
	}
	_ = g.Wait()

	out := make([]model.CompletedArtifact, 0, dispatched)
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if dropped := len(tasks) - dispatched; dropped > 0 {
		slog.Warn("cancelled before dispatch", "dropped", dropped, "completed", len(out))
		return out, ctx.Err()
	}
	return out, nil
}
