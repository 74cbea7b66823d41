package executor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/router"
	"github.com/pavelanni/acegrader/internal/scoring"
)

type strategyFunc func(context.Context, model.Artifact, model.RoutingConfig) (model.ArtifactResult, error)

func (f strategyFunc) Score(ctx context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error) {
	return f(ctx, a, cfg)
}

func mcqSubmission(n int) model.Submission {
	correct := "A"
	sub := model.Submission{Metadata: model.SubmissionMetadata{SubmissionID: "s1", StudentID: "stu", BatchID: "b", InstitutionID: "uni"}}
	for i := 0; i < n; i++ {
		sub.Artifacts = append(sub.Artifacts, model.Artifact{
			ArtifactID:   "mcq" + string(rune('a'+i)),
			ArtifactType: model.ArtifactMCQ,
			Weight:       1,
			Content:      model.NewMCQContent([]model.MCQAnswer{{QuestionID: "q1", SelectedOption: "a", CorrectOption: &correct}}),
		})
	}
	return sub
}

func routedTasks(t *testing.T, sub model.Submission) []model.ProcessingTask {
	t.Helper()
	tasks := router.New(nil, 3).Route(context.Background(), sub)
	if len(tasks) != len(sub.Artifacts) {
		t.Fatalf("routed %d of %d artifacts", len(tasks), len(sub.Artifacts))
	}
	return tasks
}

func TestExecuteSuccess(t *testing.T) {
	e := New(scoring.Table{MCQ: scoring.MCQ{}}, metrics.New())
	task := routedTasks(t, mcqSubmission(1))[0]

	c := e.Execute(context.Background(), task)
	if c.Status != model.StatusCompleted {
		t.Fatalf("status = %s, errors = %v", c.Status, c.ArtifactResult.Errors)
	}
	if c.TaskID != task.TaskID || c.SubmissionID != "s1" || c.StudentID != "stu" || c.BatchID != "b" {
		t.Errorf("identity not carried: %+v", c)
	}
	if c.InstitutionID != "uni" || c.ExpectedTasks != 1 {
		t.Errorf("institution = %q, expected tasks = %d", c.InstitutionID, c.ExpectedTasks)
	}
	if c.ArtifactResult.Metadata["correct_answers"] != 1 {
		t.Errorf("metadata = %v", c.ArtifactResult.Metadata)
	}
	if st, _ := e.State(task.TaskID); st != model.StatusCompleted {
		t.Errorf("state = %s", st)
	}
}

func TestExecuteFailureEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		strategy scoring.Strategy
		wantMsg  string
	}{
		{"error", strategyFunc(func(context.Context, model.Artifact, model.RoutingConfig) (model.ArtifactResult, error) {
			return model.ArtifactResult{}, errors.New("evaluator exploded")
		}), "evaluator exploded"},
		{"panic", strategyFunc(func(context.Context, model.Artifact, model.RoutingConfig) (model.ArtifactResult, error) {
			panic("nil map")
		}), "panic: nil map"},
		{"no strategy", nil, "no scoring strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(scoring.Table{MCQ: tt.strategy}, nil)
			task := routedTasks(t, mcqSubmission(1))[0]

			c := e.Execute(context.Background(), task)
			res := c.ArtifactResult
			if c.Status != model.StatusFailed {
				t.Fatalf("status = %s", c.Status)
			}
			if res.OverallScore != 0 || len(res.ACEScores) != 0 {
				t.Errorf("failed result has scores: %+v", res)
			}
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], tt.wantMsg) {
				t.Errorf("errors = %v, want %q", res.Errors, tt.wantMsg)
			}
			if !strings.Contains(res.Feedback, "Processor error: ") || !strings.Contains(res.Feedback, tt.wantMsg) {
				t.Errorf("feedback = %q", res.Feedback)
			}
			if res.ArtifactID != task.ArtifactID || res.ArtifactType != model.ArtifactMCQ {
				t.Errorf("identity = %s/%s", res.ArtifactID, res.ArtifactType)
			}
			if st, _ := e.State(task.TaskID); st != model.StatusFailed {
				t.Errorf("state = %s", st)
			}
		})
	}
}

func TestRunAllKeepsOrderAndLimit(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})
	s := strategyFunc(func(ctx context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return scoring.MCQ{}.Score(ctx, a, cfg)
	})
	e := New(scoring.Table{MCQ: s}, nil)
	tasks := routedTasks(t, mcqSubmission(6))

	go func() {
		for range tasks {
			release <- struct{}{}
		}
	}()
	out, err := e.RunAll(context.Background(), tasks, 2)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if len(out) != len(tasks) {
		t.Fatalf("got %d results", len(out))
	}
	for i := range tasks {
		if out[i].TaskID != tasks[i].TaskID {
			t.Errorf("result %d is task %s, want %s", i, out[i].TaskID, tasks[i].TaskID)
		}
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestRunAllCancelledDropsUndispatched(t *testing.T) {
	e := New(scoring.Table{MCQ: scoring.MCQ{}}, nil)
	tasks := routedTasks(t, mcqSubmission(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.RunAll(ctx, tasks, 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d results from a cancelled run", len(out))
	}
	if st, _ := e.State(tasks[0].TaskID); st != model.StatusPending {
		t.Errorf("state = %s, want pending", st)
	}
}
