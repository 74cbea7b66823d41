// Package pipeline wires ingestion, routing, execution and aggregation into
// the batch run, re-aggregation and queue worker flows.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/acegrader/internal/aggregate"
	"github.com/pavelanni/acegrader/internal/blob"
	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/dispatch"
	"github.com/pavelanni/acegrader/internal/executor"
	"github.com/pavelanni/acegrader/internal/ingest"
	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/report"
	"github.com/pavelanni/acegrader/internal/router"
)

// Archive records finished batches. store.Store implements it.
type Archive interface {
	SaveBatch(rec model.BatchRecord, rep model.BatchReport, subs []model.SubmissionResult) error
	SetRunSettings(batchID string, s config.Settings) error
}

// Deps are the collaborators of a Pipeline. Sender, Renderer, Narrator,
// Archive and Metrics are optional.
type Deps struct {
	Blobs    blob.Store
	Configs  router.ConfigSource
	Router   *router.Router
	Executor *executor.Executor
	Sender   *dispatch.Sender
	Renderer report.Renderer
	Narrator report.Narrator
	Archive  Archive
	Metrics  *metrics.Recorder
}

type Pipeline struct {
	settings   config.Settings
	blobs      blob.Store
	configs    router.ConfigSource
	router     *router.Router
	exec       *executor.Executor
	sender     *dispatch.Sender
	results    *aggregate.Results
	aggregator *aggregate.Aggregator
	renderer   report.Renderer
	narrator   report.Narrator
	archive    Archive
	metrics    *metrics.Recorder
}

func New(s config.Settings, d Deps) *Pipeline {
	return &Pipeline{
		settings:   s,
		blobs:      d.Blobs,
		configs:    d.Configs,
		router:     d.Router,
		exec:       d.Executor,
		sender:     d.Sender,
		results:    aggregate.NewResults(d.Blobs, s.ResultsBucket),
		aggregator: aggregate.New(s, d.Metrics),
		renderer:   d.Renderer,
		narrator:   d.Narrator,
		archive:    d.Archive,
		metrics:    d.Metrics,
	}
}

// RunSummary describes one batch run.
type RunSummary struct {
	BatchID     string              `json:"batch_id"`
	Submissions int                 `json:"submissions"`
	Routing     router.Summary      `json:"routing"`
	Dispatch    *dispatch.SendStats `json:"dispatch,omitempty"`
	// Pending counts submissions waiting on queued tasks; they are reported
	// by a later aggregate run.
	Pending int               `json:"pending_submissions"`
	Report  model.BatchReport `json:"report"`
}

// Run processes the CSV at inputKey in the ingestion bucket. An empty
// batchID takes the first submission's batch id, or a generated one.
func (p *Pipeline) Run(ctx context.Context, inputKey, batchID string) (RunSummary, error) {
	start := time.Now()
	data, err := p.blobs.Get(ctx, p.settings.IngestionBucket, inputKey)
	if err != nil {
		return RunSummary{}, fmt.Errorf("read input %s: %w", inputKey, err)
	}
	subs, err := ingest.NewParser().ParseCSV(data)
	if err != nil {
		return RunSummary{}, fmt.Errorf("parse %s: %w", inputKey, err)
	}
	subs = validSubmissions(subs)
	batchID = resolveBatchID(batchID, subs)
	for i := range subs {
		subs[i].Metadata.BatchID = batchID
	}
	slog.Info("starting batch", "batch", batchID, "input", inputKey, "submissions", len(subs))

	var tasks []model.ProcessingTask
	routed := map[string]int{}
	for _, sub := range subs {
		t := p.router.Route(ctx, sub)
		routed[sub.Metadata.SubmissionID] += len(t)
		tasks = append(tasks, t...)
	}
	sum := RunSummary{BatchID: batchID, Submissions: len(subs), Routing: p.router.Summarize(tasks)}

	local, queued := p.router.Split(tasks)
	if p.sender == nil {
		// Nothing can deliver to the queues; run everything here.
		for _, ts := range queued {
			local = append(local, ts...)
		}
		queued = nil
	}
	for _, t := range local {
		p.metrics.TaskRouted(t.ArtifactType, "local")
	}
	waiting := map[string]bool{}
	for q, ts := range queued {
		for _, t := range ts {
			p.metrics.TaskRouted(t.ArtifactType, q)
			waiting[t.SubmissionID] = true
		}
	}
	if len(queued) > 0 {
		stats := p.sender.Send(ctx, queued)
		sum.Dispatch = &stats
	}

	completed, err := p.exec.RunAll(ctx, local, p.settings.Workers)
	if err != nil {
		return sum, fmt.Errorf("execute batch %s: %w", batchID, err)
	}
	groups := map[string][]model.CompletedArtifact{}
	for _, c := range completed {
		groups[c.SubmissionID] = append(groups[c.SubmissionID], c)
	}

	var results []model.SubmissionResult
	for _, sub := range subs {
		md := sub.Metadata
		if waiting[md.SubmissionID] {
			sum.Pending++
			for _, c := range groups[md.SubmissionID] {
				if err := p.results.SaveCompleted(ctx, c); err != nil {
					return sum, err
				}
			}
			continue
		}
		res := aggregate.EmptyResult(md)
		if cs := groups[md.SubmissionID]; len(cs) > 0 {
			if res, err = aggregate.Finalize(cs); err != nil {
				return sum, err
			}
			res.InstitutionID = md.InstitutionID
		} else if len(sub.Artifacts) > 0 {
			slog.Warn("no artifact of submission could be routed", "submission", md.SubmissionID, "artifacts", len(sub.Artifacts))
		}
		results = append(results, res)
	}

	rep, err := p.publish(ctx, batchID, inputKey, results)
	if err != nil {
		return sum, err
	}
	rep.SummaryStats.ProcessingTimeMS = time.Since(start).Milliseconds()
	sum.Report = rep
	slog.Info("batch finished", "batch", batchID, "reports", len(rep.StudentReports),
		"pending", sum.Pending, "average", rep.SummaryStats.AverageOverall, "elapsed", time.Since(start))
	return sum, nil
}

// Aggregate rebuilds the reports of a batch from persisted results. Worker
// completions are finalized once every routed task of their submission has
// completed; a stored result holding fewer artifacts is rebuilt from them.
func (p *Pipeline) Aggregate(ctx context.Context, batchID string) (model.BatchReport, error) {
	if c, ok := p.configs.(interface{ Invalidate(string) }); ok {
		// Institution policy may have changed since the run.
		c.Invalidate("")
	}
	subs, err := p.results.Submissions(ctx, batchID)
	if err != nil {
		return model.BatchReport{}, fmt.Errorf("collect submissions of %s: %w", batchID, err)
	}
	stored := make(map[string]int, len(subs))
	for i, s := range subs {
		stored[s.SubmissionID] = i
	}

	order, groups, err := p.results.Completed(ctx, batchID)
	if err != nil {
		return model.BatchReport{}, fmt.Errorf("collect completions of %s: %w", batchID, err)
	}
	pending := 0
	for _, id := range order {
		cs := groups[id]
		if want := aggregate.Expected(cs); len(cs) < want {
			slog.Info("submission still pending", "submission", id, "completed", len(cs), "expected", want)
			pending++
			continue
		}
		i, ok := stored[id]
		if ok && len(subs[i].ArtifactResults) >= len(cs) {
			continue
		}
		res, err := aggregate.Finalize(cs)
		if err != nil {
			return model.BatchReport{}, err
		}
		if ok {
			if res.InstitutionID == "" {
				res.InstitutionID = subs[i].InstitutionID
			}
			subs[i] = res
			continue
		}
		subs = append(subs, res)
	}
	if len(subs) == 0 {
		slog.Warn("no results found", "batch", batchID, "pending", pending)
	}
	return p.publish(ctx, batchID, "", subs)
}

// publish aggregates results and writes every output of a batch, including
// the annotated submission results.
func (p *Pipeline) publish(ctx context.Context, batchID, source string, results []model.SubmissionResult) (model.BatchReport, error) {
	aggs := map[string]*aggregate.Aggregator{}
	reports := make([]model.StudentReport, 0, len(results))
	for i, res := range results {
		agg, ok := aggs[res.InstitutionID]
		if !ok {
			agg = p.aggregatorFor(ctx, res.InstitutionID)
			aggs[res.InstitutionID] = agg
		}
		rep := agg.Aggregate(res)
		res = aggregate.Annotate(res, rep)
		results[i] = res
		if err := p.results.SaveSubmission(ctx, res); err != nil {
			return model.BatchReport{}, fmt.Errorf("save result %s: %w", res.SubmissionID, err)
		}
		reports = append(reports, rep)
	}

	batch := p.aggregator.BatchReport(batchID, reports)
	if err := p.results.SaveBatchReport(ctx, batch); err != nil {
		return batch, fmt.Errorf("save batch report: %w", err)
	}
	csvData, err := report.CSV(reports)
	if err != nil {
		return batch, err
	}
	if err := p.blobs.Put(ctx, p.settings.ResultsBucket, blob.BatchCSVKey(batchID), csvData); err != nil {
		return batch, fmt.Errorf("save csv: %w", err)
	}
	p.writeDocuments(ctx, batchID, reports, results)

	if p.archive != nil {
		rec := model.BatchRecord{Source: source}
		for _, r := range results {
			if r.InstitutionID != "" {
				rec.InstitutionID = r.InstitutionID
				break
			}
		}
		if err := p.archive.SaveBatch(rec, batch, results); err != nil {
			return batch, fmt.Errorf("archive batch %s: %w", batchID, err)
		}
		if err := p.archive.SetRunSettings(batchID, p.settings); err != nil {
			slog.Warn("failed to record run settings", "batch", batchID, "error", err)
		}
	}
	return batch, nil
}

// writeDocuments renders one document per report. Failures are logged and
// do not fail the batch.
func (p *Pipeline) writeDocuments(ctx context.Context, batchID string, reports []model.StudentReport, results []model.SubmissionResult) {
	if p.renderer == nil {
		return
	}
	for i, rep := range reports {
		var notes []string
		for _, a := range results[i].ArtifactResults {
			if f := strings.TrimSpace(a.Feedback); f != "" {
				notes = append(notes, string(a.ArtifactType)+": "+f)
			}
		}
		feedback := report.Feedback(ctx, p.narrator, rep, p.settings.ReportLanguage, notes)
		doc, err := p.renderer.Render(ctx, rep, feedback)
		if err != nil {
			slog.Error("render failed", "student", rep.StudentID, "error", err)
			continue
		}
		if err := p.blobs.Put(ctx, p.settings.ResultsBucket, blob.StudentDocumentKey(batchID, rep.StudentID), doc); err != nil {
			slog.Error("save document failed", "student", rep.StudentID, "error", err)
		}
	}
}

// aggregatorFor applies the institution's weights and thresholds, falling
// back to the stored default institution and then to the settings.
func (p *Pipeline) aggregatorFor(ctx context.Context, institutionID string) *aggregate.Aggregator {
	if p.configs == nil {
		return p.aggregator
	}
	if institutionID != "" && institutionID != config.DefaultInstitutionID {
		if inst, err := p.configs.Institution(ctx, institutionID); err == nil {
			return p.aggregator.WithInstitution(inst)
		}
	}
	if inst, err := p.configs.DefaultInstitution(ctx); err == nil {
		return p.aggregator.WithInstitution(inst)
	}
	return p.aggregator
}

// HandleTask executes one queued task and persists its completion.
func (p *Pipeline) HandleTask(ctx context.Context, task model.ProcessingTask) error {
	c := p.exec.Execute(ctx, task)
	if err := p.results.SaveCompleted(ctx, c); err != nil {
		return fmt.Errorf("save completion %s: %w", task.TaskID, err)
	}
	slog.Info("task completed", "task", task.TaskID, "submission", task.SubmissionID,
		"artifact", task.ArtifactID, "status", c.Status)
	return nil
}

// Work consumes tasks from r until ctx is cancelled.
func (p *Pipeline) Work(ctx context.Context, r *dispatch.Receiver) error {
	return r.Run(ctx, p.HandleTask)
}

// validSubmissions logs the issues of each submission and drops those that
// cannot be keyed by a submission id.
func validSubmissions(subs []model.Submission) []model.Submission {
	out := subs[:0]
	for _, sub := range subs {
		if issues := ingest.ValidateSubmission(sub); len(issues) > 0 {
			slog.Warn("submission has issues", "submission", sub.Metadata.SubmissionID,
				"student", sub.Metadata.StudentID, "issues", issues)
		}
		if strings.TrimSpace(sub.Metadata.SubmissionID) == "" {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func resolveBatchID(batchID string, subs []model.Submission) string {
	if batchID = strings.TrimSpace(batchID); batchID != "" {
		return batchID
	}
	for _, s := range subs {
		if s.Metadata.BatchID != "" {
			return s.Metadata.BatchID
		}
	}
	return "batch_" + uuid.NewString()
}
