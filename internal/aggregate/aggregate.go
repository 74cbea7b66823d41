// Package aggregate combines artifact results into student and batch reports.
package aggregate

import (
	"log/slog"
	"maps"
	"time"

	"github.com/pavelanni/acegrader/internal/config"
	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
)

// Aggregator applies two weighting layers: artifact type to dimension
// average, then dimension averages to the overall score.
type Aggregator struct {
	artifactWeights map[model.ArtifactType]float64
	aceWeights      map[model.Dimension]float64
	passing         float64
	excellence      float64
	metrics         *metrics.Recorder
	now             func() time.Time
}

func New(s config.Settings, rec *metrics.Recorder) *Aggregator {
	return &Aggregator{
		artifactWeights: maps.Clone(s.ArtifactWeights),
		aceWeights:      maps.Clone(s.ACEWeights),
		passing:         s.PassingThreshold,
		excellence:      s.ExcellenceThreshold,
		metrics:         rec,
		now:             time.Now,
	}
}

// WithInstitution returns a copy using the institution's dimension weights
// and thresholds where it sets them. Artifact-type weights are unchanged.
func (a *Aggregator) WithInstitution(inst model.InstitutionConfig) *Aggregator {
	c := *a
	if len(inst.ACEWeights) > 0 {
		c.aceWeights = maps.Clone(inst.ACEWeights)
	}
	if inst.PassingThreshold > 0 {
		c.passing = inst.PassingThreshold
	}
	if inst.ExcellenceThreshold > 0 {
		c.excellence = inst.ExcellenceThreshold
	}
	return &c
}

func (a *Aggregator) weightsApplied() map[string]float64 {
	out := make(map[string]float64, len(a.artifactWeights))
	for t, w := range a.artifactWeights {
		out[string(t)] = w
	}
	return out
}

// Aggregate builds the report for one submission. Every artifact's type
// weight counts toward the denominator, including failed artifacts with no
// scores, so a failure pulls the averages down rather than vanishing.
func (a *Aggregator) Aggregate(sub model.SubmissionResult) model.StudentReport {
	if len(sub.ArtifactResults) == 0 {
		slog.Warn("no artifact results in submission", "submission", sub.SubmissionID)
		return a.record(a.empty(sub))
	}

	sums := map[model.Dimension]float64{}
	var total float64
	var types []string
	seen := map[model.ArtifactType]bool{}
	for _, r := range sub.ArtifactResults {
		if !seen[r.ArtifactType] {
			seen[r.ArtifactType] = true
			types = append(types, string(r.ArtifactType))
		}
		w := a.artifactWeights[r.ArtifactType]
		total += w
		for _, s := range r.ACEScores {
			sums[s.Dimension] += s.Score * w
		}
	}
	if total == 0 {
		total = 1
	}

	analysis := model.Round2(sums[model.DimensionAnalysis] / total)
	communication := model.Round2(sums[model.DimensionCommunication] / total)
	evaluation := model.Round2(sums[model.DimensionEvaluation] / total)
	overall := analysis*a.aceWeights[model.DimensionAnalysis] +
		communication*a.aceWeights[model.DimensionCommunication] +
		evaluation*a.aceWeights[model.DimensionEvaluation]

	return a.record(model.StudentReport{
		StudentID:          sub.StudentID,
		SubmissionID:       sub.SubmissionID,
		BatchID:            sub.BatchID,
		ArtifactTypes:      types,
		AnalysisScore:      analysis,
		CommunicationScore: communication,
		EvaluationScore:    evaluation,
		OverallScore:       model.Round2(overall),
		Passed:             overall >= a.passing,
		ExcellenceAchieved: overall >= a.excellence,
		WeightsApplied:     a.weightsApplied(),
		GeneratedAt:        a.now().UTC(),
	})
}

func (a *Aggregator) empty(sub model.SubmissionResult) model.StudentReport {
	return model.StudentReport{
		StudentID:      sub.StudentID,
		SubmissionID:   sub.SubmissionID,
		BatchID:        sub.BatchID,
		ArtifactTypes:  []string{},
		WeightsApplied: a.weightsApplied(),
		GeneratedAt:    a.now().UTC(),
	}
}

func (a *Aggregator) record(r model.StudentReport) model.StudentReport {
	a.metrics.ReportGenerated(r)
	return r
}

// AggregateAll reports every submission, in input order.
func (a *Aggregator) AggregateAll(subs []model.SubmissionResult) []model.StudentReport {
	if len(subs) == 0 {
		slog.Warn("no submissions to aggregate")
	}
	reports := make([]model.StudentReport, 0, len(subs))
	for _, s := range subs {
		reports = append(reports, a.Aggregate(s))
	}
	return reports
}

// Summarize computes batch statistics. An empty batch is all zero.
func Summarize(reports []model.StudentReport) model.SummaryStats {
	n := len(reports)
	if n == 0 {
		return model.SummaryStats{}
	}
	var overall, analysis, communication, evaluation float64
	var passed, excellent int
	for _, r := range reports {
		overall += r.OverallScore
		analysis += r.AnalysisScore
		communication += r.CommunicationScore
		evaluation += r.EvaluationScore
		if r.Passed {
			passed++
		}
		if r.ExcellenceAchieved {
			excellent++
		}
	}
	fn := float64(n)
	return model.SummaryStats{
		TotalStudents:        n,
		AverageOverall:       model.Round2(overall / fn),
		AverageAnalysis:      model.Round2(analysis / fn),
		AverageCommunication: model.Round2(communication / fn),
		AverageEvaluation:    model.Round2(evaluation / fn),
		PassRate:             model.Round2(float64(passed) / fn * 100),
		ExcellenceRate:       model.Round2(float64(excellent) / fn * 100),
	}
}

// BatchReport wraps reports with their summary.
func (a *Aggregator) BatchReport(batchID string, reports []model.StudentReport) model.BatchReport {
	if reports == nil {
		reports = []model.StudentReport{}
	}
	return model.BatchReport{
		BatchID:        batchID,
		GeneratedAt:    a.now().UTC(),
		StudentReports: reports,
		SummaryStats:   Summarize(reports),
	}
}
