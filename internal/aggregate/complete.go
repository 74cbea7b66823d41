package aggregate

import (
	"errors"
	"strings"
	"time"

	"github.com/pavelanni/acegrader/internal/model"
)

const (
	unknownStudent = "UNKNOWN_STUDENT"
	unknownBatch   = "UNKNOWN_BATCH"
)

// ErrNoArtifacts is returned by Finalize for an empty input.
var ErrNoArtifacts = errors.New("no completed artifacts to finalize")

// Finalize joins the completed artifacts of one submission. Identity comes
// from the first entry.
func Finalize(completed []model.CompletedArtifact) (model.SubmissionResult, error) {
	if len(completed) == 0 {
		return model.SubmissionResult{}, ErrNoArtifacts
	}
	first := completed[0]
	res := model.SubmissionResult{
		SubmissionID:    first.SubmissionID,
		StudentID:       orDefault(first.StudentID, unknownStudent),
		BatchID:         orDefault(first.BatchID, unknownBatch),
		InstitutionID:   first.InstitutionID,
		ArtifactResults: make([]model.ArtifactResult, 0, len(completed)),
		ProcessedAt:     time.Now().UTC(),
		Status:          string(model.StatusCompleted),
	}
	for _, c := range completed {
		res.ArtifactResults = append(res.ArtifactResults, c.ArtifactResult)
		res.ProcessingTimeMS += c.ArtifactResult.ProcessingTimeMS
	}
	return res, nil
}

// Expected returns the task count recorded on the completions of one
// submission, or 0 when none was recorded.
func Expected(completed []model.CompletedArtifact) int {
	n := 0
	for _, c := range completed {
		n = max(n, c.ExpectedTasks)
	}
	return n
}

// EmptyResult is the result for a submission that produced no tasks, so it
// still gets a report.
func EmptyResult(md model.SubmissionMetadata) model.SubmissionResult {
	return model.SubmissionResult{
		SubmissionID:    md.SubmissionID,
		StudentID:       orDefault(md.StudentID, unknownStudent),
		BatchID:         orDefault(md.BatchID, unknownBatch),
		InstitutionID:   md.InstitutionID,
		ArtifactResults: []model.ArtifactResult{},
		ProcessedAt:     time.Now().UTC(),
		Status:          string(model.StatusCompleted),
	}
}

// Annotate copies the report outcome onto the submission result.
func Annotate(res model.SubmissionResult, rep model.StudentReport) model.SubmissionResult {
	res.TotalScore = rep.OverallScore
	res.Passed = rep.Passed
	res.ExcellenceAchieved = rep.ExcellenceAchieved
	var parts []string
	for _, r := range res.ArtifactResults {
		if f := strings.TrimSpace(r.Feedback); f != "" {
			parts = append(parts, string(r.ArtifactType)+": "+f)
		}
	}
	res.FeedbackSummary = strings.Join(parts, "\n")
	return res
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
