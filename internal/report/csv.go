// Package report exports batch results and renders per-student documents.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/acegrader/internal/model"
)

// CSVHeader is the column order of the aggregated results export.
var CSVHeader = []string{
	"batch_id", "student_id", "submission_id", "artifact_types",
	"analysis_score", "communication_score", "evaluation_score", "overall_score",
	"passed", "excellence_achieved",
	"weight_mcq", "weight_text", "weight_audio",
	"generated_at",
}

// WriteCSV writes one row per student report.
func WriteCSV(w io.Writer, reports []model.StudentReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range reports {
		row := []string{
			r.BatchID,
			r.StudentID,
			r.SubmissionID,
			strings.Join(r.ArtifactTypes, "|"),
			formatScore(r.AnalysisScore),
			formatScore(r.CommunicationScore),
			formatScore(r.EvaluationScore),
			formatScore(r.OverallScore),
			boolFlag(r.Passed),
			boolFlag(r.ExcellenceAchieved),
			formatScore(r.WeightsApplied[string(model.ArtifactMCQ)]),
			formatScore(r.WeightsApplied[string(model.ArtifactText)]),
			formatScore(r.WeightsApplied[string(model.ArtifactAudio)]),
			r.GeneratedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", r.SubmissionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV renders the export in memory.
func CSV(reports []model.StudentReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, reports); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
