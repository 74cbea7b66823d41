package store

import (
	"fmt"

	"github.com/pavelanni/acegrader/internal/model"
)

// ExportBatch gathers everything stored about a batch: its record, report,
// per-student artifact results and run metadata.
func (s *Store) ExportBatch(batchID string) (model.BatchExport, error) {
	rec, rep, err := s.GetBatch(batchID)
	if err != nil {
		return model.BatchExport{}, err
	}

	students := make([]model.StudentDetail, 0, len(rep.StudentReports))
	for _, r := range rep.StudentReports {
		arts, err := s.ArtifactResults(batchID, r.SubmissionID)
		if err != nil {
			return model.BatchExport{}, fmt.Errorf("artifacts of %s: %w", r.SubmissionID, err)
		}
		students = append(students, model.StudentDetail{Report: r, Artifacts: arts})
	}

	md, err := s.Metadata(batchID)
	if err != nil {
		return model.BatchExport{}, fmt.Errorf("metadata of %s: %w", batchID, err)
	}
	return model.BatchExport{
		Batch:    rec,
		Report:   rep,
		Students: students,
		Metadata: md,
	}, nil
}
