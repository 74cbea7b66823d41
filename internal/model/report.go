package model

import "time"

// SubmissionResult is the persisted outcome of processing one submission.
type SubmissionResult struct {
	SubmissionID       string           `json:"submission_id"`
	StudentID          string           `json:"student_id"`
	BatchID            string           `json:"batch_id"`
	InstitutionID      string           `json:"institution_id,omitempty"`
	ArtifactResults    []ArtifactResult `json:"artifact_results"`
	TotalScore         float64          `json:"total_score"`
	Passed             bool             `json:"passed"`
	ExcellenceAchieved bool             `json:"excellence_achieved"`
	FeedbackSummary    string           `json:"feedback_summary"`
	ProcessedAt        time.Time        `json:"processed_at"`
	ProcessingTimeMS   int64            `json:"processing_time_ms"`
	Status             string           `json:"status"`
}

// StudentReport is the aggregated result across all artifacts of one submission.
type StudentReport struct {
	StudentID          string             `json:"student_id"`
	SubmissionID       string             `json:"submission_id"`
	BatchID            string             `json:"batch_id,omitempty"`
	ArtifactTypes      []string           `json:"artifact_types"`
	AnalysisScore      float64            `json:"analysis_score"`
	CommunicationScore float64            `json:"communication_score"`
	EvaluationScore    float64            `json:"evaluation_score"`
	OverallScore       float64            `json:"overall_score"`
	Passed             bool               `json:"passed"`
	ExcellenceAchieved bool               `json:"excellence_achieved"`
	WeightsApplied     map[string]float64 `json:"weights_applied"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// DimensionScore returns the report's average for dim.
func (r StudentReport) DimensionScore(dim Dimension) float64 {
	switch dim {
	case DimensionAnalysis:
		return r.AnalysisScore
	case DimensionCommunication:
		return r.CommunicationScore
	case DimensionEvaluation:
		return r.EvaluationScore
	}
	return 0
}

// SummaryStats are batch-level statistics. Averages and rates are rounded to two decimals.
type SummaryStats struct {
	TotalStudents        int     `json:"total_students"`
	AverageOverall       float64 `json:"average_overall"`
	AverageAnalysis      float64 `json:"average_analysis"`
	AverageCommunication float64 `json:"average_communication"`
	AverageEvaluation    float64 `json:"average_evaluation"`
	PassRate             float64 `json:"pass_rate"`
	ExcellenceRate       float64 `json:"excellence_rate"`
	ProcessingTimeMS     int64   `json:"processing_time_ms,omitempty"`
}

// BatchReport combines every student report of a batch.
type BatchReport struct {
	BatchID        string          `json:"batch_id"`
	GeneratedAt    time.Time       `json:"generated_at"`
	StudentReports []StudentReport `json:"student_reports"`
	SummaryStats   SummaryStats    `json:"summary_stats"`
}

// BatchRecord is the stored summary row of one batch run.
type BatchRecord struct {
	BatchID        string    `json:"batch_id"`
	InstitutionID  string    `json:"institution_id,omitempty"`
	Source         string    `json:"source,omitempty"`
	Status         string    `json:"status"`
	TotalStudents  int       `json:"total_students"`
	AverageOverall float64   `json:"average_overall"`
	PassRate       float64   `json:"pass_rate"`
	ExcellenceRate float64   `json:"excellence_rate"`
	CreatedAt      time.Time `json:"created_at"`
}

// StudentDetail is one student's report with the artifact results behind it.
type StudentDetail struct {
	Report    StudentReport    `json:"report"`
	Artifacts []ArtifactResult `json:"artifacts"`
}

// BatchExport is everything stored about a batch.
type BatchExport struct {
	Batch    BatchRecord       `json:"batch"`
	Report   BatchReport       `json:"report"`
	Students []StudentDetail   `json:"students"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
