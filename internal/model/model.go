package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ArtifactType identifies the kind of scoreable student work.
type ArtifactType string

const (
	// ArtifactMCQ is a set of multiple-choice answers.
	ArtifactMCQ ArtifactType = "mcq"
	// ArtifactText is a written response.
	ArtifactText ArtifactType = "text"
	// ArtifactAudio is a spoken response.
	ArtifactAudio ArtifactType = "audio"
)

// ArtifactTypes lists every supported artifact type in canonical order.
var ArtifactTypes = []ArtifactType{ArtifactMCQ, ArtifactText, ArtifactAudio}

// Valid reports whether t is one of the supported artifact types.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactMCQ, ArtifactText, ArtifactAudio:
		return true
	}
	return false
}

// Dimension is one of the ACE scoring dimensions.
type Dimension string

const (
	DimensionAnalysis      Dimension = "analysis"
	DimensionCommunication Dimension = "communication"
	DimensionEvaluation    Dimension = "evaluation"
)

// Dimensions lists the ACE dimensions in canonical order.
var Dimensions = []Dimension{DimensionAnalysis, DimensionCommunication, DimensionEvaluation}

// Status is the lifecycle state of a submission or processing task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// SubmissionMetadata carries the identity fields shared by all artifacts of a submission.
type SubmissionMetadata struct {
	SubmissionID       string         `json:"submission_id"`
	BatchID            string         `json:"batch_id"`
	StudentID          string         `json:"student_id"`
	CourseID           string         `json:"course_id"`
	AssignmentID       string         `json:"assignment_id"`
	Timestamp          time.Time      `json:"timestamp"`
	InstitutionID      string         `json:"institution_id,omitempty"`
	AdditionalMetadata map[string]any `json:"additional_metadata,omitempty"`
}

// Artifact is one scoreable unit of student work.
type Artifact struct {
	ArtifactID   string         `json:"artifact_id"`
	ArtifactType ArtifactType   `json:"artifact_type"`
	Content      Content        `json:"content"`
	Metadata     map[string]any `json:"metadata"`
	Weight       float64        `json:"weight"`
}

// UnmarshalJSON decodes the content variant selected by artifact_type.
func (a *Artifact) UnmarshalJSON(data []byte) error {
	var aux struct {
		ArtifactID   string          `json:"artifact_id"`
		ArtifactType ArtifactType    `json:"artifact_type"`
		Content      json.RawMessage `json:"content"`
		Metadata     map[string]any  `json:"metadata"`
		Weight       *float64        `json:"weight"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	content, err := DecodeContent(aux.ArtifactType, aux.Content)
	if err != nil {
		return fmt.Errorf("artifact %s: %w", aux.ArtifactID, err)
	}
	a.ArtifactID = aux.ArtifactID
	a.ArtifactType = aux.ArtifactType
	a.Content = content
	a.Metadata = aux.Metadata
	a.Weight = 1.0
	if aux.Weight != nil {
		a.Weight = *aux.Weight
	}
	return nil
}

// Submission is one student's work for one assignment.
type Submission struct {
	Metadata  SubmissionMetadata `json:"metadata"`
	Artifacts []Artifact         `json:"artifacts"`
	Status    Status             `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// ProcessingTask is one artifact queued for scoring. Payload and routing
// config hold only JSON primitives so a task can cross a queue boundary.
// ExpectedTasks is the number of tasks routed for the same submission.
type ProcessingTask struct {
	TaskID          string         `json:"task_id"`
	SubmissionID    string         `json:"submission_id"`
	StudentID       string         `json:"student_id,omitempty"`
	BatchID         string         `json:"batch_id,omitempty"`
	InstitutionID   string         `json:"institution_id,omitempty"`
	ExpectedTasks   int            `json:"expected_tasks,omitempty"`
	ArtifactID      string         `json:"artifact_id"`
	ArtifactType    ArtifactType   `json:"artifact_type"`
	ArtifactPayload map[string]any `json:"artifact_payload"`
	RoutingConfig   map[string]any `json:"routing_config"`
	RetryCount      int            `json:"retry_count"`
	MaxRetries      int            `json:"max_retries"`
	CreatedAt       time.Time      `json:"created_at"`
}

// CompletedArtifact is the executor's output envelope for one task.
type CompletedArtifact struct {
	TaskID         string         `json:"task_id"`
	SubmissionID   string         `json:"submission_id"`
	StudentID      string         `json:"student_id,omitempty"`
	BatchID        string         `json:"batch_id,omitempty"`
	InstitutionID  string         `json:"institution_id,omitempty"`
	ExpectedTasks  int            `json:"expected_tasks,omitempty"`
	Status         Status         `json:"status"`
	ArtifactResult ArtifactResult `json:"artifact_result"`
	CompletedAt    time.Time      `json:"completed_at"`
}

// Evaluation is the structured response of the natural-language evaluator.
type Evaluation struct {
	AnalysisScore         float64 `json:"analysis_score"`
	CommunicationScore    float64 `json:"communication_score"`
	EvaluationScore       float64 `json:"evaluation_score"`
	AnalysisFeedback      string  `json:"analysis_feedback"`
	CommunicationFeedback string  `json:"communication_feedback"`
	EvaluationFeedback    string  `json:"evaluation_feedback"`
	OverallFeedback       string  `json:"overall_feedback"`
}

// FallbackEvaluation returns the all-zero evaluation used when the evaluator
// cannot produce one, carrying msg as every feedback field.
func FallbackEvaluation(msg string) Evaluation {
	return Evaluation{
		AnalysisFeedback:      msg,
		CommunicationFeedback: msg,
		EvaluationFeedback:    msg,
		OverallFeedback:       msg,
	}
}

// EvalRequest asks the evaluator to score one response.
type EvalRequest struct {
	Text     string
	Spoken   bool
	Criteria []string
}
