package model

import (
	"math"
	"time"
)

// ACEScore is the result for one scoring dimension. Score is always within [0,100].
type ACEScore struct {
	Dimension Dimension      `json:"dimension"`
	Score     float64        `json:"score"`
	Weight    float64        `json:"weight"`
	Feedback  string         `json:"feedback,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewACEScore builds a dimension score, clamping score into [0,100].
func NewACEScore(dim Dimension, score, weight float64, feedback string, details map[string]any) ACEScore {
	if details == nil {
		details = map[string]any{}
	}
	return ACEScore{
		Dimension: dim,
		Score:     ClampScore(score),
		Weight:    weight,
		Feedback:  feedback,
		Details:   details,
	}
}

// ClampScore limits v to [0,100]. NaN becomes 0.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// ArtifactResult is the scoring outcome for one artifact.
type ArtifactResult struct {
	ArtifactID       string         `json:"artifact_id"`
	ArtifactType     ArtifactType   `json:"artifact_type"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	ACEScores        []ACEScore     `json:"ace_scores"`
	OverallScore     float64        `json:"overall_score"`
	Feedback         string         `json:"feedback"`
	Metadata         map[string]any `json:"metadata"`
	Errors           []string       `json:"errors"`
	ProcessedAt      time.Time      `json:"processed_at"`
}

// OverallScore is the weight-normalized mean of scores. When every weight is
// zero it falls back to the plain mean; with no scores it is 0.
func OverallScore(scores []ACEScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum, weighted, total float64
	for _, s := range scores {
		sum += s.Score
		weighted += s.Score * s.Weight
		total += s.Weight
	}
	if total <= 0 {
		return sum / float64(len(scores))
	}
	return weighted / total
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
