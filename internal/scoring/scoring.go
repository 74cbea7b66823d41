// Package scoring holds one scoring strategy per artifact type.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/pavelanni/acegrader/internal/model"
)

var (
	ErrEmptyText    = errors.New("empty written response text")
	ErrNoAudio      = errors.New("missing audio_url in payload")
	ErrNoTranscript = errors.New("transcription produced no transcript")
	ErrWrongContent = errors.New("artifact content does not match strategy")
	ErrNoStrategy   = errors.New("no scoring strategy for artifact type")
)

// Strategy scores one artifact. A returned error means the artifact failed;
// callers convert it into a zero-score result.
type Strategy interface {
	Score(ctx context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error)
}

// Evaluator scores free text on the ACE dimensions. On error it still
// returns a usable fallback evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req model.EvalRequest) (model.Evaluation, error)
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// AudioFetcher downloads referenced audio.
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Table is the closed artifact type to strategy dispatch.
type Table struct {
	MCQ   Strategy
	Text  Strategy
	Audio Strategy
}

// For returns the strategy registered for t.
func (t Table) For(at model.ArtifactType) (Strategy, error) {
	var s Strategy
	switch at {
	case model.ArtifactMCQ:
		s = t.MCQ
	case model.ArtifactText:
		s = t.Text
	case model.ArtifactAudio:
		s = t.Audio
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoStrategy, at)
	}
	return s, nil
}

// NormalizeWeights returns the three dimension weights scaled to sum to 1.
// Missing dimensions count as 0; an all-zero map stays all zero, which makes
// the overall score an unweighted mean.
func NormalizeWeights(m map[model.Dimension]float64) map[model.Dimension]float64 {
	out := make(map[model.Dimension]float64, len(model.Dimensions))
	var total float64
	for _, d := range model.Dimensions {
		w := m[d]
		if w < 0 {
			w = 0
		}
		out[d] = w
		total += w
	}
	if total == 0 {
		total = 1
	}
	for d, w := range out {
		out[d] = w / total
	}
	return out
}

// evaluationScores maps an evaluator response to dimension scores.
func evaluationScores(ev model.Evaluation, weights map[model.Dimension]float64) []model.ACEScore {
	return []model.ACEScore{
		model.NewACEScore(model.DimensionAnalysis, ev.AnalysisScore, weights[model.DimensionAnalysis], ev.AnalysisFeedback, nil),
		model.NewACEScore(model.DimensionCommunication, ev.CommunicationScore, weights[model.DimensionCommunication], ev.CommunicationFeedback, nil),
		model.NewACEScore(model.DimensionEvaluation, ev.EvaluationScore, weights[model.DimensionEvaluation], ev.EvaluationFeedback, nil),
	}
}

func newResult(a model.Artifact, scores []model.ACEScore, feedback string, metadata map[string]any) model.ArtifactResult {
	return model.ArtifactResult{
		ArtifactID:   a.ArtifactID,
		ArtifactType: a.ArtifactType,
		ACEScores:    scores,
		OverallScore: model.OverallScore(scores),
		Feedback:     feedback,
		Metadata:     metadata,
		Errors:       []string{},
		ProcessedAt:  time.Now().UTC(),
	}
}

func evaluationMap(ev model.Evaluation) map[string]any {
	m, err := model.ToPrimitive(ev)
	if err != nil {
		return map[string]any{}
	}
	out, _ := m.(map[string]any)
	return out
}

func stringList(v any) []string {
	l, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return l
}
