package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pavelanni/acegrader/internal/model"
)

const methodExactMatch = "exact_match"

// MCQ scores multiple-choice answer sheets deterministically.
type MCQ struct{}

func (MCQ) Score(_ context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error) {
	content, ok := a.Content.(model.MCQContent)
	if !ok {
		return model.ArtifactResult{}, fmt.Errorf("%w: got %T for mcq", ErrWrongContent, a.Content)
	}
	sheet := model.NewMCQContent(content.Answers)

	requested := strings.ToLower(cfg.ProcessorString("evaluation_method"))
	switch requested {
	case "", methodExactMatch:
	case "partial_credit", "ai_scoring":
		slog.Info("mcq evaluation method not implemented, using exact match", "method", requested, "artifact", a.ArtifactID)
	default:
		slog.Warn("unknown mcq evaluation method, using exact match", "method", requested, "artifact", a.ArtifactID)
	}

	total, correct, accuracy := sheet.TotalQuestions, sheet.CorrectAnswers, sheet.ScorePercentage
	weights := NormalizeWeights(cfg.ACEWeightMapping)
	scores := []model.ACEScore{
		model.NewACEScore(model.DimensionAnalysis, accuracy*0.9, weights[model.DimensionAnalysis],
			fmt.Sprintf("Analysis: %d/%d correct (%.1f%%)", correct, total, accuracy),
			map[string]any{"correct_answers": correct}),
		model.NewACEScore(model.DimensionCommunication, math.Min(accuracy, 80), weights[model.DimensionCommunication],
			"Communication: MCQ format limits expressive skills", nil),
		model.NewACEScore(model.DimensionEvaluation, accuracy, weights[model.DimensionEvaluation],
			fmt.Sprintf("Evaluation accuracy: %.1f%%", accuracy),
			map[string]any{"accuracy_percentage": accuracy}),
	}

	metadata := map[string]any{
		"total_questions":     total,
		"correct_answers":     correct,
		"accuracy_percentage": accuracy,
		"evaluation_method":   methodExactMatch,
	}
	if requested != "" && requested != methodExactMatch {
		metadata["requested_method"] = requested
	}
	return newResult(a, scores, MCQFeedback(correct, total, accuracy), metadata), nil
}

// MCQFeedback is the one-line performance summary for an answer sheet.
func MCQFeedback(correct, total int, accuracy float64) string {
	var level string
	switch {
	case accuracy >= 90:
		level = "Excellent"
	case accuracy >= 80:
		level = "Good"
	case accuracy >= 70:
		level = "Satisfactory"
	default:
		level = "Needs improvement"
	}
	return fmt.Sprintf("%s performance. You answered %d/%d correctly (%.1f%%).", level, correct, total, accuracy)
}
