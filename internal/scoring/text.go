package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/pavelanni/acegrader/internal/model"
)

// Text scores written responses through an Evaluator.
type Text struct {
	Evaluator Evaluator
}

func (s Text) Score(ctx context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error) {
	content, ok := a.Content.(model.TextContent)
	if !ok {
		return model.ArtifactResult{}, fmt.Errorf("%w: got %T for text", ErrWrongContent, a.Content)
	}
	text := strings.TrimSpace(content.TextContent)
	if text == "" {
		return model.ArtifactResult{}, ErrEmptyText
	}

	ev, evalErr := evaluate(ctx, s.Evaluator, model.EvalRequest{
		Text:     text,
		Criteria: stringList(cfg.ProcessorConfig["evaluation_criteria"]),
	})

	scores := evaluationScores(ev, NormalizeWeights(cfg.ACEWeightMapping))
	res := newResult(a, scores, feedbackOrDefault(ev.OverallFeedback), map[string]any{
		"raw_ai_output": evaluationMap(ev),
		"text_length":   utf8.RuneCountInString(text),
	})
	if evalErr != nil {
		res.Errors = append(res.Errors, evalErr.Error())
	}
	return res, nil
}

// evaluate calls ev, substituting the unavailable fallback when ev is nil.
func evaluate(ctx context.Context, ev Evaluator, req model.EvalRequest) (model.Evaluation, error) {
	if ev == nil {
		return model.FallbackEvaluation("AI model unavailable."), fmt.Errorf("evaluator not configured")
	}
	out, err := ev.Evaluate(ctx, req)
	if err != nil {
		slog.Warn("evaluator degraded to fallback", "error", err)
	}
	return out, err
}

func feedbackOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Evaluation complete."
	}
	return s
}
