package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/acegrader/internal/model"
)

const excerptRunes = 200

// Audio transcribes spoken responses, then scores the transcript like text.
type Audio struct {
	Evaluator   Evaluator
	Transcriber Transcriber
	Fetcher     AudioFetcher
	// ModelName is reported in result metadata.
	ModelName string
}

func (s Audio) Score(ctx context.Context, a model.Artifact, cfg model.RoutingConfig) (model.ArtifactResult, error) {
	content, ok := a.Content.(model.AudioContent)
	if !ok {
		return model.ArtifactResult{}, fmt.Errorf("%w: got %T for audio", ErrWrongContent, a.Content)
	}

	transcript := strings.TrimSpace(content.Transcript)
	transcribed := false
	if transcript == "" {
		var err error
		transcript, err = s.transcribe(ctx, content)
		if err != nil {
			return model.ArtifactResult{}, err
		}
		transcribed = true
	}

	ev, evalErr := evaluate(ctx, s.Evaluator, model.EvalRequest{
		Text:     transcript,
		Spoken:   true,
		Criteria: stringList(cfg.ProcessorConfig["communication_metrics"]),
	})

	metadata := map[string]any{
		"audio_url":          content.AudioURL,
		"transcript":         transcript,
		"transcript_excerpt": excerpt(transcript),
		"duration_seconds":   content.DurationSeconds,
	}
	if transcribed {
		metadata["whisper_model"] = s.ModelName
	}
	scores := evaluationScores(ev, NormalizeWeights(cfg.ACEWeightMapping))
	res := newResult(a, scores, feedbackOrDefault(ev.OverallFeedback), metadata)
	if evalErr != nil {
		res.Errors = append(res.Errors, evalErr.Error())
	}
	return res, nil
}

func (s Audio) transcribe(ctx context.Context, c model.AudioContent) (string, error) {
	data := c.AudioData
	if len(data) == 0 {
		if strings.TrimSpace(c.AudioURL) == "" {
			return "", ErrNoAudio
		}
		if s.Fetcher == nil {
			return "", fmt.Errorf("fetch audio %s: no fetcher configured", c.AudioURL)
		}
		slog.Info("fetching audio", "url", c.AudioURL)
		var err error
		data, err = s.Fetcher.Fetch(ctx, c.AudioURL)
		if err != nil {
			return "", fmt.Errorf("fetch audio: %w", err)
		}
	}
	if s.Transcriber == nil {
		return "", fmt.Errorf("%w: no transcriber configured", ErrNoTranscript)
	}
	text, err := s.Transcriber.Transcribe(ctx, data, c.Format)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoTranscript, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoTranscript
	}
	return text, nil
}

func excerpt(s string) string {
	r := []rune(s)
	if len(r) <= excerptRunes {
		return s
	}
	return string(r[:excerptRunes]) + "..."
}
