package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Content is the typed payload of an artifact. Exactly one implementation
// exists per ArtifactType.
type Content interface {
	Type() ArtifactType
}

// MCQAnswer is a single multiple-choice answer. A nil IsCorrect means
// correctness has not been determined yet.
type MCQAnswer struct {
	QuestionID     string  `json:"question_id"`
	SelectedOption string  `json:"selected_option"`
	CorrectOption  *string `json:"correct_option,omitempty"`
	IsCorrect      *bool   `json:"is_correct,omitempty"`
}

// MCQContent is an ordered answer sheet plus its derived totals.
type MCQContent struct {
	Answers         []MCQAnswer `json:"answers"`
	TotalQuestions  int         `json:"total_questions"`
	CorrectAnswers  int         `json:"correct_answers"`
	ScorePercentage float64     `json:"score_percentage"`
}

func (MCQContent) Type() ArtifactType { return ArtifactMCQ }

// NewMCQContent resolves missing correctness on every answer and derives
// the totals. The input slice is not modified.
func NewMCQContent(answers []MCQAnswer) MCQContent {
	out := make([]MCQAnswer, len(answers))
	correct := 0
	for i, a := range answers {
		if a.IsCorrect == nil {
			ok := AnswerMatches(a.SelectedOption, a.CorrectOption)
			a.IsCorrect = &ok
		}
		if *a.IsCorrect {
			correct++
		}
		out[i] = a
	}
	c := MCQContent{
		Answers:        out,
		TotalQuestions: len(out),
		CorrectAnswers: correct,
	}
	if c.TotalQuestions > 0 {
		c.ScorePercentage = float64(correct) / float64(c.TotalQuestions) * 100
	}
	return c
}

// AnswerMatches compares a selected option with the expected one, ignoring
// case and surrounding whitespace. An absent or blank expected option never matches.
func AnswerMatches(selected string, correct *string) bool {
	if correct == nil {
		return false
	}
	want := normalizeOption(*correct)
	if want == "" {
		return false
	}
	return normalizeOption(selected) == want
}

func normalizeOption(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// TextContent is a written response.
type TextContent struct {
	TextContent string `json:"text_content"`
	WordCount   int    `json:"word_count"`
	Language    string `json:"language,omitempty"`
}

func (TextContent) Type() ArtifactType { return ArtifactText }

// NewTextContent builds a text payload with its word count.
func NewTextContent(text string) TextContent {
	return TextContent{TextContent: text, WordCount: len(strings.Fields(text))}
}

// AudioContent is a spoken response, held inline or by reference.
type AudioContent struct {
	AudioData       []byte  `json:"audio_data,omitempty"`
	AudioURL        string  `json:"audio_url,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Format          string  `json:"format"`
	Transcript      string  `json:"transcript,omitempty"`
}

func (AudioContent) Type() ArtifactType { return ArtifactAudio }

// DefaultSampleRate is assumed when a source does not state one.
const DefaultSampleRate = 44100

// DecodeContent decodes raw JSON into the content variant for t.
func DecodeContent(t ArtifactType, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch t {
	case ArtifactMCQ:
		var c MCQContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode mcq content: %w", err)
		}
		return c, nil
	case ArtifactText:
		var c TextContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode text content: %w", err)
		}
		return c, nil
	case ArtifactAudio:
		var c AudioContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode audio content: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown artifact type %q", t)
}
