package model

import (
	"encoding/json"
	"math"
	"testing"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestNewMCQContent(t *testing.T) {
	tests := []struct {
		name        string
		answers     []MCQAnswer
		wantCorrect int
		wantPct     float64
	}{
		{"empty", nil, 0, 0},
		{"all correct", []MCQAnswer{
			{QuestionID: "q1", SelectedOption: "B", CorrectOption: strPtr("b")},
			{QuestionID: "q2", SelectedOption: " c ", CorrectOption: strPtr("C")},
		}, 2, 100},
		{"explicit flag wins", []MCQAnswer{
			{QuestionID: "q1", SelectedOption: "A", CorrectOption: strPtr("B"), IsCorrect: boolPtr(true)},
			{QuestionID: "q2", SelectedOption: "A", CorrectOption: strPtr("A"), IsCorrect: boolPtr(false)},
		}, 1, 50},
		{"missing correct option", []MCQAnswer{
			{QuestionID: "q1", SelectedOption: "A"},
			{QuestionID: "q2", SelectedOption: "", CorrectOption: strPtr("")},
			{QuestionID: "q3", SelectedOption: "D", CorrectOption: strPtr("D")},
		}, 1, 100.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewMCQContent(tt.answers)
			if c.TotalQuestions != len(tt.answers) {
				t.Errorf("TotalQuestions = %d, want %d", c.TotalQuestions, len(tt.answers))
			}
			if c.CorrectAnswers != tt.wantCorrect {
				t.Errorf("CorrectAnswers = %d, want %d", c.CorrectAnswers, tt.wantCorrect)
			}
			if math.Abs(c.ScorePercentage-tt.wantPct) > 1e-9 {
				t.Errorf("ScorePercentage = %v, want %v", c.ScorePercentage, tt.wantPct)
			}
			for _, a := range c.Answers {
				if a.IsCorrect == nil {
					t.Errorf("answer %s has unresolved correctness", a.QuestionID)
				}
			}
		})
	}
}

func TestNewMCQContentDoesNotMutateInput(t *testing.T) {
	in := []MCQAnswer{{QuestionID: "q1", SelectedOption: "A", CorrectOption: strPtr("A")}}
	NewMCQContent(in)
	if in[0].IsCorrect != nil {
		t.Error("input answer was modified")
	}
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-50, 0},
		{500, 100},
		{42.5, 42.5},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		s := NewACEScore(DimensionAnalysis, tt.in, 1, "", nil)
		if s.Score != tt.want {
			t.Errorf("NewACEScore(%v).Score = %v, want %v", tt.in, s.Score, tt.want)
		}
	}
}

func TestOverallScore(t *testing.T) {
	tests := []struct {
		name   string
		scores []ACEScore
		want   float64
	}{
		{"empty", nil, 0},
		{"weighted", []ACEScore{
			{Score: 80, Weight: 0.4},
			{Score: 60, Weight: 0.6},
		}, 68},
		{"zero weights", []ACEScore{
			{Score: 80},
			{Score: 60},
			{Score: 10},
		}, 50},
		{"unnormalized weights", []ACEScore{
			{Score: 100, Weight: 2},
			{Score: 50, Weight: 2},
		}, 75},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallScore(tt.scores)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("OverallScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArtifactUnmarshalJSON(t *testing.T) {
	raw := `{"artifact_id":"a1","artifact_type":"text","content":{"text_content":"hello world","word_count":2}}`
	var a Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if a.Weight != 1.0 {
		t.Errorf("Weight = %v, want default 1.0", a.Weight)
	}
	tc, ok := a.Content.(TextContent)
	if !ok {
		t.Fatalf("Content is %T, want TextContent", a.Content)
	}
	if tc.TextContent != "hello world" {
		t.Errorf("TextContent = %q", tc.TextContent)
	}

	var bad Artifact
	if err := json.Unmarshal([]byte(`{"artifact_id":"x","artifact_type":"video","content":{}}`), &bad); err == nil {
		t.Error("expected error for unknown artifact type")
	}
}

func TestRoutingConfigMapRoundTrip(t *testing.T) {
	cfg := RoutingConfig{
		ArtifactType:     ArtifactText,
		ProcessorConfig:  map[string]any{"processor_type": "ai", "model": "gpt"},
		ACEWeightMapping: map[Dimension]float64{DimensionAnalysis: 0.5, DimensionCommunication: 0.5},
	}
	m, err := cfg.ToMap()
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	back, err := RoutingConfigFromMap(m)
	if err != nil {
		t.Fatalf("RoutingConfigFromMap: %v", err)
	}
	if back.ProcessorString("model") != "gpt" {
		t.Errorf("model = %q", back.ProcessorString("model"))
	}
	if back.ACEWeightMapping[DimensionAnalysis] != 0.5 {
		t.Errorf("analysis weight = %v", back.ACEWeightMapping[DimensionAnalysis])
	}
}
