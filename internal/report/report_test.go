package report

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/acegrader/internal/i18n"
	"github.com/pavelanni/acegrader/internal/llm/prompts"
	"github.com/pavelanni/acegrader/internal/model"
)

func sampleReport() model.StudentReport {
	return model.StudentReport{
		StudentID:          "stu1",
		SubmissionID:       "sub1",
		BatchID:            "b1",
		ArtifactTypes:      []string{"mcq", "text"},
		AnalysisScore:      85.33,
		CommunicationScore: 75.33,
		EvaluationScore:    95.33,
		OverallScore:       85.33,
		Passed:             true,
		WeightsApplied:     map[string]float64{"mcq": 0.4, "text": 0.35, "audio": 0.25},
		GeneratedAt:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCSV(t *testing.T) {
	data, err := CSV([]model.StudentReport{sampleReport(), {StudentID: "stu2", SubmissionID: "sub2", ArtifactTypes: []string{}}})
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(CSVHeader, ",") {
		t.Errorf("header = %v", rows[0])
	}
	want := []string{"b1", "stu1", "sub1", "mcq|text", "85.33", "75.33", "95.33", "85.33", "1", "0", "0.4", "0.35", "0.25", "2025-03-01T12:00:00Z"}
	if strings.Join(rows[1], ",") != strings.Join(want, ",") {
		t.Errorf("row = %v\nwant  %v", rows[1], want)
	}
	if rows[2][3] != "" || rows[2][8] != "0" || rows[2][10] != "0" {
		t.Errorf("empty report row = %v", rows[2])
	}
}

func newTestRenderer(t *testing.T, lang string) *TextRenderer {
	t.Helper()
	tr, err := i18n.New("en")
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewTextRenderer(tr, lang)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestTextRenderer(t *testing.T) {
	tests := []struct {
		lang     string
		feedback string
		want     []string
	}{
		{"en", "Strong analysis.", []string{
			"ACE Assessment Report", "Student: stu1", "Batch: b1",
			"2 types of work assessed:", "  - Multiple choice", "  - Written response",
			"Analysis: 85.33 / 100", "Overall: 85.33 / 100",
			"Outcome: Passed", "Spoken response: 0.25", "Strong analysis.",
		}},
		{"ru", "", []string{
			"Отчёт об оценивании ACE", "Студент: stu1", "Анализ: 85.33 / 100",
			"Результат: Сдано", "Письменный отзыв для этого отчёта недоступен.",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			out, err := newTestRenderer(t, tt.lang).Render(context.Background(), sampleReport(), tt.feedback)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("document missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestTextRendererContextLocalizerWins(t *testing.T) {
	tr, err := i18n.New("en")
	if err != nil {
		t.Fatal(err)
	}
	r, _ := NewTextRenderer(tr, "en")
	ctx := i18n.WithLocalizer(context.Background(), tr.NewLocalizer("ru"))
	out, err := r.Render(ctx, model.StudentReport{StudentID: "x"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "Не сдано") {
		t.Errorf("expected Russian outcome:\n%s", out)
	}
}

type fakeNarrator struct {
	text string
	err  error
	got  prompts.FeedbackData
}

func (f *fakeNarrator) Narrate(_ context.Context, d prompts.FeedbackData) (string, error) {
	f.got = d
	return f.text, f.err
}

func TestFeedback(t *testing.T) {
	ctx := context.Background()
	if got := Feedback(ctx, nil, sampleReport(), "en", nil); got != "" {
		t.Errorf("nil narrator = %q", got)
	}

	n := &fakeNarrator{text: "Well done."}
	if got := Feedback(ctx, n, sampleReport(), "ru", []string{"note"}); got != "Well done." {
		t.Errorf("Feedback = %q", got)
	}
	if n.got.Language != "Russian" || n.got.Overall != 85.33 || len(n.got.Notes) != 1 {
		t.Errorf("narrator data = %+v", n.got)
	}

	failing := &fakeNarrator{text: "AI feedback generation failed.", err: errors.New("timeout")}
	if got := Feedback(ctx, failing, sampleReport(), "xx", nil); got != "AI feedback generation failed." {
		t.Errorf("fallback = %q", got)
	}
	if failing.got.Language != "English" {
		t.Errorf("unknown language should default to English, got %q", failing.got.Language)
	}
}
