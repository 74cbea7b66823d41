package report

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/pavelanni/acegrader/internal/i18n"
	"github.com/pavelanni/acegrader/internal/llm/prompts"
	"github.com/pavelanni/acegrader/internal/model"
)

// Renderer turns a student report and free-text feedback into a document.
type Renderer interface {
	Render(ctx context.Context, rep model.StudentReport, feedback string) ([]byte, error)
}

// Narrator writes feedback prose from report scores. llm.Client implements it.
type Narrator interface {
	Narrate(ctx context.Context, data prompts.FeedbackData) (string, error)
}

//go:embed templates/student.txt
var studentTemplate string

var languageNames = map[string]string{"en": "English", "ru": "Russian"}

// TextRenderer produces a localized plain-text report.
type TextRenderer struct {
	translator *i18n.Translator
	lang       string
	tmpl       *template.Template
}

func NewTextRenderer(tr *i18n.Translator, lang string) (*TextRenderer, error) {
	tmpl, err := template.New("student").Parse(studentTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &TextRenderer{translator: tr, lang: lang, tmpl: tmpl}, nil
}

type documentData struct {
	Title           string
	StudentLabel    string
	StudentID       string
	SubmissionLabel string
	SubmissionID    string
	BatchLabel      string
	BatchID         string
	GeneratedLabel  string
	Generated       string

	Assessed      string
	ArtifactNames []string

	ScoresHeading string
	Scores        []string
	Overall       string
	OutcomeLabel  string
	Outcome       string

	WeightsHeading string
	Weights        []string

	FeedbackHeading string
	Feedback        string
}

// Render writes the document in the renderer's language. A localizer
// already in ctx takes precedence.
func (r *TextRenderer) Render(ctx context.Context, rep model.StudentReport, feedback string) ([]byte, error) {
	ctx = r.localized(ctx)
	d := documentData{
		Title:           i18n.T(ctx, "ReportTitle"),
		StudentLabel:    i18n.T(ctx, "StudentLabel"),
		SubmissionLabel: i18n.T(ctx, "SubmissionLabel"),
		BatchLabel:      i18n.T(ctx, "BatchLabel"),
		GeneratedLabel:  i18n.T(ctx, "GeneratedLabel"),
		StudentID:       rep.StudentID,
		SubmissionID:    rep.SubmissionID,
		BatchID:         rep.BatchID,
		Generated:       rep.GeneratedAt.UTC().Format(time.DateTime),
		Assessed:        i18n.Tp(ctx, "ArtifactsAssessed", len(rep.ArtifactTypes)),
		ScoresHeading:   i18n.T(ctx, "ScoresHeading"),
		OutcomeLabel:    i18n.T(ctx, "OutcomeLabel"),
		Outcome:         i18n.T(ctx, outcomeID(rep)),
		WeightsHeading:  i18n.T(ctx, "WeightsHeading"),
		FeedbackHeading: i18n.T(ctx, "FeedbackHeading"),
		Feedback:        strings.TrimSpace(feedback),
	}
	if d.Feedback == "" {
		d.Feedback = i18n.T(ctx, "FeedbackUnavailable")
	}
	for _, t := range rep.ArtifactTypes {
		d.ArtifactNames = append(d.ArtifactNames, i18n.T(ctx, "ArtifactType_"+t))
	}
	for _, dim := range model.Dimensions {
		d.Scores = append(d.Scores, scoreText(ctx, dimensionID(dim), rep.DimensionScore(dim)))
	}
	d.Overall = scoreText(ctx, "OverallLabel", rep.OverallScore)
	for _, t := range model.ArtifactTypes {
		if w, ok := rep.WeightsApplied[string(t)]; ok {
			d.Weights = append(d.Weights, fmt.Sprintf("%s: %s", i18n.T(ctx, "ArtifactType_"+string(t)), formatScore(w)))
		}
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render report for %s: %w", rep.StudentID, err)
	}
	return buf.Bytes(), nil
}

func (r *TextRenderer) localized(ctx context.Context) context.Context {
	if r.translator == nil {
		return ctx
	}
	if i18n.HasLocalizer(ctx) {
		return ctx
	}
	return i18n.WithLocalizer(ctx, r.translator.NewLocalizer(r.lang))
}

func scoreText(ctx context.Context, nameID string, score float64) string {
	return i18n.Td(ctx, "ScoreLine", map[string]any{
		"Name":  i18n.T(ctx, nameID),
		"Score": strconv.FormatFloat(score, 'f', 2, 64),
	})
}

func dimensionID(d model.Dimension) string {
	switch d {
	case model.DimensionAnalysis:
		return "DimensionAnalysis"
	case model.DimensionCommunication:
		return "DimensionCommunication"
	}
	return "DimensionEvaluation"
}

func outcomeID(rep model.StudentReport) string {
	switch {
	case rep.ExcellenceAchieved:
		return "OutcomeExcellent"
	case rep.Passed:
		return "OutcomePassed"
	}
	return "OutcomeFailed"
}

// Feedback asks n for narrative feedback on rep. When n is nil or fails,
// the fallback text it returned (possibly empty) is used.
func Feedback(ctx context.Context, n Narrator, rep model.StudentReport, lang string, notes []string) string {
	if n == nil {
		return ""
	}
	name := languageNames[lang]
	if name == "" {
		name = languageNames["en"]
	}
	text, err := n.Narrate(ctx, prompts.FeedbackData{
		Language:      name,
		Analysis:      rep.AnalysisScore,
		Communication: rep.CommunicationScore,
		Evaluation:    rep.EvaluationScore,
		Overall:       rep.OverallScore,
		Passed:        rep.Passed,
		ArtifactTypes: rep.ArtifactTypes,
		Notes:         notes,
	})
	if err != nil {
		slog.Warn("narrative feedback unavailable", "student", rep.StudentID, "error", err)
	}
	return text
}
