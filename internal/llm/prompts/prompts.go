package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant selects how demanding the evaluation prompt is.
type PromptVariant string

const (
	PromptStrict   PromptVariant = "strict"
	PromptStandard PromptVariant = "standard"
	PromptLenient  PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var funcs = template.FuncMap{"join": strings.Join}

var (
	loadOnce         sync.Once
	loadErr          error
	evalTemplates    map[PromptVariant]*template.Template
	feedbackTemplate *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// EvalData holds template data for ACE evaluation prompts.
type EvalData struct {
	Answer   string
	Spoken   bool
	Criteria []string
}

// FeedbackData holds template data for the narrative feedback prompt.
type FeedbackData struct {
	Language      string
	Analysis      float64
	Communication float64
	Evaluation    float64
	Overall       float64
	Passed        bool
	ArtifactTypes []string
	Notes         []string
}

func load() error {
	loadOnce.Do(func() {
		evalTemplates = make(map[PromptVariant]*template.Template)
		for v := range validVariants {
			name := "templates/ace_" + string(v) + ".txt"
			tmpl, err := parse(name)
			if err != nil {
				loadErr = err
				return
			}
			evalTemplates[v] = tmpl
		}
		feedbackTemplate, loadErr = parse("templates/feedback.txt")
	})
	return loadErr
}

func parse(name string) (*template.Template, error) {
	content, err := templateFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildEvalPrompt renders the ACE evaluation prompt for a student answer.
func BuildEvalPrompt(variant PromptVariant, data EvalData) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := evalTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}
	data.Answer = sanitizeAnswer(data.Answer)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildFeedbackPrompt renders the prompt for a narrative student summary.
func BuildFeedbackPrompt(data FeedbackData) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	if data.Language == "" {
		data.Language = "English"
	}
	notes := make([]string, len(data.Notes))
	for i, n := range data.Notes {
		notes[i] = sanitizeAnswer(n)
	}
	data.Notes = notes
	var buf bytes.Buffer
	if err := feedbackTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
