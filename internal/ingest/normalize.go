// Package ingest turns raw rows and task payloads into typed artifacts and
// submissions.
package ingest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/pavelanni/acegrader/internal/model"
)

// Normalize builds a typed artifact of type t from raw. It never fails:
// unrecognized shapes degrade to a best-effort artifact.
func Normalize(artifactID string, t model.ArtifactType, raw any) model.Artifact {
	a := model.Artifact{
		ArtifactID:   artifactID,
		ArtifactType: t,
		Metadata:     map[string]any{},
		Weight:       1.0,
	}
	if m, ok := asMap(raw); ok {
		if md, ok := asMap(m["metadata"]); ok {
			for k, v := range md {
				a.Metadata[k] = v
			}
		}
		if w, err := cast.ToFloat64E(m["weight"]); err == nil && m["weight"] != nil {
			a.Weight = w
		}
	}
	switch t {
	case model.ArtifactMCQ:
		a.Content = NormalizeMCQ(artifactID, raw)
	case model.ArtifactAudio:
		a.Content = normalizeAudio(raw)
	default:
		a.ArtifactType = model.ArtifactText
		a.Content = model.NewTextContent(ExtractText(raw))
	}
	return a
}

// ArtifactFromTask rebuilds the typed artifact carried by a processing task.
func ArtifactFromTask(task model.ProcessingTask) model.Artifact {
	var raw any = task.ArtifactPayload
	if task.ArtifactPayload == nil {
		raw = map[string]any{}
	}
	return Normalize(task.ArtifactID, task.ArtifactType, raw)
}

// mcqMatcher recognizes one input shape. Matchers run in order; the first
// match wins.
type mcqMatcher func(raw any) (model.MCQContent, bool)

var mcqMatchers = []mcqMatcher{
	matchTypedMCQ,
	matchNestedMCQData,
	matchDirectAnswers,
	matchEmbeddedJSON,
	matchBareJSON,
}

// NormalizeMCQ converts raw into an answer sheet. If no shape matches, the
// whole value becomes one unanswered question tagged with artifactID.
func NormalizeMCQ(artifactID string, raw any) model.MCQContent {
	for _, match := range mcqMatchers {
		if c, ok := match(raw); ok {
			return c
		}
	}
	slog.Warn("unrecognized mcq payload, wrapping as single answer", "artifact", artifactID)
	wrong := false
	empty := ""
	return model.NewMCQContent([]model.MCQAnswer{{
		QuestionID:     artifactID,
		SelectedOption: stringify(raw),
		CorrectOption:  &empty,
		IsCorrect:      &wrong,
	}})
}

func matchTypedMCQ(raw any) (model.MCQContent, bool) {
	switch v := raw.(type) {
	case model.MCQContent:
		return v, true
	case *model.MCQContent:
		if v != nil {
			return *v, true
		}
	case []model.MCQAnswer:
		return model.NewMCQContent(v), true
	}
	return model.MCQContent{}, false
}

func matchNestedMCQData(raw any) (model.MCQContent, bool) {
	m, ok := asMap(raw)
	if !ok {
		return model.MCQContent{}, false
	}
	data, ok := asMap(m["mcq_data"])
	if !ok {
		return model.MCQContent{}, false
	}
	list, ok := asList(data["answers"])
	if !ok {
		return model.MCQContent{}, false
	}
	return answersFromList(list), true
}

func matchDirectAnswers(raw any) (model.MCQContent, bool) {
	m, ok := asMap(raw)
	if !ok {
		return model.MCQContent{}, false
	}
	list, ok := asList(m["answers"])
	if !ok {
		return model.MCQContent{}, false
	}
	return answersFromList(list), true
}

func matchEmbeddedJSON(raw any) (model.MCQContent, bool) {
	m, ok := asMap(raw)
	if !ok {
		return model.MCQContent{}, false
	}
	s, ok := m["artifact_content"].(string)
	if !ok {
		return model.MCQContent{}, false
	}
	return parseAnswerJSON(s)
}

func matchBareJSON(raw any) (model.MCQContent, bool) {
	switch v := raw.(type) {
	case string:
		return parseAnswerJSON(v)
	case []byte:
		return parseAnswerJSON(string(v))
	}
	return model.MCQContent{}, false
}

// parseAnswerJSON accepts a JSON list of answers or an object with an answers list.
func parseAnswerJSON(s string) (model.MCQContent, bool) {
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return model.MCQContent{}, false
	}
	switch v := parsed.(type) {
	case []any:
		return answersFromList(v), true
	case map[string]any:
		if list, ok := v["answers"].([]any); ok {
			return answersFromList(list), true
		}
	}
	return model.MCQContent{}, false
}

func answersFromList(list []any) model.MCQContent {
	answers := make([]model.MCQAnswer, 0, len(list))
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			answers = append(answers, model.MCQAnswer{SelectedOption: stringify(item)})
			continue
		}
		a := model.MCQAnswer{
			QuestionID:     firstString(m, "question_id", "question"),
			SelectedOption: firstString(m, "selected_option", "answer"),
		}
		if v, ok := m["correct_option"]; ok && v != nil {
			s := stringify(v)
			a.CorrectOption = &s
		}
		if v, ok := m["is_correct"]; ok && v != nil {
			if b, err := cast.ToBoolE(v); err == nil {
				a.IsCorrect = &b
			}
		}
		answers = append(answers, a)
	}
	return model.NewMCQContent(answers)
}

// ExtractText finds the written response in raw. Router payloads carry it
// under text_data or content; a bare map is rendered as "key: value" lines.
func ExtractText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case model.TextContent:
		return strings.TrimSpace(v.TextContent)
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	}
	m, ok := asMap(raw)
	if !ok {
		return strings.TrimSpace(stringify(raw))
	}
	for _, key := range []string{"text_data", "content"} {
		if inner, ok := asMap(m[key]); ok {
			if s, ok := inner["text_content"]; ok && s != nil {
				return strings.TrimSpace(stringify(s))
			}
		}
	}
	if s, ok := m["text_content"]; ok && s != nil {
		return strings.TrimSpace(stringify(s))
	}
	if s, ok := m["artifact_content"].(string); ok {
		return strings.TrimSpace(s)
	}
	return rowText(m)
}

func rowText(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\n", k, stringify(m[k]))
	}
	return strings.TrimSpace(sb.String())
}

func normalizeAudio(raw any) model.AudioContent {
	switch v := raw.(type) {
	case model.AudioContent:
		return v
	case []byte:
		return model.AudioContent{AudioData: v, SampleRate: model.DefaultSampleRate, Format: "wav"}
	case string:
		return model.AudioContent{AudioURL: strings.TrimSpace(v), SampleRate: model.DefaultSampleRate, Format: formatFromURL(v)}
	}
	var c model.AudioContent
	m, ok := asMap(raw)
	if !ok {
		return model.AudioContent{SampleRate: model.DefaultSampleRate, Format: "wav"}
	}
	if content, ok := asMap(m["content"]); ok {
		if data, err := json.Marshal(content); err == nil {
			_ = json.Unmarshal(data, &c)
		}
	}
	if c.AudioURL == "" {
		md, _ := asMap(m["metadata"])
		ad, _ := asMap(m["audio_data"])
		c.AudioURL = firstString(m, "audio_url")
		if c.AudioURL == "" {
			c.AudioURL = firstString(ad, "audio_url", "audio_path")
		}
		if c.AudioURL == "" {
			c.AudioURL = firstString(md, "audio_url")
		}
	}
	if c.Transcript == "" {
		c.Transcript = firstString(m, "transcript")
	}
	if c.SampleRate == 0 {
		c.SampleRate = model.DefaultSampleRate
	}
	if c.Format == "" {
		c.Format = formatFromURL(c.AudioURL)
	}
	return c
}

func formatFromURL(u string) string {
	u = strings.TrimSpace(u)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	slash := strings.LastIndex(u, "/")
	dot := strings.LastIndex(u, ".")
	if u == "" || dot <= slash || dot == len(u)-1 {
		return "wav"
	}
	return strings.ToLower(u[dot+1:])
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case nil, string, []byte:
		return nil, false
	}
	l, err := cast.ToSliceE(v)
	if err != nil {
		return nil, false
	}
	return l, true
}

// asMap accepts map[string]any and any value that JSON-encodes to an object.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil, string, []byte, []any:
		return nil, false
	}
	m, err := cast.ToStringMapE(v)
	if err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return stringify(v)
		}
	}
	return ""
}

func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
