package ingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/charmap"

	"github.com/pavelanni/acegrader/internal/model"
)

var requiredColumns = []string{
	"submission_id",
	"batch_id",
	"student_id",
	"course_id",
	"assignment_id",
	"artifact_type",
	"artifact_content",
}

var (
	urlRe    = regexp.MustCompile(`https?://\S+`)
	mcqColRe = regexp.MustCompile(`^([1-9]|1[0-9]|2[0-2])\.`)
)

var scoreSuffixes = []string{" - score", " Score", "_score", " score"}

// ErrEmptyCSV is returned for input without a header row.
var ErrEmptyCSV = errors.New("csv has no header row")

// Parser converts CSV exports into submissions.
type Parser struct {
	now   func() time.Time
	newID func() string
}

func NewParser() *Parser {
	return &Parser{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// ParseCSV decodes data and parses it with the known submission schema when
// every required column is present, otherwise with the per-row dynamic parser.
func (p *Parser) ParseCSV(data []byte) ([]model.Submission, error) {
	text, enc := decodeCSV(data)
	slog.Info("decoded csv", "encoding", enc, "bytes", len(data))

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyCSV
	}
	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	rows := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			continue
		}
		rows = append(rows, newRow(header, rec))
	}

	if hasColumns(header, requiredColumns) {
		slog.Info("recognized known csv schema")
		return p.parseKnown(header, rows)
	}
	slog.Warn("unknown csv schema, using dynamic parser")
	return p.parseDynamic(header, rows), nil
}

// decodeCSV tries utf-8, utf-8 with BOM, cp1252 and finally iso-8859-1.
func decodeCSV(data []byte) (string, string) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) && utf8.Valid(data[3:]) {
		return string(data[3:]), "utf-8-sig"
	}
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	if !hasUndefinedCP1252(data) {
		if out, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
			return string(out), "cp1252"
		}
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out), "iso-8859-1"
}

// hasUndefinedCP1252 reports bytes that have no cp1252 mapping.
func hasUndefinedCP1252(data []byte) bool {
	for _, b := range data {
		switch b {
		case 0x81, 0x8d, 0x8f, 0x90, 0x9d:
			return true
		}
	}
	return false
}

// row keeps column order for the dynamic parser.
type row struct {
	cols   []string
	values map[string]string
}

func newRow(header, rec []string) row {
	r := row{cols: header, values: make(map[string]string, len(header))}
	for i, h := range header {
		if i < len(rec) {
			r.values[h] = strings.TrimSpace(rec[i])
		}
	}
	return r
}

func (r row) get(keys ...string) string {
	for _, k := range keys {
		if v := r.values[k]; v != "" {
			return v
		}
	}
	return ""
}

func (r row) asMap() map[string]any {
	m := make(map[string]any, len(r.values))
	for k, v := range r.values {
		if v == "" {
			m[k] = nil
			continue
		}
		m[k] = v
	}
	return m
}

func (p *Parser) parseKnown(header []string, rows []row) ([]model.Submission, error) {
	var invalid []string
	seen := map[string]bool{}
	for _, r := range rows {
		t := r.values["artifact_type"]
		if !model.ArtifactType(t).Valid() && !seen[t] {
			seen[t] = true
			invalid = append(invalid, t)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid artifact types found: %v", invalid)
	}

	var order []string
	groups := map[string][]row{}
	for _, r := range rows {
		id := r.values["submission_id"]
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}

	subs := make([]model.Submission, 0, len(order))
	for _, id := range order {
		sub, err := p.knownSubmission(groups[id])
		if err != nil {
			slog.Error("failed to parse submission", "submission", id, "error", err)
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (p *Parser) knownSubmission(rows []row) (model.Submission, error) {
	first := rows[0]
	meta := model.SubmissionMetadata{
		SubmissionID:  first.values["submission_id"],
		BatchID:       first.values["batch_id"],
		StudentID:     first.values["student_id"],
		CourseID:      first.values["course_id"],
		AssignmentID:  first.values["assignment_id"],
		InstitutionID: first.values["institution_id"],
		Timestamp:     p.parseTimestamp(first.values["timestamp"]),
	}
	if raw := first.values["additional_metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta.AdditionalMetadata); err != nil {
			slog.Warn("invalid additional_metadata json", "submission", meta.SubmissionID)
			meta.AdditionalMetadata = nil
		}
	}

	sub := model.Submission{
		Metadata:  meta,
		Status:    model.StatusPending,
		CreatedAt: p.now(),
	}
	for i, r := range rows {
		a, err := knownArtifact(r, i)
		if err != nil {
			return model.Submission{}, err
		}
		sub.Artifacts = append(sub.Artifacts, a)
	}
	return sub, nil
}

func knownArtifact(r row, idx int) (model.Artifact, error) {
	t := model.ArtifactType(r.values["artifact_type"])
	id := fmt.Sprintf("%s_%s_%d", r.values["submission_id"], t, idx)

	weight := 1.0
	if w := r.values["artifact_weight"]; w != "" {
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return model.Artifact{}, fmt.Errorf("artifact %s: invalid weight %q", id, w)
		}
		weight = v
	}

	metadata := map[string]any{}
	for _, col := range r.cols {
		if hasColumns(requiredColumns, []string{col}) {
			continue
		}
		if v := r.values[col]; v != "" {
			metadata[col] = v
		}
	}

	raw := r.values["artifact_content"]
	var content model.Content
	switch t {
	case model.ArtifactMCQ:
		c, ok := parseAnswerJSON(raw)
		if !ok {
			slog.Warn("mcq content is not an answer list", "artifact", id)
			c = model.NewMCQContent(nil)
		}
		content = c
	case model.ArtifactText:
		content = model.NewTextContent(raw)
	case model.ArtifactAudio:
		c := model.AudioContent{
			DurationSeconds: parseFloatOr(r.values["audio_duration"], 0),
			SampleRate:      int(parseFloatOr(r.values["sample_rate"], model.DefaultSampleRate)),
			Format:          r.get("audio_format"),
		}
		if u := urlRe.FindString(raw); u != "" {
			c.AudioURL = u
		} else if u := r.get("audio_url"); u != "" {
			c.AudioURL = u
		}
		if c.Format == "" {
			c.Format = "wav"
		}
		content = c
	}

	return model.Artifact{
		ArtifactID:   id,
		ArtifactType: t,
		Content:      content,
		Metadata:     metadata,
		Weight:       weight,
	}, nil
}

func (p *Parser) parseDynamic(header []string, rows []row) []model.Submission {
	scoreCols := map[string]bool{}
	for _, h := range header {
		for _, suf := range scoreSuffixes {
			if strings.HasSuffix(h, suf) && hasColumns(header, []string{strings.TrimSuffix(h, suf)}) {
				scoreCols[h] = true
			}
		}
	}
	var mcqCols, writingCols, audioCols []string
	for _, h := range header {
		switch {
		case scoreCols[h]:
		case mcqColRe.MatchString(h):
			mcqCols = append(mcqCols, h)
		case strings.Contains(h, "Writing prompt"):
			writingCols = append(writingCols, h)
		}
	}
	for _, h := range header {
		if strings.Contains(h, "Speaking prompt") {
			audioCols = append(audioCols, h)
		}
	}
	for _, h := range header {
		if strings.Contains(h, "Listening prompt") {
			audioCols = append(audioCols, h)
		}
	}

	subs := make([]model.Submission, 0, len(rows))
	for idx, r := range rows {
		subID := r.get("submission_id", "submissionId")
		if subID == "" {
			subID = p.newID()
		}
		var artifacts []model.Artifact

		for _, col := range mcqCols {
			correct := scoreCorrect(r, col)
			artifacts = append(artifacts, model.Artifact{
				ArtifactID:   fmt.Sprintf("%s_mcq_%s", subID, col),
				ArtifactType: model.ArtifactMCQ,
				Content: model.NewMCQContent([]model.MCQAnswer{{
					QuestionID:     col,
					SelectedOption: r.values[col],
					IsCorrect:      &correct,
				}}),
				Metadata: map[string]any{"question_col": col, "raw_value": nilIfEmpty(r.values[col])},
				Weight:   1.0,
			})
		}
		for _, col := range writingCols {
			artifacts = append(artifacts, model.Artifact{
				ArtifactID:   fmt.Sprintf("%s_text_%s", subID, col),
				ArtifactType: model.ArtifactText,
				Content:      model.NewTextContent(r.values[col]),
				Metadata:     map[string]any{"question_col": col},
				Weight:       1.0,
			})
		}
		for _, col := range audioCols {
			audioURL := urlRe.FindString(r.values[col])
			if audioURL == "" {
				audioURL = firstURL(r)
			}
			artifacts = append(artifacts, model.Artifact{
				ArtifactID:   fmt.Sprintf("%s_audio_%s", subID, col),
				ArtifactType: model.ArtifactAudio,
				Content: model.AudioContent{
					AudioURL:        audioURL,
					DurationSeconds: parseFloatOr(r.values[col+"_duration"], 0),
					SampleRate:      int(parseFloatOr(r.values[col+"_sample_rate"], model.DefaultSampleRate)),
					Format:          formatFromURL(audioURL),
				},
				Metadata: map[string]any{"question_col": col, "audio_url": nilIfEmpty(audioURL)},
				Weight:   1.0,
			})
		}
		if len(artifacts) == 0 {
			data, _ := json.Marshal(r.asMap())
			artifacts = append(artifacts, model.Artifact{
				ArtifactID:   fmt.Sprintf("%s_dynamic_%d", subID, idx),
				ArtifactType: model.ArtifactText,
				Content:      model.NewTextContent(string(data)),
				Metadata:     map[string]any{"source": "dynamic_fallback"},
				Weight:       1.0,
			})
		}

		subs = append(subs, model.Submission{
			Metadata: model.SubmissionMetadata{
				SubmissionID:  subID,
				BatchID:       orDefault(r.get("batch_id"), "dynamic_batch"),
				StudentID:     orDefault(r.get("student_id", "userId", "user_id"), fmt.Sprintf("student_%d", idx)),
				CourseID:      orDefault(r.get("course_id", "course"), "unknown"),
				AssignmentID:  orDefault(r.get("assignment_id"), "unknown"),
				InstitutionID: r.get("institution_id"),
				Timestamp:     p.now(),
			},
			Artifacts: artifacts,
			Status:    model.StatusPending,
			CreatedAt: p.now(),
		})
	}
	slog.Info("dynamic parser generated submissions", "count", len(subs))
	return subs
}

// scoreCorrect reads a sibling score column: "a/b" is correct when a >= b,
// a number when it is positive. No score means incorrect.
func scoreCorrect(r row, col string) bool {
	for _, suf := range scoreSuffixes {
		v := r.values[col+suf]
		if v == "" {
			continue
		}
		if num, den, ok := strings.Cut(v, "/"); ok {
			n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
			d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
			return err1 == nil && err2 == nil && n >= d
		}
		f, err := strconv.ParseFloat(v, 64)
		return err == nil && f > 0
	}
	return false
}

func firstURL(r row) string {
	for _, col := range r.cols {
		if u := urlRe.FindString(r.values[col]); u != "" {
			return u
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

func (p *Parser) parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return p.now()
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	slog.Warn("unparseable timestamp, using current time", "value", s)
	return p.now()
}

// ValidateSubmission lists problems that make a submission unroutable.
func ValidateSubmission(sub model.Submission) []string {
	var issues []string
	if strings.TrimSpace(sub.Metadata.SubmissionID) == "" {
		issues = append(issues, "missing submission_id")
	}
	if strings.TrimSpace(sub.Metadata.StudentID) == "" {
		issues = append(issues, "missing student_id")
	}
	if len(sub.Artifacts) == 0 {
		issues = append(issues, "submission has no artifacts")
	}
	ids := map[string]bool{}
	for _, a := range sub.Artifacts {
		if !a.ArtifactType.Valid() {
			issues = append(issues, fmt.Sprintf("artifact %s has unsupported type %q", a.ArtifactID, a.ArtifactType))
		}
		if ids[a.ArtifactID] {
			issues = append(issues, fmt.Sprintf("duplicate artifact id %s", a.ArtifactID))
		}
		ids[a.ArtifactID] = true
	}
	return issues
}

func hasColumns(header, want []string) bool {
	set := make(map[string]bool, len(header))
	for _, h := range header {
		set[h] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseFloatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
