package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/acegrader/internal/model"
)

func newTestParser() *Parser {
	p := NewParser()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	n := 0
	p.newID = func() string {
		n++
		return "gen-" + string(rune('0'+n))
	}
	return p
}

const knownCSV = `submission_id,batch_id,student_id,course_id,assignment_id,artifact_type,artifact_content,institution_id,timestamp,artifact_weight
s1,b1,stu1,c1,as1,mcq,"[{""question_id"":""q1"",""selected_option"":""B"",""correct_option"":""B""},{""question_id"":""q2"",""selected_option"":""A"",""correct_option"":""C""}]",uni,2025-01-02T03:04:05Z,
s1,b1,stu1,c1,as1,text,"An essay about photosynthesis.",uni,2025-01-02T03:04:05Z,2
s2,b1,stu2,c1,as1,audio,https://cdn.example/a.mp3,,2025-01-02 10:00:00,
s3,b1,stu3,c1,as1,text,oops,,,notanumber
`

func TestParseKnownSchema(t *testing.T) {
	subs, err := newTestParser().ParseCSV([]byte(knownCSV))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2 (s3 has a bad weight)", len(subs))
	}

	s1 := subs[0]
	if s1.Metadata.SubmissionID != "s1" || s1.Metadata.InstitutionID != "uni" {
		t.Errorf("s1 metadata = %+v", s1.Metadata)
	}
	if !s1.Metadata.Timestamp.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("timestamp = %v", s1.Metadata.Timestamp)
	}
	if len(s1.Artifacts) != 2 {
		t.Fatalf("s1 artifacts = %d", len(s1.Artifacts))
	}
	mcq := s1.Artifacts[0]
	if mcq.ArtifactID != "s1_mcq_0" {
		t.Errorf("artifact id = %q", mcq.ArtifactID)
	}
	mc := mcq.Content.(model.MCQContent)
	if mc.TotalQuestions != 2 || mc.CorrectAnswers != 1 {
		t.Errorf("mcq = %d/%d", mc.CorrectAnswers, mc.TotalQuestions)
	}
	text := s1.Artifacts[1]
	if text.Weight != 2 {
		t.Errorf("text weight = %v", text.Weight)
	}
	if tc := text.Content.(model.TextContent); tc.WordCount != 4 {
		t.Errorf("word count = %d", tc.WordCount)
	}

	audio := subs[1].Artifacts[0].Content.(model.AudioContent)
	if audio.AudioURL != "https://cdn.example/a.mp3" || audio.SampleRate != model.DefaultSampleRate || audio.Format != "wav" {
		t.Errorf("audio = %+v", audio)
	}
	if !subs[1].Metadata.Timestamp.Equal(time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("s2 timestamp = %v", subs[1].Metadata.Timestamp)
	}
}

func TestParseKnownSchemaRejectsUnknownType(t *testing.T) {
	data := "submission_id,batch_id,student_id,course_id,assignment_id,artifact_type,artifact_content\ns1,b1,u1,c1,a1,video,x\n"
	if _, err := newTestParser().ParseCSV([]byte(data)); err == nil {
		t.Error("expected error for unsupported artifact type")
	}
}

func TestParseDynamicSchema(t *testing.T) {
	data := strings.Join([]string{
		`userId,course,1. Capital of France,1. Capital of France - score,2. Largest planet,2. Largest planet Score,Writing prompt: Describe your town,Speaking prompt: Introduce yourself,media`,
		`u42,geo,Paris,1/1,Mars,0,My town is small.,,see https://cdn.example/u42.m4a`,
	}, "\n")
	subs, err := newTestParser().ParseCSV([]byte(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d submissions", len(subs))
	}
	s := subs[0]
	if s.Metadata.StudentID != "u42" || s.Metadata.CourseID != "geo" || s.Metadata.BatchID != "dynamic_batch" {
		t.Errorf("metadata = %+v", s.Metadata)
	}
	if s.Metadata.SubmissionID != "gen-1" {
		t.Errorf("submission id = %q", s.Metadata.SubmissionID)
	}

	var mcq, text, audio int
	for _, a := range s.Artifacts {
		switch a.ArtifactType {
		case model.ArtifactMCQ:
			mcq++
		case model.ArtifactText:
			text++
		case model.ArtifactAudio:
			audio++
		}
	}
	if mcq != 2 || text != 1 || audio != 1 {
		t.Fatalf("artifacts mcq=%d text=%d audio=%d", mcq, text, audio)
	}

	q1 := s.Artifacts[0].Content.(model.MCQContent)
	q2 := s.Artifacts[1].Content.(model.MCQContent)
	if q1.CorrectAnswers != 1 || q2.CorrectAnswers != 0 {
		t.Errorf("score columns: q1=%d q2=%d", q1.CorrectAnswers, q2.CorrectAnswers)
	}
	au := s.Artifacts[3].Content.(model.AudioContent)
	if au.AudioURL != "https://cdn.example/u42.m4a" || au.Format != "m4a" {
		t.Errorf("audio = %+v", au)
	}
}

func TestParseDynamicFallback(t *testing.T) {
	data := "name,comment\nAda,hello there\n"
	subs, err := newTestParser().ParseCSV([]byte(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	a := subs[0].Artifacts
	if len(a) != 1 || a[0].ArtifactType != model.ArtifactText {
		t.Fatalf("artifacts = %+v", a)
	}
	if a[0].Metadata["source"] != "dynamic_fallback" {
		t.Errorf("metadata = %v", a[0].Metadata)
	}
	if tc := a[0].Content.(model.TextContent); !strings.Contains(tc.TextContent, `"comment":"hello there"`) {
		t.Errorf("text = %q", tc.TextContent)
	}
	if subs[0].Metadata.StudentID != "student_0" {
		t.Errorf("student id = %q", subs[0].Metadata.StudentID)
	}
}

func TestDecodeCSV(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantEnc string
		want    string
	}{
		{"utf8", []byte("héllo"), "utf-8", "héllo"},
		{"bom", append([]byte{0xEF, 0xBB, 0xBF}, "id"...), "utf-8-sig", "id"},
		{"cp1252", []byte{'c', 'a', 'f', 0xE9, ' ', 0x80}, "cp1252", "café €"},
		{"latin1", []byte{'a', 0x81, 0xE9}, "iso-8859-1", "a\u0081é"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enc := decodeCSV(tt.in)
			if enc != tt.wantEnc || got != tt.want {
				t.Errorf("decodeCSV = %q (%s), want %q (%s)", got, enc, tt.want, tt.wantEnc)
			}
		})
	}
}

func TestValidateSubmission(t *testing.T) {
	good := model.Submission{
		Metadata:  model.SubmissionMetadata{SubmissionID: "s1", StudentID: "u1"},
		Artifacts: []model.Artifact{{ArtifactID: "a1", ArtifactType: model.ArtifactText}},
	}
	if issues := ValidateSubmission(good); len(issues) != 0 {
		t.Errorf("unexpected issues: %v", issues)
	}
	if issues := ValidateSubmission(model.Submission{}); len(issues) != 3 {
		t.Errorf("empty submission issues = %v", issues)
	}
}
