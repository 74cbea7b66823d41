package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/acegrader/internal/i18n"
	"github.com/pavelanni/acegrader/internal/metrics"
	"github.com/pavelanni/acegrader/internal/model"
	"github.com/pavelanni/acegrader/internal/report"
	"github.com/pavelanni/acegrader/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rep := model.BatchReport{
		BatchID:     "b1",
		GeneratedAt: now,
		StudentReports: []model.StudentReport{{
			StudentID: "s1", SubmissionID: "sub1", BatchID: "b1",
			ArtifactTypes: []string{"mcq"}, AnalysisScore: 90, CommunicationScore: 80, EvaluationScore: 85,
			OverallScore: 85.5, Passed: true,
			WeightsApplied: map[string]float64{"mcq": 0.4, "text": 0.35, "audio": 0.25},
			GeneratedAt:    now,
		}},
		SummaryStats: model.SummaryStats{TotalStudents: 1, AverageOverall: 85.5, PassRate: 100},
	}
	subs := []model.SubmissionResult{{
		SubmissionID: "sub1", StudentID: "s1", BatchID: "b1",
		ArtifactResults: []model.ArtifactResult{
			{ArtifactID: "a1", ArtifactType: model.ArtifactMCQ, OverallScore: 85},
			{ArtifactID: "a2", ArtifactType: model.ArtifactText, Errors: []string{"evaluator unavailable"}},
		},
	}}
	if err := s.SaveBatch(model.BatchRecord{InstitutionID: "uni"}, rep, subs); err != nil {
		t.Fatalf("SaveBatch: %v", err)
	}

	tr, err := i18n.New("en")
	if err != nil {
		t.Fatal(err)
	}
	rr, err := report.NewTextRenderer(tr, "en")
	if err != nil {
		t.Fatal(err)
	}
	rec := metrics.New()
	rec.ReportGenerated(rep.StudentReports[0])

	r := chi.NewRouter()
	New(s, rr, tr, rec.Handler()).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, header ...string) (int, string, http.Header) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var b strings.Builder
	if _, err := io.Copy(&b, resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, b.String(), resp.Header
}

func TestStatusCodes(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/batches", http.StatusOK},
		{"/batches/b1", http.StatusOK},
		{"/batches/missing", http.StatusNotFound},
		{"/batches/b1/export", http.StatusOK},
		{"/batches/missing/export", http.StatusNotFound},
		{"/batches/b1/students/s1", http.StatusOK},
		{"/batches/b1/students/nobody", http.StatusNotFound},
		{"/batches/b1/students/nobody/document", http.StatusNotFound},
		{"/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, body, _ := get(t, srv, tt.path)
			if got != tt.want {
				t.Errorf("status = %d, want %d (body %s)", got, tt.want, body)
			}
		})
	}
}

func TestListBatches(t *testing.T) {
	srv := newTestServer(t)
	_, body, hdr := get(t, srv, "/batches")
	if ct := hdr.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var batches []model.BatchRecord
	if err := json.Unmarshal([]byte(body), &batches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(batches) != 1 || batches[0].BatchID != "b1" || batches[0].InstitutionID != "uni" {
		t.Errorf("batches = %+v", batches)
	}
}

func TestBatchDetail(t *testing.T) {
	srv := newTestServer(t)
	_, body, _ := get(t, srv, "/batches/b1")
	var got struct {
		Batch           model.BatchRecord `json:"batch"`
		Report          model.BatchReport `json:"report"`
		FailedArtifacts int               `json:"failed_artifacts"`
	}
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Batch.BatchID != "b1" || len(got.Report.StudentReports) != 1 {
		t.Errorf("batch = %+v", got)
	}
	if got.FailedArtifacts != 1 {
		t.Errorf("failed_artifacts = %d, want 1", got.FailedArtifacts)
	}
}

func TestStudentDetail(t *testing.T) {
	srv := newTestServer(t)
	_, body, _ := get(t, srv, "/batches/b1/students/s1")
	var details []model.StudentDetail
	if err := json.Unmarshal([]byte(body), &details); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(details) != 1 || details[0].Report.OverallScore != 85.5 || len(details[0].Artifacts) != 2 {
		t.Errorf("details = %+v", details)
	}
}

func TestCSVRoute(t *testing.T) {
	srv := newTestServer(t)
	code, body, hdr := get(t, srv, "/batches/b1/report.csv")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.HasPrefix(hdr.Get("Content-Type"), "text/csv") {
		t.Errorf("content type = %q", hdr.Get("Content-Type"))
	}
	lines := strings.Split(strings.TrimSpace(body), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "b1,s1,sub1,mcq,") {
		t.Errorf("csv = %q", body)
	}
}

func TestDocumentLocalized(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name   string
		path   string
		header []string
		want   string
	}{
		{"default", "/batches/b1/students/s1/document", nil, "ACE Assessment Report"},
		{"query", "/batches/b1/students/s1/document?lang=ru", nil, "Отчёт об оценивании ACE"},
		{"header", "/batches/b1/students/s1/document", []string{"Accept-Language", "ru-RU,ru;q=0.9"}, "Отчёт об оценивании ACE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body, _ := get(t, srv, tt.path, tt.header...)
			if code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			if !strings.Contains(body, tt.want) {
				t.Errorf("document missing %q:\n%s", tt.want, body)
			}
		})
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(t)
	_, body, _ := get(t, srv, "/metrics")
	if !strings.Contains(body, "acegrader_student_reports_total") {
		t.Errorf("metrics output missing report counter:\n%s", body)
	}
}
