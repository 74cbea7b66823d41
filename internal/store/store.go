// Package store keeps batch runs, student reports and artifact results in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/acegrader/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a batch or student is not stored.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		institution_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'completed',
		total_students INTEGER NOT NULL DEFAULT 0,
		average_overall REAL NOT NULL DEFAULT 0,
		pass_rate REAL NOT NULL DEFAULT 0,
		excellence_rate REAL NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		generated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS student_reports (
		batch_id TEXT NOT NULL,
		submission_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		artifact_types TEXT NOT NULL DEFAULT '',
		analysis_score REAL NOT NULL DEFAULT 0,
		communication_score REAL NOT NULL DEFAULT 0,
		evaluation_score REAL NOT NULL DEFAULT 0,
		overall_score REAL NOT NULL DEFAULT 0,
		passed INTEGER NOT NULL DEFAULT 0,
		excellence_achieved INTEGER NOT NULL DEFAULT 0,
		weights_applied TEXT NOT NULL DEFAULT '{}',
		generated_at DATETIME NOT NULL,
		PRIMARY KEY (batch_id, submission_id),
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);
	CREATE INDEX IF NOT EXISTS idx_student_reports_student ON student_reports(batch_id, student_id);

	CREATE TABLE IF NOT EXISTS artifact_results (
		batch_id TEXT NOT NULL,
		submission_id TEXT NOT NULL,
		artifact_id TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		overall_score REAL NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		result TEXT NOT NULL,
		PRIMARY KEY (batch_id, submission_id, artifact_id),
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS batch_metadata (
		batch_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (batch_id, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveBatch replaces everything stored for the batch with rep and the
// artifact results of subs.
func (s *Store) SaveBatch(rec model.BatchRecord, rep model.BatchReport, subs []model.SubmissionResult) error {
	summary, err := json.Marshal(rep.SummaryStats)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = string(model.StatusCompleted)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stats := rep.SummaryStats
	_, err = tx.Exec(
		`INSERT INTO batches (id, institution_id, source, status, total_students, average_overall, pass_rate, excellence_rate, summary, created_at, generated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET institution_id = excluded.institution_id, source = excluded.source,
		   status = excluded.status, total_students = excluded.total_students, average_overall = excluded.average_overall,
		   pass_rate = excluded.pass_rate, excellence_rate = excluded.excellence_rate, summary = excluded.summary,
		   generated_at = excluded.generated_at`,
		rep.BatchID, rec.InstitutionID, rec.Source, rec.Status, stats.TotalStudents, stats.AverageOverall,
		stats.PassRate, stats.ExcellenceRate, string(summary), rec.CreatedAt, rep.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	for _, table := range []string{"student_reports", "artifact_results"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE batch_id = ?`, rep.BatchID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, r := range rep.StudentReports {
		weights, err := json.Marshal(r.WeightsApplied)
		if err != nil {
			return fmt.Errorf("encode weights for %s: %w", r.SubmissionID, err)
		}
		_, err = tx.Exec(
			`INSERT INTO student_reports (batch_id, submission_id, student_id, artifact_types, analysis_score,
			   communication_score, evaluation_score, overall_score, passed, excellence_achieved, weights_applied, generated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rep.BatchID, r.SubmissionID, r.StudentID, strings.Join(r.ArtifactTypes, "|"), r.AnalysisScore,
			r.CommunicationScore, r.EvaluationScore, r.OverallScore, r.Passed, r.ExcellenceAchieved, string(weights), r.GeneratedAt,
		)
		if err != nil {
			return fmt.Errorf("insert report %s: %w", r.SubmissionID, err)
		}
	}

	for _, sub := range subs {
		for _, a := range sub.ArtifactResults {
			data, err := json.Marshal(a)
			if err != nil {
				return fmt.Errorf("encode artifact %s: %w", a.ArtifactID, err)
			}
			_, err = tx.Exec(
				`INSERT OR REPLACE INTO artifact_results (batch_id, submission_id, artifact_id, artifact_type, overall_score, failed, processing_time_ms, result)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				rep.BatchID, sub.SubmissionID, a.ArtifactID, string(a.ArtifactType), a.OverallScore,
				len(a.Errors) > 0 && len(a.ACEScores) == 0, a.ProcessingTimeMS, string(data),
			)
			if err != nil {
				return fmt.Errorf("insert artifact %s: %w", a.ArtifactID, err)
			}
		}
	}
	return tx.Commit()
}

// ListBatches returns stored batches, newest first.
func (s *Store) ListBatches() ([]model.BatchRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, institution_id, source, status, total_students, average_overall, pass_rate, excellence_rate, created_at
		 FROM batches ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BatchRecord
	for rows.Next() {
		var b model.BatchRecord
		if err := rows.Scan(&b.BatchID, &b.InstitutionID, &b.Source, &b.Status, &b.TotalStudents,
			&b.AverageOverall, &b.PassRate, &b.ExcellenceRate, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBatch returns the stored record and report of a batch.
func (s *Store) GetBatch(batchID string) (model.BatchRecord, model.BatchReport, error) {
	var (
		rec     model.BatchRecord
		rep     model.BatchReport
		summary string
	)
	err := s.db.QueryRow(
		`SELECT id, institution_id, source, status, total_students, average_overall, pass_rate, excellence_rate, summary, created_at, generated_at
		 FROM batches WHERE id = ?`, batchID,
	).Scan(&rec.BatchID, &rec.InstitutionID, &rec.Source, &rec.Status, &rec.TotalStudents, &rec.AverageOverall,
		&rec.PassRate, &rec.ExcellenceRate, &summary, &rec.CreatedAt, &rep.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, rep, fmt.Errorf("batch %s: %w", batchID, ErrNotFound)
	}
	if err != nil {
		return rec, rep, err
	}
	if err := json.Unmarshal([]byte(summary), &rep.SummaryStats); err != nil {
		return rec, rep, fmt.Errorf("decode summary of %s: %w", batchID, err)
	}
	rep.BatchID = batchID
	rep.StudentReports, err = s.studentReports(`WHERE batch_id = ? ORDER BY rowid`, batchID)
	return rec, rep, err
}

func (s *Store) studentReports(where string, args ...any) ([]model.StudentReport, error) {
	rows, err := s.db.Query(
		`SELECT batch_id, submission_id, student_id, artifact_types, analysis_score, communication_score,
		   evaluation_score, overall_score, passed, excellence_achieved, weights_applied, generated_at
		 FROM student_reports `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.StudentReport{}
	for rows.Next() {
		var (
			r       model.StudentReport
			types   string
			weights string
		)
		if err := rows.Scan(&r.BatchID, &r.SubmissionID, &r.StudentID, &types, &r.AnalysisScore, &r.CommunicationScore,
			&r.EvaluationScore, &r.OverallScore, &r.Passed, &r.ExcellenceAchieved, &weights, &r.GeneratedAt); err != nil {
			return nil, err
		}
		r.ArtifactTypes = []string{}
		if types != "" {
			r.ArtifactTypes = strings.Split(types, "|")
		}
		if err := json.Unmarshal([]byte(weights), &r.WeightsApplied); err != nil {
			return nil, fmt.Errorf("decode weights of %s: %w", r.SubmissionID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStudent returns a student's reports in a batch with their artifact
// results. A student with several submissions gets one detail each.
func (s *Store) GetStudent(batchID, studentID string) ([]model.StudentDetail, error) {
	reports, err := s.studentReports(`WHERE batch_id = ? AND student_id = ? ORDER BY rowid`, batchID, studentID)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("student %s in batch %s: %w", studentID, batchID, ErrNotFound)
	}
	out := make([]model.StudentDetail, 0, len(reports))
	for _, r := range reports {
		arts, err := s.ArtifactResults(batchID, r.SubmissionID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.StudentDetail{Report: r, Artifacts: arts})
	}
	return out, nil
}

// ArtifactResults returns the stored results of one submission.
func (s *Store) ArtifactResults(batchID, submissionID string) ([]model.ArtifactResult, error) {
	rows, err := s.db.Query(
		`SELECT result FROM artifact_results WHERE batch_id = ? AND submission_id = ? ORDER BY rowid`,
		batchID, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ArtifactResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a model.ArtifactResult
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, fmt.Errorf("decode artifact result: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FailedArtifactCount counts artifacts of a batch that ended in the failure
// envelope.
func (s *Store) FailedArtifactCount(batchID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM artifact_results WHERE batch_id = ? AND failed = 1`, batchID).Scan(&n)
	return n, err
}
