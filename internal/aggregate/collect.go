package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/pavelanni/acegrader/internal/blob"
	"github.com/pavelanni/acegrader/internal/model"
)

// Results reads and writes pipeline records in the results bucket.
type Results struct {
	store  blob.Store
	bucket string
}

func NewResults(store blob.Store, bucket string) *Results {
	return &Results{store: store, bucket: bucket}
}

func isJSONKey(key string) bool {
	return strings.HasSuffix(key, ".json") || strings.HasSuffix(key, ".json.zst")
}

func (r *Results) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.Put(ctx, r.bucket, key, data)
}

// SaveSubmission persists a submission result.
func (r *Results) SaveSubmission(ctx context.Context, res model.SubmissionResult) error {
	return r.putJSON(ctx, blob.SubmissionKey(res.BatchID, res.SubmissionID), res)
}

// SaveCompleted persists one executed task.
func (r *Results) SaveCompleted(ctx context.Context, c model.CompletedArtifact) error {
	return r.putJSON(ctx, blob.ArtifactKey(orDefault(c.BatchID, unknownBatch), c.SubmissionID, c.ArtifactResult.ArtifactID), c)
}

// SaveBatchReport persists a batch report.
func (r *Results) SaveBatchReport(ctx context.Context, rep model.BatchReport) error {
	return r.putJSON(ctx, blob.BatchReportKey(rep.BatchID), rep)
}

// BatchReport loads a persisted batch report.
func (r *Results) BatchReport(ctx context.Context, batchID string) (model.BatchReport, error) {
	var rep model.BatchReport
	data, err := r.store.Get(ctx, r.bucket, blob.BatchReportKey(batchID))
	if err != nil {
		return rep, err
	}
	if err := json.Unmarshal(data, &rep); err != nil {
		return rep, fmt.Errorf("parse batch report %s: %w", batchID, err)
	}
	return rep, nil
}

// Submissions loads every persisted submission result of a batch. Records
// that cannot be read or parsed, or lack a submission id, are skipped with a
// warning.
func (r *Results) Submissions(ctx context.Context, batchID string) ([]model.SubmissionResult, error) {
	keys, err := r.store.List(ctx, r.bucket, blob.SubmissionPrefix(batchID))
	if err != nil {
		return nil, err
	}
	var out []model.SubmissionResult
	for _, key := range keys {
		if !isJSONKey(key) {
			continue
		}
		var res model.SubmissionResult
		if !r.load(ctx, key, &res) {
			continue
		}
		if res.SubmissionID == "" {
			slog.Warn("invalid result file: missing submission_id", "key", key)
			continue
		}
		out = append(out, res)
	}
	slog.Info("collected submission results", "batch", batchID, "count", len(out))
	return out, nil
}

// Completed loads persisted task completions of a batch, grouped by
// submission id. Submission ids are returned in key order.
func (r *Results) Completed(ctx context.Context, batchID string) ([]string, map[string][]model.CompletedArtifact, error) {
	keys, err := r.store.List(ctx, r.bucket, blob.BatchArtifactsPrefix(batchID))
	if err != nil {
		return nil, nil, err
	}
	var order []string
	groups := map[string][]model.CompletedArtifact{}
	for _, key := range keys {
		if !isJSONKey(key) {
			continue
		}
		var c model.CompletedArtifact
		if !r.load(ctx, key, &c) {
			continue
		}
		if c.SubmissionID == "" {
			c.SubmissionID = path.Base(path.Dir(key))
		}
		if _, ok := groups[c.SubmissionID]; !ok {
			order = append(order, c.SubmissionID)
		}
		groups[c.SubmissionID] = append(groups[c.SubmissionID], c)
	}
	return order, groups, nil
}

func (r *Results) load(ctx context.Context, key string, v any) bool {
	data, err := r.store.Get(ctx, r.bucket, key)
	if err != nil {
		slog.Warn("skipping unreadable result", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("skipping invalid result", "key", key, "error", err)
		return false
	}
	return true
}
