// Package blob provides bucket/key object storage used for raw inputs,
// institution configs and persisted results.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is the object storage contract the pipeline depends on.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte) error
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Delete(ctx context.Context, bucket, key string) error
}

// Options selects and configures a backend.
type Options struct {
	Backend   string // local, s3 or minio
	Root      string // local root directory
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Open builds the configured backend wrapped with transparent zstd handling.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(opts.Backend) {
	case "", "local":
		s, err = NewFileStore(opts.Root)
	case "s3":
		s, err = NewS3Store(ctx, opts.Region, opts.Endpoint)
	case "minio":
		s, err = NewMinIOStore(opts.Endpoint, opts.AccessKey, opts.SecretKey, opts.UseSSL)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithZstd(s)
}

// Object key layout shared by writers and readers.

func SubmissionKey(batchID, submissionID string) string {
	return path.Join("batches", batchID, "submissions", submissionID+".json")
}

func SubmissionPrefix(batchID string) string {
	return path.Join("batches", batchID, "submissions") + "/"
}

func ArtifactKey(batchID, submissionID, artifactID string) string {
	return path.Join("batches", batchID, "artifacts", submissionID, artifactID+".json")
}

func BatchArtifactsPrefix(batchID string) string {
	return path.Join("batches", batchID, "artifacts") + "/"
}

func BatchReportKey(batchID string) string {
	return path.Join("batches", batchID, "batch_report.json")
}

func BatchCSVKey(batchID string) string {
	return path.Join("batches", batchID, "aggregated_results.csv")
}

func StudentDocumentKey(batchID, studentID string) string {
	return path.Join("batches", batchID, "reports", studentID+".txt")
}

func InstitutionConfigKey(institutionID string) string {
	return path.Join("configs", "institutions", institutionID+".json")
}

// DefaultInstitutionKey holds the global fallback institution config.
const DefaultInstitutionKey = "configs/default_institution.json"
