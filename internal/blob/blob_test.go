package blob

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"testing"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s, err := WithZstd(fs)
	if err != nil {
		t.Fatalf("WithZstd: %v", err)
	}
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Put(ctx, "results", "batches/b1/submissions/s1.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "results", "batches/b1/submissions/s1.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %q", got)
	}

	_, err = s.Get(ctx, "results", "missing.json")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Delete(ctx, "results", "batches/b1/submissions/s1.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "results", "batches/b1/submissions/s1.json"); err != nil {
		t.Errorf("Delete twice: %v", err)
	}
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, k := range []string{
		SubmissionKey("b1", "s2"),
		SubmissionKey("b1", "s1"),
		SubmissionKey("b2", "s9"),
		BatchReportKey("b1"),
	} {
		if err := s.Put(ctx, "results", k, []byte("{}")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	got, err := s.List(ctx, "results", SubmissionPrefix("b1"))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"batches/b1/submissions/s1.json", "batches/b1/submissions/s2.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	empty, err := s.List(ctx, "nobucket", "")
	if err != nil {
		t.Fatalf("List missing bucket: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List missing bucket = %v", empty)
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put(context.Background(), "b", "../../etc/passwd", []byte("x")); err == nil {
		t.Error("expected error for escaping key")
	}
}

func TestZstdTransparent(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s, err := WithZstd(fs)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("student_id,score\n1,90\n")
	if err := s.Put(ctx, "in", "rows.csv.zst", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := fs.Get(ctx, "in", "rows.csv.zst")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) == string(payload) {
		t.Error("object stored uncompressed")
	}
	got, err := s.Get(ctx, "in", "rows.csv.zst")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Get = %q, want %q", got, payload)
	}
	if again, err := WithZstd(s); err != nil || again != s {
		t.Error("WithZstd should not double wrap")
	}
}

func TestBucketKey(t *testing.T) {
	tests := []struct {
		raw    string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://audio/clips/a.wav", "audio", "clips/a.wav", true},
		{"https://media.s3.eu-central-1.amazonaws.com/x/y.mp3", "media", "x/y.mp3", true},
		{"https://example.com/a.wav", "", "", false},
		{"s3://bucket-only", "", "", false},
		{"minio://media/x/y.mp3", "media", "x/y.mp3", true},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if err != nil {
			t.Fatal(err)
		}
		b, k, ok := bucketKey(u)
		if b != tt.bucket || k != tt.key || ok != tt.ok {
			t.Errorf("bucketKey(%q) = %q, %q, %v", tt.raw, b, k, ok)
		}
	}
}

func TestFetcher(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Put(ctx, "audio", "a.wav", []byte("RIFF")); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	f := NewFetcher(s)
	got, err := f.Fetch(ctx, "s3://audio/a.wav")
	if err != nil || string(got) != "RIFF" {
		t.Errorf("Fetch s3 = %q, %v", got, err)
	}
	got, err = f.Fetch(ctx, srv.URL+"/clip")
	if err != nil || string(got) != "remote" {
		t.Errorf("Fetch http = %q, %v", got, err)
	}
	if _, err := f.Fetch(ctx, srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := f.Fetch(ctx, "ftp://host/file"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestFetcherRejectsOversizedDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	tests := []struct {
		limit   int64
		wantErr bool
	}{
		{limit: 9, wantErr: true},
		{limit: 10, wantErr: false},
	}
	for _, tt := range tests {
		f := NewFetcher(nil)
		f.limit = tt.limit
		got, err := f.Fetch(context.Background(), srv.URL+"/clip")
		if (err != nil) != tt.wantErr {
			t.Errorf("limit %d: err = %v, wantErr %v", tt.limit, err, tt.wantErr)
		}
		if !tt.wantErr && len(got) != 10 {
			t.Errorf("limit %d: got %d bytes", tt.limit, len(got))
		}
	}
}
