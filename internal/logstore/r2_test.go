package logstore

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/sha3"
)

type putCall struct {
	bucket, key, contentType string
	body                     []byte
	metadata                 map[string]string
}

type fakePutter struct {
	calls  []putCall
	failOn string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if *in.Key == f.failOn {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, putCall{
		bucket:      *in.Bucket,
		key:         *in.Key,
		contentType: *in.ContentType,
		body:        body,
		metadata:    in.Metadata,
	})
	return &s3.PutObjectOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestR2Uploader_Upload(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "app_logs.txt")
	archive := filepath.Join(dir, "app_2025-01-01_00-00-00.gz")
	if err := os.WriteFile(active, []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, []byte{0x1f, 0x8b, 0x08}, 0644); err != nil {
		t.Fatal(err)
	}

	putter := &fakePutter{}
	u := newR2Uploader(putter, "bucket", discardLogger())

	results, err := u.Upload(context.Background(), "s1", []string{active, archive})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(results) != 2 || len(putter.calls) != 2 {
		t.Fatalf("got %d results, %d calls, want 2", len(results), len(putter.calls))
	}

	first := putter.calls[0]
	if first.key != "logs/s1/app_logs.txt" {
		t.Errorf("key = %q, want %q", first.key, "logs/s1/app_logs.txt")
	}
	if first.bucket != "bucket" {
		t.Errorf("bucket = %q", first.bucket)
	}
	if string(first.body) != "hello\n" {
		t.Errorf("body = %q", first.body)
	}
	if first.contentType != "text/plain; charset=utf-8" {
		t.Errorf("content type = %q", first.contentType)
	}
	sum := sha3.Sum256([]byte("hello\n"))
	if want := hex.EncodeToString(sum[:]); first.metadata[DigestMetadataKey] != want || results[0].Digest != want {
		t.Errorf("digest = %q / %q, want %q", first.metadata[DigestMetadataKey], results[0].Digest, want)
	}
	if results[0].Size != 6 {
		t.Errorf("size = %d, want 6", results[0].Size)
	}

	if putter.calls[1].contentType != "application/gzip" {
		t.Errorf("archive content type = %q", putter.calls[1].contentType)
	}
}

func TestR2Uploader_StopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, n := range []string{"a.txt", "b.txt", "c.txt"} {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(n), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}

	putter := &fakePutter{failOn: "logs/s2/b.txt"}
	u := newR2Uploader(putter, "bucket", discardLogger())

	results, err := u.Upload(context.Background(), "s2", paths)
	if err == nil {
		t.Fatal("Upload should fail")
	}
	if len(results) != 1 || results[0].Key != "logs/s2/a.txt" {
		t.Errorf("results = %+v, want only a.txt", results)
	}
}

func TestR2Uploader_MissingFile(t *testing.T) {
	u := newR2Uploader(&fakePutter{}, "bucket", discardLogger())
	if _, err := u.Upload(context.Background(), "s3", []string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatal("Upload should fail for a missing file")
	}
}

func TestNewR2UploaderValidation(t *testing.T) {
	if _, err := NewR2Uploader(R2Config{AccountID: "acct"}, nil); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := NewR2Uploader(R2Config{Bucket: "b"}, nil); err == nil {
		t.Error("expected error without account id or endpoint")
	}
}
