package logstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/crypto/sha3"
)

// DigestMetadataKey is the object metadata key carrying the SHA3-256 of the upload.
const DigestMetadataKey = "sha3-256"

// R2Config contains configuration for R2 (or any S3-compatible) storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string

	// Endpoint overrides the R2 endpoint derived from AccountID.
	Endpoint string
}

// objectPutter is the part of *s3.Client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Uploader shares log files to an R2 bucket.
type R2Uploader struct {
	client objectPutter
	bucket string
	log    *slog.Logger
}

// UploadResult describes one uploaded file.
type UploadResult struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// NewR2Uploader creates a new R2-backed uploader.
func NewR2Uploader(cfg R2Config, log *slog.Logger) (*R2Uploader, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("account id or endpoint is required")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.Endpoint != ""
	})

	return newR2Uploader(client, cfg.Bucket, log), nil
}

func newR2Uploader(client objectPutter, bucket string, log *slog.Logger) *R2Uploader {
	return &R2Uploader{client: client, bucket: bucket, log: log}
}

// ObjectKey returns the key a file is stored under for a share session.
func ObjectKey(session, path string) string {
	return fmt.Sprintf("logs/%s/%s", session, filepath.Base(path))
}

// Upload puts every file under logs/{session}/. It stops at the first
// failure and returns what was uploaded so far.
func (u *R2Uploader) Upload(ctx context.Context, session string, paths []string) ([]UploadResult, error) {
	results := make([]UploadResult, 0, len(paths))
	for _, p := range paths {
		res, err := u.uploadFile(ctx, session, p)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (u *R2Uploader) uploadFile(ctx context.Context, session, path string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	h := sha3.New256()
	size, err := io.Copy(h, f)
	if err != nil {
		return UploadResult{}, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return UploadResult{}, fmt.Errorf("rewind %s: %w", filepath.Base(path), err)
	}

	key := ObjectKey(session, path)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType(path)),
		Metadata:      map[string]string{DigestMetadataKey: digest},
	})
	if err != nil {
		u.log.Error("failed to upload log file", "key", key, "error", err)
		return UploadResult{}, fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}

	u.log.Debug("uploaded log file", "key", key, "size", size)
	return UploadResult{Key: key, Size: size, Digest: digest}, nil
}

func contentType(path string) string {
	if strings.HasSuffix(path, archiveExt) {
		return "application/gzip"
	}
	return "text/plain; charset=utf-8"
}
