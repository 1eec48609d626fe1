package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"voynich/config"
)

const (
	uploadsPrefix = "uploads/"
	outputsPrefix = "outputs/"
)

// S3Storage keeps uploads and outputs in an S3-compatible bucket.
type S3Storage struct {
	session    *session.Session
	bucket     string
	downloader *s3manager.Downloader
	uploader   *s3manager.Uploader
}

func NewS3Storage(cfg *config.Config) (*S3Storage, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.S3Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AWSS3AccessKey,
			cfg.AWSS3SecretKey,
			"",
		),
	}

	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
	}

	if cfg.S3UsePathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 session: %w", err)
	}

	return &S3Storage{
		session:    sess,
		bucket:     cfg.S3Bucket,
		downloader: s3manager.NewDownloader(sess),
		uploader:   s3manager.NewUploader(sess),
	}, nil
}

func (s *S3Storage) SaveSource(ctx context.Context, key string, r io.Reader) error {
	return s.upload(ctx, uploadsPrefix+key, r, "application/octet-stream")
}

// FetchSource downloads the upload into dir.
func (s *S3Storage) FetchSource(ctx context.Context, key, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	localPath := filepath.Join(dir, "source"+filepath.Ext(key))
	file, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	_, err = s.downloader.DownloadWithContext(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(uploadsPrefix + key),
	})
	if err != nil {
		os.Remove(localPath)
		return "", fmt.Errorf("failed to download from S3: %w", err)
	}

	return localPath, nil
}

// PublishOutput uploads the narration and removes the local copy. The
// returned path is the object key.
func (s *S3Storage) PublishOutput(ctx context.Context, localPath, key string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	objectKey := outputsPrefix + key
	if err := s.upload(ctx, objectKey, file, "audio/mpeg"); err != nil {
		return "", err
	}

	s.Cleanup(localPath)
	return objectKey, nil
}

// RemoveOutput deletes the narration object. S3 reports success for keys
// that do not exist.
func (s *S3Storage) RemoveOutput(ctx context.Context, key string) error {
	_, err := s3.New(s.session).DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(outputsPrefix + key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

func (s *S3Storage) upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (s *S3Storage) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}
