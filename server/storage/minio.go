package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage keeps encrypted screenshot payloads that are too large to inline in the record store.
type Storage struct {
	client            *minio.Client
	screenshotsBucket string
}

func New(endpoint, accessKey, secretKey string, useSSL bool, screenshotsBucket string) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	if screenshotsBucket == "" {
		screenshotsBucket = "screenshots"
	}
	return &Storage{client: client, screenshotsBucket: screenshotsBucket}, nil
}

// EnsureBucket creates the screenshots bucket when it is missing.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.screenshotsBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.screenshotsBucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.screenshotsBucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.screenshotsBucket, err)
		}
	}
	return nil
}

// PutScreenshot stores the base64 ciphertext of a screenshot and returns its object name.
func (s *Storage) PutScreenshot(ctx context.Context, screenshotID, payload string) (string, error) {
	objectName := screenshotID + ".enc"

	_, err := s.client.PutObject(
		ctx,
		s.screenshotsBucket,
		objectName,
		bytes.NewReader([]byte(payload)),
		int64(len(payload)),
		minio.PutObjectOptions{ContentType: "text/plain"},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload screenshot: %w", err)
	}
	return objectName, nil
}

// Screenshot reads the stored ciphertext for objectName.
func (s *Storage) Screenshot(ctx context.Context, objectName string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.screenshotsBucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to get screenshot %s: %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return "", ErrObjectNotFound
		}
		return "", fmt.Errorf("failed to read screenshot %s: %w", objectName, err)
	}
	return string(data), nil
}

func (s *Storage) RemoveScreenshot(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.screenshotsBucket, objectName, minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to remove screenshot %s: %w", objectName, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
