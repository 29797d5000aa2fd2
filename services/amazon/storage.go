package amazon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// deleteBatchSize is the DeleteObjects per-request key limit
const deleteBatchSize = 1000

// ObjectStore handles bucket operations for raw uploads and derived files
type ObjectStore struct {
	s3Client *s3.S3
	bucket   string
}

// NewObjectStore creates an S3-backed store for one bucket
func NewObjectStore(sess *session.Session, bucket string) (*ObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("BUCKET_NAME must be configured")
	}
	return &ObjectStore{
		s3Client: s3.New(sess),
		bucket:   bucket,
	}, nil
}

// Bucket returns the bucket name
func (s *ObjectStore) Bucket() string {
	return s.bucket
}

// Upload writes data under key and returns the object URL
func (s *ObjectStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Download reads the object at key
func (s *ObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("failed to download %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

// Delete removes one object. Deleting a missing key is not an error.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// DeleteMany bulk-deletes keys in DeleteObjects-sized batches
func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}

		objects := make([]*s3.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, &s3.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.s3Client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to bulk delete %d objects: %w", len(objects), err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(out.Errors), aws.StringValue(first.Key), aws.StringValue(first.Message))
		}
	}
	return nil
}

// List returns every key under prefix, following continuation tokens
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return keys, nil
}

// Exists checks whether an object is present
func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// URL returns the virtual-hosted object URL
func (s *ObjectStore) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// URI returns the s3:// form used by the knowledge base
func (s *ObjectStore) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// PresignUpload returns a PUT URL the browser can upload to directly
func (s *ObjectStore) PresignUpload(key, contentType string, expiration time.Duration) (string, error) {
	req, _ := s.s3Client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}
	return url, nil
}

// ErrObjectNotFound is returned by Download for missing keys
var ErrObjectNotFound = errors.New("object not found")

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// GetContentType returns the content type for a filename
func GetContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".pdf":
		return "application/pdf"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
