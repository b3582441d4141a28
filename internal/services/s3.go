package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"b3-ibov-pipeline/internal/models"
)

// ParquetContentType is the content type of uploaded parquet objects
const ParquetContentType = "application/vnd.apache.parquet"

// ErrObjectNotFound is returned when a looked-up object does not exist
var ErrObjectNotFound = errors.New("object not found")

// S3API is the subset of the S3 client used by the pipeline
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Client handles the raw and refined objects of the data lake bucket
type S3Client struct {
	client     S3API
	bucketName string
	region     string
}

// S3Config holds configuration for S3 client
type S3Config struct {
	BucketName string
	Region     string
	Profile    string // AWS profile to use
}

// S3FileInfo represents metadata about files in S3
type S3FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
}

// S3UploadResult represents the result of an S3 upload operation
type S3UploadResult struct {
	Key         string    `json:"key"`
	Location    string    `json:"location"`
	ETag        string    `json:"etag"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	ContentType string    `json:"content_type"`
	PublicURL   string    `json:"public_url"`
}

// NewS3ClientWithConfig creates an S3 client with AWS SDK v2
func NewS3ClientWithConfig(ctx context.Context, s3Config S3Config) (*S3Client, error) {
	if s3Config.BucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	var cfg aws.Config
	var err error

	if s3Config.Profile != "" {
		// Load config with specific profile
		cfg, err = config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(s3Config.Profile))
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Override region if specified
	if s3Config.Region != "" {
		cfg.Region = s3Config.Region
	}

	return NewS3Client(s3.NewFromConfig(cfg), s3Config.BucketName, cfg.Region), nil
}

// NewS3Client wraps an existing S3 API client
func NewS3Client(client S3API, bucketName, region string) *S3Client {
	return &S3Client{
		client:     client,
		bucketName: bucketName,
		region:     region,
	}
}

// UploadParquet stores a parquet payload under <prefix>/date=YYYY-MM-DD/<name>.parquet
func (s *S3Client) UploadParquet(ctx context.Context, data []byte, prefix string, date time.Time, name string) (*S3UploadResult, error) {
	key := models.RawObjectKey(prefix, date, name)
	return s.PutObject(ctx, key, data, ParquetContentType)
}

// PutObject uploads data to key
func (s *S3Client) PutObject(ctx context.Context, key string, data []byte, contentType string) (*S3UploadResult, error) {
	// Ensure key doesn't start with /
	key = strings.TrimPrefix(key, "/")

	uploadInput := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"uploaded-by":  "b3-ibov-pipeline",
			"content-type": contentType,
			"upload-time":  time.Now().UTC().Format(time.RFC3339),
		},
	}

	result, err := s.client.PutObject(ctx, uploadInput)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	publicURL := s.GetPublicURL(key)
	etag := ""
	if result.ETag != nil {
		etag = strings.Trim(*result.ETag, `"`)
	}

	return &S3UploadResult{
		Key:         key,
		Location:    publicURL,
		ETag:        etag,
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		ContentType: contentType,
		PublicURL:   publicURL,
	}, nil
}

// Download returns the body of the object at key
func (s *S3Client) Download(ctx context.Context, key string) ([]byte, error) {
	key = strings.TrimPrefix(key, "/")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	return data, nil
}

// ListFiles lists all files in the S3 bucket with optional prefix filter
func (s *S3Client) ListFiles(ctx context.Context, prefix string) ([]S3FileInfo, error) {
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
	}
	if prefix != "" {
		listInput.Prefix = aws.String(prefix)
	}

	var files []S3FileInfo
	for {
		result, err := s.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list S3 objects: %w", err)
		}

		for _, obj := range result.Contents {
			info := S3FileInfo{
				Key:  aws.ToString(obj.Key),
				Size: obj.Size,
				ETag: strings.Trim(aws.ToString(obj.ETag), `"`),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			files = append(files, info)
		}

		if !result.IsTruncated || result.NextContinuationToken == nil {
			break
		}
		listInput.ContinuationToken = result.NextContinuationToken
	}

	return files, nil
}

// GetFileInfo gets metadata about a file in S3. A missing key yields an
// error wrapping ErrObjectNotFound.
func (s *S3Client) GetFileInfo(ctx context.Context, key string) (*S3FileInfo, error) {
	key = strings.TrimPrefix(key, "/")

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, s.bucketName, key)
		}
		return nil, fmt.Errorf("failed to get S3 object metadata: %w", err)
	}

	info := &S3FileInfo{
		Key:         key,
		Size:        result.ContentLength,
		ETag:        strings.Trim(aws.ToString(result.ETag), `"`),
		ContentType: aws.ToString(result.ContentType),
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey) ||
		strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

// GetPublicURL generates the public URL for an S3 object
func (s *S3Client) GetPublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucketName, s.region, key)
}

// S3URI returns the s3:// location of a key or prefix
func (s *S3Client) S3URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, strings.TrimPrefix(key, "/"))
}
