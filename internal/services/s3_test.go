package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"b3-ibov-pipeline/internal/models"
)

func TestS3Client_PublicURL(t *testing.T) {
	client := NewS3Client(newFakeS3(), "test-bucket", "sa-east-1")

	tests := []struct {
		key      string
		expected string
	}{
		{
			key:      "raw/date=2024-01-02/data.parquet",
			expected: "https://test-bucket.s3.sa-east-1.amazonaws.com/raw/date=2024-01-02/data.parquet",
		},
		{
			key:      "/raw/date=2024-01-02/data.parquet", // Leading slash should be handled
			expected: "https://test-bucket.s3.sa-east-1.amazonaws.com/raw/date=2024-01-02/data.parquet",
		},
	}

	for _, test := range tests {
		url := client.GetPublicURL(test.key)
		if url != test.expected {
			t.Errorf("For key %s, expected URL %s, got %s", test.key, test.expected, url)
		}
	}

	if uri := client.S3URI("refined/"); uri != "s3://test-bucket/refined/" {
		t.Errorf("Unexpected S3 URI: %s", uri)
	}
}

func TestS3Client_UploadParquet(t *testing.T) {
	fake := newFakeS3()
	client := NewS3Client(fake, "test-bucket", "sa-east-1")
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	data, err := EncodeParquet(models.SampleTable(date))
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}

	result, err := client.UploadParquet(context.Background(), data, "raw", date, "")
	if err != nil {
		t.Fatalf("UploadParquet() error = %v", err)
	}

	if result.Key != "raw/date=2024-01-02/data.parquet" {
		t.Errorf("Unexpected key: %s", result.Key)
	}
	if result.Size != int64(len(data)) {
		t.Errorf("Expected size %d, got %d", len(data), result.Size)
	}
	if result.ContentType != ParquetContentType {
		t.Errorf("Unexpected content type: %s", result.ContentType)
	}
	if fake.metadata[result.Key]["uploaded-by"] != "b3-ibov-pipeline" {
		t.Errorf("Missing uploaded-by metadata: %v", fake.metadata[result.Key])
	}

	downloaded, err := client.Download(context.Background(), result.Key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	table, err := DecodeParquet(downloaded)
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if table.Len() != 5 {
		t.Errorf("Expected 5 rows after round trip, got %d", table.Len())
	}
}

func TestS3Client_UploadNamedObject(t *testing.T) {
	fake := newFakeS3()
	client := NewS3Client(fake, "test-bucket", "sa-east-1")
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	result, err := client.UploadParquet(context.Background(), []byte("PAR1"), "/raw/", date, "ibov")
	if err != nil {
		t.Fatalf("UploadParquet() error = %v", err)
	}
	if result.Key != "raw/date=2024-01-02/ibov.parquet" {
		t.Errorf("Unexpected key: %s", result.Key)
	}
}

func TestS3Client_UploadError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("AccessDenied")
	client := NewS3Client(fake, "test-bucket", "sa-east-1")

	_, err := client.PutObject(context.Background(), "raw/x.parquet", []byte("x"), ParquetContentType)
	if err == nil {
		t.Fatal("Expected upload error")
	}
	if !errors.Is(err, fake.putErr) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
}

func TestS3Client_ListAndInspect(t *testing.T) {
	fake := newFakeS3()
	fake.pageSize = 2
	client := NewS3Client(fake, "test-bucket", "sa-east-1")
	ctx := context.Background()

	for _, key := range []string{
		"raw/date=2024-01-02/data.parquet",
		"raw/date=2024-01-03/data.parquet",
		"raw/date=2024-01-04/data.parquet",
		"refined/data_ref=2024-01-02/codigo_acao=PETR4/part-0000.parquet",
	} {
		if _, err := client.PutObject(ctx, key, []byte("data"), ParquetContentType); err != nil {
			t.Fatalf("PutObject(%s) error = %v", key, err)
		}
	}

	files, err := client.ListFiles(ctx, "raw/")
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if len(files) != 3 {
		t.Errorf("Expected 3 raw files across pages, got %d", len(files))
	}

	info, err := client.GetFileInfo(ctx, "raw/date=2024-01-02/data.parquet")
	if err != nil {
		t.Fatalf("GetFileInfo() error = %v", err)
	}
	if info.Size != 4 || info.ContentType != ParquetContentType || info.ETag != "etag" {
		t.Errorf("Unexpected file info: %+v", info)
	}

	_, err = client.GetFileInfo(ctx, "raw/date=2024-01-05/data.parquet")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound for a missing key, got %v", err)
	}
}

func TestS3Client_DownloadMissing(t *testing.T) {
	client := NewS3Client(newFakeS3(), "test-bucket", "sa-east-1")
	if _, err := client.Download(context.Background(), "raw/missing.parquet"); err == nil {
		t.Error("Expected error downloading a missing key")
	}
}

func TestNewS3ClientWithConfig_RequiresBucket(t *testing.T) {
	if _, err := NewS3ClientWithConfig(context.Background(), S3Config{}); err == nil {
		t.Error("Expected error without bucket name")
	}
}
