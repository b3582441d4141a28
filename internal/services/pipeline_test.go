package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// stubFetcher returns a fixed table
type stubFetcher struct {
	table    *models.ResultTable
	attempts []models.StrategyAttempt
	gotDate  time.Time
}

func (f *stubFetcher) FetchWithOutcome(ctx context.Context, date time.Time) (*models.ResultTable, []models.StrategyAttempt) {
	f.gotDate = date
	return f.table, f.attempts
}

func TestFetchPipeline_Run(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{
		table:    compositionTable(date),
		attempts: []models.StrategyAttempt{{Strategy: models.SourceRendered, Success: true, Rows: 4}},
	}
	s3Fake := newFakeS3()
	dynamoFake := newFakeDynamoDB()
	runs := NewDynamoDBService(dynamoFake, "runs")

	pipeline := NewFetchPipeline(fetcher, NewS3Client(s3Fake, "b3-lake", "sa-east-1"), runs, "raw", zap.NewNop())

	result, err := pipeline.Run(context.Background(), date, models.TriggerTypeManual, "req-123")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run := result.Run
	if run.Status != models.RunStatusCompleted {
		t.Errorf("Expected completed status, got %s", run.Status)
	}
	if run.UploadedKey != "raw/date=2024-01-02/data.parquet" {
		t.Errorf("Unexpected uploaded key %s", run.UploadedKey)
	}
	if run.Rows != 4 || run.Source != models.SourceRendered {
		t.Errorf("Unexpected run: %+v", run)
	}
	if _, ok := s3Fake.objects[run.UploadedKey]; !ok {
		t.Error("Expected parquet object in bucket")
	}
	if dynamoFake.puts != 2 {
		t.Errorf("Expected run recorded at start and finish, got %d puts", dynamoFake.puts)
	}

	stored, err := runs.GetFetchRun(context.Background(), run.ID, date)
	if err != nil {
		t.Fatalf("GetFetchRun() error = %v", err)
	}
	if stored.Status != models.RunStatusCompleted || stored.LambdaRequestID != "req-123" {
		t.Errorf("Unexpected stored run: %+v", stored)
	}
}

func TestFetchPipeline_DegradedRun(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{
		table: models.SampleTable(date),
		attempts: []models.StrategyAttempt{
			{Strategy: models.SourceRendered, Error: "render error: failed to start browser"},
			{Strategy: models.SourceDirect, Error: "status error: unexpected response status (status 503)"},
			{Strategy: models.SourceSynthetic, Success: true, Rows: 5},
		},
	}

	pipeline := NewFetchPipeline(fetcher, NewS3Client(newFakeS3(), "b3-lake", "sa-east-1"), nil, "raw", nil)
	result, err := pipeline.Run(context.Background(), date, models.TriggerTypeScheduled, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Run.Status != models.RunStatusDegraded {
		t.Errorf("Expected degraded status, got %s", result.Run.Status)
	}
	if !strings.Contains(result.Run.ErrorSummary, "direct: status error") {
		t.Errorf("Expected strategy errors in summary, got %q", result.Run.ErrorSummary)
	}
	if result.Upload == nil || result.Upload.Size == 0 {
		t.Error("Synthetic data should still be uploaded")
	}
}

func TestFetchPipeline_UploadFailure(t *testing.T) {
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s3Fake := newFakeS3()
	s3Fake.putErr = errors.New("AccessDenied")
	dynamoFake := newFakeDynamoDB()

	pipeline := NewFetchPipeline(&stubFetcher{table: models.SampleTable(date)},
		NewS3Client(s3Fake, "b3-lake", "sa-east-1"), NewDynamoDBService(dynamoFake, "runs"), "raw", nil)

	result, err := pipeline.Run(context.Background(), date, models.TriggerTypeScheduled, "")
	if err == nil {
		t.Fatal("Expected upload error")
	}
	if result.Run.Status != models.RunStatusFailed || !strings.Contains(result.Run.ErrorSummary, "AccessDenied") {
		t.Errorf("Unexpected failed run: %+v", result.Run)
	}
	if result.Table.Len() != 5 {
		t.Error("Table should be returned even when the upload fails")
	}
}

func TestFetchPipeline_DefaultsToToday(t *testing.T) {
	fetcher := &stubFetcher{table: models.SampleTable(time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC))}
	pipeline := NewFetchPipeline(fetcher, nil, nil, "raw", nil)
	pipeline.now = func() time.Time { return time.Date(2024, 6, 14, 21, 0, 0, 0, time.UTC) }

	result, err := pipeline.Run(context.Background(), time.Time{}, models.TriggerTypeScheduled, "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !fetcher.gotDate.Equal(time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected today's date, got %v", fetcher.gotDate)
	}
	if result.Upload != nil {
		t.Error("No upload expected without storage")
	}
}
