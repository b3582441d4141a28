package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/config"
	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

type stubFetcher struct {
	gotDate time.Time
}

func (f *stubFetcher) FetchWithOutcome(ctx context.Context, date time.Time) (*models.ResultTable, []models.StrategyAttempt) {
	f.gotDate = date
	return models.SampleTable(date), []models.StrategyAttempt{
		{Strategy: models.SourceRendered, Error: "render error: failed to start browser"},
		{Strategy: models.SourceDirect, Error: "status error: unexpected response status (status 503)"},
		{Strategy: models.SourceSynthetic, Success: true, Rows: 5},
	}
}

type recordingRunner struct {
	date        time.Time
	triggerType string
	requestID   string
	err         error
}

func (r *recordingRunner) Run(ctx context.Context, date time.Time, triggerType, requestID string) (*services.PipelineResult, error) {
	r.date, r.triggerType, r.requestID = date, triggerType, requestID
	run := &models.FetchRun{
		ID:          "run-1",
		RefDate:     models.FormatDate(date),
		Status:      models.RunStatusCompleted,
		Source:      models.SourceRendered,
		Rows:        82,
		UploadedKey: "raw/date=2024-01-02/data.parquet",
	}
	if r.err != nil {
		run.Status = models.RunStatusFailed
	}
	return &services.PipelineResult{Run: run}, r.err
}

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name        string
		event       LambdaEvent
		wantDate    time.Time
		wantTrigger string
		wantErr     bool
	}{
		{"scheduled", LambdaEvent{Source: "aws.events", DetailType: "Scheduled Event"}, time.Time{}, models.TriggerTypeScheduled, false},
		{"manual with date", LambdaEvent{Date: "2024-01-02"}, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), models.TriggerTypeManual, false},
		{"explicit trigger", LambdaEvent{TriggerType: "backfill", Source: "aws.events"}, time.Time{}, "backfill", false},
		{"invalid date", LambdaEvent{Date: "02/01/2024"}, time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, trigger, err := parseEvent(tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !date.Equal(tt.wantDate) {
				t.Errorf("date = %v, want %v", date, tt.wantDate)
			}
			if trigger != tt.wantTrigger {
				t.Errorf("trigger = %s, want %s", trigger, tt.wantTrigger)
			}
		})
	}
}

func TestHandleLambdaEvent(t *testing.T) {
	runner := &recordingRunner{}
	handler := &FetchHandler{pipeline: runner, logger: zap.NewNop()}

	ctx := lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-42"})
	response, err := handler.HandleLambdaEvent(ctx, LambdaEvent{Date: "2024-01-02"})
	if err != nil {
		t.Fatalf("HandleLambdaEvent() error = %v", err)
	}

	if !response.Success || response.RunID != "run-1" || response.Rows != 82 {
		t.Errorf("Unexpected response: %+v", response)
	}
	if response.Key != "raw/date=2024-01-02/data.parquet" {
		t.Errorf("Unexpected key %s", response.Key)
	}
	if runner.requestID != "req-42" {
		t.Errorf("Expected request ID from lambda context, got %q", runner.requestID)
	}
	if runner.triggerType != models.TriggerTypeManual {
		t.Errorf("Expected manual trigger, got %s", runner.triggerType)
	}
}

func TestHandleLambdaEvent_Errors(t *testing.T) {
	handler := &FetchHandler{pipeline: &recordingRunner{}, logger: zap.NewNop()}
	response, err := handler.HandleLambdaEvent(context.Background(), LambdaEvent{Date: "not-a-date"})
	if err == nil || response.Success {
		t.Error("Expected invalid date to fail")
	}

	uploadErr := errors.New("failed to upload object: AccessDenied")
	handler = &FetchHandler{pipeline: &recordingRunner{err: uploadErr}, logger: zap.NewNop()}
	response, err = handler.HandleLambdaEvent(context.Background(), LambdaEvent{Source: "aws.events"})
	if !errors.Is(err, uploadErr) {
		t.Errorf("Expected upload error, got %v", err)
	}
	if response.Success || response.Status != models.RunStatusFailed {
		t.Errorf("Unexpected response: %+v", response)
	}
	if !strings.Contains(response.Message, "AccessDenied") {
		t.Errorf("Expected error in message, got %q", response.Message)
	}
}

func TestHandleLambdaEvent_DegradedPipeline(t *testing.T) {
	fetcher := &stubFetcher{}
	pipeline := services.NewFetchPipeline(fetcher, nil, nil, "raw", zap.NewNop())
	handler := &FetchHandler{pipeline: pipeline, logger: zap.NewNop()}

	response, err := handler.HandleLambdaEvent(context.Background(), LambdaEvent{Date: "2024-01-02"})
	if err != nil {
		t.Fatalf("HandleLambdaEvent() error = %v", err)
	}

	if response.Status != models.RunStatusDegraded || response.Source != string(models.SourceSynthetic) {
		t.Errorf("Unexpected response: %+v", response)
	}
	if response.Rows != 5 || len(response.Errors) != 2 {
		t.Errorf("Expected 5 synthetic rows and 2 strategy errors, got %+v", response)
	}
	if response.ReferenceDate != "2024-01-02" {
		t.Errorf("Unexpected reference date %s", response.ReferenceDate)
	}
}

func TestBuildResponse_NilResult(t *testing.T) {
	response := buildResponse(nil, errors.New("boom"))
	if response.Success || !strings.Contains(response.Message, "boom") {
		t.Errorf("Unexpected response: %+v", response)
	}
}

func TestNewFetchHandler_RequiresBucket(t *testing.T) {
	_, err := NewFetchHandler(context.Background(), &config.Config{}, zap.NewNop())
	if err == nil {
		t.Error("Expected error without a bucket")
	}
}
