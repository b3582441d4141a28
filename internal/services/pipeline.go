package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// Fetcher produces a Result Table and the outcome of each strategy tried
type Fetcher interface {
	FetchWithOutcome(ctx context.Context, date time.Time) (*models.ResultTable, []models.StrategyAttempt)
}

// RunRecorder persists fetch run records
type RunRecorder interface {
	PutFetchRun(ctx context.Context, run *models.FetchRun) error
}

// FetchPipeline fetches a day's table, stores it as parquet in the raw zone
// and records the run
type FetchPipeline struct {
	fetcher   Fetcher
	storage   *S3Client
	runs      RunRecorder
	rawPrefix string
	metrics   *StrategyMetrics
	logger    *zap.Logger
	now       func() time.Time
}

// PipelineResult is the outcome of one pipeline run
type PipelineResult struct {
	Run    *models.FetchRun    `json:"run"`
	Table  *models.ResultTable `json:"-"`
	Upload *S3UploadResult     `json:"upload,omitempty"`
}

// NewFetchPipeline creates a pipeline. storage and runs may be nil to skip
// the upload or the run record.
func NewFetchPipeline(fetcher Fetcher, storage *S3Client, runs RunRecorder, rawPrefix string, logger *zap.Logger) *FetchPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FetchPipeline{
		fetcher:   fetcher,
		storage:   storage,
		runs:      runs,
		rawPrefix: rawPrefix,
		metrics:   NewStrategyMetrics(DefaultAlertThresholds()),
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes the pipeline for date (today when zero)
func (p *FetchPipeline) Run(ctx context.Context, date time.Time, triggerType, requestID string) (*PipelineResult, error) {
	start := p.now()
	date = models.ReferenceDateOrToday(date, start)

	run := &models.FetchRun{
		ID:              models.GenerateFetchRunID(),
		RefDate:         models.FormatDate(date),
		StartedAt:       start,
		Status:          models.RunStatusRunning,
		TriggerType:     triggerType,
		PipelineVersion: models.PipelineVersion,
		LambdaRequestID: requestID,
	}
	p.record(ctx, run)

	logger := p.logger.With(zap.String("run_id", run.ID), zap.String("date", run.RefDate))

	table, attempts := p.fetcher.FetchWithOutcome(ctx, date)
	run.Source = table.Source
	run.Rows = table.Len()
	run.Columns = table.ColumnNames()
	run.Attempts = attempts
	p.metrics.Record(attempts, p.now())
	p.metrics.LogSummary(logger, p.now())

	result := &PipelineResult{Run: run, Table: table}

	if p.storage != nil {
		upload, err := p.upload(ctx, table, date)
		if err != nil {
			p.finish(ctx, run, err)
			logger.Error("Pipeline failed", zap.Error(err))
			return result, err
		}
		run.UploadedKey = upload.Key
		run.ParquetSize = int(upload.Size)
		result.Upload = upload
	}

	p.finish(ctx, run, nil)
	logger.Info("Pipeline completed",
		zap.String("status", run.Status),
		zap.String("source", string(run.Source)),
		zap.Int("rows", run.Rows),
		zap.String("key", run.UploadedKey),
		zap.Int64("duration_ms", run.Duration))
	return result, nil
}

// Metrics returns the strategy metrics accumulated by this pipeline
func (p *FetchPipeline) Metrics() *StrategyMetrics {
	return p.metrics
}

func (p *FetchPipeline) upload(ctx context.Context, table *models.ResultTable, date time.Time) (*S3UploadResult, error) {
	data, err := EncodeParquet(table)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parquet: %w", err)
	}
	return p.storage.UploadParquet(ctx, data, p.rawPrefix, date, "")
}

func (p *FetchPipeline) finish(ctx context.Context, run *models.FetchRun, err error) {
	run.CompletedAt = p.now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt).Milliseconds()

	switch {
	case err != nil:
		run.Status = models.RunStatusFailed
		run.ErrorSummary = err.Error()
	case run.Degraded():
		run.Status = models.RunStatusDegraded
		run.ErrorSummary = attemptErrors(run.Attempts)
	default:
		run.Status = models.RunStatusCompleted
	}
	p.record(ctx, run)
}

// record stores the run; a ledger failure is logged, never fatal
func (p *FetchPipeline) record(ctx context.Context, run *models.FetchRun) {
	if p.runs == nil {
		return
	}
	if err := p.runs.PutFetchRun(ctx, run); err != nil {
		p.logger.Warn("Failed to record fetch run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func attemptErrors(attempts []models.StrategyAttempt) string {
	var parts []string
	for _, a := range attempts {
		if a.Error != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Error))
		}
	}
	return strings.Join(parts, "; ")
}
