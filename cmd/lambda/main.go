package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/config"
	"b3-ibov-pipeline/internal/logging"
	"b3-ibov-pipeline/internal/models"
	"b3-ibov-pipeline/internal/services"
)

// LambdaEvent is the input of the fetch function. Scheduled EventBridge
// invocations carry only source/detail-type; manual ones may set a date.
type LambdaEvent struct {
	Date        string `json:"date,omitempty"` // yyyy-mm-dd, today when empty
	TriggerType string `json:"trigger_type,omitempty"`
	Source      string `json:"source,omitempty"`
	DetailType  string `json:"detail-type,omitempty"`
}

// LambdaResponse is returned by the fetch function
type LambdaResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	RunID          string   `json:"run_id,omitempty"`
	Status         string   `json:"status,omitempty"`
	Source         string   `json:"source,omitempty"`
	ReferenceDate  string   `json:"reference_date,omitempty"`
	Rows           int      `json:"rows"`
	Key            string   `json:"key,omitempty"`
	ProcessingTime int64    `json:"processing_time_ms"`
	Errors         []string `json:"errors,omitempty"`
}

// pipelineRunner runs one fetch/upload/record cycle
type pipelineRunner interface {
	Run(ctx context.Context, date time.Time, triggerType, requestID string) (*services.PipelineResult, error)
}

// FetchHandler serves fetch invocations with a pipeline built once per container
type FetchHandler struct {
	pipeline pipelineRunner
	logger   *zap.Logger
}

// NewFetchHandler wires the scraper, bucket and run ledger from configuration
func NewFetchHandler(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*FetchHandler, error) {
	if err := cfg.RequireBucket(); err != nil {
		return nil, err
	}

	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	var renderer services.Renderer
	if cfg.UseBrowser {
		renderer = services.NewChromeRenderer(cfg.ChromePath)
	}
	var extractor services.TableExtractor
	if cfg.OpenAIConfig.Enabled() {
		extractor = services.NewOpenAIClient(cfg.OpenAIConfig.APIKey, cfg.OpenAIConfig.Model)
	}

	scraper := services.NewB3Scraper(services.B3Config{
		BaseURL:     cfg.B3Config.BaseURL,
		Language:    cfg.Language,
		RenderWait:  cfg.RenderWait,
		HTTPTimeout: cfg.HTTPTimeout,
		UseBrowser:  cfg.UseBrowser,
	}, renderer, extractor, logger)

	storage := services.NewS3Client(s3.NewFromConfig(awsCfg), cfg.BucketName, awsCfg.Region)

	var runs services.RunRecorder
	if cfg.RunsTable != "" {
		runs = services.NewDynamoDBService(dynamodb.NewFromConfig(awsCfg), cfg.RunsTable)
	}

	return &FetchHandler{
		pipeline: services.NewFetchPipeline(scraper, storage, runs, cfg.RawPrefix, logger),
		logger:   logger,
	}, nil
}

// HandleLambdaEvent fetches the day's composition and stores it in the raw zone
func (h *FetchHandler) HandleLambdaEvent(ctx context.Context, event LambdaEvent) (LambdaResponse, error) {
	start := time.Now()

	date, triggerType, err := parseEvent(event)
	if err != nil {
		h.logger.Error("Invalid event", zap.Error(err))
		return LambdaResponse{
			Success:        false,
			Message:        err.Error(),
			ProcessingTime: time.Since(start).Milliseconds(),
		}, err
	}

	var requestID string
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}

	h.logger.Info("Fetch started",
		zap.String("trigger_type", triggerType),
		zap.Time("date", date),
		zap.String("request_id", requestID))

	result, err := h.pipeline.Run(ctx, date, triggerType, requestID)
	response := buildResponse(result, err)
	response.ProcessingTime = time.Since(start).Milliseconds()

	if err != nil {
		h.logger.Error("Fetch failed", zap.Error(err))
		return response, err
	}

	h.logger.Info("Fetch completed", zap.String("message", response.Message))
	return response, nil
}

// parseEvent resolves the reference date and trigger type of an invocation
func parseEvent(event LambdaEvent) (time.Time, string, error) {
	var date time.Time
	if event.Date != "" {
		parsed, err := models.ParseReferenceDate(event.Date)
		if err != nil {
			return time.Time{}, "", err
		}
		date = parsed
	}

	triggerType := event.TriggerType
	if triggerType == "" {
		if event.Source == "aws.events" {
			triggerType = models.TriggerTypeScheduled
		} else {
			triggerType = models.TriggerTypeManual
		}
	}
	return date, triggerType, nil
}

func buildResponse(result *services.PipelineResult, err error) LambdaResponse {
	if result == nil || result.Run == nil {
		msg := "fetch failed"
		if err != nil {
			msg = fmt.Sprintf("fetch failed: %v", err)
		}
		return LambdaResponse{Success: false, Message: msg}
	}

	run := result.Run
	response := LambdaResponse{
		Success:       err == nil,
		RunID:         run.ID,
		Status:        run.Status,
		Source:        string(run.Source),
		ReferenceDate: run.RefDate,
		Rows:          run.Rows,
		Key:           run.UploadedKey,
	}

	for _, attempt := range run.Attempts {
		if attempt.Error != "" {
			response.Errors = append(response.Errors, fmt.Sprintf("%s: %s", attempt.Strategy, attempt.Error))
		}
	}

	if err != nil {
		response.Message = fmt.Sprintf("Fetched %d rows for %s but the run failed: %v", run.Rows, run.RefDate, err)
	} else {
		response.Message = fmt.Sprintf("Fetched %d rows for %s from %s source", run.Rows, run.RefDate, run.Source)
	}
	return response
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.MustNew(cfg.LogLevel)
	defer logger.Sync()

	handler, err := NewFetchHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize fetch handler", zap.Error(err))
	}

	lambda.Start(handler.HandleLambdaEvent)
}
