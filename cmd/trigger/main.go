package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/config"
	"b3-ibov-pipeline/internal/logging"
	"b3-ibov-pipeline/internal/services"
)

// TriggerResponse mirrors an API Gateway style result so the function can be
// invoked from S3 notifications and by hand alike
type TriggerResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

type triggerBody struct {
	Results []services.TriggerResult `json:"results"`
	Skipped []string                 `json:"skipped,omitempty"`
}

type etlStarter interface {
	Accepts(key string) bool
	Start(ctx context.Context, bucket, key string) (*services.TriggerResult, error)
}

// TriggerHandler starts the ETL for raw parquet objects announced by S3
type TriggerHandler struct {
	trigger etlStarter
	logger  *zap.Logger
}

// NewTriggerHandler wires the Glue and Lambda clients from configuration
func NewTriggerHandler(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*TriggerHandler, error) {
	if cfg.GlueJobName == "" && cfg.ETLFunction == "" {
		return nil, fmt.Errorf("GLUE_JOB_NAME or ETL_FUNCTION_NAME is required")
	}

	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	var glueService *services.GlueService
	if cfg.GlueJobName != "" {
		glueService = services.NewGlueService(glue.NewFromConfig(awsCfg), logger)
	}
	var lambdaClient services.LambdaAPI
	if cfg.ETLFunction != "" {
		lambdaClient = awslambda.NewFromConfig(awsCfg)
	}

	trigger := services.NewETLTrigger(glueService, lambdaClient, services.TriggerConfig{
		GlueJobName:   cfg.GlueJobName,
		ETLFunction:   cfg.ETLFunction,
		RawPrefix:     cfg.RawPrefix,
		RefinedPrefix: cfg.RefinedPrefix,
		Database:      cfg.GlueDatabase,
		Table:         cfg.GlueTable,
	}, logger)

	return &TriggerHandler{trigger: trigger, logger: logger}, nil
}

// HandleS3Event starts one ETL run per accepted object in the notification
func (h *TriggerHandler) HandleS3Event(ctx context.Context, event events.S3Event) (TriggerResponse, error) {
	h.logger.Info("Processing S3 notification", zap.Int("records", len(event.Records)))

	body := triggerBody{Results: []services.TriggerResult{}}
	for _, record := range event.Records {
		bucket := record.S3.Bucket.Name
		key, err := objectKey(record.S3.Object)
		if err != nil {
			return TriggerResponse{}, err
		}

		if !h.trigger.Accepts(key) {
			h.logger.Debug("Skipping object", zap.String("key", key))
			body.Skipped = append(body.Skipped, key)
			continue
		}

		result, err := h.trigger.Start(ctx, bucket, key)
		if err != nil {
			h.logger.Error("Failed to start ETL", zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
			return TriggerResponse{}, fmt.Errorf("failed to start ETL for s3://%s/%s: %w", bucket, key, err)
		}

		h.logger.Info("Started ETL",
			zap.String("key", key),
			zap.String("job_run_id", result.JobRunID),
			zap.String("invoked", result.Invoked))
		body.Results = append(body.Results, *result)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return TriggerResponse{}, fmt.Errorf("failed to marshal response: %w", err)
	}
	return TriggerResponse{StatusCode: 200, Body: string(payload)}, nil
}

// objectKey returns the decoded key; S3 notifications URL-encode it
func objectKey(object events.S3Object) (string, error) {
	if object.URLDecodedKey != "" {
		return object.URLDecodedKey, nil
	}
	key, err := url.QueryUnescape(object.Key)
	if err != nil {
		return "", fmt.Errorf("invalid object key %q: %w", object.Key, err)
	}
	return key, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.MustNew(cfg.LogLevel)
	defer logger.Sync()

	handler, err := NewTriggerHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize trigger handler", zap.Error(err))
	}

	lambda.Start(handler.HandleS3Event)
}
