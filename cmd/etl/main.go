package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/config"
	"b3-ibov-pipeline/internal/logging"
	"b3-ibov-pipeline/internal/services"
)

// ETLEvent is either the trigger's {bucket, key} payload or an explicit
// source (object key, prefix or s3:// URI) for manual reprocessing
type ETLEvent struct {
	services.ETLRequest
	Source string `json:"source,omitempty"`
}

// ETLResponse is returned by the ETL function
type ETLResponse struct {
	Success        bool                `json:"success"`
	Message        string              `json:"message"`
	Result         *services.ETLResult `json:"result,omitempty"`
	ProcessingTime int64               `json:"processing_time_ms"`
}

type etlRunner interface {
	Run(ctx context.Context, source string) (*services.ETLResult, error)
}

// ETLHandler refines raw objects into the partitioned refined zone
type ETLHandler struct {
	defaultBucket string
	runnerFor     func(bucket string) etlRunner
	logger        *zap.Logger
}

// NewETLHandler wires S3 and the Glue catalog from configuration
func NewETLHandler(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ETLHandler, error) {
	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	s3Client := s3.NewFromConfig(awsCfg)
	var catalog services.Catalog
	if cfg.GlueDatabase != "" && cfg.GlueTable != "" {
		catalog = services.NewGlueService(glue.NewFromConfig(awsCfg), logger)
	}
	etlConfig := services.ETLConfig{
		RefinedPrefix: cfg.RefinedPrefix,
		Database:      cfg.GlueDatabase,
		Table:         cfg.GlueTable,
	}

	return &ETLHandler{
		defaultBucket: cfg.BucketName,
		runnerFor: func(bucket string) etlRunner {
			storage := services.NewS3Client(s3Client, bucket, awsCfg.Region)
			return services.NewETLRunner(storage, catalog, etlConfig, logger)
		},
		logger: logger,
	}, nil
}

// HandleETLEvent runs the ETL for the object or prefix named by the event
func (h *ETLHandler) HandleETLEvent(ctx context.Context, event ETLEvent) (ETLResponse, error) {
	start := time.Now()

	bucket, source, err := h.resolve(event)
	if err != nil {
		return ETLResponse{Message: err.Error(), ProcessingTime: time.Since(start).Milliseconds()}, err
	}

	h.logger.Info("ETL started", zap.String("bucket", bucket), zap.String("source", source))

	result, err := h.runnerFor(bucket).Run(ctx, source)
	if err != nil {
		h.logger.Error("ETL failed", zap.String("source", source), zap.Error(err))
		return ETLResponse{
			Message:        fmt.Sprintf("ETL failed for s3://%s/%s: %v", bucket, source, err),
			ProcessingTime: time.Since(start).Milliseconds(),
		}, err
	}

	return ETLResponse{
		Success: true,
		Message: fmt.Sprintf("Refined %d rows into %d %s records at %s",
			result.InputRows, result.Records, describeSchemas(result), result.Target),
		Result:         result,
		ProcessingTime: time.Since(start).Milliseconds(),
	}, nil
}

// describeSchemas names the refined schemas, "composition+quote" for a mixed prefix
func describeSchemas(result *services.ETLResult) string {
	if result.Schema != "" || len(result.Outputs) == 0 {
		return string(result.Schema)
	}
	names := make([]string, 0, len(result.Outputs))
	for _, output := range result.Outputs {
		names = append(names, string(output.Schema))
	}
	return strings.Join(names, "+")
}

// resolve picks the bucket and source, accepting s3://bucket/key sources
func (h *ETLHandler) resolve(event ETLEvent) (string, string, error) {
	bucket := event.Bucket
	source := event.Source
	if source == "" {
		source = event.Key
	}

	if rest, ok := strings.CutPrefix(source, "s3://"); ok {
		uriBucket, key, _ := strings.Cut(rest, "/")
		if bucket != "" && bucket != uriBucket {
			return "", "", fmt.Errorf("source %s does not match bucket %s", source, bucket)
		}
		bucket, source = uriBucket, key
	}

	if bucket == "" {
		bucket = h.defaultBucket
	}
	if bucket == "" {
		return "", "", fmt.Errorf("no bucket in event and S3_BUCKET_NAME not set")
	}
	if source == "" {
		return "", "", fmt.Errorf("event has no key or source")
	}
	return bucket, source, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.MustNew(cfg.LogLevel)
	defer logger.Sync()

	handler, err := NewETLHandler(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize ETL handler", zap.Error(err))
	}

	lambda.Start(handler.HandleETLEvent)
}
