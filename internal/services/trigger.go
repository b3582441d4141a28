package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"
)

// LambdaAPI is the subset of the Lambda client used to hand off ETL work
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// ETLRequest is the payload sent to the ETL function
type ETLRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// TriggerResult reports how the ETL was started
type TriggerResult struct {
	JobRunID string `json:"JobRunId,omitempty"`
	Invoked  string `json:"invoked,omitempty"`
	Key      string `json:"key"`
}

// TriggerConfig selects the ETL target. A Glue job takes precedence over the function.
type TriggerConfig struct {
	GlueJobName   string
	ETLFunction   string
	RawPrefix     string
	RefinedPrefix string
	Database      string
	Table         string
}

// ETLTrigger starts the ETL for newly uploaded raw objects
type ETLTrigger struct {
	glue   *GlueService
	lambda LambdaAPI
	config TriggerConfig
	logger *zap.Logger
}

// NewETLTrigger creates a trigger. glue or lambdaClient may be nil when
// the matching target is not configured.
func NewETLTrigger(glue *GlueService, lambdaClient LambdaAPI, config TriggerConfig, logger *zap.Logger) *ETLTrigger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ETLTrigger{glue: glue, lambda: lambdaClient, config: config, logger: logger}
}

// Accepts reports whether key is a raw parquet object this trigger handles
func (t *ETLTrigger) Accepts(key string) bool {
	prefix := strings.Trim(t.config.RawPrefix, "/")
	if prefix != "" && !strings.HasPrefix(key, prefix+"/") {
		return false
	}
	return strings.HasSuffix(key, ".parquet")
}

// Start launches the ETL for one raw object
func (t *ETLTrigger) Start(ctx context.Context, bucket, key string) (*TriggerResult, error) {
	switch {
	case t.config.GlueJobName != "":
		if t.glue == nil {
			return nil, fmt.Errorf("glue job %s configured without a glue client", t.config.GlueJobName)
		}
		args := map[string]string{
			"--S3_SOURCE": fmt.Sprintf("s3://%s/%s", bucket, key),
			"--S3_TARGET": fmt.Sprintf("s3://%s/%s/", bucket, strings.Trim(t.config.RefinedPrefix, "/")),
		}
		if t.config.Database != "" {
			args["--DATABASE_NAME"] = t.config.Database
		}
		if t.config.Table != "" {
			args["--TABLE_NAME"] = t.config.Table
		}

		runID, err := t.glue.StartJob(ctx, t.config.GlueJobName, args)
		if err != nil {
			return nil, err
		}
		return &TriggerResult{JobRunID: runID, Key: key}, nil

	case t.config.ETLFunction != "":
		if t.lambda == nil {
			return nil, fmt.Errorf("ETL function %s configured without a lambda client", t.config.ETLFunction)
		}
		payload, err := json.Marshal(ETLRequest{Bucket: bucket, Key: key})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ETL request: %w", err)
		}

		_, err = t.lambda.Invoke(ctx, &lambda.InvokeInput{
			FunctionName:   aws.String(t.config.ETLFunction),
			InvocationType: lambdatypes.InvocationTypeEvent,
			Payload:        payload,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to invoke %s: %w", t.config.ETLFunction, err)
		}
		t.logger.Info("Invoked ETL function",
			zap.String("function", t.config.ETLFunction), zap.String("key", key))
		return &TriggerResult{Invoked: t.config.ETLFunction, Key: key}, nil

	default:
		return nil, fmt.Errorf("no ETL target configured: set GLUE_JOB_NAME or ETL_FUNCTION_NAME")
	}
}
