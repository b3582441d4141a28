package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"go.uber.org/zap"
)

func TestETLTrigger_StartsGlueJob(t *testing.T) {
	glueFake := newFakeGlue()
	lambdaFake := &fakeLambda{}
	trigger := NewETLTrigger(NewGlueService(glueFake, zap.NewNop()), lambdaFake, TriggerConfig{
		GlueJobName:   "b3-etl-job",
		ETLFunction:   "b3-etl",
		RawPrefix:     "raw",
		RefinedPrefix: "refined",
		Database:      "b3_database",
		Table:         "b3_refined",
	}, zap.NewNop())

	result, err := trigger.Start(context.Background(), "b3-lake", "raw/date=2024-01-02/data.parquet")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if result.JobRunID != "jr_1" || result.Invoked != "" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if len(lambdaFake.invocations) != 0 {
		t.Error("Glue job should take precedence over the ETL function")
	}

	args := glueFake.jobRuns[0].Arguments
	if args["--S3_SOURCE"] != "s3://b3-lake/raw/date=2024-01-02/data.parquet" {
		t.Errorf("Unexpected source argument %s", args["--S3_SOURCE"])
	}
	if args["--S3_TARGET"] != "s3://b3-lake/refined/" {
		t.Errorf("Unexpected target argument %s", args["--S3_TARGET"])
	}
	if args["--DATABASE_NAME"] != "b3_database" || args["--TABLE_NAME"] != "b3_refined" {
		t.Errorf("Missing catalog arguments: %v", args)
	}
	if aws.ToString(glueFake.jobRuns[0].JobName) != "b3-etl-job" {
		t.Errorf("Unexpected job name %s", aws.ToString(glueFake.jobRuns[0].JobName))
	}
}

func TestETLTrigger_InvokesFunctionAsync(t *testing.T) {
	lambdaFake := &fakeLambda{}
	trigger := NewETLTrigger(nil, lambdaFake, TriggerConfig{ETLFunction: "b3-etl"}, nil)

	result, err := trigger.Start(context.Background(), "b3-lake", "raw/date=2024-01-02/data.parquet")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if result.Invoked != "b3-etl" {
		t.Errorf("Unexpected result: %+v", result)
	}

	if len(lambdaFake.invocations) != 1 {
		t.Fatalf("Expected 1 invocation, got %d", len(lambdaFake.invocations))
	}
	invocation := lambdaFake.invocations[0]
	if invocation.InvocationType != lambdatypes.InvocationTypeEvent {
		t.Errorf("Expected async invocation, got %s", invocation.InvocationType)
	}

	var request ETLRequest
	if err := json.Unmarshal(invocation.Payload, &request); err != nil {
		t.Fatalf("Invalid payload: %v", err)
	}
	if request.Bucket != "b3-lake" || request.Key != "raw/date=2024-01-02/data.parquet" {
		t.Errorf("Unexpected payload: %+v", request)
	}
}

func TestETLTrigger_Errors(t *testing.T) {
	if _, err := NewETLTrigger(nil, nil, TriggerConfig{}, nil).Start(context.Background(), "b", "raw/x.parquet"); err == nil {
		t.Error("Expected error without a configured target")
	}

	if _, err := NewETLTrigger(nil, nil, TriggerConfig{GlueJobName: "job"}, nil).Start(context.Background(), "b", "raw/x.parquet"); err == nil {
		t.Error("Expected error for glue job without client")
	}

	failing := &fakeLambda{err: errors.New("TooManyRequestsException")}
	_, err := NewETLTrigger(nil, failing, TriggerConfig{ETLFunction: "b3-etl"}, nil).Start(context.Background(), "b", "raw/x.parquet")
	if !errors.Is(err, failing.err) {
		t.Errorf("Expected wrapped invoke error, got %v", err)
	}
}

func TestETLTrigger_Accepts(t *testing.T) {
	trigger := NewETLTrigger(nil, nil, TriggerConfig{RawPrefix: "raw/"}, nil)

	tests := []struct {
		key  string
		want bool
	}{
		{"raw/date=2024-01-02/data.parquet", true},
		{"raw/_SUCCESS", false},
		{"refined/data_ref=2024-01-02/codigo_acao=PETR4/part-0000.parquet", false},
		{"rawdata/x.parquet", false},
	}
	for _, tt := range tests {
		if got := trigger.Accepts(tt.key); got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}
