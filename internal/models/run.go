package models

import "time"

// StrategyAttempt records the outcome of one acquisition strategy during a fetch
type StrategyAttempt struct {
	Strategy  Source `json:"strategy" dynamodbav:"Strategy"`
	Success   bool   `json:"success" dynamodbav:"Success"`
	Skipped   bool   `json:"skipped,omitempty" dynamodbav:"Skipped"`
	ErrorType string `json:"errorType,omitempty" dynamodbav:"ErrorType,omitempty"`
	Error     string `json:"error,omitempty" dynamodbav:"Error,omitempty"`
	Rows      int    `json:"rows,omitempty" dynamodbav:"Rows"`
	Duration  int64  `json:"duration" dynamodbav:"Duration"` // milliseconds
}

// FetchRun represents a complete fetch/upload run for one reference date
type FetchRun struct {
	PK string `json:"-" dynamodbav:"PK"` // RUN#<id>
	SK string `json:"-" dynamodbav:"SK"` // DATE#<yyyy-mm-dd>

	ID          string    `json:"id" dynamodbav:"ID"`
	RefDate     string    `json:"refDate" dynamodbav:"RefDate"`
	StartedAt   time.Time `json:"startedAt" dynamodbav:"StartedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty" dynamodbav:"CompletedAt"`
	Duration    int64     `json:"duration,omitempty" dynamodbav:"Duration"` // milliseconds
	Status      string    `json:"status" dynamodbav:"Status"`               // running|completed|degraded|failed

	// Acquisition
	Source   Source            `json:"source" dynamodbav:"Source"`
	Rows     int               `json:"rows" dynamodbav:"Rows"`
	Columns  []string          `json:"columns" dynamodbav:"Columns"`
	Attempts []StrategyAttempt `json:"attempts" dynamodbav:"Attempts"`

	// Storage
	UploadedKey string `json:"uploadedKey,omitempty" dynamodbav:"UploadedKey,omitempty"`
	ParquetSize int    `json:"parquetSize,omitempty" dynamodbav:"ParquetSize"`

	ErrorSummary string `json:"errorSummary,omitempty" dynamodbav:"ErrorSummary,omitempty"`

	// Metadata
	TriggerType     string `json:"triggerType" dynamodbav:"TriggerType"` // scheduled|manual
	PipelineVersion string `json:"pipelineVersion" dynamodbav:"PipelineVersion"`
	LambdaRequestID string `json:"lambdaRequestId,omitempty" dynamodbav:"LambdaRequestId,omitempty"`

	TTL int64 `json:"-" dynamodbav:"TTL,omitempty"`
}

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusDegraded  = "degraded"
	RunStatusFailed    = "failed"
)

// Trigger type constants
const (
	TriggerTypeScheduled = "scheduled"
	TriggerTypeManual    = "manual"
)

// PipelineVersion is stamped on every run record
const PipelineVersion = "1.0.0"

// RunRetention is how long run records are kept before DynamoDB expires them
const RunRetention = 90 * 24 * time.Hour

// Degraded reports whether the run fell back to synthetic data
func (r *FetchRun) Degraded() bool {
	return r.Source == SourceSynthetic
}
