package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"go.uber.org/zap"

	"b3-ibov-pipeline/internal/models"
)

// GlueAPI is the subset of the Glue client used for jobs and the data catalog
type GlueAPI interface {
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error)
	UpdateTable(ctx context.Context, params *glue.UpdateTableInput, optFns ...func(*glue.Options)) (*glue.UpdateTableOutput, error)
	BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error)
}

// CatalogColumn is a column of a cataloged table
type CatalogColumn struct {
	Name string
	Type string // hive type: string, double, bigint, date
}

// TableDefinition describes a parquet table in the data catalog
type TableDefinition struct {
	Database      string
	Name          string
	Location      string
	Columns       []CatalogColumn
	PartitionKeys []CatalogColumn
}

// PartitionSpec is one partition: values in PartitionKeys order plus its location
type PartitionSpec struct {
	Values   []string
	Location string
}

// Catalog registers refined tables and their partitions
type Catalog interface {
	EnsureTable(ctx context.Context, table TableDefinition) error
	AddPartitions(ctx context.Context, table TableDefinition, partitions []PartitionSpec) error
}

// RefinedTableDefinition returns the catalog definition of a refined schema
func RefinedTableDefinition(schema ETLSchema, database, name, location string) TableDefinition {
	columns := models.CompositionColumns
	partitionColumn := models.PartitionInstrument
	if schema == SchemaQuote {
		columns = models.QuoteColumns
		partitionColumn = models.PartitionQuoteName
	}

	def := TableDefinition{
		Database: database,
		Name:     name,
		Location: location,
		PartitionKeys: []CatalogColumn{
			{Name: models.ColumnDataRef, Type: "date"},
			{Name: partitionColumn, Type: "string"},
		},
	}
	for _, col := range columns {
		def.Columns = append(def.Columns, CatalogColumn{Name: col.Name, Type: hiveType(col.Kind)})
	}
	return def
}

func hiveType(kind models.ColumnKind) string {
	switch kind {
	case models.KindFloat:
		return "double"
	case models.KindInt:
		return "bigint"
	case models.KindDate:
		return "date"
	default:
		return "string"
	}
}

// GlueService starts ETL jobs and maintains the Glue Data Catalog
type GlueService struct {
	client GlueAPI
	logger *zap.Logger
}

// NewGlueService creates a new Glue service instance
func NewGlueService(client GlueAPI, logger *zap.Logger) *GlueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GlueService{client: client, logger: logger}
}

// StartJob starts a Glue job run with the given arguments and returns its run ID
func (s *GlueService) StartJob(ctx context.Context, jobName string, arguments map[string]string) (string, error) {
	result, err := s.client.StartJobRun(ctx, &glue.StartJobRunInput{
		JobName:   aws.String(jobName),
		Arguments: arguments,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start glue job %s: %w", jobName, err)
	}

	runID := aws.ToString(result.JobRunId)
	s.logger.Info("Started glue job", zap.String("job", jobName), zap.String("job_run_id", runID))
	return runID, nil
}

// EnsureTable creates the table, or updates it when it already exists
func (s *GlueService) EnsureTable(ctx context.Context, table TableDefinition) error {
	input := tableInput(table)

	_, err := s.client.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(table.Database),
		Name:         aws.String(table.Name),
	})
	if err != nil {
		var notFound *gluetypes.EntityNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to get glue table %s.%s: %w", table.Database, table.Name, err)
		}

		if _, err := s.client.CreateTable(ctx, &glue.CreateTableInput{
			DatabaseName: aws.String(table.Database),
			TableInput:   input,
		}); err != nil {
			return fmt.Errorf("failed to create glue table %s.%s: %w", table.Database, table.Name, err)
		}
		s.logger.Info("Created glue table", zap.String("database", table.Database), zap.String("table", table.Name))
		return nil
	}

	if _, err := s.client.UpdateTable(ctx, &glue.UpdateTableInput{
		DatabaseName: aws.String(table.Database),
		TableInput:   input,
	}); err != nil {
		return fmt.Errorf("failed to update glue table %s.%s: %w", table.Database, table.Name, err)
	}
	s.logger.Info("Updated glue table", zap.String("database", table.Database), zap.String("table", table.Name))
	return nil
}

// AddPartitions registers partitions; ones that already exist are left alone
func (s *GlueService) AddPartitions(ctx context.Context, table TableDefinition, partitions []PartitionSpec) error {
	inputs := make([]gluetypes.PartitionInput, 0, len(partitions))
	for _, p := range partitions {
		inputs = append(inputs, gluetypes.PartitionInput{
			Values:            p.Values,
			StorageDescriptor: storageDescriptor(table.Columns, p.Location),
		})
	}

	// BatchCreatePartition accepts at most 100 partitions per call
	for start := 0; start < len(inputs); start += 100 {
		end := start + 100
		if end > len(inputs) {
			end = len(inputs)
		}

		result, err := s.client.BatchCreatePartition(ctx, &glue.BatchCreatePartitionInput{
			DatabaseName:       aws.String(table.Database),
			TableName:          aws.String(table.Name),
			PartitionInputList: inputs[start:end],
		})
		if err != nil {
			return fmt.Errorf("failed to create partitions: %w", err)
		}

		for _, partitionErr := range result.Errors {
			if partitionErr.ErrorDetail != nil && aws.ToString(partitionErr.ErrorDetail.ErrorCode) == "AlreadyExistsException" {
				continue
			}
			detail := ""
			if partitionErr.ErrorDetail != nil {
				detail = aws.ToString(partitionErr.ErrorDetail.ErrorMessage)
			}
			return fmt.Errorf("failed to create partition %v: %s", partitionErr.PartitionValues, detail)
		}
	}

	s.logger.Info("Registered partitions",
		zap.String("table", table.Name), zap.Int("partitions", len(partitions)))
	return nil
}

func tableInput(table TableDefinition) *gluetypes.TableInput {
	return &gluetypes.TableInput{
		Name:      aws.String(table.Name),
		TableType: aws.String("EXTERNAL_TABLE"),
		Parameters: map[string]string{
			"classification":      "parquet",
			"parquet.compression": "SNAPPY",
		},
		PartitionKeys:     glueColumns(table.PartitionKeys),
		StorageDescriptor: storageDescriptor(table.Columns, table.Location),
	}
}

func storageDescriptor(columns []CatalogColumn, location string) *gluetypes.StorageDescriptor {
	return &gluetypes.StorageDescriptor{
		Columns:      glueColumns(columns),
		Location:     aws.String(location),
		InputFormat:  aws.String("org.apache.hadoop.hive.ql.io.parquet.MapredParquetInputFormat"),
		OutputFormat: aws.String("org.apache.hadoop.hive.ql.io.parquet.MapredParquetOutputFormat"),
		SerdeInfo: &gluetypes.SerDeInfo{
			SerializationLibrary: aws.String("org.apache.hadoop.hive.ql.io.parquet.serde.ParquetHiveSerDe"),
			Parameters:           map[string]string{"serialization.format": "1"},
		},
	}
}

func glueColumns(columns []CatalogColumn) []gluetypes.Column {
	out := make([]gluetypes.Column, 0, len(columns))
	for _, col := range columns {
		out = append(out, gluetypes.Column{Name: aws.String(col.Name), Type: aws.String(col.Type)})
	}
	return out
}
