package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"b3-ibov-pipeline/internal/models"
)

// RunDateIndex is the GSI keyed on RefDate
const RunDateIndex = "date-index"

// DynamoDBAPI is the subset of the DynamoDB client used by the run ledger
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBService records fetch runs in the runs table
type DynamoDBService struct {
	client    DynamoDBAPI
	runsTable string
}

// NewDynamoDBService creates a new DynamoDB service instance
func NewDynamoDBService(client DynamoDBAPI, runsTable string) *DynamoDBService {
	return &DynamoDBService{
		client:    client,
		runsTable: runsTable,
	}
}

// PutFetchRun stores a fetch run, creating or replacing it
func (s *DynamoDBService) PutFetchRun(ctx context.Context, run *models.FetchRun) error {
	if run.ID == "" {
		return fmt.Errorf("fetch run ID is required")
	}
	date, err := models.ParseReferenceDate(run.RefDate)
	if err != nil {
		return err
	}

	// Generate keys
	run.PK = models.RunPK(run.ID)
	run.SK = models.RunSK(date)
	if run.TTL == 0 {
		run.TTL = models.CalculateTTL(models.RunRetention)
	}

	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("failed to marshal fetch run: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.runsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put fetch run: %w", err)
	}

	return nil
}

// GetFetchRun retrieves a fetch run by ID and reference date
func (s *DynamoDBService) GetFetchRun(ctx context.Context, runID string, date time.Time) (*models.FetchRun, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.runsTable),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: models.RunPK(runID)},
			"SK": &types.AttributeValueMemberS{Value: models.RunSK(date)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch run: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("fetch run not found")
	}

	var run models.FetchRun
	err = attributevalue.UnmarshalMap(result.Item, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fetch run: %w", err)
	}

	return &run, nil
}

// QueryRunsByDate lists the runs recorded for a reference date using the GSI
func (s *DynamoDBService) QueryRunsByDate(ctx context.Context, date time.Time, limit int32) ([]models.FetchRun, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.runsTable),
		IndexName:              aws.String(RunDateIndex),
		KeyConditionExpression: aws.String("RefDate = :refDate"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":refDate": &types.AttributeValueMemberS{Value: models.FormatDate(date)},
		},
	}
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs by date: %w", err)
	}

	var runs []models.FetchRun
	err = attributevalue.UnmarshalListOfMaps(result.Items, &runs)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fetch runs: %w", err)
	}

	return runs, nil
}
