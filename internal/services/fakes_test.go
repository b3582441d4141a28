package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 is an in-memory bucket
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	putErr   error
	pageSize int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	f.objects[key] = data
	f.metadata[key] = params.Metadata
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, len(data)))}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("NoSuchKey: " + aws.ToString(params.Key))}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: int64(len(data)),
		ContentType:   aws.String(ParquetContentType),
		LastModified:  aws.Time(time.Date(2024, 1, 2, 18, 0, 0, 0, time.UTC)),
		ETag:          aws.String(`"etag"`),
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if params.ContinuationToken != nil {
		fmt.Sscanf(*params.ContinuationToken, "%d", &start)
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys[start:end] {
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(key),
			Size: int64(len(f.objects[key])),
			ETag: aws.String(`"etag"`),
		})
	}
	if end < len(keys) {
		out.IsTruncated = true
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// fakeDynamoDB stores items keyed by PK|SK
type fakeDynamoDB struct {
	mu    sync.Mutex
	items map[string]map[string]dynamotypes.AttributeValue
	puts  int
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: make(map[string]map[string]dynamotypes.AttributeValue)}
}

func itemKey(item map[string]dynamotypes.AttributeValue) string {
	pk, _ := item["PK"].(*dynamotypes.AttributeValueMemberS)
	sk, _ := item["SK"].(*dynamotypes.AttributeValueMemberS)
	if pk == nil || sk == nil {
		return ""
	}
	return pk.Value + "|" + sk.Value
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.items[itemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(params.Key)]}, nil
}

// Query supports equality on a single string attribute, as used by the date index
func (f *fakeDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var attr, placeholder string
	if _, err := fmt.Sscanf(aws.ToString(params.KeyConditionExpression), "%s = %s", &attr, &placeholder); err != nil {
		return nil, err
	}
	want, _ := params.ExpressionAttributeValues[placeholder].(*dynamotypes.AttributeValueMemberS)

	var keys []string
	for key, item := range f.items {
		if got, ok := item[attr].(*dynamotypes.AttributeValueMemberS); ok && want != nil && got.Value == want.Value {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &dynamodb.QueryOutput{}
	for _, key := range keys {
		if params.Limit != nil && int32(len(out.Items)) >= *params.Limit {
			break
		}
		out.Items = append(out.Items, f.items[key])
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// fakeGlue records job runs and catalog calls
type fakeGlue struct {
	mu         sync.Mutex
	jobRuns    []*glue.StartJobRunInput
	tables     map[string]*gluetypes.TableInput
	created    int
	updated    int
	partitions [][]string
	existing   map[string]bool
}

func newFakeGlue() *fakeGlue {
	return &fakeGlue{tables: make(map[string]*gluetypes.TableInput), existing: make(map[string]bool)}
}

func (f *fakeGlue) StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobRuns = append(f.jobRuns, params)
	return &glue.StartJobRunOutput{JobRunId: aws.String(fmt.Sprintf("jr_%d", len(f.jobRuns)))}, nil
}

func (f *fakeGlue) GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	input, ok := f.tables[aws.ToString(params.DatabaseName)+"."+aws.ToString(params.Name)]
	if !ok {
		return nil, &gluetypes.EntityNotFoundException{Message: aws.String("table not found")}
	}
	return &glue.GetTableOutput{Table: &gluetypes.Table{Name: input.Name}}, nil
}

func (f *fakeGlue) CreateTable(ctx context.Context, params *glue.CreateTableInput, optFns ...func(*glue.Options)) (*glue.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	f.tables[aws.ToString(params.DatabaseName)+"."+aws.ToString(params.TableInput.Name)] = params.TableInput
	return &glue.CreateTableOutput{}, nil
}

func (f *fakeGlue) UpdateTable(ctx context.Context, params *glue.UpdateTableInput, optFns ...func(*glue.Options)) (*glue.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated++
	f.tables[aws.ToString(params.DatabaseName)+"."+aws.ToString(params.TableInput.Name)] = params.TableInput
	return &glue.UpdateTableOutput{}, nil
}

func (f *fakeGlue) BatchCreatePartition(ctx context.Context, params *glue.BatchCreatePartitionInput, optFns ...func(*glue.Options)) (*glue.BatchCreatePartitionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &glue.BatchCreatePartitionOutput{}
	for _, p := range params.PartitionInputList {
		key := aws.ToString(params.TableName) + "/" + strings.Join(p.Values, "/")
		if f.existing[key] {
			out.Errors = append(out.Errors, gluetypes.PartitionError{
				PartitionValues: p.Values,
				ErrorDetail:     &gluetypes.ErrorDetail{ErrorCode: aws.String("AlreadyExistsException")},
			})
			continue
		}
		f.existing[key] = true
		f.partitions = append(f.partitions, p.Values)
	}
	return out, nil
}

// fakeLambda records invocations
type fakeLambda struct {
	mu          sync.Mutex
	invocations []*lambda.InvokeInput
	err         error
}

func (f *fakeLambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.invocations = append(f.invocations, params)
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}
