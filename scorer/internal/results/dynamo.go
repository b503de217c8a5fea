package results

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DefaultDynamoTable is the table results are written to when none is set.
const DefaultDynamoTable = "EchoGuardResults"

// DynamoOptions configures the DynamoDB backend. Endpoint overrides the AWS
// endpoint for LocalStack; empty static credentials fall back to the default
// AWS credential chain.
type DynamoOptions struct {
	Table     string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Dynamo stores records in a DynamoDB table keyed by device_id and timestamp.
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

// NewDynamo loads AWS configuration and builds a client.
func NewDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("results: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	table := opts.Table
	if table == "" {
		table = DefaultDynamoTable
	}
	return &Dynamo{client: client, table: table}, nil
}

// Put implements Store. PutItem replaces any item with the same key.
func (d *Dynamo) Put(ctx context.Context, r Record) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("results: marshal record: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("results: dynamodb put %s/%s: %w", r.DeviceID, r.Timestamp, err)
	}
	return nil
}

// List implements Lister with a full table scan.
func (d *Dynamo) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{TableName: aws.String(d.table)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("results: dynamodb scan: %w", err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("results: unmarshal scan page: %w", err)
		}
		out = append(out, recs...)
	}

	sort.Slice(out, func(i, j int) bool { return newestFirst(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
