// Package kinesis adapts the AWS Kinesis Data Streams API to ports.StreamClient.
package kinesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awskinesis "github.com/aws/aws-sdk-go/service/kinesis"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

// API is the subset of kinesisiface.KinesisAPI the consumer calls.
type API interface {
	DescribeStreamWithContext(aws.Context, *awskinesis.DescribeStreamInput, ...request.Option) (*awskinesis.DescribeStreamOutput, error)
	GetShardIteratorWithContext(aws.Context, *awskinesis.GetShardIteratorInput, ...request.Option) (*awskinesis.GetShardIteratorOutput, error)
	GetRecordsWithContext(aws.Context, *awskinesis.GetRecordsInput, ...request.Option) (*awskinesis.GetRecordsOutput, error)
}

type Client struct {
	api API
}

// NewSession builds an AWS session for region. endpoint overrides the
// service endpoint (localstack, kinesalite) when non-empty.
func NewSession(region, endpoint string) (*session.Session, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if endpoint != "" {
		cfg = cfg.WithEndpoint(endpoint)
	}
	return session.NewSession(cfg)
}

func New(p client.ConfigProvider) *Client {
	return &Client{api: awskinesis.New(p)}
}

// NewWithAPI wraps an existing API implementation, typically a test double.
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

func (c *Client) DescribeStream(ctx context.Context, streamName string) (domain.Stream, error) {
	stream := domain.Stream{Name: streamName}
	input := &awskinesis.DescribeStreamInput{StreamName: aws.String(streamName)}

	for {
		out, err := c.api.DescribeStreamWithContext(ctx, input)
		if err != nil {
			return domain.Stream{}, wrapError("describe stream "+streamName, err)
		}
		desc := out.StreamDescription
		if desc == nil {
			return domain.Stream{}, fmt.Errorf("describe stream %s: empty description", streamName)
		}
		stream.Status = domain.StreamStatus(aws.StringValue(desc.StreamStatus))

		var last string
		for _, sh := range desc.Shards {
			last = aws.StringValue(sh.ShardId)
			stream.Shards = append(stream.Shards, domain.Shard{
				ID:            last,
				ParentShardID: aws.StringValue(sh.ParentShardId),
			})
		}
		if !aws.BoolValue(desc.HasMoreShards) || last == "" {
			return stream, nil
		}
		input.ExclusiveStartShardId = aws.String(last)
	}
}

func (c *Client) GetShardIterator(ctx context.Context, req ports.IteratorRequest) (string, error) {
	input := &awskinesis.GetShardIteratorInput{
		StreamName:        aws.String(req.StreamName),
		ShardId:           aws.String(req.ShardID),
		ShardIteratorType: aws.String(string(req.Type)),
	}
	if req.StartingSequenceNumber != "" {
		input.StartingSequenceNumber = aws.String(req.StartingSequenceNumber)
	}
	out, err := c.api.GetShardIteratorWithContext(ctx, input)
	if err != nil {
		return "", wrapError("get shard iterator "+req.ShardID, err)
	}
	return aws.StringValue(out.ShardIterator), nil
}

func (c *Client) GetRecords(ctx context.Context, iterator string, limit int) (ports.RecordsOutput, error) {
	input := &awskinesis.GetRecordsInput{ShardIterator: aws.String(iterator)}
	if limit > 0 {
		input.Limit = aws.Int64(int64(limit))
	}
	out, err := c.api.GetRecordsWithContext(ctx, input)
	if err != nil {
		return ports.RecordsOutput{}, wrapError("get records", err)
	}

	records := make([]domain.Record, 0, len(out.Records))
	for _, r := range out.Records {
		records = append(records, domain.Record{
			SequenceNumber:   aws.StringValue(r.SequenceNumber),
			ArrivalTimestamp: aws.TimeValue(r.ApproximateArrivalTimestamp).UTC(),
			Data:             r.Data,
			PartitionKey:     aws.StringValue(r.PartitionKey),
		})
	}
	return ports.RecordsOutput{
		Records:            records,
		NextIterator:       aws.StringValue(out.NextShardIterator),
		MillisBehindLatest: aws.Int64Value(out.MillisBehindLatest),
	}, nil
}

// wrapError tags service error codes with the sentinel the worker classifies on.
func wrapError(op string, err error) error {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case awskinesis.ErrCodeExpiredIteratorException:
			return fmt.Errorf("%s: %w: %w", op, ports.ErrIteratorExpired, err)
		case awskinesis.ErrCodeProvisionedThroughputExceededException,
			awskinesis.ErrCodeKMSThrottlingException,
			awskinesis.ErrCodeLimitExceededException:
			return fmt.Errorf("%s: %w: %w", op, ports.ErrThroughputExceeded, err)
		case request.CanceledErrorCode:
			return fmt.Errorf("%s: %w: %w", op, context.Canceled, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ ports.StreamClient = (*Client)(nil)
