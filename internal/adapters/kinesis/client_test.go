package kinesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	awskinesis "github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/kinsumer/internal/domain"
	"github.com/ghalamif/kinsumer/internal/ports"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) DescribeStreamWithContext(_ aws.Context, in *awskinesis.DescribeStreamInput, _ ...request.Option) (*awskinesis.DescribeStreamOutput, error) {
	ret := m.Called(in)
	var r0 *awskinesis.DescribeStreamOutput
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*awskinesis.DescribeStreamOutput)
	}
	return r0, ret.Error(1)
}

func (m *mockAPI) GetShardIteratorWithContext(_ aws.Context, in *awskinesis.GetShardIteratorInput, _ ...request.Option) (*awskinesis.GetShardIteratorOutput, error) {
	ret := m.Called(in)
	var r0 *awskinesis.GetShardIteratorOutput
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*awskinesis.GetShardIteratorOutput)
	}
	return r0, ret.Error(1)
}

func (m *mockAPI) GetRecordsWithContext(_ aws.Context, in *awskinesis.GetRecordsInput, _ ...request.Option) (*awskinesis.GetRecordsOutput, error) {
	ret := m.Called(in)
	var r0 *awskinesis.GetRecordsOutput
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*awskinesis.GetRecordsOutput)
	}
	return r0, ret.Error(1)
}

func TestDescribeStreamPaginates(t *testing.T) {
	api := &mockAPI{}
	api.On("DescribeStreamWithContext", &awskinesis.DescribeStreamInput{
		StreamName: aws.String("orders"),
	}).Return(&awskinesis.DescribeStreamOutput{
		StreamDescription: &awskinesis.StreamDescription{
			StreamStatus:  aws.String("ACTIVE"),
			HasMoreShards: aws.Bool(true),
			Shards: []*awskinesis.Shard{
				{ShardId: aws.String("shardId-000000000000")},
			},
		},
	}, nil).Once()
	api.On("DescribeStreamWithContext", &awskinesis.DescribeStreamInput{
		StreamName:            aws.String("orders"),
		ExclusiveStartShardId: aws.String("shardId-000000000000"),
	}).Return(&awskinesis.DescribeStreamOutput{
		StreamDescription: &awskinesis.StreamDescription{
			StreamStatus:  aws.String("ACTIVE"),
			HasMoreShards: aws.Bool(false),
			Shards: []*awskinesis.Shard{
				{ShardId: aws.String("shardId-000000000001"), ParentShardId: aws.String("shardId-000000000000")},
			},
		},
	}, nil).Once()

	stream, err := NewWithAPI(api).DescribeStream(context.Background(), "orders")
	require.NoError(t, err)
	require.True(t, stream.Active())
	require.Equal(t, []string{"shardId-000000000000", "shardId-000000000001"}, stream.ShardIDs())
	require.Equal(t, "shardId-000000000000", stream.Shards[1].ParentShardID)
	api.AssertExpectations(t)
}

func TestGetShardIteratorAfterSequence(t *testing.T) {
	api := &mockAPI{}
	api.On("GetShardIteratorWithContext", &awskinesis.GetShardIteratorInput{
		StreamName:             aws.String("orders"),
		ShardId:                aws.String("shardId-000000000000"),
		ShardIteratorType:      aws.String("AFTER_SEQUENCE_NUMBER"),
		StartingSequenceNumber: aws.String("100"),
	}).Return(&awskinesis.GetShardIteratorOutput{ShardIterator: aws.String("it-1")}, nil)

	it, err := NewWithAPI(api).GetShardIterator(context.Background(), ports.IteratorRequest{
		StreamName:             "orders",
		ShardID:                "shardId-000000000000",
		Type:                   ports.IteratorAfterSequenceNumber,
		StartingSequenceNumber: "100",
	})
	require.NoError(t, err)
	require.Equal(t, "it-1", it)
	api.AssertExpectations(t)
}

func TestGetRecordsMapsRecordsAndClosure(t *testing.T) {
	arrival := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))
	api := &mockAPI{}
	api.On("GetRecordsWithContext", &awskinesis.GetRecordsInput{
		ShardIterator: aws.String("it-1"),
		Limit:         aws.Int64(50),
	}).Return(&awskinesis.GetRecordsOutput{
		Records: []*awskinesis.Record{{
			SequenceNumber:              aws.String("1"),
			ApproximateArrivalTimestamp: aws.Time(arrival),
			Data:                        []byte(`{"id":1}`),
			PartitionKey:                aws.String("user-1"),
		}},
		MillisBehindLatest: aws.Int64(1500),
	}, nil)

	out, err := NewWithAPI(api).GetRecords(context.Background(), "it-1", 50)
	require.NoError(t, err)
	require.Equal(t, "", out.NextIterator, "missing next iterator signals a closed shard")
	require.Equal(t, int64(1500), out.MillisBehindLatest)
	require.Equal(t, []domain.Record{{
		SequenceNumber:   "1",
		ArrivalTimestamp: arrival.UTC(),
		Data:             []byte(`{"id":1}`),
		PartitionKey:     "user-1",
	}}, out.Records)
}

func TestGetRecordsClassifiesServiceErrors(t *testing.T) {
	cases := []struct {
		code string
		want ports.ErrorClass
	}{
		{awskinesis.ErrCodeExpiredIteratorException, ports.ErrorFatal},
		{awskinesis.ErrCodeProvisionedThroughputExceededException, ports.ErrorThrottled},
		{awskinesis.ErrCodeKMSThrottlingException, ports.ErrorThrottled},
		{request.CanceledErrorCode, ports.ErrorCanceled},
		{"InternalFailure", ports.ErrorTransient},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			api := &mockAPI{}
			api.On("GetRecordsWithContext", mock.Anything).
				Return(nil, awserr.New(tc.code, "boom", errors.New("cause")))

			_, err := NewWithAPI(api).GetRecords(context.Background(), "it-1", 10)
			require.Error(t, err)
			require.Equal(t, tc.want, ports.Classify(err))

			var aerr awserr.Error
			require.ErrorAs(t, err, &aerr, "original service error must stay reachable")
		})
	}
}
