package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testQueueURL = "http://localhost:4566/000000000000/orders"

type mockSQSClient struct {
	mock.Mock
}

func newMockSQSClient(t *testing.T) *mockSQSClient {
	m := &mockSQSClient{}
	m.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*sqs.ReceiveMessageOutput)

	return out, args.Error(1)
}

func (m *mockSQSClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*sqs.DeleteMessageBatchOutput)

	return out, args.Error(1)
}

func (m *mockSQSClient) ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*sqs.ChangeMessageVisibilityBatchOutput)

	return out, args.Error(1)
}

func (m *mockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*sqs.GetQueueAttributesOutput)

	return out, args.Error(1)
}

func newTestSQSTransport(t *testing.T) (*SQSTransport, *mockSQSClient) {
	t.Helper()

	client := newMockSQSClient(t)

	tr, err := NewSQSTransport(NewSQSConfig(testQueueURL), client, nil)
	require.NoError(t, err)

	return tr, client
}

func TestNewSQSTransport_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewSQSTransport(NewSQSConfig("invalid-url"), newMockSQSClient(t), nil)

	var wrongConfigErr *WrongConfigError
	assert.ErrorAs(t, err, &wrongConfigErr)
}

func TestSQSTransport_Connect(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("GetQueueAttributes", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueAttributesInput) bool {
		return aws.ToString(in.QueueUrl) == testQueueURL
	})).Return(&sqs.GetQueueAttributesOutput{}, nil).Once()
	client.On("GetQueueAttributes", mock.Anything, mock.Anything).Return(nil, errBroker).Once()

	require.NoError(t, tr.Connect(context.Background()))
	assert.ErrorIs(t, tr.Connect(context.Background()), errBroker)
}

func TestSQSTransport_Receive(t *testing.T) {
	t.Parallel()

	var (
		tr, client = newTestSQSTransport(t)
		sent       = time.UnixMilli(1700000000000)
	)

	client.On("ReceiveMessage", mock.Anything, mock.MatchedBy(func(in *sqs.ReceiveMessageInput) bool {
		return aws.ToString(in.QueueUrl) == testQueueURL &&
			in.MaxNumberOfMessages == DefaultMaxNumberOfMessages &&
			in.VisibilityTimeout == DefaultVisibilityTimeout
	})).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{
			{
				MessageId:     aws.String("sqs-1"),
				ReceiptHandle: aws.String("receipt-1"),
				Body:          aws.String(`{"id":"a"}`),
				Attributes: map[string]string{
					string(sqstypes.MessageSystemAttributeNameMessageGroupId): "group-1",
					string(sqstypes.MessageSystemAttributeNameSentTimestamp):  "1700000000000",
				},
				MessageAttributes: map[string]sqstypes.MessageAttributeValue{
					"traceparent": {DataType: aws.String("String"), StringValue: aws.String("00-abc-def-01")},
					"binary":      {DataType: aws.String("Binary"), BinaryValue: []byte{1}},
				},
			},
			{
				MessageId:     aws.String("sqs-2"),
				ReceiptHandle: aws.String("receipt-2"),
				Body:          aws.String("plain"),
			},
		},
	}, nil).Once()

	msgs, err := tr.Receive(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, MessageID(1), first.ID)
	assert.Equal(t, []byte(`{"id":"a"}`), first.Payload)
	assert.Equal(t, "receipt-1", first.Handle())
	assert.Equal(t, "group-1", first.Key)
	assert.True(t, sent.Equal(first.PublishTime))

	sqsID, ok := first.Property(PropertySQSMessageID)
	require.True(t, ok)
	assert.Equal(t, "sqs-1", sqsID)

	traceparent, ok := first.Property("traceparent")
	require.True(t, ok)
	assert.Equal(t, "00-abc-def-01", traceparent)

	_, ok = first.Property("binary")
	assert.False(t, ok)

	assert.Equal(t, MessageID(2), msgs[1].ID)
	assert.Empty(t, msgs[1].Key)
	assert.True(t, msgs[1].PublishTime.IsZero())
}

func sqsMessage(sqsID, handle string) sqstypes.Message {
	return sqstypes.Message{
		MessageId:     aws.String(sqsID),
		ReceiptHandle: aws.String(handle),
		Body:          aws.String("body"),
	}
}

func TestSQSTransport_ReceiveSameMessageAgain(t *testing.T) {
	t.Parallel()

	var (
		tr, client = newTestSQSTransport(t)
		ctx        = context.Background()
	)

	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{sqsMessage("sqs-1", "receipt-1"), sqsMessage("sqs-2", "receipt-2")},
	}, nil).Once()
	// visibility timeout of sqs-1 ran out before it was deleted
	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
		Messages: []sqstypes.Message{sqsMessage("sqs-1", "receipt-1b")},
	}, nil).Once()

	first, err := tr.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	again, err := tr.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, "receipt-1b", again[0].Handle())

	t.Run("deleted message gets a new id", func(t *testing.T) {
		client.On("DeleteMessageBatch", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageBatchInput) bool {
			return len(in.Entries) == 1 && aws.ToString(in.Entries[0].ReceiptHandle) == "receipt-1b"
		})).Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()
		client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(&sqs.ReceiveMessageOutput{
			Messages: []sqstypes.Message{sqsMessage("sqs-1", "receipt-1c"), sqsMessage("sqs-2", "receipt-2b")},
		}, nil).Once()

		require.NoError(t, tr.Ack(ctx, again))

		msgs, err := tr.Receive(ctx)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, MessageID(3), msgs[0].ID)
		assert.Equal(t, first[1].ID, msgs[1].ID)
	})
}

func TestSQSTransport_ReceiveError(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("ReceiveMessage", mock.Anything, mock.Anything).Return(nil, errBroker).Once()

	_, err := tr.Receive(context.Background())
	assert.ErrorIs(t, err, errBroker)
}

func testMessages(n int) []Message {
	msgs := make([]Message, 0, n)
	for i := 1; i <= n; i++ {
		id := MessageID(i)
		msgs = append(msgs, NewMessage(id, nil, WithHandle("receipt-"+id.String())))
	}

	return msgs
}

func TestSQSTransport_Ack(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	var batchSizes []int

	client.On("DeleteMessageBatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in, _ := args.Get(1).(*sqs.DeleteMessageBatchInput)
		batchSizes = append(batchSizes, len(in.Entries))
		assert.Equal(t, testQueueURL, aws.ToString(in.QueueUrl))
	}).Return(&sqs.DeleteMessageBatchOutput{}, nil).Twice()

	require.NoError(t, tr.Ack(context.Background(), testMessages(15)))
	assert.Equal(t, []int{10, 5}, batchSizes)
}

func TestSQSTransport_AckPartialFailure(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(&sqs.DeleteMessageBatchOutput{
		Failed: []sqstypes.BatchResultErrorEntry{
			{Id: aws.String("1"), Code: aws.String("ReceiptHandleIsInvalid"), Message: aws.String("expired")},
		},
	}, nil).Once()

	err := tr.Ack(context.Background(), testMessages(2))

	var batchErr *BatchEntryError
	require.ErrorAs(t, err, &batchErr)
	assert.Len(t, batchErr.Failed, 1)
	assert.Contains(t, err.Error(), "ReceiptHandleIsInvalid")
}

func TestDeletedEntries(t *testing.T) {
	t.Parallel()

	chunk := testMessages(3)

	assert.Equal(t, chunk, deleted(chunk, nil))
	assert.Equal(t, ids([]Message{chunk[0], chunk[2]}), ids(deleted(chunk, []sqstypes.BatchResultErrorEntry{
		{Id: aws.String("1")},
	})))
}

func TestSQSTransport_Redeliver(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("ChangeMessageVisibilityBatch", mock.Anything, mock.MatchedBy(func(in *sqs.ChangeMessageVisibilityBatchInput) bool {
		for _, e := range in.Entries {
			if e.VisibilityTimeout != DefaultVisibilityTimeout {
				return false
			}
		}

		return len(in.Entries) == 3 && aws.ToString(in.Entries[0].ReceiptHandle) == "receipt-1"
	})).Return(&sqs.ChangeMessageVisibilityBatchOutput{}, nil).Once()

	require.NoError(t, tr.Redeliver(context.Background(), testMessages(3)))
}

func TestSQSTransport_RedeliverError(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("ChangeMessageVisibilityBatch", mock.Anything, mock.Anything).Return(nil, errBroker).Once()

	assert.ErrorIs(t, tr.Redeliver(context.Background(), testMessages(1)), errBroker)
}

func TestSQSTransport_Stats(t *testing.T) {
	t.Parallel()

	tr, client := newTestSQSTransport(t)

	client.On("GetQueueAttributes", mock.Anything, mock.Anything).Return(&sqs.GetQueueAttributesOutput{
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNameApproximateNumberOfMessages):           "12",
			string(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible): "3",
		},
	}, nil).Once()

	stats, err := tr.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15), stats.Backlog)
	assert.Equal(t, testQueueURL, stats.Address)
	assert.NoError(t, tr.Close(context.Background()))
}
