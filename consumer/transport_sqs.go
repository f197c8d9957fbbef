package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	// PropertySQSMessageID holds the SQS message id of a message received through SQSTransport.
	PropertySQSMessageID = "SQSMessageId"

	sqsMaxBatchSize = 10
)

// Default values for the SQS transport
const (
	DefaultMaxNumberOfMessages = 10
	DefaultWaitTimeSeconds     = 1
	DefaultVisibilityTimeout   = 30
)

type SQSConfig struct {
	QueueURL            string
	MaxNumberOfMessages int32
	WaitTimeSeconds     int32
	// VisibilityTimeout in seconds, applied on receive and on every local redelivery.
	VisibilityTimeout int32
}

// NewSQSConfig returns an SQSConfig with defaults for queueURL.
func NewSQSConfig(queueURL string) SQSConfig {
	return SQSConfig{
		QueueURL:            queueURL,
		MaxNumberOfMessages: DefaultMaxNumberOfMessages,
		WaitTimeSeconds:     DefaultWaitTimeSeconds,
		VisibilityTimeout:   DefaultVisibilityTimeout,
	}
}

func (c SQSConfig) IsValid() (bool, error) {
	if c.QueueURL == "" {
		return false, &WrongConfigError{Err: fmt.Errorf("queueURL is empty")}
	}

	if _, err := url.ParseRequestURI(c.QueueURL); err != nil {
		return false, &WrongConfigError{Err: fmt.Errorf("queueURL is not a valid URL")}
	}

	if c.MaxNumberOfMessages <= 0 || c.MaxNumberOfMessages > 10 {
		return false, &WrongConfigError{Err: fmt.Errorf("maxNumberOfMessages must be between 1 and 10")}
	}

	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		return false, &WrongConfigError{Err: fmt.Errorf("waitTimeSeconds must be between 0 and 20")}
	}

	if c.VisibilityTimeout < 0 || c.VisibilityTimeout > 43200 {
		return false, &WrongConfigError{Err: fmt.Errorf("visibilityTimeout must be between 0 and 43200")}
	}

	return true, nil
}

// SQSClient is the subset of the SQS API the transport uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

var _ SQSClient = (*sqs.Client)(nil)

// BatchEntryError reports the entries SQS refused in a batch call.
type BatchEntryError struct {
	Failed []sqstypes.BatchResultErrorEntry
	Op     string
}

func (e *BatchEntryError) Error() string {
	first := e.Failed[0]

	return fmt.Sprintf("%s: %d entries failed, first: %s: %s",
		e.Op, len(e.Failed), aws.ToString(first.Code), aws.ToString(first.Message))
}

// SQSTransport is a Transport over an SQS queue.
// SQS message ids are opaque strings, so the transport numbers received messages
// itself. A message SQS hands out again before it was deleted, e.g. after its
// visibility timeout ran out, keeps its local id and carries the new receipt handle.
type SQSTransport struct {
	client SQSClient
	logger *slog.Logger
	cfg    SQSConfig

	// ids maps SQS message ids of undeleted messages to local ids.
	ids map[string]MessageID
	seq MessageID
	mu  sync.Mutex
}

func NewSQSTransport(cfg SQSConfig, client SQSClient, logger *slog.Logger) (*SQSTransport, error) {
	if _, err := cfg.IsValid(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &SQSTransport{
		client: client,
		logger: logger,
		cfg:    cfg,
		ids:    make(map[string]MessageID),
	}, nil
}

// Connect checks that the queue exists and is reachable.
func (t *SQSTransport) Connect(ctx context.Context) error {
	_, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(t.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("get queue attributes: %w", err)
	}

	return nil
}

func (t *SQSTransport) Receive(ctx context.Context) ([]Message, error) {
	out, err := t.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameAll,
		},
		MessageAttributeNames: []string{
			string(sqstypes.QueueAttributeNameAll),
		},
		QueueUrl:            aws.String(t.cfg.QueueURL),
		MaxNumberOfMessages: t.cfg.MaxNumberOfMessages,
		VisibilityTimeout:   t.cfg.VisibilityTimeout,
		WaitTimeSeconds:     t.cfg.WaitTimeSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, t.toMessage(m))
	}

	return msgs, nil
}

func (t *SQSTransport) toMessage(m sqstypes.Message) Message {
	props := make(map[string]string, len(m.MessageAttributes)+1)

	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			props[k] = *v.StringValue
		}
	}

	if m.MessageId != nil {
		props[PropertySQSMessageID] = *m.MessageId
	}

	opts := []MessageOption{
		WithProperties(props),
		WithHandle(aws.ToString(m.ReceiptHandle)),
	}

	if key, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameMessageGroupId)]; ok {
		opts = append(opts, WithKey(key))
	}

	if sent, ok := m.Attributes[string(sqstypes.MessageSystemAttributeNameSentTimestamp)]; ok {
		if ms, err := strconv.ParseInt(sent, 10, 64); err == nil {
			opts = append(opts, WithPublishTime(time.UnixMilli(ms)))
		}
	}

	return NewMessage(t.localID(aws.ToString(m.MessageId)), []byte(aws.ToString(m.Body)), opts...)
}

func (t *SQSTransport) localID(sqsID string) MessageID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.ids[sqsID]; ok && sqsID != "" {
		return id
	}

	t.seq++

	if sqsID != "" {
		t.ids[sqsID] = t.seq
	}

	return t.seq
}

// forget drops the local ids of msgs, once SQS deleted them.
func (t *SQSTransport) forget(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, msg := range msgs {
		delete(t.ids, msg.Properties[PropertySQSMessageID])
	}
}

// Ack deletes msgs from the queue, in batches of ten.
func (t *SQSTransport) Ack(ctx context.Context, msgs []Message) error {
	var errs []error

	for chunk := range slices.Chunk(msgs, sqsMaxBatchSize) {
		entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for i, msg := range chunk {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            aws.String(strconv.Itoa(i)),
				ReceiptHandle: aws.String(msg.Handle()),
			})
		}

		out, err := t.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(t.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("delete message batch: %w", err))

			continue
		}

		t.forget(deleted(chunk, out.Failed))

		if len(out.Failed) > 0 {
			errs = append(errs, &BatchEntryError{Op: "delete message batch", Failed: out.Failed})
		}
	}

	return errors.Join(errs...)
}

// deleted returns the messages of chunk whose batch entry did not fail.
// Entry ids are chunk indexes.
func deleted(chunk []Message, failed []sqstypes.BatchResultErrorEntry) []Message {
	if len(failed) == 0 {
		return chunk
	}

	skip := make(map[string]struct{}, len(failed))
	for _, f := range failed {
		skip[aws.ToString(f.Id)] = struct{}{}
	}

	out := make([]Message, 0, len(chunk))

	for i, msg := range chunk {
		if _, ok := skip[strconv.Itoa(i)]; !ok {
			out = append(out, msg)
		}
	}

	return out
}

// Redeliver keeps msgs invisible to other consumers for another visibility
// timeout while they are redelivered locally.
func (t *SQSTransport) Redeliver(ctx context.Context, msgs []Message) error {
	var errs []error

	for chunk := range slices.Chunk(msgs, sqsMaxBatchSize) {
		entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, len(chunk))
		for i, msg := range chunk {
			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(strconv.Itoa(i)),
				ReceiptHandle:     aws.String(msg.Handle()),
				VisibilityTimeout: t.cfg.VisibilityTimeout,
			})
		}

		out, err := t.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(t.cfg.QueueURL),
			Entries:  entries,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("change message visibility batch: %w", err))

			continue
		}

		if len(out.Failed) > 0 {
			errs = append(errs, &BatchEntryError{Op: "change message visibility batch", Failed: out.Failed})
		}
	}

	return errors.Join(errs...)
}

// Stats reports the queue backlog: visible plus in-flight messages.
func (t *SQSTransport) Stats(ctx context.Context) (TransportStats, error) {
	out, err := t.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(t.cfg.QueueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return TransportStats{}, fmt.Errorf("get queue attributes: %w", err)
	}

	var backlog int64

	for _, name := range []sqstypes.QueueAttributeName{
		sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
	} {
		raw, ok := out.Attributes[string(name)]
		if !ok {
			continue
		}

		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			t.logger.WarnContext(ctx, "unexpected queue attribute value",
				slog.String("attribute", string(name)),
				slog.String("value", raw),
			)

			continue
		}

		backlog += n
	}

	return TransportStats{Address: t.cfg.QueueURL, Backlog: backlog}, nil
}

// Close is a no-op: the SQS client is owned by the caller.
func (t *SQSTransport) Close(_ context.Context) error {
	return nil
}
