package amazon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// SQS limits
const (
	maxReceiveBatch = 10
	maxWaitSeconds  = 20
)

// Message is a received queue message
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte
	ReceiveCount  int
	Attributes    map[string]string
}

// Queue wraps one SQS queue URL
type Queue struct {
	client     *sqs.SQS
	url        string
	fifo       bool
	visibility time.Duration
}

// NewQueue creates a queue client. FIFO queues are detected from the URL.
func NewQueue(sess *session.Session, url string, visibility time.Duration) (*Queue, error) {
	if url == "" {
		return nil, fmt.Errorf("queue URL must be configured")
	}
	return &Queue{
		client:     sqs.New(sess),
		url:        url,
		fifo:       strings.HasSuffix(url, ".fifo"),
		visibility: visibility,
	}, nil
}

// URL returns the queue URL
func (q *Queue) URL() string {
	return q.url
}

// Send enqueues body. On FIFO queues groupID orders messages and the
// deduplication id is the body hash, matching content-based deduplication.
func (q *Queue) Send(ctx context.Context, body []byte, groupID string, attrs map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	}
	if q.fifo {
		if groupID == "" {
			groupID = "default"
		}
		sum := sha256.Sum256(body)
		input.MessageGroupId = aws.String(groupID)
		input.MessageDeduplicationId = aws.String(hex.EncodeToString(sum[:]))
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]*sqs.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = &sqs.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}

	if _, err := q.client.SendMessageWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", q.url, err)
	}
	return nil
}

// Receive long-polls for up to max messages
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 || max > maxReceiveBatch {
		max = maxReceiveBatch
	}
	waitSeconds := int64(wait / time.Second)
	if waitSeconds > maxWaitSeconds {
		waitSeconds = maxWaitSeconds
	}

	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.url),
		MaxNumberOfMessages:   aws.Int64(int64(max)),
		WaitTimeSeconds:       aws.Int64(waitSeconds),
		AttributeNames:        []*string{aws.String(sqs.MessageSystemAttributeNameApproximateReceiveCount)},
		MessageAttributeNames: []*string{aws.String("All")},
	}
	if q.visibility > 0 {
		input.VisibilityTimeout = aws.Int64(int64(q.visibility / time.Second))
	}

	out, err := q.client.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to receive from %s: %w", q.url, err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msg := Message{
			ID:            aws.StringValue(m.MessageId),
			ReceiptHandle: aws.StringValue(m.ReceiptHandle),
			Body:          []byte(aws.StringValue(m.Body)),
			Attributes:    make(map[string]string),
		}
		if rc, ok := m.Attributes[sqs.MessageSystemAttributeNameApproximateReceiveCount]; ok {
			msg.ReceiveCount, _ = strconv.Atoi(aws.StringValue(rc))
		}
		for k, v := range m.MessageAttributes {
			msg.Attributes[k] = aws.StringValue(v.StringValue)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete acknowledges a processed message
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message from %s: %w", q.url, err)
	}
	return nil
}

// ChangeVisibility sets how long until the message is redelivered
func (q *Queue) ChangeVisibility(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibilityWithContext(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: aws.Int64(int64(d / time.Second)),
	})
	if err != nil {
		return fmt.Errorf("failed to change visibility on %s: %w", q.url, err)
	}
	return nil
}

// ApproximateDepth returns ApproximateNumberOfMessages
func (q *Queue) ApproximateDepth(ctx context.Context) (int, error) {
	attr := sqs.QueueAttributeNameApproximateNumberOfMessages
	out, err := q.client.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.url),
		AttributeNames: []*string{aws.String(attr)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read attributes of %s: %w", q.url, err)
	}
	depth, err := strconv.Atoi(aws.StringValue(out.Attributes[attr]))
	if err != nil {
		return 0, fmt.Errorf("unexpected %s value on %s: %w", attr, q.url, err)
	}
	return depth, nil
}
