package amazon

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
)

// Notifier publishes to the sync topic
type Notifier struct {
	client   *sns.SNS
	topicARN string
}

// NewNotifier creates an SNS publisher for one topic
func NewNotifier(sess *session.Session, topicARN string) (*Notifier, error) {
	if topicARN == "" {
		return nil, fmt.Errorf("SYNC_TOPIC_ARN must be configured")
	}
	return &Notifier{client: sns.New(sess), topicARN: topicARN}, nil
}

// Publish sends message to the topic
func (n *Notifier) Publish(ctx context.Context, message string) error {
	_, err := n.client.PublishWithContext(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.topicARN, err)
	}
	return nil
}
