package bus

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// PublishAPI is the subset of the SNS client used by the fallback transport.
// Satisfied by *sns.Client; tests inject fakes.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput,
		optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport is the fallback notification channel: one SNS topic per event
// type, named after the topic with dots replaced by dashes. The bus does not
// attempt exactly-once here; idempotence is the receiver's responsibility.
type SNSTransport struct {
	client    PublishAPI
	arnPrefix string // e.g. arn:aws:sns:ap-southeast-2:123456789012:nfrguard-
}

// NewSNSTransport creates the fallback transport. arnPrefix is prepended to
// the sanitized topic name to form the full topic ARN.
func NewSNSTransport(client PublishAPI, arnPrefix string) *SNSTransport {
	return &SNSTransport{client: client, arnPrefix: arnPrefix}
}

// TopicARN returns the SNS topic ARN for a bus topic.
func (t *SNSTransport) TopicARN(topic Topic) string {
	return t.arnPrefix + strings.ReplaceAll(string(topic), ".", "-")
}

// Publish sends the serialized event to the per-topic SNS topic.
func (t *SNSTransport) Publish(ctx context.Context, topic Topic, payload []byte) error {
	_, err := t.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(t.TopicARN(topic)),
		Message:  aws.String(string(payload)),
		Subject:  aws.String("NFRGuard Event: " + string(topic)),
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", topic, err)
	}
	return nil
}
