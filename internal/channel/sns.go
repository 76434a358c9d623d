package channel

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

// SNS rejects subjects longer than this.
const maxSNSSubject = 100

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher maps a topic name to an ARN by prefixing it and carries
// attributes as string message attributes for subscription filter policies.
type SNSPublisher struct {
	client    snsAPI
	arnPrefix string
}

func NewSNSPublisher(cfg aws.Config, arnPrefix string) *SNSPublisher {
	return &SNSPublisher{client: sns.NewFromConfig(cfg), arnPrefix: arnPrefix}
}

func (p *SNSPublisher) Publish(ctx context.Context, msg *Message) error {
	attrs := make(map[string]types.MessageAttributeValue, len(msg.Attributes))
	for k, v := range msg.Attributes {
		if v == "" {
			continue
		}
		attrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	subject := msg.Subject
	if r := []rune(subject); len(r) > maxSNSSubject {
		subject = string(r[:maxSNSSubject])
	}
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.arnPrefix + msg.Topic),
		Subject:           aws.String(subject),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return cerr.NewError(cerr.Unavailable, "failed to publish to sns", err)
	}
	return nil
}
