package aws

import (
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type SNSPublishClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func GetSNSClient(ctx context.Context) (*sns.Client, error) {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(*cfg), nil
}

// SNSAlerter publishes operator alerts to a topic.
type SNSAlerter struct {
	client   SNSPublishClient
	topicArn string
}

func NewSNSAlerter(client SNSPublishClient, topicArn string) *SNSAlerter {
	return &SNSAlerter{client: client, topicArn: topicArn}
}

func (s *SNSAlerter) Alert(ctx context.Context, subject string, message string) error {
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		log.Printf("[SNS] Error publishing alert %q: %s\n", subject, err.Error())
		return err
	}
	log.Printf("[SNS] Published alert %s\n", aws.ToString(out.MessageId))
	return nil
}
