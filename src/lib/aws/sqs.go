package aws

import (
	"carepay/src/lib"
	"context"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type SQSSendClient interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func GetSQSClient(ctx context.Context) (*sqs.Client, error) {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(*cfg), nil
}

// SQSPublisher sends money-movement events to one queue.
type SQSPublisher struct {
	client   SQSSendClient
	queue    string
	queueUrl *string
}

func NewSQSPublisher(client SQSSendClient, queue string) *SQSPublisher {
	return &SQSPublisher{client: client, queue: queue}
}

func (s *SQSPublisher) resolveQueueUrl(ctx context.Context) (*string, error) {
	if s.queueUrl != nil {
		return s.queueUrl, nil
	}
	qurl, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(s.queue),
	})
	if err != nil {
		log.Printf("Failed to retrieve queue URL for %s: %s\n", s.queue, err.Error())
		return nil, err
	}
	s.queueUrl = qurl.QueueUrl
	return s.queueUrl, nil
}

func (s *SQSPublisher) Publish(ctx context.Context, e lib.Event) error {
	qurl, err := s.resolveQueueUrl(ctx)
	if err != nil {
		return err
	}
	body, err := e.Bytes()
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    qurl,
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(e.Type)},
		},
	})
	if err != nil {
		log.Printf("[SQS] Error sending %s: %s\n", e.Type, err.Error())
	}
	return err
}
