package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

// SQSClient is the subset of the SQS API the queue uses.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// maxVisibility is the SQS upper bound for a visibility timeout.
const maxVisibility = 12 * time.Hour

// SQSQueue is backed by an Amazon SQS queue. Attempt is derived from the
// approximate receive count, so Retry only changes visibility.
type SQSQueue struct {
	client   SQSClient
	queueURL string
	batch    int32
}

func NewSQSQueue(client SQSClient, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, batch: 10}
}

func (q *SQSQueue) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	attrs := map[string]types.MessageAttributeValue{
		"Type": {DataType: aws.String("String"), StringValue: aws.String(msg.Type)},
	}
	otel.GetTextMapPropagator().Inject(ctx, sqsCarrier{attrs: attrs})
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.queueURL),
		MessageBody:       aws.String(string(b)),
		MessageAttributes: attrs,
	})
	return err
}

func (q *SQSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	out := make(chan Message)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			res, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:                    aws.String(q.queueURL),
				MaxNumberOfMessages:         q.batch,
				WaitTimeSeconds:             20,
				MessageAttributeNames:       []string{"All"},
				MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
			})
			if err != nil {
				if ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("error receiving messages")
					time.Sleep(time.Second)
				}
				continue
			}
			for _, m := range res.Messages {
				msg, ok := decodeSQS(m)
				if !ok {
					log.Ctx(ctx).Error().Str("message_id", aws.ToString(m.MessageId)).Msg("dropping malformed sqs message")
					_, _ = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{QueueUrl: aws.String(q.queueURL), ReceiptHandle: m.ReceiptHandle})
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeSQS(m types.Message) (Message, bool) {
	var msg Message
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &msg); err != nil {
		return Message{}, false
	}
	msg.Receipt = aws.ToString(m.ReceiptHandle)
	if n, err := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil && n > 0 {
		msg.Attempt = n - 1
	}
	if msg.ID == "" {
		msg.ID = aws.ToString(m.MessageId)
	}
	return msg, true
}

// Ack deletes the message; only call it on success.
func (q *SQSQueue) Ack(ctx context.Context, msg Message) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(msg.Receipt),
	})
	return err
}

func (q *SQSQueue) Retry(ctx context.Context, msg Message, delay time.Duration) error {
	if delay > maxVisibility {
		delay = maxVisibility
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.queueURL),
		ReceiptHandle:     aws.String(msg.Receipt),
		VisibilityTimeout: int32(delay / time.Second),
	})
	return err
}

// sqsCarrier adapts SQS message attributes to the OpenTelemetry propagator.
type sqsCarrier struct {
	attrs map[string]types.MessageAttributeValue
}

func (c sqsCarrier) Get(key string) string {
	if attr, ok := c.attrs[key]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}
	return ""
}

func (c sqsCarrier) Set(key, value string) {
	c.attrs[key] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(value)}
}

func (c sqsCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
