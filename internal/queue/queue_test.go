package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcaje/internal/config"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestInMemoryPublishConsumeRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{ID: "1", Type: "late", Body: json.RawMessage(`{"x":1}`)}))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := recv(t, ch)
	assert.Equal(t, "late", msg.Type)
	assert.JSONEq(t, `{"x":1}`, string(msg.Body))
	assert.Zero(t, msg.Attempt)

	require.NoError(t, q.Retry(ctx, msg, 10*time.Millisecond))
	again := recv(t, ch)
	assert.Equal(t, "1", again.ID)
	assert.Equal(t, 1, again.Attempt)
	assert.NoError(t, q.Ack(ctx, again))
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{ID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{ID: "b"}), context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}

type fakeSQS struct {
	mu         sync.Mutex
	sent       []*sqs.SendMessageInput
	deleted    []string
	visibility map[string]int32
	inbox      []types.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	msgs := f.inbox
	f.inbox = nil
	f.mu.Unlock()
	if len(msgs) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return &sqs.ReceiveMessageOutput{Messages: msgs}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(in.ReceiptHandle)] = in.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func TestSQSQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &fakeSQS{}
	q := NewSQSQueue(fake, "http://localstack:4566/000000000000/notifications")

	require.NoError(t, q.Publish(ctx, Message{ID: "j1", Type: "absent", Body: json.RawMessage(`{}`)}))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "absent", aws.ToString(fake.sent[0].MessageAttributes["Type"].StringValue))

	fake.inbox = []types.Message{
		{
			MessageId:     aws.String("m-1"),
			ReceiptHandle: aws.String("rh-1"),
			Body:          fake.sent[0].MessageBody,
			Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
		},
		{MessageId: aws.String("m-2"), ReceiptHandle: aws.String("rh-bad"), Body: aws.String("not json")},
	}

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	msg := recv(t, ch)
	assert.Equal(t, "j1", msg.ID)
	assert.Equal(t, 2, msg.Attempt)
	assert.Equal(t, "rh-1", msg.Receipt)

	require.NoError(t, q.Retry(ctx, msg, 40*time.Second))
	require.NoError(t, q.Retry(ctx, msg, 48*time.Hour))
	require.NoError(t, q.Ack(ctx, msg))

	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return len(fake.deleted) == 2
	}, 2*time.Second, 5*time.Millisecond)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, int32(12*3600), fake.visibility["rh-1"])
	assert.ElementsMatch(t, []string{"rh-bad", "rh-1"}, fake.deleted)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	q, err := Open(ctx, config.App{QueueBackend: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &InMemory{}, q)

	_, err = Open(ctx, config.App{QueueBackend: "redis"}, nil)
	assert.Error(t, err)

	q, err = Open(ctx, config.App{QueueBackend: "redis", QueueName: "jobs"}, redis.NewClient(&redis.Options{Addr: "localhost:0"}))
	require.NoError(t, err)
	assert.IsType(t, &RedisQueue{}, q)

	_, err = Open(ctx, config.App{QueueBackend: "kafka"}, nil)
	assert.Error(t, err)
}
