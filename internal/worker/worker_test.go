package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marcaje/internal/queue"
)

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := queue.NewInMemory(8)

	var calls atomic.Int32
	done := make(chan queue.Message, 1)
	w := New(q, ProcessorFunc(func(_ context.Context, msg queue.Message) (bool, time.Duration, error) {
		calls.Add(1)
		if msg.Attempt < 2 {
			return true, time.Millisecond, errors.New("smtp down")
		}
		done <- msg
		return false, 0, nil
	}))
	w.Concurrency = 2

	stopped := make(chan error, 1)
	go func() { stopped <- w.Start(ctx) }()

	require.NoError(t, q.Publish(ctx, queue.Message{ID: "n1", Type: "late"}))

	select {
	case msg := <-done:
		assert.Equal(t, 2, msg.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("message never succeeded")
	}
	assert.Equal(t, int32(3), calls.Load())

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorkerDropsUnrecoverable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := queue.NewInMemory(8)

	var calls atomic.Int32
	w := New(q, ProcessorFunc(func(context.Context, queue.Message) (bool, time.Duration, error) {
		calls.Add(1)
		return false, 0, errors.New("malformed")
	}))
	go func() { _ = w.Start(ctx) }()

	require.NoError(t, q.Publish(ctx, queue.Message{ID: "bad"}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, q.Len())
}
