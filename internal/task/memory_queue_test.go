package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	xerrors "OpenMCP-EVM/internal/errors"
)

func TestMemoryQueueRedeliversFailedTasks(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.Publish(ctx, "task-1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var (
		mu    sync.Mutex
		calls int
	)
	done := make(chan struct{})
	handler := func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("store unavailable")
		}
		close(done)
		return nil
	}

	consumeErr := make(chan error, 1)
	go func() { consumeErr <- q.Consume(ctx, 2, handler) }()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("task was not redelivered")
	}
	cancel()
	if err := <-consumeErr; err != nil {
		t.Fatalf("cancelled consume must return nil, got %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be drained, %d left", q.Len())
	}
}

func TestMemoryQueueClose(t *testing.T) {
	t.Parallel()

	q := NewMemoryQueue(0)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := q.Publish(context.Background(), "x"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
	if err := q.Consume(context.Background(), 1, func(context.Context, string) error { return nil }); err != nil {
		t.Fatalf("consume on closed queue must return nil, got %v", err)
	}
}
