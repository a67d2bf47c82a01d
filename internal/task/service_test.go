package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestServiceSubmitValidatesText(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(1), 0)
	if _, err := svc.Submit(context.Background(), SubmitRequest{Text: "   "}); !IsTaskError(err, CodeTaskValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	svc := NewService(NewMemoryStore(), queue, 2)

	first, err := svc.Submit(ctx, SubmitRequest{ID: "msg-1", UserID: " alice ", Text: " Airdrop 1 ETH ", Action: "airdrop"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.ID != "msg-1" || first.UserID != "alice" || first.Text != "Airdrop 1 ETH" || first.MaxRetries != 2 || first.Status != StatusPending {
		t.Fatalf("unexpected task %+v", first)
	}

	second, err := svc.Submit(ctx, SubmitRequest{ID: "msg-1", Text: "something else"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Text != "Airdrop 1 ETH" {
		t.Fatalf("resubmission must return the original task, got %+v", second)
	}
	if queue.Len() != 1 {
		t.Fatalf("expected a single queued task, got %d", queue.Len())
	}
}

func TestServiceSubmitGeneratesID(t *testing.T) {
	svc := NewService(NewMemoryStore(), NewMemoryQueue(4), 0)
	task, err := svc.Submit(context.Background(), SubmitRequest{Text: "Airdrop 1 ETH"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(task.ID) != 36 || task.MaxRetries != 3 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestServiceSubmitPublishFailureMarksTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, &recordingProducer{err: errors.New("broker down")}, 1)

	_, err := svc.Submit(ctx, SubmitRequest{ID: "lost", Text: "Airdrop 1 ETH"})
	if !IsTaskError(err, CodeTaskPublish) {
		t.Fatalf("expected publish error, got %v", err)
	}
	got, _ := store.Get(ctx, "lost")
	if got.Status != StatusFailed || got.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected task %+v", got)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	svc := NewService(store, queue, 1)
	processor := NewProcessor(&fakeDispatcher{}, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	task, err := svc.Submit(ctx, SubmitRequest{Text: "Airdrop 1 ETH"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done, err := svc.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.Result == nil {
		t.Fatalf("unexpected task %+v", done)
	}

	stats, err := svc.Stats(ctx)
	if err != nil || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
	list, err := svc.List(ctx, WithStatuses(StatusSucceeded))
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %v (%v)", list, err)
	}
}

func TestServiceWaitHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, NewMemoryQueue(4), 1)
	task, err := svc.Submit(context.Background(), SubmitRequest{Text: "Airdrop 1 ETH"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := svc.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
