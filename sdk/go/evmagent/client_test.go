package evmagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/api"
	"OpenMCP-EVM/internal/task"
)

type airdropDispatcher struct{}

func (airdropDispatcher) Dispatch(_ context.Context, msg agent.Message, _ agent.Callback) (*agent.Outcome, error) {
	return &agent.Outcome{
		Action:  "airdrop",
		Success: true,
		Responses: []agent.Response{{
			Text:    "Successfully airdropped 1 tokens to addresses from https://pastebin.com/raw/c50biAqr",
			Content: map[string]any{"success": true, "hash": "0xabc", "amount": "1"},
		}},
	}, nil
}

type staticActions struct{}

func (staticActions) Actions() []agent.Action {
	return []agent.Action{{Name: "airdrop", Similes: []string{"AIRDROP_TOKENS"}, Description: "Airdrop tokens to addresses on the same chain"}}
}

func TestClientAgainstAPIServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(8)
	svc := task.NewService(store, queue, 3)
	processor := task.NewProcessor(airdropDispatcher{}, store, queue, queue)
	go func() { _ = processor.Start(ctx) }()

	srv := httptest.NewServer(api.NewServer("", svc, api.WithActions(staticActions{})).Handler())
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	submitted, err := client.SubmitMessage(ctx, Submission{ID: "sdk-1", UserID: "alice", Text: "Airdrop 1 ETH to https://pastebin.com/raw/c50biAqr"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.ID != "sdk-1" || submitted.Status != StatusPending {
		t.Fatalf("unexpected submission %+v", submitted)
	}

	done, err := client.WaitForMessage(ctx, "sdk-1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusSucceeded || done.TransactionHash() != "0xabc" {
		t.Fatalf("unexpected message %+v", done)
	}

	list, err := client.ListMessages(ctx, ListQuery{UserID: "alice", Statuses: []string{StatusSucceeded}})
	if err != nil || len(list) != 1 {
		t.Fatalf("unexpected list %v (%v)", list, err)
	}
	stats, err := client.Stats(ctx, ListQuery{})
	if err != nil || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats %+v (%v)", stats, err)
	}
	actions, err := client.Actions(ctx)
	if err != nil || len(actions) != 1 || actions[0].Name != "airdrop" {
		t.Fatalf("unexpected actions %v (%v)", actions, err)
	}
	plugins, err := client.Plugins(ctx)
	if err != nil || len(plugins) != 0 {
		t.Fatalf("unexpected plugins %v (%v)", plugins, err)
	}

	_, err = client.GetMessage(ctx, "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("expected not found api error, got %v", err)
	}
}

func TestListQueryEncoding(t *testing.T) {
	has := true
	since := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	v := ListQuery{
		Statuses:  []string{StatusFailed, StatusPending},
		Action:    "airdrop",
		Query:     "pastebin",
		HasResult: &has,
		Limit:     5,
		Offset:    10,
		Ascending: true,
		Since:     since,
	}.values()

	want := map[string]string{
		"status":        "failed,pending",
		"action":        "airdrop",
		"q":             "pastebin",
		"has_result":    "true",
		"limit":         "5",
		"offset":        "10",
		"order":         "asc",
		"updated_since": "2024-01-02T03:04:05Z",
	}
	for key, value := range want {
		if got := v.Get(key); got != value {
			t.Fatalf("%s: expected %q, got %q", key, value, got)
		}
	}
	if v.Has("user_id") || v.Has("updated_until") {
		t.Fatalf("zero values must be omitted: %v", v)
	}
}

func TestFlatErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "QUEUE_FAILURE", "message": "broker down"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitMessage(context.Background(), Submission{Text: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "QUEUE_FAILURE" || apiErr.Message != "broker down" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
