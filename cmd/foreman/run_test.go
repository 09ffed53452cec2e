package main

import (
	"testing"
	"time"

	"github.com/foremanhq/foreman/internal/ask"
)

func TestTaskAskReusesOpenAsk(t *testing.T) {
	askMgr := ask.NewManager(time.Minute)
	openAsks := make(map[string]string)
	req := ask.Request{
		Question:   "Task \"t1\" failed. Retry it?",
		Options:    []string{"retry", "skip"},
		WorkflowID: "t1",
	}

	first, err := taskAsk(askMgr, openAsks, "t1", req)
	if err != nil {
		t.Fatalf("taskAsk: %v", err)
	}

	// A dismissed prompt comes back to the same ask on the next tick.
	second, err := taskAsk(askMgr, openAsks, "t1", req)
	if err != nil {
		t.Fatalf("taskAsk again: %v", err)
	}
	if second.RequestID != first.RequestID {
		t.Errorf("expected the open ask reused, got %s and %s", first.RequestID, second.RequestID)
	}
	if got := len(askMgr.ListPending()); got != 1 {
		t.Fatalf("pending asks = %d, want 1", got)
	}

	// Once settled, the stale map entry is dropped and a new ask opens.
	if _, err := askMgr.ResolveByRequestID(first.RequestID, "skip"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	third, err := taskAsk(askMgr, openAsks, "t1", req)
	if err != nil {
		t.Fatalf("taskAsk after settle: %v", err)
	}
	if third.RequestID == first.RequestID {
		t.Error("expected a fresh ask after the previous one settled")
	}
}
