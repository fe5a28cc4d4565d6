package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/voxd/internal/agent"
	"github.com/nextlevelbuilder/voxd/internal/queue"
)

func openTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetRequestRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &queue.Request{
		ID:      "req-1",
		Input:   "what is the weather",
		Status:  queue.StatusSucceeded,
		Outcome: agent.OutcomeFinal,
		Answer:  "rainy",
		Trace: []agent.Turn{
			{
				Observation: "need the weather",
				Plan:        []string{"call weather delegate"},
				Action:      agent.ActionTool,
				Response:    `weather({"city": "oslo"})`,
				Call:        &agent.Call{Name: "weather", Args: map[string]interface{}{"city": "oslo"}},
				Result:      "rainy, 12C",
			},
			{
				Observation: "got it",
				Action:      agent.ActionAnswer,
				Response:    "rainy",
			},
		},
		EnqueuedAt: time.Now().UTC().Truncate(time.Millisecond),
		StartedAt:  time.Now().UTC().Truncate(time.Millisecond),
		FinishedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	if err := s.SaveRequest(ctx, req); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusSucceeded || got.Answer != "rainy" {
		t.Fatalf("request = %+v", got)
	}
	if len(got.Trace) != 2 {
		t.Fatalf("trace length = %d", len(got.Trace))
	}
	if got.Trace[0].Call == nil || got.Trace[0].Call.Name != "weather" {
		t.Fatalf("call = %+v", got.Trace[0].Call)
	}
	if got.Trace[0].Call.Args["city"] != "oslo" {
		t.Fatalf("args = %v", got.Trace[0].Call.Args)
	}
	if len(got.Trace[0].Plan) != 1 {
		t.Fatalf("plan = %v", got.Trace[0].Plan)
	}
}

func TestSaveRequestIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &queue.Request{
		ID:         "req-2",
		Input:      "hi",
		Status:     queue.StatusFailed,
		Outcome:    agent.OutcomeBudgetExceeded,
		Reason:     "budget",
		EnqueuedAt: time.Now().UTC(),
		Trace:      []agent.Turn{{Action: agent.ActionTool}},
	}

	if err := s.SaveRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRequest(ctx, req); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRequest(ctx, "req-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Trace) != 1 {
		t.Fatalf("trace duplicated: %d turns", len(got.Trace))
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		err := s.SaveRequest(ctx, &queue.Request{
			ID:         id,
			Input:      id,
			Status:     queue.StatusSucceeded,
			EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
		ids := make([]string, len(recent))
		for i, r := range recent {
			ids[i] = r.ID
		}
		t.Fatalf("recent = %v, want [new mid]", ids)
	}
}

func TestGetRequestMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRequest(context.Background(), "absent"); err == nil {
		t.Fatal("expected error for missing request")
	}
}
