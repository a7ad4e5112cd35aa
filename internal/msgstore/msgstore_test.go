package msgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

// The MySQL variant only runs when a test DSN is provided.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	stores := map[string]Store{
		"memory": NewMemStore(),
		"sqlite": sqlite,
	}
	if dsn := os.Getenv("DEEPRESEARCH_TEST_MYSQL_DSN"); dsn != "" {
		mysql, err := NewMySQLStore(dsn)
		if err != nil {
			t.Fatalf("NewMySQLStore: %v", err)
		}
		t.Cleanup(func() { _ = mysql.Close() })
		stores["mysql"] = mysql
	}
	return stores
}

func TestCreateThreadIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateThread(ctx, "t1", "Rates question"); err != nil {
				t.Fatalf("CreateThread: %v", err)
			}
			if err := s.CreateThread(ctx, "t1", "Other name"); err != nil {
				t.Fatalf("second CreateThread: %v", err)
			}
			threads, err := s.ListThreads(ctx)
			if err != nil {
				t.Fatalf("ListThreads: %v", err)
			}
			if len(threads) != 1 {
				t.Fatalf("threads = %d, want 1", len(threads))
			}
			if threads[0].Name != "Rates question" {
				t.Errorf("name = %q, first write wins", threads[0].Name)
			}
		})
	}
}

func TestAppendMessageDenseIndices(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateThread(ctx, "t1", ""); err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 5; i++ {
				role := RoleUser
				if i%2 == 1 {
					role = RoleAssistant
				}
				_, index, err := s.AppendMessage(ctx, "t1", role, fmt.Sprintf("msg %d", i))
				if err != nil {
					t.Fatalf("AppendMessage %d: %v", i, err)
				}
				if index != i {
					t.Errorf("index = %d, want %d", index, i)
				}
			}

			history, err := s.GetHistory(ctx, "t1")
			if err != nil {
				t.Fatalf("GetHistory: %v", err)
			}
			if len(history) != 5 {
				t.Fatalf("history = %d messages", len(history))
			}
			for i, m := range history {
				if m.Index != i {
					t.Errorf("message %d has index %d", i, m.Index)
				}
			}
		})
	}
}

func TestAppendMessageUnknownThread(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.AppendMessage(ctx, "ghost", RoleUser, "hi"); !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetTraceReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateThread(ctx, "t1", ""); err != nil {
				t.Fatal(err)
			}
			msgID, _, err := s.AppendMessage(ctx, "t1", RoleAssistant, "report")
			if err != nil {
				t.Fatal(err)
			}

			first := []TraceEvent{
				{Kind: "node_call", Payload: map[string]any{"node": "supervisor"}, TimestampMS: 1},
			}
			if err := s.SetTrace(ctx, msgID, first); err != nil {
				t.Fatalf("SetTrace: %v", err)
			}

			replacement := []TraceEvent{
				{Kind: "node_call", Payload: map[string]any{"node": "supervisor"}, TimestampMS: 1},
				{Kind: "reasoning", Payload: map[string]any{"text": "thinking"}, TimestampMS: 2},
				{Kind: "search", Payload: map[string]any{"query": "rates"}, TimestampMS: 3},
			}
			if err := s.SetTrace(ctx, msgID, replacement); err != nil {
				t.Fatalf("replace SetTrace: %v", err)
			}

			count, err := s.GetTraceCount(ctx, msgID)
			if err != nil {
				t.Fatalf("GetTraceCount: %v", err)
			}
			if count != 3 {
				t.Errorf("trace count = %d, want 3", count)
			}

			history, err := s.GetHistory(ctx, "t1")
			if err != nil {
				t.Fatal(err)
			}
			trace := history[0].Trace
			if len(trace) != 3 {
				t.Fatalf("trace = %d rows", len(trace))
			}
			for i, e := range trace {
				if e.EventIndex != i {
					t.Errorf("row %d has event_index %d", i, e.EventIndex)
				}
			}
			if trace[1].Kind != "reasoning" {
				t.Errorf("row 1 kind = %q", trace[1].Kind)
			}
			if trace[2].Payload["query"] != "rates" {
				t.Errorf("row 2 payload = %v", trace[2].Payload)
			}
		})
	}
}

func TestRenameThread(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateThread(ctx, "t1", ""); err != nil {
				t.Fatal(err)
			}
			if err := s.RenameThread(ctx, "t1", "Fed rate outlook"); err != nil {
				t.Fatalf("RenameThread: %v", err)
			}
			threads, _ := s.ListThreads(ctx)
			if threads[0].Name != "Fed rate outlook" {
				t.Errorf("name = %q", threads[0].Name)
			}
			if err := s.RenameThread(ctx, "ghost", "x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("rename ghost: %v", err)
			}
		})
	}
}

func TestDeleteThreadCascades(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateThread(ctx, "t1", ""); err != nil {
				t.Fatal(err)
			}
			msgID, _, err := s.AppendMessage(ctx, "t1", RoleAssistant, "report")
			if err != nil {
				t.Fatal(err)
			}
			if err := s.SetTrace(ctx, msgID, []TraceEvent{{Kind: "custom", Payload: map[string]any{}}}); err != nil {
				t.Fatal(err)
			}

			if err := s.DeleteThread(ctx, "t1"); err != nil {
				t.Fatalf("DeleteThread: %v", err)
			}
			if exists, _ := s.ThreadExists(ctx, "t1"); exists {
				t.Error("thread survived delete")
			}
			if _, err := s.GetHistory(ctx, "t1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetHistory after delete: %v", err)
			}
			if count, _ := s.GetTraceCount(ctx, msgID); count != 0 {
				t.Errorf("trace rows survived delete: %d", count)
			}
		})
	}
}
