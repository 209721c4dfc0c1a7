package store

import (
	"context"
	"path/filepath"
	"testing"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// backends returns one fresh instance of every local ConversationStore.
func backends(t *testing.T) map[string]ConversationStore {
	t.Helper()
	return map[string]ConversationStore{
		"sqlite": openTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func Test_Store_AppendAndLoad(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Append(ctx, "c1", RoleUser, "hi"); err != nil {
				t.Fatalf("append user: %v", err)
			}
			if _, err := s.Append(ctx, "c1", RoleAssistant, "hello"); err != nil {
				t.Fatalf("append assistant: %v", err)
			}

			msgs, err := s.Load(ctx, "c1")
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(msgs) != 2 {
				t.Fatalf("want 2 messages, got %d", len(msgs))
			}
			if msgs[0].Role != RoleUser || msgs[0].Content != "hi" {
				t.Errorf("msg[0]: want user/hi, got %s/%s", msgs[0].Role, msgs[0].Content)
			}
			if msgs[1].Role != RoleAssistant || msgs[1].Content != "hello" {
				t.Errorf("msg[1]: want assistant/hello, got %s/%s", msgs[1].Role, msgs[1].Content)
			}
			if msgs[0].Seq >= msgs[1].Seq {
				t.Errorf("sequence not increasing: %d then %d", msgs[0].Seq, msgs[1].Seq)
			}
		})
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := range 6 {
				role := RoleUser
				if i%2 == 1 {
					role = RoleAssistant
				}
				if _, err := s.Append(ctx, "c2", role, string(rune('a'+i))); err != nil {
					t.Fatalf("append: %v", err)
				}
			}

			msgs, err := s.Recent(ctx, "c2", 4)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(msgs) != 4 {
				t.Fatalf("want 4 messages, got %d", len(msgs))
			}
			if msgs[0].Content != "c" || msgs[3].Content != "f" {
				t.Errorf("want tail c..f oldest-first, got %q..%q", msgs[0].Content, msgs[3].Content)
			}
		})
	}
}

func Test_Store_ConversationIsolation(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Append(ctx, "x", RoleUser, "from x"); err != nil {
				t.Fatalf("append x: %v", err)
			}
			if _, err := s.Append(ctx, "y", RoleUser, "from y"); err != nil {
				t.Fatalf("append y: %v", err)
			}

			msgsX, err := s.Load(ctx, "x")
			if err != nil {
				t.Fatalf("load x: %v", err)
			}
			msgsY, err := s.Load(ctx, "y")
			if err != nil {
				t.Fatalf("load y: %v", err)
			}
			if len(msgsX) != 1 || msgsX[0].Content != "from x" {
				t.Errorf("conversation x isolation failed: got %v", msgsX)
			}
			if len(msgsY) != 1 || msgsY[0].Content != "from y" {
				t.Errorf("conversation y isolation failed: got %v", msgsY)
			}
		})
	}
}

func Test_Store_EmptyConversationReturnsEmpty(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			msgs, err := s.Load(context.Background(), "empty")
			if err != nil {
				t.Fatalf("load empty: %v", err)
			}
			if msgs == nil || len(msgs) != 0 {
				t.Errorf("want empty non-nil slice, got %#v", msgs)
			}
		})
	}
}

func Test_Store_RejectsUnknownRole(t *testing.T) {
	t.Parallel()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Append(context.Background(), "c", Role("system"), "x"); err == nil {
				t.Error("want error for unknown role")
			}
		})
	}
}

func Test_Store_OldestFirstOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, c := range contents {
		if _, err := s.Append(ctx, "order", RoleUser, c); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := s.Recent(ctx, "order", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	for i, want := range contents {
		if msgs[i].Content != want {
			t.Errorf("msg[%d]: want %q, got %q", i, want, msgs[i].Content)
		}
	}
}

func Test_SQLite_OpenAppliesPragmas(t *testing.T) {
	t.Parallel()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := s.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}
}
