package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()

	s, err := NewFileStore(t.TempDir(), 100, 30)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	return s
}

func TestFileStore_RecordAndContext(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "5491122334455", RoleUser, "hola"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, "5491122334455", RoleAssistant, "  ¡Bienvenido!  "); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	msgs, err := s.Context(ctx, "5491122334455", 10)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hola" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "¡Bienvenido!" {
		t.Fatalf("expected trimmed assistant message, got %+v", msgs[1])
	}
}

func TestFileStore_JIDAndPlainNumberShareFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "5491122334455@s.whatsapp.net", RoleAssistant, "scheduled hello"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	msgs, err := s.Context(ctx, "5491122334455", 10)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected JID record visible under plain number, got %d messages", len(msgs))
	}
}

func TestFileStore_ContextReturnsLastN(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		content := string(rune('a' + i))
		if err := s.Record(ctx, "549", RoleUser, content); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	msgs, err := s.Context(ctx, "549", 2)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "d" || msgs[1].Content != "e" {
		t.Fatalf("expected last two messages d,e got %q,%q", msgs[0].Content, msgs[1].Content)
	}
}

func TestFileStore_CapsMessageCount(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir(), 3, 30)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, "549", RoleUser, string(rune('a'+i))); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	msgs, err := s.Context(ctx, "549", 0)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected cap of 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "c" {
		t.Fatalf("expected oldest kept message c, got %q", msgs[0].Content)
	}
}

func TestFileStore_ContextForUnknownContactIsEmpty(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	msgs, err := s.Context(context.Background(), "000", 10)
	if err != nil {
		t.Fatalf("Context() error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages for unknown contact, got %d", len(msgs))
	}
}

func TestFileStore_CleanOld(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileStore(dir, 100, 30)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	ctx := context.Background()

	if err := s.Record(ctx, "111", RoleUser, "old"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, "222", RoleUser, "fresh"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	// Age one file past the retention cutoff.
	old := time.Now().AddDate(0, 0, -31)
	if err := os.Chtimes(filepath.Join(dir, "111.json"), old, old); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	deleted, err := s.CleanOld(ctx)
	if err != nil {
		t.Fatalf("CleanOld() error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted file, got %d", deleted)
	}

	if _, err := os.Stat(filepath.Join(dir, "111.json")); !os.IsNotExist(err) {
		t.Fatalf("expected old file removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "222.json")); err != nil {
		t.Fatalf("expected fresh file kept, stat err=%v", err)
	}
}

func TestFileStore_Stats(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Record(ctx, "111", RoleUser, "a"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, "111", RoleAssistant, "b"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := s.Record(ctx, "222", RoleUser, "c"); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}

	if st.TotalContacts != 2 {
		t.Fatalf("expected 2 contacts, got %d", st.TotalContacts)
	}
	if st.TotalMessages != 3 {
		t.Fatalf("expected 3 messages, got %d", st.TotalMessages)
	}
	if st.ActiveContacts != 2 {
		t.Fatalf("expected 2 active contacts, got %d", st.ActiveContacts)
	}
	if st.AveragePerContact != 1 {
		t.Fatalf("expected average 1, got %d", st.AveragePerContact)
	}
}
