package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestRecordAndCountMintEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordMintEvent(ctx, "dQw4w9WgXcQ", false, nil); err != nil {
		t.Fatalf("RecordMintEvent: %v", err)
	}
	if err := store.RecordMintEvent(ctx, "dQw4w9WgXcQ", true, nil); err != nil {
		t.Fatalf("RecordMintEvent: %v", err)
	}
	if err := store.RecordMintEvent(ctx, "bad-id", false, errors.New("mint failed")); err != nil {
		t.Fatalf("RecordMintEvent: %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
}

func TestOpenCreatesTableIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
}
