package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clinisync/clinisync/internal/model"
	"github.com/clinisync/clinisync/internal/search"
)

func appendTestChange(t *testing.T, s *SQLiteStore, resourceID string, changeType model.ChangeType) int64 {
	t.Helper()
	id, err := s.AppendChange(context.Background(), model.LocalChange{
		ResourceType: "Patient",
		ResourceID:   resourceID,
		Type:         changeType,
		Payload:      []byte(`{}`),
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append change: %v", err)
	}
	return id
}

func TestAppendChange_IDsStrictlyIncrease(t *testing.T) {
	s := newTestStore(t)

	var prev int64
	for i := 0; i < 10; i++ {
		id := appendTestChange(t, s, "p1", model.ChangeTypeUpdate)
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		prev = id
	}
}

func TestAllChanges_OrderedByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendTestChange(t, s, "p2", model.ChangeTypeInsert)
	appendTestChange(t, s, "p1", model.ChangeTypeInsert)
	appendTestChange(t, s, "p2", model.ChangeTypeUpdate)

	changes, err := s.AllChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	for i := 1; i < len(changes); i++ {
		if changes[i].ID <= changes[i-1].ID {
			t.Errorf("changes out of order at %d: %d then %d", i, changes[i-1].ID, changes[i].ID)
		}
	}
}

func TestDeleteByToken_RemovesOnlyCoveredEntries(t *testing.T) {
	// Given: Three ledger entries, a token covering the first two
	s := newTestStore(t)
	ctx := context.Background()

	id1 := appendTestChange(t, s, "p1", model.ChangeTypeInsert)
	id2 := appendTestChange(t, s, "p1", model.ChangeTypeUpdate)
	id3 := appendTestChange(t, s, "p2", model.ChangeTypeInsert)

	// When: We delete by that token
	if err := s.DeleteByToken(ctx, model.NewChangeToken([]int64{id1, id2})); err != nil {
		t.Fatal(err)
	}

	// Then: Only the third entry remains
	changes, err := s.AllChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].ID != id3 {
		t.Errorf("expected only entry %d to remain, got %+v", id3, changes)
	}
}

func TestDeleteByToken_SparesConcurrentAppends(t *testing.T) {
	// Given: A snapshot token taken before a concurrent append
	s := newTestStore(t)
	ctx := context.Background()

	id1 := appendTestChange(t, s, "p1", model.ChangeTypeInsert)
	token := model.NewChangeToken([]int64{id1})

	// A new edit to the same resource lands while the upload is in flight.
	id2 := appendTestChange(t, s, "p1", model.ChangeTypeUpdate)

	// When: The upload is confirmed and the token deleted
	if err := s.DeleteByToken(ctx, token); err != nil {
		t.Fatal(err)
	}

	// Then: The concurrent entry survives for the next pass
	changes, err := s.AllChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].ID != id2 {
		t.Errorf("expected concurrent entry %d to survive, got %+v", id2, changes)
	}
}

func TestDeleteByToken_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := appendTestChange(t, s, "p1", model.ChangeTypeInsert)
	token := model.NewChangeToken([]int64{id})

	if err := s.DeleteByToken(ctx, token); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteByToken(ctx, token); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func TestDeleteByToken_EmptyToken(t *testing.T) {
	s := newTestStore(t)

	if err := s.DeleteByToken(context.Background(), model.ChangeToken{}); err != nil {
		t.Errorf("empty token should be a no-op, got %v", err)
	}
}

func TestConcurrentAppends_AllAssignedUniqueIDs(t *testing.T) {
	s := newTestStore(t)

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	ids := make(chan int64, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id, err := s.AppendChange(context.Background(), model.LocalChange{
					ResourceType: "Patient",
					ResourceID:   "p1",
					Type:         model.ChangeTypeUpdate,
					Payload:      []byte(`{}`),
					Timestamp:    time.Now().UTC(),
				})
				if err != nil {
					t.Error(err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate ledger id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != writers*perWriter {
		t.Errorf("expected %d ids, got %d", writers*perWriter, len(seen))
	}
}

func TestSyncMeta_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetSyncMeta(ctx, SyncMetaSourceID, "device-7"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSyncMeta(ctx, SyncMetaSourceID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "device-7" {
		t.Errorf("expected device-7, got %q", got)
	}

	// Overwrite replaces.
	if err := s.SetSyncMeta(ctx, SyncMetaSourceID, "device-8"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSyncMeta(ctx, SyncMetaSourceID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "device-8" {
		t.Errorf("expected device-8, got %q", got)
	}
}

func TestSyncMeta_SourceIDAssignedOnce(t *testing.T) {
	// Given: A fresh database
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath, search.DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}

	// When: The store opens for the first time
	first, err := s.GetSyncMeta(context.Background(), SyncMetaSourceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 26 {
		t.Errorf("expected a ULID source id, got %q", first)
	}
	s.Close()

	// Then: Reopening keeps the same identity
	s, err = NewSQLiteStore(dbPath, search.DefaultRegistry())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	second, err := s.GetSyncMeta(context.Background(), SyncMetaSourceID)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("source id changed across reopen: %q vs %q", first, second)
	}
}

func TestSyncMeta_SchemaVersionSeeded(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetSyncMeta(context.Background(), SyncMetaSchemaVersion)
	if err != nil {
		t.Fatal(err)
	}
	if v != "1" {
		t.Errorf("expected schema_version '1', got %q", v)
	}
}
