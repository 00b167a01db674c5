package eventlog_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/helios-trading/brain/internal/eventlog"
)

func openStore(t *testing.T) *eventlog.SQLiteStore {
	t.Helper()
	store, err := eventlog.OpenSQLite(":memory:", 5*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAssignsAscendingIDs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := store.Append(ctx, eventlog.SubjectIntentReceived, map[string]int{"n": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id <= last {
			t.Errorf("id %d not greater than previous %d", id, last)
		}
		last = id
	}

	lastID, err := store.LastID(ctx)
	if err != nil {
		t.Fatalf("last id: %v", err)
	}
	if lastID != last {
		t.Errorf("LastID = %d, want %d", lastID, last)
	}
}

func TestStreamFromRespectsBounds(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, eventlog.SubjectRiskDecision, map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := store.StreamFrom(ctx, 4, 3)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if want := int64(4 + i); e.ID != want {
			t.Errorf("entry %d: id = %d, want %d", i, e.ID, want)
		}
		if e.Subject != eventlog.SubjectRiskDecision {
			t.Errorf("entry %d: subject = %s", i, e.Subject)
		}
	}

	empty, err := store.StreamFrom(ctx, 100, 10)
	if err != nil {
		t.Fatalf("stream past end: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("past-end stream returned %d entries", len(empty))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	type state struct {
		Watermark string `json:"watermark"`
		Count     int    `json:"count"`
	}

	if err := store.SaveSnapshot(ctx, eventlog.SnapshotHighWatermark, state{Watermark: "1050", Count: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Upsert overwrites the previous value.
	if err := store.SaveSnapshot(ctx, eventlog.SnapshotHighWatermark, state{Watermark: "2000", Count: 2}); err != nil {
		t.Fatalf("save again: %v", err)
	}

	var got state
	ok, err := store.LoadSnapshot(ctx, eventlog.SnapshotHighWatermark, &got)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Watermark != "2000" || got.Count != 2 {
		t.Errorf("snapshot = %+v", got)
	}

	ok, err = store.LoadSnapshot(ctx, "never-written", &got)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if ok {
		t.Error("missing key reported as present")
	}

	if err := store.DeleteSnapshots(ctx); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := store.LoadSnapshot(ctx, eventlog.SnapshotHighWatermark, &got); ok {
		t.Error("snapshot survived DeleteSnapshots")
	}
}

func TestTruncateEmptiesLog(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, eventlog.SubjectTreasurySweep, map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Truncate(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	entries, err := store.StreamFrom(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("log has %d entries after truncate", len(entries))
	}
}

func TestAppenderSerializesConcurrentWrites(t *testing.T) {
	store := openStore(t)
	appender := eventlog.NewAppender(zap.NewNop(), store, nil, 64)

	ctx, cancel := context.WithCancel(context.Background())
	appender.Start(ctx)

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := appender.Append(context.Background(), eventlog.SubjectIntentReceived, map[string]int{"w": w, "i": i}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("append: %v", err)
	}

	entries, err := store.StreamFrom(context.Background(), 1, writers*perWriter+1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != writers*perWriter {
		t.Fatalf("entries = %d, want %d", len(entries), writers*perWriter)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID != entries[i-1].ID+1 {
			t.Fatalf("id gap between %d and %d", entries[i-1].ID, entries[i].ID)
		}
	}

	cancel()
	appender.Wait()

	// The inbox no longer accepts work after the writer loop exits.
	if _, err := appender.Append(context.Background(), eventlog.SubjectIntentReceived, nil); err == nil {
		t.Error("append after shutdown succeeded")
	}
}
