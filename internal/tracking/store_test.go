package tracking

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/epimonitor/manager/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "manager.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedSession(t *testing.T, store *SQLiteStore, id string, start time.Time) {
	t.Helper()
	err := store.CreateSession(context.Background(), &types.Session{
		SessionID: id,
		AppName:   "extractor",
		Status:    types.StatusStarted,
		Start:     start,
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
}

func TestStore_CreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 6, 10, 30, 0, 123, time.UTC)

	seedSession(t, store, "extractor-20260306103000-0000001", start)

	got, err := store.GetSession(ctx, "extractor-20260306103000-0000001")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Status != types.StatusStarted {
		t.Errorf("status mismatch: got %s, want %s", got.Status, types.StatusStarted)
	}
	if !got.Start.Equal(start) {
		t.Errorf("start mismatch: got %v, want %v", got.Start, start)
	}
	if got.End != nil {
		t.Errorf("expected nil end, got %v", got.End)
	}
}

func TestStore_CreateSessionDuplicate(t *testing.T) {
	store := newTestStore(t)
	seedSession(t, store, "dup", time.Now())

	err := store.CreateSession(context.Background(), &types.Session{
		SessionID: "dup",
		AppName:   "other",
		Status:    types.StatusStarted,
		Start:     time.Now(),
	})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}

	got, err := store.GetSession(context.Background(), "dup")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.AppName != "extractor" {
		t.Errorf("duplicate insert overwrote app_name: %s", got.AppName)
	}
}

func TestStore_GetSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_UpdateSessionPartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	seedSession(t, store, "s1", start)

	got, err := store.UpdateSession(ctx, &types.StatusUpdate{SessionID: "s1", Status: "RUNNING"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.Status != "RUNNING" {
		t.Errorf("status mismatch: got %s", got.Status)
	}
	if !got.Start.Equal(start) {
		t.Errorf("start changed: got %v, want %v", got.Start, start)
	}
	if got.End != nil {
		t.Errorf("end should stay nil, got %v", got.End)
	}

	end := start.Add(time.Hour)
	got, err = store.UpdateSession(ctx, &types.StatusUpdate{SessionID: "s1", Status: types.StatusCompleted, End: &end})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.End == nil || !got.End.Equal(end) {
		t.Errorf("end mismatch: got %v, want %v", got.End, end)
	}
}

func TestStore_UpdateSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.UpdateSession(context.Background(), &types.StatusUpdate{SessionID: "nope", Status: "X"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_AppendLogCriticalFinishesSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)
	seedSession(t, store, "s1", start)

	ts := time.Now()
	entry, err := store.AppendLog(ctx, &types.LogEntry{
		SessionID: "s1",
		AppName:   "extractor",
		Level:     types.LevelCritical,
		Message:   "source unreachable",
		Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected assigned log id")
	}

	session, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if session.Status != types.StatusFinishedWithErrors {
		t.Errorf("status mismatch: got %s", session.Status)
	}
	if session.End == nil || !session.End.Equal(ts) {
		t.Errorf("end mismatch: got %v, want %v", session.End, ts)
	}
}

func TestStore_AppendLogUnknownSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendLog(ctx, &types.LogEntry{
		SessionID: "ghost",
		AppName:   "extractor",
		Level:     types.LevelInfo,
		Message:   "hello",
		Timestamp: time.Now(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	logs, err := store.ListLogs(ctx, "ghost")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected no logs, got %d", len(logs))
	}
}

func TestStore_ListLogsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSession(t, store, "s1", time.Now())

	levels := []types.Level{types.LevelInfo, types.LevelWarning, types.LevelInfo}
	for i, level := range levels {
		_, err := store.AppendLog(ctx, &types.LogEntry{
			SessionID: "s1",
			AppName:   "extractor",
			Level:     level,
			Message:   string(rune('a' + i)),
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	logs, err := store.ListLogs(ctx, "s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != len(levels) {
		t.Fatalf("expected %d logs, got %d", len(levels), len(logs))
	}
	for i, entry := range logs {
		if entry.Level != levels[i] {
			t.Errorf("log %d level: got %s, want %s", i, entry.Level, levels[i])
		}
		if entry.Message != string(rune('a'+i)) {
			t.Errorf("log %d message: got %s", i, entry.Message)
		}
	}
}

func TestStore_InsertAndQueryFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSession(t, store, "s1", time.Now())

	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now()

	for _, rec := range []*types.FileRecord{
		{SessionID: "s1", Organization: "fleury", Project: "arbo", Filename: "old.csv", UploadTS: old},
		{SessionID: "s1", Organization: "sabin", Project: "arbo", Filename: "new.csv", UploadTS: recent},
	} {
		if _, err := store.InsertFile(ctx, rec); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	all, err := store.ListFiles(ctx, "s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 files, got %d", len(all))
	}
	if all[0].Filename != "old.csv" || all[1].Filename != "new.csv" {
		t.Errorf("unexpected order: %s, %s", all[0].Filename, all[1].Filename)
	}

	since, err := store.FilesSince(ctx, recent.Add(-time.Hour))
	if err != nil {
		t.Fatalf("files since failed: %v", err)
	}
	if len(since) != 1 || since[0].Organization != "sabin" {
		t.Errorf("unexpected files since: %+v", since)
	}
}

func TestStore_InsertFileUnknownSession(t *testing.T) {
	store := newTestStore(t)
	_, err := store.InsertFile(context.Background(), &types.FileRecord{
		SessionID:    "ghost",
		Organization: "acme",
		Project:      "p1",
		Filename:     "data.csv",
		UploadTS:     time.Now(),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_ListSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	seedSession(t, store, "a-1", base.Add(-2*time.Minute))
	seedSession(t, store, "a-2", base.Add(-time.Minute))
	if err := store.CreateSession(ctx, &types.Session{
		SessionID: "b-1", AppName: "other", Status: types.StatusStarted, Start: base,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	all, err := store.ListSessions(ctx, "", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "b-1" {
		t.Errorf("unexpected sessions: %+v", all)
	}

	filtered, err := store.ListSessions(ctx, "extractor", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SessionID != "a-2" {
		t.Errorf("unexpected filtered sessions: %+v", filtered)
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSession(t, store, "s1", time.Now())

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	errCh := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := store.AppendLog(ctx, &types.LogEntry{
					SessionID: "s1",
					AppName:   "extractor",
					Level:     types.LevelInfo,
					Message:   "tick",
					Timestamp: time.Now(),
				})
				if err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("concurrent append failed: %v", err)
	}

	logs, err := store.ListLogs(ctx, "s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != workers*perWorker {
		t.Errorf("expected %d logs, got %d", workers*perWorker, len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].ID <= logs[i-1].ID {
			t.Fatalf("log ids not increasing at %d", i)
		}
	}
}
