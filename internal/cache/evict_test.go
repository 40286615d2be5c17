package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const kib = 1024

func TestEnforceLimitsEvictsOldestFirst(t *testing.T) {
	store := newTestStore(t)
	a := writePayload(t, store, "https://example.com/a.mp3", 10*kib, baseTime)
	b := writePayload(t, store, "https://example.com/b.mp3", 20*kib, baseTime.Add(time.Minute))
	c := writePayload(t, store, "https://example.com/c.mp3", 5*kib, baseTime.Add(2*time.Minute))

	result := store.EnforceLimits(Limits{MaxCount: 100, MaxBytes: 25 * kib}, nil)

	// 删除 A 后仍为 25KiB 整，恰好满足上限，B 与 C 都应保留。
	if len(result.Deleted) != 1 || result.Deleted[0] != a {
		t.Fatalf("expected only oldest entry deleted, got %v", result.Deleted)
	}
	if result.RemainingBytes != 25*kib || result.RemainingCount != 2 {
		t.Fatalf("unexpected remaining usage: %+v", result)
	}
	if result.OverLimit {
		t.Fatalf("should be within limits")
	}
	for _, p := range []string{b, c} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should survive: %v", p, err)
		}
	}
	if _, ok := store.SourceIndex()[filepath.Base(a)]; ok {
		t.Fatalf("evicted entry should be removed from index")
	}
}

func TestEnforceLimitsNoopWhenWithinLimits(t *testing.T) {
	store := newTestStore(t)
	writePayload(t, store, "https://example.com/a.mp3", 10, baseTime)

	result := store.EnforceLimits(Limits{MaxCount: 5, MaxBytes: 1 << 20}, nil)
	if len(result.Deleted) != 0 || result.RemainingCount != 1 {
		t.Fatalf("unexpected eviction: %+v", result)
	}
}

func TestEnforceLimitsSkipsProtected(t *testing.T) {
	store := newTestStore(t)
	oldest := writePayload(t, store, "https://example.com/playing.mp3", 10, baseTime)
	next := writePayload(t, store, "https://example.com/next.mp3", 10, baseTime.Add(time.Minute))
	newest := writePayload(t, store, "https://example.com/newest.mp3", 10, baseTime.Add(2*time.Minute))

	result := store.EnforceLimits(Limits{MaxCount: 2, MaxBytes: 1 << 20}, []string{oldest})

	if len(result.Deleted) != 1 || result.Deleted[0] != next {
		t.Fatalf("expected next-oldest unprotected entry deleted, got %v", result.Deleted)
	}
	for _, p := range []string{oldest, newest} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("%s should survive: %v", p, err)
		}
	}
}

func TestEnforceLimitsReportsOverLimitWhenAllProtected(t *testing.T) {
	store := newTestStore(t)
	a := writePayload(t, store, "https://example.com/a.mp3", 10, baseTime)
	b := writePayload(t, store, "https://example.com/b.mp3", 10, baseTime.Add(time.Minute))

	result := store.EnforceLimits(Limits{MaxCount: 1, MaxBytes: 1 << 20}, []string{a, b})
	if len(result.Deleted) != 0 {
		t.Fatalf("protected entries must not be deleted: %v", result.Deleted)
	}
	if !result.OverLimit || result.RemainingCount != 2 {
		t.Fatalf("expected over-limit report, got %+v", result)
	}
}

func TestEnforceLimitsConverges(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 12; i++ {
		writePayload(t, store, fmt.Sprintf("https://example.com/%02d.mp3", i), (i%4+1)*kib, baseTime.Add(time.Duration(i)*time.Minute))
	}
	limits := Limits{MaxCount: 5, MaxBytes: 9 * kib}

	result := store.EnforceLimits(limits, nil)

	count, total := store.Usage()
	if count > limits.MaxCount || total > limits.MaxBytes {
		t.Fatalf("limits not honored: count=%d bytes=%d", count, total)
	}
	if result.RemainingCount != count || result.RemainingBytes != total {
		t.Fatalf("result disagrees with disk: %+v vs %d/%d", result, count, total)
	}

	// 再次执行不应删除任何内容。
	if again := store.EnforceLimits(limits, nil); len(again.Deleted) != 0 {
		t.Fatalf("second pass should be a no-op, got %v", again.Deleted)
	}
}

func TestEnforceLimitsTieBreaksByName(t *testing.T) {
	store := newTestStore(t)
	first := writePayload(t, store, "https://example.com/x.mp3", 10, baseTime)
	second := writePayload(t, store, "https://example.com/y.mp3", 10, baseTime)
	expected := first
	if filepath.Base(second) < filepath.Base(first) {
		expected = second
	}

	result := store.EnforceLimits(Limits{MaxCount: 1, MaxBytes: 1 << 20}, nil)
	if len(result.Deleted) != 1 || result.Deleted[0] != expected {
		t.Fatalf("expected %s deleted, got %v", expected, result.Deleted)
	}
}

func TestLimitsNormalize(t *testing.T) {
	limits := Limits{MaxCount: 0, MaxBytes: -5}.Normalize()
	if limits.MaxCount != 1 || limits.MaxBytes != 1 {
		t.Fatalf("limits should floor at 1, got %+v", limits)
	}
}

func TestClearAllKeepsProtectedAndIndex(t *testing.T) {
	store := newTestStore(t)
	playing := writePayload(t, store, "https://example.com/playing.mp3", 10, baseTime)
	other := writePayload(t, store, "https://example.com/other.mp3", 20, baseTime)
	partial := store.Reserve("https://example.com/downloading.mp3", "").TempPath
	if err := os.WriteFile(partial, []byte("half"), 0o644); err != nil {
		t.Fatalf("write partial: %v", err)
	}

	result := store.ClearAll([]string{playing})

	if result.Deleted != 2 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("unexpected clear result: %+v", result)
	}
	if result.FreedBytes != 24 {
		t.Fatalf("expected 24 bytes freed, got %d", result.FreedBytes)
	}
	if _, err := os.Stat(other); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("unprotected entry should be removed")
	}
	if _, err := os.Stat(playing); err != nil {
		t.Fatalf("protected entry should survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), IndexFileName)); err != nil {
		t.Fatalf("index should survive clear: %v", err)
	}
	index := store.SourceIndex()
	if len(index) != 1 || index[filepath.Base(playing)] == "" {
		t.Fatalf("index should only keep the protected entry, got %v", index)
	}
}

func TestDeleteSpecificClassifiesPaths(t *testing.T) {
	store := newTestStore(t)
	victim := writePayload(t, store, "https://example.com/victim.mp3", 10, baseTime)
	playing := writePayload(t, store, "https://example.com/playing.mp3", 10, baseTime)
	bystander := writePayload(t, store, "https://example.com/bystander.mp3", 10, baseTime)

	outside := filepath.Join(t.TempDir(), "foreign.mp3")
	if err := os.WriteFile(outside, []byte("foreign"), 0o644); err != nil {
		t.Fatalf("write outside: %v", err)
	}
	ghost := filepath.Join(store.Root(), "ghost.mp3")
	indexPath := filepath.Join(store.Root(), IndexFileName)

	result := store.DeleteSpecific([]string{victim, playing, ghost, outside, indexPath, ""}, []string{playing})

	if len(result.Deleted) != 1 || result.Deleted[0] != victim {
		t.Fatalf("unexpected deleted: %v", result.Deleted)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != playing {
		t.Fatalf("unexpected skipped: %v", result.Skipped)
	}
	if len(result.Missing) != 4 {
		t.Fatalf("expected ghost, outside, index and empty path as missing, got %v", result.Missing)
	}
	if result.FreedBytes != 10 {
		t.Fatalf("expected 10 bytes freed, got %d", result.FreedBytes)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("file outside root must never be touched: %v", err)
	}
	if _, err := os.Stat(bystander); err != nil {
		t.Fatalf("unrequested entry must survive: %v", err)
	}
}

func TestCloseWithoutPendingDeletes(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if store.PendingDeletes() != 0 {
		t.Fatalf("expected no pending deletes")
	}
}

func TestCloseRetriesDeferredDeletes(t *testing.T) {
	store := newTestStore(t)
	path := writePayload(t, store, "https://example.com/locked.mp3", 10, baseTime)
	store.deferDelete(path, errors.New("file busy"))

	if store.PendingDeletes() != 1 {
		t.Fatalf("expected one pending delete")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("deferred file should be removed on close")
	}
	if store.PendingDeletes() != 0 {
		t.Fatalf("pending set should be empty after close")
	}
}
