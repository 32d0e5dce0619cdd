package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roniherschmann/go-views/internal/store"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

// flakyStore wraps a memory store and fails commits while failing is set.
type flakyStore struct {
	*store.Memory
	mu      sync.Mutex
	failing bool
	loadErr error
	commits int
}

func newFlaky() *flakyStore { return &flakyStore{Memory: store.NewMemory()} }

func (f *flakyStore) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyStore) Load(ctx context.Context) (store.State, error) {
	if f.loadErr != nil {
		return store.Empty(), f.loadErr
	}
	return f.Memory.Load(ctx)
}

func (f *flakyStore) Commit(ctx context.Context, total int64, e store.Entry) error {
	f.mu.Lock()
	f.commits++
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.Memory.Commit(ctx, total, e)
}

func TestRecordVisit_Example(t *testing.T) {
	l := Open(context.Background(), store.NewMemory(), WithWindow(3600*time.Second))

	steps := []struct {
		fp    string
		sec   int
		total int64
		isNew bool
	}{
		{"fp1", 0, 1, true},
		{"fp1", 1800, 1, false},
		{"fp1", 3601, 2, true},
		{"fp2", 3601, 3, true},
	}
	for _, s := range steps {
		got, err := l.RecordVisit(context.Background(), s.fp, at(s.sec))
		if err != nil {
			t.Fatalf("RecordVisit(%s, %d): %v", s.fp, s.sec, err)
		}
		if got.TotalViews != s.total || got.IsNew != s.isNew {
			t.Fatalf("RecordVisit(%s, %d) = %+v, want {%d %v}", s.fp, s.sec, got, s.total, s.isNew)
		}
	}
}

func TestRecordVisit_Window(t *testing.T) {
	const window = time.Hour
	tests := []struct {
		name    string
		elapsed time.Duration
		isNew   bool
		total   int64
	}{
		{"immediate repeat", 0, false, 1},
		{"inside window", 30 * time.Minute, false, 1},
		{"exactly window", window, false, 1},
		{"one nanosecond past", window + time.Nanosecond, true, 2},
		{"a day later", 24 * time.Hour, true, 2},
		{"clock went backwards", -time.Minute, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Open(context.Background(), store.NewMemory(), WithWindow(window))
			if _, err := l.RecordVisit(context.Background(), "fp", t0); err != nil {
				t.Fatal(err)
			}
			got, err := l.RecordVisit(context.Background(), "fp", t0.Add(tt.elapsed))
			if err != nil {
				t.Fatal(err)
			}
			if got.IsNew != tt.isNew || got.TotalViews != tt.total {
				t.Fatalf("second visit = %+v, want {%d %v}", got, tt.total, tt.isNew)
			}
		})
	}
}

func TestRecordVisit_RepeatsDoNotSlideWindow(t *testing.T) {
	l := Open(context.Background(), store.NewMemory(), WithWindow(time.Hour))

	mustVisit(t, l, "fp", at(0))
	// an uncounted repeat must not refresh last_seen
	mustVisit(t, l, "fp", at(3000))
	got := mustVisit(t, l, "fp", at(3601))
	if !got.IsNew || got.TotalViews != 2 {
		t.Fatalf("visit after window = %+v, want {2 true}", got)
	}
	if seen, _ := l.LastSeen("fp"); !seen.Equal(at(3601)) {
		t.Fatalf("LastSeen = %v, want %v", seen, at(3601))
	}
}

func TestRecordVisit_DistinctFingerprints(t *testing.T) {
	l := Open(context.Background(), store.NewMemory())
	const n = 250
	for i := 0; i < n; i++ {
		got := mustVisit(t, l, fmt.Sprintf("fp-%d", i), t0)
		if !got.IsNew || got.TotalViews != int64(i+1) {
			t.Fatalf("visit %d = %+v", i, got)
		}
	}
	if st := l.Stats(); st.TotalViews != n || st.Visitors != n {
		t.Fatalf("Stats = %+v, want %d/%d", st, n, n)
	}
}

func TestRecordVisit_EmptyFingerprint(t *testing.T) {
	l := Open(context.Background(), store.NewMemory())
	if _, err := l.RecordVisit(context.Background(), "", t0); !errors.Is(err, ErrEmptyFingerprint) {
		t.Fatalf("err = %v, want ErrEmptyFingerprint", err)
	}
	if l.Stats().TotalViews != 0 {
		t.Fatal("empty fingerprint was counted")
	}
}

func TestRecordVisit_ConcurrentSameFingerprint(t *testing.T) {
	fs := newFlaky()
	l := Open(context.Background(), fs)

	var wg sync.WaitGroup
	results := make(chan Visit, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.RecordVisit(context.Background(), "same", t0)
			if err != nil {
				t.Error(err)
				return
			}
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	newCount := 0
	for v := range results {
		if v.IsNew {
			newCount++
		}
		if v.TotalViews != 1 {
			t.Errorf("TotalViews = %d, want 1", v.TotalViews)
		}
	}
	if newCount != 1 {
		t.Fatalf("%d calls reported is_new, want 1", newCount)
	}
	if fs.commits != 1 {
		t.Fatalf("store saw %d commits, want 1", fs.commits)
	}
}

func TestRecordVisit_ConcurrentDistinct(t *testing.T) {
	l := Open(context.Background(), store.NewMemory())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.RecordVisit(context.Background(), fmt.Sprintf("fp-%d", i), t0); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if got := l.Stats().TotalViews; got != 100 {
		t.Fatalf("TotalViews = %d, want 100", got)
	}
}

func TestRecordVisit_PersistFailure(t *testing.T) {
	fs := newFlaky()
	l := Open(context.Background(), fs)
	mustVisit(t, l, "fp1", at(0))

	fs.setFailing(true)
	got, err := l.RecordVisit(context.Background(), "fp2", at(1))
	if !errors.Is(err, ErrNotDurable) {
		t.Fatalf("err = %v, want ErrNotDurable", err)
	}
	if got.IsNew || got.TotalViews != 1 {
		t.Fatalf("visit on failure = %+v, want {1 false}", got)
	}
	if _, ok := l.LastSeen("fp2"); ok {
		t.Fatal("fp2 recorded despite failed commit")
	}

	// once the store recovers the same visitor is counted
	fs.setFailing(false)
	got = mustVisit(t, l, "fp2", at(2))
	if !got.IsNew || got.TotalViews != 2 {
		t.Fatalf("visit after recovery = %+v, want {2 true}", got)
	}
	st, _ := fs.Memory.Load(context.Background())
	if st.TotalViews != 2 {
		t.Fatalf("persisted total = %d, want 2", st.TotalViews)
	}
}

func TestRecordVisit_PersistTimeout(t *testing.T) {
	l := Open(context.Background(), blockingStore{store.NewMemory()}, WithPersistTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := l.RecordVisit(context.Background(), "fp", t0)
	if !errors.Is(err, ErrNotDurable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want ErrNotDurable wrapping DeadlineExceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("commit was not bounded by the persist timeout")
	}
}

type blockingStore struct{ *store.Memory }

func (blockingStore) Commit(ctx context.Context, _ int64, _ store.Entry) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestOpen_LoadFailureStartsEmpty(t *testing.T) {
	fs := newFlaky()
	fs.loadErr = fmt.Errorf("%w: garbage", store.ErrCorrupt)
	l := Open(context.Background(), fs)
	if st := l.Stats(); st.TotalViews != 0 || st.Visitors != 0 {
		t.Fatalf("Stats = %+v, want empty", st)
	}
	if got := mustVisit(t, l, "fp", t0); got.TotalViews != 1 {
		t.Fatalf("first visit total = %d, want 1", got.TotalViews)
	}
}

func TestOpen_RestartDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "views.json")

	l := Open(ctx, store.NewFile(path), WithWindow(time.Hour))
	for i := 0; i < 7; i++ {
		mustVisit(t, l, fmt.Sprintf("fp-%d", i), at(i))
	}

	restarted := Open(ctx, store.NewFile(path), WithWindow(time.Hour))
	if st := restarted.Stats(); st.TotalViews != 7 || st.Visitors != 7 {
		t.Fatalf("Stats after restart = %+v, want 7/7", st)
	}
	for i := 0; i < 7; i++ {
		seen, ok := restarted.LastSeen(fmt.Sprintf("fp-%d", i))
		if !ok || !seen.Equal(at(i)) {
			t.Fatalf("fp-%d last seen = %v (%v), want %v", i, seen, ok, at(i))
		}
	}
	// window state survives the restart too
	if got := mustVisit(t, restarted, "fp-0", at(60)); got.IsNew {
		t.Fatal("repeat visit after restart was counted")
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "views.json")
	if err := os.WriteFile(path, []byte("\x00\x01 definitely not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	l := Open(context.Background(), store.NewFile(path))
	if st := l.Stats(); st.TotalViews != 0 || st.Visitors != 0 {
		t.Fatalf("Stats = %+v, want empty", st)
	}
}

func TestOptions(t *testing.T) {
	l := Open(context.Background(), store.NewMemory(), WithWindow(24*time.Hour), WithPersistTimeout(0))
	if l.Window() != 24*time.Hour {
		t.Errorf("Window = %v, want 24h", l.Window())
	}
	if l.timeout != DefaultPersistTimeout {
		t.Errorf("timeout = %v, want default for non-positive option", l.timeout)
	}
}

func mustVisit(t *testing.T, l *Ledger, fp string, now time.Time) Visit {
	t.Helper()
	v, err := l.RecordVisit(context.Background(), fp, now)
	if err != nil {
		t.Fatalf("RecordVisit(%s): %v", fp, err)
	}
	return v
}
