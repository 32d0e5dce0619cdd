package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLite_EmptyLoad(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "views.db"))
	s := NewSQLite(db)
	defer s.Close()

	st, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.TotalViews != 0 || len(st.Entries) != 0 {
		t.Fatalf("state = %+v, want empty", st)
	}
}

func TestSQLite_RestartDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "views.db")
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := NewSQLite(openTestDB(t, path))
	fps := []string{"fp1", "fp2", "fp3", "fp4"}
	for i, fp := range fps {
		if err := s.Commit(ctx, int64(i+1), Entry{Fingerprint: fp, LastSeen: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Commit %s: %v", fp, err)
		}
	}
	// a repeat commit for an existing visitor moves last_seen forward
	if err := s.Commit(ctx, 5, Entry{Fingerprint: "fp1", LastSeen: base.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("Commit fp1 again: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := NewSQLite(openTestDB(t, path))
	defer reopened.Close()
	st, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.TotalViews != 5 {
		t.Errorf("TotalViews = %d, want 5", st.TotalViews)
	}
	if len(st.Entries) != len(fps) {
		t.Fatalf("entries = %d, want %d", len(st.Entries), len(fps))
	}
	if got := st.Entries["fp1"]; !got.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("fp1 last_seen = %v, want %v", got, base.Add(2*time.Hour))
	}
	if got := st.Entries["fp4"]; !got.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("fp4 last_seen = %v, want %v", got, base.Add(3*time.Minute))
	}
}

func TestSQLite_Ping(t *testing.T) {
	db := openTestDB(t, filepath.Join(t.TempDir(), "views.db"))
	s := NewSQLite(db)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Fatal("Ping after Close succeeded")
	}
}
