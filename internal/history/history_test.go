package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/pkg/protocol"
)

func newTestStore(t *testing.T) *store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &store{db: db}
}

func sampleRecord(id string, resolvedAt time.Time) approval.Record {
	return approval.Record{
		RequestID:   id,
		Kind:        protocol.KindApproval,
		SessionID:   "sess-1",
		ToolName:    "Bash",
		Fingerprint: "fp-" + id,
		Allow:       true,
		Actor:       "alice",
		CreatedAt:   resolvedAt.Add(-30 * time.Second),
		ResolvedAt:  resolvedAt,
	}
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"req-1", "req-2", "req-3"} {
		if err := s.Record(ctx, sampleRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recent returned %d records, want 2", len(got))
	}
	if got[0].RequestID != "req-3" || got[1].RequestID != "req-2" {
		t.Errorf("recent order = %s, %s; want req-3, req-2", got[0].RequestID, got[1].RequestID)
	}
	if !got[0].Allow || got[0].Actor != "alice" {
		t.Errorf("record round-trip mismatch: %+v", got[0])
	}
	if !got[0].ResolvedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("resolved_at = %v", got[0].ResolvedAt)
	}
}

func TestRecord_RepeatReplaces(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := sampleRecord("req-1", now)
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("first record: %v", err)
	}
	rec.Reason = "updated"
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("repeat record: %v", err)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Reason != "updated" {
		t.Errorf("reason = %q, want %q", got[0].Reason, "updated")
	}
}

func TestBySession(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := sampleRecord("req-a", base)
	b := sampleRecord("req-b", base.Add(time.Minute))
	other := sampleRecord("req-x", base)
	other.SessionID = "sess-2"

	for _, rec := range []approval.Record{b, other, a} {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := s.BySession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("by session: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	// Oldest first.
	if got[0].RequestID != "req-a" || got[1].RequestID != "req-b" {
		t.Errorf("order = %s, %s", got[0].RequestID, got[1].RequestID)
	}
}

func TestAnswersRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("req-q", time.Now().UTC())
	rec.Kind = protocol.KindQuestion
	rec.Answers = map[string]string{"Which region?": "eu-west-1, us-east-1"}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if got[0].Answers["Which region?"] != "eu-west-1, us-east-1" {
		t.Errorf("answers = %v", got[0].Answers)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.Record(ctx, sampleRecord("req-old", base)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.Record(ctx, sampleRecord("req-new", base.AddDate(0, 0, 10))); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := s.Prune(ctx, base.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d rows, want 1", n)
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].RequestID != "req-new" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
