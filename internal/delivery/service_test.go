package delivery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func outcome(recipient string, s Status) Outcome {
	return Outcome{Key: Key{CampaignID: "camp", StepID: "s0", RecipientID: recipient}, MessageID: "m-" + recipient, Status: s}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusScheduled, true},
		{StatusPending, StatusSent, true},
		{StatusPending, StatusFailed, true},
		{StatusScheduled, StatusSent, true},
		{StatusScheduled, StatusFailed, true},
		{StatusScheduled, StatusPending, false},
		{StatusSent, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{StatusSent, StatusScheduled, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestRecord_IsIdempotentAndRollupDoesNotDoubleCount(t *testing.T) {
	repo := NewMemoryRepo()
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := rec.Record(ctx, "w1", outcome("r1", StatusSent)); err != nil {
			t.Fatalf("record sent: %v", err)
		}
		if _, err := rec.Record(ctx, "w1", outcome("r2", StatusScheduled)); err != nil {
			t.Fatalf("record scheduled: %v", err)
		}
		if _, err := rec.Record(ctx, "w1", outcome("r3", StatusFailed)); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	var ro Rollup
	for i := 0; i < 3; i++ {
		var err error
		if ro, err = rec.Rollup(ctx, "w1", "camp"); err != nil {
			t.Fatalf("rollup: %v", err)
		}
	}
	if ro.TotalSent != 2 || ro.TotalScheduled != 1 || ro.TotalFailed != 1 || ro.TotalPending != 0 {
		t.Fatalf("unexpected rollup: %+v", ro)
	}
}

func TestRecord_RejectsMovesOutOfFinalStatus(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), nil)
	ctx := context.Background()
	if _, err := rec.Record(ctx, "w1", outcome("r1", StatusFailed)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rec.Record(ctx, "w1", outcome("r1", StatusSent)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRecord_Validates(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), nil)
	if _, err := rec.Record(context.Background(), "", outcome("r1", StatusSent)); !errors.Is(err, ErrWorkspaceRequired) {
		t.Fatalf("expected ErrWorkspaceRequired, got %v", err)
	}
	if _, err := rec.Record(context.Background(), "w1", outcome("r1", "bounced")); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestApplyCallback_MovesScheduledToSentAndMarksDirty(t *testing.T) {
	repo := NewMemoryRepo()
	dirty := NewMemoryDirtySet()
	rec := NewRecorder(repo, dirty)
	ctx := context.Background()

	o := outcome("r1", StatusScheduled)
	o.JobID = "job-1"
	if _, err := rec.Record(ctx, "w1", o); err != nil {
		t.Fatalf("record: %v", err)
	}

	row, err := rec.ApplyCallback(ctx, "m-r1", StatusSent, "ignored")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if row.Status != StatusSent || row.JobID != "job-1" || row.Error != "" {
		t.Fatalf("unexpected row: %+v", row)
	}

	refs, _ := dirty.Drain(ctx, 10)
	if len(refs) != 1 || refs[0] != (CampaignRef{WorkspaceID: "w1", CampaignID: "camp"}) {
		t.Fatalf("expected campaign marked dirty, got %v", refs)
	}

	if _, err := rec.ApplyCallback(ctx, "m-r1", StatusSent, ""); err != nil {
		t.Fatalf("repeat callback should be a no-op, got %v", err)
	}
	if refs, _ := dirty.Drain(ctx, 10); len(refs) != 0 {
		t.Fatalf("no-op callback must not mark dirty, got %v", refs)
	}
	if _, err := rec.ApplyCallback(ctx, "m-r1", StatusFailed, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestApplyCallback_UnknownMessage(t *testing.T) {
	rec := NewRecorder(NewMemoryRepo(), nil)
	if _, err := rec.ApplyCallback(context.Background(), "nope", StatusSent, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReconciler_RecomputesDirtyCampaigns(t *testing.T) {
	repo := NewMemoryRepo()
	dirty := NewMemoryDirtySet()
	rec := NewRecorder(repo, dirty)
	ctx := context.Background()

	if _, err := rec.Record(ctx, "w1", outcome("r1", StatusScheduled)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rec.Rollup(ctx, "w1", "camp"); err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if _, err := rec.ApplyCallback(ctx, "m-r1", StatusFailed, "carrier rejected"); err != nil {
		t.Fatalf("callback: %v", err)
	}

	n, err := NewReconciler(rec, dirty, 10).RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 reconciled, got %d %v", n, err)
	}
	ro, err := rec.Analytics(ctx, "w1", "camp")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if ro.TotalFailed != 1 || ro.TotalScheduled != 0 || ro.TotalSent != 0 {
		t.Fatalf("snapshot not refreshed: %+v", ro)
	}
}

func TestListByCampaign_FiltersRange(t *testing.T) {
	repo := NewMemoryRepo()
	rec := NewRecorder(repo, nil)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return base }
	_, _ = rec.Record(context.Background(), "w1", outcome("r1", StatusSent))
	rec.now = func() time.Time { return base.Add(48 * time.Hour) }
	_, _ = rec.Record(context.Background(), "w1", outcome("r2", StatusSent))

	rows, err := repo.ListByCampaign(context.Background(), "w1", "camp", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].RecipientID != "r1" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

var (
	_ Repository = (*PostgresRepo)(nil)
	_ Repository = (*MemoryRepo)(nil)
	_ DirtySet   = RedisDirtySet{}
	_ DirtySet   = (*MemoryDirtySet)(nil)
)
