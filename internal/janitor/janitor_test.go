package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
)

func setup(t *testing.T) (*store.Store, *blob.FSStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := store.Dial(context.Background(), "redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	st := store.New(rdb)
	t.Cleanup(func() { st.Close() })
	fs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return st, fs
}

func TestSweep(t *testing.T) {
	st, fs := setup(t)
	ctx := context.Background()

	live := &schedule.ExtractionJob{JobID: "job-live", DistrictID: "D1", Status: schedule.JobPending, ExpiresAt: time.Now().Add(time.Hour)}
	if err := st.CreateJob(ctx, live); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := st.ClaimDistrict(ctx, "D1", "job-live", live.ExpiresAt); err != nil {
		t.Fatalf("ClaimDistrict: %v", err)
	}
	if _, err := st.ClaimDistrict(ctx, "D2", "job-dead", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ClaimDistrict: %v", err)
	}

	for _, key := range []string{
		blob.UploadKey("D1", "job-live", "a.pdf"),
		blob.StagedKey("job-live"),
		blob.UploadKey("D2", "job-dead", "b.pdf"),
		blob.StagedKey("job-dead"),
		blob.BackupKey("D2", "job-dead", time.Now()),
	} {
		if err := fs.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	later := func() time.Time { return time.Now().Add(time.Hour) }
	rep, err := New(st, fs, Config{}, WithClock(later)).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.OrphanBlobs != 2 || rep.ReleasedLocks != 1 {
		t.Errorf("Sweep = %+v, want 2 blobs and 1 lock", rep)
	}

	tests := []struct {
		prefix string
		want   int
	}{
		{blob.UploadsPrefix, 1},
		{blob.StagedPrefix, 1},
		{blob.BackupsPrefix, 1},
	}
	for _, tt := range tests {
		objs, _ := fs.List(ctx, tt.prefix)
		if len(objs) != tt.want {
			t.Errorf("%s has %d blobs, want %d", tt.prefix, len(objs), tt.want)
		}
	}
	if holder, _ := st.DistrictLockHolder(ctx, "D1"); holder != "job-live" {
		t.Errorf("live lock holder = %q", holder)
	}
	if holder, _ := st.DistrictLockHolder(ctx, "D2"); holder != "" {
		t.Errorf("dead lock still held by %q", holder)
	}
}

func TestSweepKeepsFreshClaim(t *testing.T) {
	st, fs := setup(t)
	ctx := context.Background()

	// claimed but the job record has not landed yet
	if _, err := st.ClaimDistrict(ctx, "D1", "job-new", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("ClaimDistrict: %v", err)
	}
	rep, err := New(st, fs, Config{}).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.ReleasedLocks != 0 {
		t.Errorf("ReleasedLocks = %d, want 0", rep.ReleasedLocks)
	}
	if holder, _ := st.DistrictLockHolder(ctx, "D1"); holder != "job-new" {
		t.Errorf("lock holder = %q, want job-new", holder)
	}
}

func TestSweepSkipsFreshBlobs(t *testing.T) {
	st, fs := setup(t)
	ctx := context.Background()
	if err := fs.Put(ctx, blob.UploadKey("D1", "job-new", "a.pdf"), []byte("x"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rep, err := New(st, fs, Config{}).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if rep.OrphanBlobs != 0 {
		t.Errorf("swept %d blobs inside the grace window", rep.OrphanBlobs)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	st, fs := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(st, fs, Config{Schedule: "@every 1h"}).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunRejectsBadSchedule(t *testing.T) {
	st, fs := setup(t)
	if err := New(st, fs, Config{Schedule: "not a schedule"}).Run(context.Background()); err == nil {
		t.Error("Run accepted an invalid schedule")
	}
}
