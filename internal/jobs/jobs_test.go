package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/aceteam-ai/paygrid/internal/apperr"
	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/extract"
	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/queue"
	"github.com/aceteam-ai/paygrid/internal/schedule"
	"github.com/aceteam-ai/paygrid/internal/store"
	"github.com/aceteam-ai/paygrid/internal/worker"
)

var pdf = []byte("%PDF-1.7\n% salary schedule\n")

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, _ string, task queue.Task) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, task)
	return "1-0", nil
}

type fakeStrategy struct {
	cells []schedule.Cell
	err   error
}

func (s *fakeStrategy) Name() string { return "fake" }

func (s *fakeStrategy) TryExtract(context.Context, extract.Document) ([]schedule.Cell, error) {
	return s.cells, s.err
}

type memLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (l *memLedger) Insert(e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *memLedger) find(kind ledger.Kind, status string) *ledger.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].Kind == kind && l.entries[i].Status == status {
			return &l.entries[i]
		}
	}
	return nil
}

type recordingInvalidator struct {
	prefixes []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, prefixes ...string) error {
	r.prefixes = append(r.prefixes, prefixes...)
	return nil
}

// flakyBlobs fails writes under failPrefix.
type flakyBlobs struct {
	blob.Store
	failPrefix string
}

func (f *flakyBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if f.failPrefix != "" && strings.HasPrefix(key, f.failPrefix) {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, data, contentType)
}

type env struct {
	now   time.Time
	st    *store.Store
	blobs *flakyBlobs
	q     *fakeQueue
	strat *fakeStrategy
	led   *memLedger
	inv   *recordingInvalidator
	o     *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := store.Dial(context.Background(), "redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	e := &env{now: time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }
	e.st = store.New(rdb, store.WithClock(clock))
	t.Cleanup(func() { e.st.Close() })

	fs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	e.blobs = &flakyBlobs{Store: fs}
	e.q = &fakeQueue{}
	e.strat = &fakeStrategy{cells: rawCells(40000)}
	e.led = &memLedger{}
	e.inv = &recordingInvalidator{}
	e.o = New(e.st, e.blobs, e.q, Config{},
		WithClock(clock),
		WithExtractor(extract.New(nil, e.strat)),
		WithInvalidator(e.inv),
		WithLedger(e.led),
	)
	if err := e.st.RegisterDistricts(context.Background(), "D1", "D2"); err != nil {
		t.Fatalf("RegisterDistricts: %v", err)
	}
	return e
}

var lanes = []schedule.Lane{
	{Education: schedule.Bachelors},
	{Education: schedule.Bachelors, Credits: 15},
	{Education: schedule.Bachelors, Credits: 30},
	{Education: schedule.Masters},
	{Education: schedule.Masters, Credits: 30},
	{Education: schedule.Doctorate},
}

// rawCells is a three-year extraction: 3 years x 6 lanes x 13 steps.
func rawCells(base float64) []schedule.Cell {
	var out []schedule.Cell
	for _, year := range []string{"2022-2023", "2023-2024", "2024-2025"} {
		for i, l := range lanes {
			for step := 1; step <= 13; step++ {
				out = append(out, schedule.Cell{
					SchoolYear: year, Period: schedule.WholeYearPeriod,
					Education: l.Education, Credits: l.Credits, Step: step,
					Amount: base + float64(i)*1500 + float64(step)*800,
				})
			}
		}
	}
	return out
}

// extracted creates a job for district and runs its extraction.
func (e *env) extracted(t *testing.T, district string) *schedule.ExtractionJob {
	t.Helper()
	ctx := context.Background()
	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: district, Filename: "schedule.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	done, err := e.o.RunExtraction(ctx, job.JobID)
	if err != nil {
		t.Fatalf("RunExtraction: %v", err)
	}
	if done.Status != schedule.JobCompleted {
		t.Fatalf("job status = %s (%s), want completed", done.Status, done.ErrorMessage)
	}
	return done
}

func TestCreateJobValidation(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no district", CreateRequest{Filename: "a.pdf", Data: pdf}},
		{"empty document", CreateRequest{DistrictID: "D1", Filename: "a.pdf"}},
		{"not a pdf", CreateRequest{DistrictID: "D1", Filename: "a.docx", Data: []byte("PK\x03\x04")}},
		{"bad hint", CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf, SchoolYearHint: "2024"}},
		{"unknown district", CreateRequest{DistrictID: "D404", Filename: "a.pdf", Data: pdf}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.o.CreateJob(context.Background(), tt.req)
			if !errors.Is(err, apperr.ErrInvalidInput) {
				t.Errorf("CreateJob error = %v, want invalid input", err)
			}
		})
	}
	if len(e.q.tasks) != 0 {
		t.Errorf("enqueued %d tasks for invalid requests", len(e.q.tasks))
	}
}

func TestCreateJobEnqueuesAndLocksDistrict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "2024 schedule.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Status != schedule.JobPending {
		t.Errorf("Status = %s, want pending", job.Status)
	}
	if !job.ExpiresAt.Equal(e.now.Add(24 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, want 24h after creation", job.ExpiresAt)
	}
	if len(e.q.tasks) != 1 || e.q.tasks[0].JobID != job.JobID || e.q.tasks[0].DistrictID != "D1" {
		t.Fatalf("tasks = %+v, want one extract task for the job", e.q.tasks)
	}

	_, err = e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "again.pdf", Data: pdf})
	if apperr.CodeOf(err) != apperr.CodeApplyConflict {
		t.Errorf("second CreateJob error = %v, want apply conflict", err)
	}
	if _, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D2", Filename: "other.pdf", Data: pdf}); err != nil {
		t.Errorf("CreateJob for another district: %v", err)
	}
}

func TestCreateJobUndoneWhenEnqueueFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.q.err = apperr.Queue(errors.New("connection refused"), "enqueue")

	if _, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf}); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("CreateJob error = %v, want unavailable", err)
	}
	holder, _ := e.st.DistrictLockHolder(ctx, "D1")
	if holder != "" {
		t.Errorf("district still locked by %s", holder)
	}
	objs, _ := e.blobs.List(ctx, blob.UploadsPrefix)
	if len(objs) != 0 {
		t.Errorf("upload blobs left behind: %+v", objs)
	}

	e.q.err = nil
	if _, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf}); err != nil {
		t.Errorf("CreateJob after recovery: %v", err)
	}
}

func TestExtractionFiltersAndPreviews(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.extracted(t, "D1")

	if job.RecordCount != 78 {
		t.Errorf("RecordCount = %d, want 78 of 234", job.RecordCount)
	}
	if job.MethodUsed != "fake" || job.Attempts != 1 {
		t.Errorf("MethodUsed = %q, Attempts = %d", job.MethodUsed, job.Attempts)
	}
	if len(job.YearsFound) != 1 || job.YearsFound[0] != "2024-2025" {
		t.Errorf("YearsFound = %v, want [2024-2025]", job.YearsFound)
	}

	v, err := e.o.GetJob(ctx, job.JobID, 0)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if len(v.Preview) != 20 {
		t.Errorf("default preview = %d rows, want 20", len(v.Preview))
	}
	v, _ = e.o.GetJob(ctx, job.JobID, 500)
	if len(v.Preview) != 78 {
		t.Errorf("full preview = %d rows, want 78", len(v.Preview))
	}
	for _, c := range v.Preview {
		if c.DistrictID != "D1" || c.SchoolYear != "2024-2025" {
			t.Fatalf("staged row %+v not bound to D1 2024-2025", c)
		}
	}

	if _, err := e.o.GetJob(ctx, "missing", 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetJob(missing) error = %v, want not found", err)
	}
}

func TestRunExtractionAppliesYearHint(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var cells []schedule.Cell
	for _, c := range rawCells(40000)[:13] {
		c.SchoolYear = ""
		cells = append(cells, c)
	}
	e.strat.cells = cells

	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf, SchoolYearHint: "2025-2026"})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	done, err := e.o.RunExtraction(ctx, job.JobID)
	if err != nil {
		t.Fatalf("RunExtraction: %v", err)
	}
	if done.RecordCount != 13 || len(done.YearsFound) != 1 || done.YearsFound[0] != "2025-2026" {
		t.Errorf("RecordCount = %d, YearsFound = %v", done.RecordCount, done.YearsFound)
	}
}

func TestRunExtractionFailureIsRecordedOnJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.strat.cells, e.strat.err = nil, extract.ErrNoResult

	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "scan.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	done, err := e.o.RunExtraction(ctx, job.JobID)
	if err != nil {
		t.Fatalf("RunExtraction returned %v, want the failure on the job", err)
	}
	if done.Status != schedule.JobFailed || !strings.Contains(done.ErrorMessage, "fake") {
		t.Errorf("job = %s %q, want failed naming the strategy", done.Status, done.ErrorMessage)
	}
	if _, err := e.o.ApplyJob(ctx, job.JobID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("ApplyJob(failed) error = %v, want conflict", err)
	}
}

func TestRunExtractionIsRepeatable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.extracted(t, "D1")

	again, err := e.o.RunExtraction(ctx, job.JobID)
	if err != nil {
		t.Fatalf("RunExtraction: %v", err)
	}
	if again.Attempts != 2 || again.RecordCount != 78 || again.Status != schedule.JobCompleted {
		t.Errorf("rerun = attempts %d, records %d, status %s", again.Attempts, again.RecordCount, again.Status)
	}
	if got, err := e.o.RunExtraction(ctx, "gone"); got != nil || err != nil {
		t.Errorf("RunExtraction(gone) = %v, %v, want nil, nil", got, err)
	}
}

func TestApplyJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.extracted(t, "D1")

	res, err := e.o.ApplyJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("ApplyJob: %v", err)
	}
	if res.CommittedCount != 78 || !res.NeedsGlobalNormalization || res.BackupKey != "" {
		t.Errorf("ApplyJob = %+v, want 78 committed, needs normalization, no backup", res)
	}

	cells, _ := e.st.DistrictCells(ctx, "D1", "", "")
	if len(cells) != 78 {
		t.Errorf("district has %d cells, want 78", len(cells))
	}
	if _, err := e.st.GetJob(ctx, job.JobID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("applied job still present: %v", err)
	}
	if holder, _ := e.st.DistrictLockHolder(ctx, "D1"); holder != "" {
		t.Errorf("district still locked by %s", holder)
	}
	if objs, _ := e.blobs.List(ctx, blob.ContractsPrefix+"D1/"); len(objs) != 1 {
		t.Errorf("archived contracts = %+v, want 1", objs)
	}
	if objs, _ := e.blobs.List(ctx, blob.StagedPrefix); len(objs) != 0 {
		t.Errorf("staged blobs left: %+v", objs)
	}
	if objs, _ := e.blobs.List(ctx, blob.UploadsPrefix); len(objs) != 0 {
		t.Errorf("upload blobs left: %+v", objs)
	}
	if en := e.led.find(ledger.KindApply, "success"); en == nil || en.Count != 78 {
		t.Errorf("ledger apply entry = %+v", en)
	}
	if len(e.inv.prefixes) == 0 {
		t.Error("apply did not invalidate cached reads")
	}

	if _, err := e.o.ApplyJob(ctx, job.JobID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second ApplyJob error = %v, want not found", err)
	}
}

func TestApplyJobRequiresCompleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := e.o.ApplyJob(ctx, job.JobID); apperr.CodeOf(err) != apperr.CodeApplyConflict {
		t.Errorf("ApplyJob(pending) error = %v, want apply conflict", err)
	}
}

func TestApplyReplacesAndRollback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.extracted(t, "D1")
	if _, err := e.o.ApplyJob(ctx, first.JobID); err != nil {
		t.Fatalf("ApplyJob(first): %v", err)
	}

	e.now = e.now.Add(time.Hour)
	e.strat.cells = rawCells(50000)
	second := e.extracted(t, "D1")
	res, err := e.o.ApplyJob(ctx, second.JobID)
	if err != nil {
		t.Fatalf("ApplyJob(second): %v", err)
	}
	if res.BackupKey == "" || res.NeedsGlobalNormalization {
		t.Errorf("ApplyJob = %+v, want a backup and no new lanes", res)
	}
	c, _ := e.st.GetCell(ctx, "D1", schedule.Scope{SchoolYear: "2024-2025", Period: schedule.WholeYearPeriod}, lanes[0], 1)
	if c == nil || c.Amount != 50800 {
		t.Fatalf("cell after second apply = %+v, want 50800", c)
	}

	backups, err := e.o.Backups(ctx, "D1")
	if err != nil || len(backups) != 1 || backups[0].Key != res.BackupKey {
		t.Fatalf("Backups = %+v, %v", backups, err)
	}

	e.now = e.now.Add(time.Hour)
	rb, err := e.o.Rollback(ctx, "D1", res.BackupKey)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if rb.CommittedCount != 78 || rb.BackupKey == "" {
		t.Errorf("Rollback = %+v", rb)
	}
	c, _ = e.st.GetCell(ctx, "D1", schedule.Scope{SchoolYear: "2024-2025", Period: schedule.WholeYearPeriod}, lanes[0], 1)
	if c == nil || c.Amount != 40800 {
		t.Errorf("cell after rollback = %+v, want 40800", c)
	}
	backups, _ = e.o.Backups(ctx, "D1")
	if len(backups) != 2 || backups[0].Key != rb.BackupKey {
		t.Errorf("Backups after rollback = %+v, want the rollback's backup first", backups)
	}
	if e.led.find(ledger.KindRollback, "success") == nil {
		t.Error("no rollback ledger entry")
	}

	if _, err := e.o.Rollback(ctx, "D2", res.BackupKey); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("Rollback into another district error = %v, want invalid input", err)
	}
	if _, err := e.o.Rollback(ctx, "D1", "backups/D1/nope.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Rollback(missing) error = %v, want not found", err)
	}
}

func TestRollbackRefusedWhileDistrictLocked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.extracted(t, "D1")
	e.o.ApplyJob(ctx, first.JobID)
	e.now = e.now.Add(time.Hour)
	second := e.extracted(t, "D1")
	res, err := e.o.ApplyJob(ctx, second.JobID)
	if err != nil {
		t.Fatalf("ApplyJob: %v", err)
	}

	if _, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "b.pdf", Data: pdf}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := e.o.Rollback(ctx, "D1", res.BackupKey); apperr.CodeOf(err) != apperr.CodeApplyConflict {
		t.Errorf("Rollback error = %v, want apply conflict", err)
	}
}

func TestApplyAbortsWhenBackupFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.extracted(t, "D1")
	if _, err := e.o.ApplyJob(ctx, first.JobID); err != nil {
		t.Fatalf("ApplyJob: %v", err)
	}

	e.strat.cells = rawCells(50000)
	second := e.extracted(t, "D1")
	e.blobs.failPrefix = blob.BackupsPrefix
	if _, err := e.o.ApplyJob(ctx, second.JobID); !errors.Is(err, apperr.ErrUnavailable) {
		t.Fatalf("ApplyJob error = %v, want unavailable", err)
	}

	c, _ := e.st.GetCell(ctx, "D1", schedule.Scope{SchoolYear: "2024-2025", Period: schedule.WholeYearPeriod}, lanes[0], 1)
	if c == nil || c.Amount != 40800 {
		t.Errorf("cell after aborted apply = %+v, want the old 40800", c)
	}
	if en := e.led.find(ledger.KindApply, "failed"); en == nil || en.JobID != second.JobID {
		t.Errorf("ledger failed apply = %+v", en)
	}

	// the job survives and can be applied once storage recovers
	e.blobs.failPrefix = ""
	if _, err := e.o.ApplyJob(ctx, second.JobID); err != nil {
		t.Errorf("retry ApplyJob: %v", err)
	}
}

func TestRejectJob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job := e.extracted(t, "D1")

	if err := e.o.RejectJob(ctx, job.JobID); err != nil {
		t.Fatalf("RejectJob: %v", err)
	}
	if _, err := e.o.GetJob(ctx, job.JobID, 0); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetJob after reject error = %v, want not found", err)
	}
	for _, prefix := range []string{blob.UploadsPrefix, blob.StagedPrefix} {
		if objs, _ := e.blobs.List(ctx, prefix); len(objs) != 0 {
			t.Errorf("%s blobs left: %+v", prefix, objs)
		}
	}
	if cells, _ := e.st.DistrictCells(ctx, "D1", "", ""); len(cells) != 0 {
		t.Errorf("reject wrote %d cells", len(cells))
	}
	if e.led.find(ledger.KindReject, "success") == nil {
		t.Error("no reject ledger entry")
	}
	if _, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf}); err != nil {
		t.Errorf("CreateJob after reject: %v", err)
	}
	if err := e.o.RejectJob(ctx, job.JobID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second RejectJob error = %v, want not found", err)
	}
}

func TestMarkDeadLettered(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	e.o.DeadLetterFunc()(ctx, &worker.Job{ID: job.JobID, Type: worker.JobTypeExtract}, "max deliveries reached")

	got, err := e.st.GetJob(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != schedule.JobFailed || !strings.HasPrefix(got.ErrorMessage, "extraction retries exhausted") {
		t.Errorf("job = %s %q", got.Status, got.ErrorMessage)
	}
	if e.led.find(ledger.KindDeadLetter, "failed") == nil {
		t.Error("no dead letter ledger entry")
	}
	if err := e.o.MarkDeadLettered(ctx, "gone", "x"); err != nil {
		t.Errorf("MarkDeadLettered(gone) = %v", err)
	}
}

func TestExtractionHandler(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	job, err := e.o.CreateJob(ctx, CreateRequest{DistrictID: "D1", Filename: "a.pdf", Data: pdf})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	h := e.o.ExtractionHandler()
	if !h.CanHandle(worker.JobTypeExtract) || h.CanHandle(worker.JobTypeNormalize) {
		t.Fatal("handler claims the wrong job types")
	}
	res, err := h.Execute(ctx, &worker.Job{ID: job.JobID, Type: worker.JobTypeExtract})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != worker.JobStatusSuccess || res.Output["status"] != string(schedule.JobCompleted) || res.Output["record_count"] != 78 {
		t.Errorf("result = %+v", res)
	}
}

func TestLedgerRecordFunc(t *testing.T) {
	led := &memLedger{}
	fn := LedgerRecordFunc(led, nil)
	fn(worker.Record{JobID: "j1", JobType: worker.JobTypeExtract, Status: "success", Attempt: 2})
	fn(worker.Record{JobID: "n1", JobType: worker.JobTypeNormalize, Status: "failure", ErrorMessage: "boom"})

	if en := led.find(ledger.KindExtraction, "success"); en == nil || en.Detail != "attempt 2" {
		t.Errorf("extraction entry = %+v", en)
	}
	if en := led.find(ledger.KindNormalize, "failure"); en == nil || en.ErrorMessage != "boom" {
		t.Errorf("normalize entry = %+v", en)
	}
}
