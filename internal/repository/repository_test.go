package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestJobRepository_CompareAndSetStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	job := &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobStatusPending {
		t.Fatalf("expected generated id and pending status, got %+v", job)
	}

	ok, err := repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, nil)
	if err != nil || !ok {
		t.Fatalf("first CAS: ok=%v err=%v", ok, err)
	}

	ok, err = repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, nil)
	if err != nil {
		t.Fatalf("second CAS: %v", err)
	}
	if ok {
		t.Fatal("second CAS must lose: job is already processing")
	}

	_, err = repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusFailed, domain.JobStatusApproved, nil)
	if !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("failed -> approved must be rejected, got %v", err)
	}
}

func TestJobRepository_ConcurrentDispatchSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	job := &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusPending, domain.JobStatusProcessing, nil)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", wins)
	}
}

func TestJobRepository_OneOpenJobPerSubject(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	first := &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := repo.Create(ctx, &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"})
	if !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("second open job: expected ErrDuplicateJob, got %v", err)
	}
	if err := repo.Create(ctx, &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "de"}); err != nil {
		t.Fatalf("other language must be allowed: %v", err)
	}

	if _, err := repo.CompareAndSetStatus(ctx, first.ID, domain.JobStatusPending, domain.JobStatusProcessing, nil); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	err = repo.Create(ctx, &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"})
	if !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("job while processing: expected ErrDuplicateJob, got %v", err)
	}

	if _, err := repo.CompareAndSetStatus(ctx, first.ID, domain.JobStatusProcessing, domain.JobStatusApproved, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := repo.Create(ctx, &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en"}); err != nil {
		t.Fatalf("new job after the open one finished: %v", err)
	}
}

func TestJobRepository_UpdateStatusWithFields(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	job := &domain.ProcessingJob{SubjectID: "s1", LanguageCode: "en", Status: domain.JobStatusProcessing}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, map[string]interface{}{
		"error_message": "openai: vendor_http_error (HTTP 500): boom",
		"retry_count":   1,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobStatusFailed || got.RetryCount != 1 || got.ErrorMessage == "" {
		t.Errorf("unexpected job after update: %+v", got)
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobRepository_ListingAndStats(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRepository(newTestDB(t))

	seed := []domain.ProcessingJob{
		{SubjectID: "a", LanguageCode: "en", Status: domain.JobStatusPending},
		{SubjectID: "b", LanguageCode: "en", Status: domain.JobStatusPending},
		{SubjectID: "c", LanguageCode: "en", Status: domain.JobStatusApproved, TotalCost: 0.0105},
		{SubjectID: "d", LanguageCode: "en", Status: domain.JobStatusFailed, RetryCount: 1},
		{SubjectID: "e", LanguageCode: "en", Status: domain.JobStatusFailed, RetryCount: 3},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	pending, err := repo.GetPending(ctx, domain.JobFilter{})
	if err != nil || len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d (%v)", len(pending), err)
	}

	retryable, err := repo.ListRetryable(ctx, 3, 0)
	if err != nil || len(retryable) != 1 || retryable[0].SubjectID != "d" {
		t.Fatalf("expected only d retryable, got %+v (%v)", retryable, err)
	}

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ByStatus[domain.JobStatusFailed] != 2 || stats.ByStatus[domain.JobStatusPending] != 2 {
		t.Errorf("unexpected counts: %+v", stats.ByStatus)
	}
	if stats.TotalCost != 0.0105 {
		t.Errorf("expected total cost 0.0105, got %v", stats.TotalCost)
	}
}

func TestSubjectRepository_DraftAndApply(t *testing.T) {
	ctx := context.Background()
	repo := NewSubjectRepository(newTestDB(t))

	subject := &domain.Subject{SourceType: "localdir", SourceID: "cat.jpg", StorageKey: "localdir/cat.jpg", Alt: "original alt"}
	if err := repo.Create(ctx, subject); err != nil {
		t.Fatalf("create: %v", err)
	}

	draft := domain.Metadata{Alt: "A tabby cat asleep on a windowsill", Keywords: []string{"cat", "tabby"}, Score: 0.6}
	if err := repo.SaveDraft(ctx, subject.ID, draft); err != nil {
		t.Fatalf("save draft: %v", err)
	}

	got, err := repo.GetByID(ctx, subject.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Alt != "original alt" {
		t.Errorf("draft must not touch applied alt, got %q", got.Alt)
	}
	state := domain.StateOf(got)
	if state.Kind() != domain.StateDraft || state.Metadata().Alt != draft.Alt {
		t.Errorf("unexpected state: %v %+v", state.Kind(), state.Metadata())
	}

	if err := repo.ApplyMetadata(ctx, subject.ID, draft); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ = repo.GetByID(ctx, subject.ID)
	if got.Alt != draft.Alt || got.Draft != nil || got.State != domain.StateApplied {
		t.Errorf("unexpected subject after apply: %+v", got)
	}
	if len(got.Keywords) != 2 {
		t.Errorf("expected keywords applied, got %v", got.Keywords)
	}

	if err := repo.ApplyMetadata(ctx, "missing", draft); !errors.Is(err, domain.ErrSubjectNotFound) {
		t.Errorf("expected ErrSubjectNotFound, got %v", err)
	}
}

func TestSubjectRepository_UpsertKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	repo := NewSubjectRepository(newTestDB(t))

	first := &domain.Subject{SourceType: "localdir", SourceID: "dog.png", StorageKey: "k1", Width: 10}
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.ApplyMetadata(ctx, first.ID, domain.Metadata{Alt: "A dog"}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	again := &domain.Subject{SourceType: "localdir", SourceID: "dog.png", StorageKey: "k2", Width: 20}
	if err := repo.Upsert(ctx, again); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := repo.GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StorageKey != "k2" || got.Width != 20 || got.Alt != "A dog" {
		t.Errorf("unexpected subject after re-import: %+v", got)
	}

	ids, err := repo.ListIDsWithoutMetadata(ctx, 10)
	if err != nil || len(ids) != 0 {
		t.Errorf("expected no unprocessed subjects, got %v (%v)", ids, err)
	}
}

func TestPricingRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPricingRepository(newTestDB(t))

	if p, err := repo.GetPricing(ctx, "gpt-4o"); p != nil || err != nil {
		t.Fatalf("expected nil pricing for unknown model, got %+v %v", p, err)
	}

	read := 0.3
	if err := repo.Seed(ctx, []domain.Pricing{
		{ModelName: "claude-3-5-sonnet-20241022", Provider: "anthropic", InputPricePerMillion: 3, OutputPricePerMillion: 15, CacheReadPricePerMillion: &read},
		{ModelName: "gpt-4o", Provider: "openai", InputPricePerMillion: 2.5, OutputPricePerMillion: 10},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := repo.Upsert(ctx, &domain.Pricing{ModelName: "gpt-4o", Provider: "openai", InputPricePerMillion: 2, OutputPricePerMillion: 8}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	p, err := repo.GetPricing(ctx, "gpt-4o")
	if err != nil || p == nil || p.InputPricePerMillion != 2 {
		t.Fatalf("expected updated gpt-4o pricing, got %+v %v", p, err)
	}
	c, _ := repo.GetPricing(ctx, "claude-3-5-sonnet-20241022")
	if c == nil || c.CacheReadPricePerMillion == nil || *c.CacheReadPricePerMillion != 0.3 {
		t.Errorf("expected cache read price, got %+v", c)
	}

	rows, err := repo.List(ctx)
	if err != nil || len(rows) != 2 {
		t.Errorf("expected 2 rows, got %d (%v)", len(rows), err)
	}
}

func TestScheduleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewScheduleRepository(newTestDB(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.EnqueueAt(ctx, now.Add(-time.Minute), domain.JobRef{JobID: "due"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.EnqueueAt(ctx, now.Add(time.Hour), domain.JobRef{JobID: "later", Reason: domain.TaskReasonRetry}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.EnqueueGroupAt(ctx, now.Add(-time.Second), []domain.JobRef{
		{JobID: "b1", BatchID: "batch"},
		{JobID: "b2", BatchID: "batch"},
	}); err != nil {
		t.Fatalf("enqueue group: %v", err)
	}

	removed, err := repo.RemoveQueuedByBatch(ctx, "batch")
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}

	claimed, err := repo.ClaimDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || claimed[0].JobID != "due" || claimed[0].Reason != domain.TaskReasonInitial {
		t.Fatalf("expected only the due task, got %+v", claimed)
	}

	again, err := repo.ClaimDue(ctx, now, 10)
	if err != nil || len(again) != 0 {
		t.Fatalf("claimed task must not be handed out twice, got %+v (%v)", again, err)
	}

	if err := repo.MarkDone(ctx, claimed[0].ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	queued, err := repo.CountQueued(ctx)
	if err != nil || queued != 1 {
		t.Errorf("expected 1 queued task, got %d (%v)", queued, err)
	}
}

func TestRateEventRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRateEventRepository(newTestDB(t))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := repo.Insert(ctx, "openai", 60, base.Add(time.Duration(i)*20*time.Second)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	since := base.Add(10 * time.Second)
	count, err := repo.Count(ctx, "openai", 60, since)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 events in window, got %d (%v)", count, err)
	}

	oldest, ok, err := repo.Oldest(ctx, "openai", 60, since)
	if err != nil || !ok || !oldest.Equal(base.Add(20*time.Second)) {
		t.Fatalf("unexpected oldest %v ok=%v err=%v", oldest, ok, err)
	}

	if err := repo.Purge(ctx, "openai", 60, since); err != nil {
		t.Fatalf("purge: %v", err)
	}
	count, _ = repo.Count(ctx, "openai", 60, time.Time{})
	if count != 2 {
		t.Errorf("expected purge to leave 2 events, got %d", count)
	}
}
