package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/provider"
	"github.com/timmy/alttext/internal/quality"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memJobs is an in-memory JobStore with the same compare-and-set and
// one-open-job-per-subject semantics as the gorm repository.
type memJobs struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*domain.ProcessingJob

	afterLatest func() // runs after GetLatestBySubject, outside the lock
}

func isOpen(s domain.JobStatus) bool {
	return s == domain.JobStatusPending || s == domain.JobStatusProcessing
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*domain.ProcessingJob)}
}

func (m *memJobs) Create(ctx context.Context, job *domain.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		m.seq++
		job.ID = fmt.Sprintf("job-%d", m.seq)
	}
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if isOpen(job.Status) {
		for _, other := range m.jobs {
			if other.SubjectID == job.SubjectID && other.LanguageCode == job.LanguageCode && isOpen(other.Status) {
				return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateJob, job.SubjectID, job.LanguageCode)
			}
		}
	}
	job.CreatedAt = testNow.Add(time.Duration(m.seq) * time.Millisecond)
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	cp := *job
	return &cp, nil
}

func (m *memJobs) GetLatestBySubject(ctx context.Context, subjectID, lang string) (*domain.ProcessingJob, error) {
	if m.afterLatest != nil {
		defer m.afterLatest()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.ProcessingJob
	for _, job := range m.jobs {
		if job.SubjectID != subjectID || job.LanguageCode != lang {
			continue
		}
		if latest == nil || job.CreatedAt.After(latest.CreatedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memJobs) CompareAndSetStatus(ctx context.Context, id string, from, to domain.JobStatus, fields map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidStatus, from, to)
	}
	if job.Status != from {
		return false, nil
	}
	job.Status = to
	for k, v := range fields {
		switch k {
		case "provider":
			job.Provider = v.(string)
		case "model":
			job.Model = v.(string)
		case "request_payload":
			job.RequestPayload = v.(string)
		case "score":
			job.Score = v.(float64)
		case "total_cost":
			job.TotalCost = v.(float64)
		case "error_message":
			job.ErrorMessage = v.(string)
		case "retry_count":
			job.RetryCount = v.(int)
		case "cancelled":
			job.Cancelled = v.(bool)
		case "next_attempt_at":
			if t, ok := v.(time.Time); ok {
				job.NextAttemptAt = &t
			} else {
				job.NextAttemptAt = nil
			}
		case "approved_at":
			t := v.(time.Time)
			job.ApprovedAt = &t
		}
	}
	return true, nil
}

func (m *memJobs) ListRetryable(ctx context.Context, maxRetries, limit int) ([]domain.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessingJob
	for _, job := range m.jobs {
		if job.Status == domain.JobStatusFailed && job.RetryCount < maxRetries {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) put(job domain.ProcessingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = &job
}

func (m *memJobs) get(t *testing.T, id string) domain.ProcessingJob {
	t.Helper()
	job, err := m.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("job %s: %v", id, err)
	}
	return *job
}

// memSubjects is an in-memory SubjectStore.
type memSubjects struct {
	mu       sync.Mutex
	subjects map[string]*domain.Subject
}

func newMemSubjects(ids ...string) *memSubjects {
	m := &memSubjects{subjects: make(map[string]*domain.Subject)}
	for _, id := range ids {
		m.subjects[id] = &domain.Subject{
			ID:         id,
			StorageKey: id + ".png",
			Width:      800,
			Height:     600,
			PostTitle:  "Weekend ride",
			Alt:        "original alt",
			State:      domain.StateNone,
		}
	}
	return m
}

func (m *memSubjects) GetByID(ctx context.Context, id string) (*domain.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (m *memSubjects) ApplyMetadata(ctx context.Context, id string, md domain.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return domain.ErrSubjectNotFound
	}
	s.Alt, s.Caption, s.Title, s.Keywords = md.Alt, md.Caption, md.Title, md.Keywords
	s.Draft = nil
	s.State = domain.StateApplied
	return nil
}

func (m *memSubjects) SaveDraft(ctx context.Context, id string, md domain.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return domain.ErrSubjectNotFound
	}
	s.Draft = &md
	s.State = domain.StateDraft
	return nil
}

func (m *memSubjects) DiscardDraft(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[id]
	if !ok {
		return domain.ErrSubjectNotFound
	}
	s.Draft = nil
	if s.State == domain.StateDraft {
		s.State = domain.StateNone
	}
	return nil
}

type scheduledRef struct {
	at  time.Time
	ref domain.JobRef
}

// memScheduler records every enqueue.
type memScheduler struct {
	mu      sync.Mutex
	single  []scheduledRef
	groups  [][]scheduledRef
	removed []string
}

func (m *memScheduler) EnqueueAt(ctx context.Context, at time.Time, ref domain.JobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.single = append(m.single, scheduledRef{at: at, ref: ref})
	return nil
}

func (m *memScheduler) EnqueueGroupAt(ctx context.Context, at time.Time, refs []domain.JobRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	group := make([]scheduledRef, 0, len(refs))
	for _, r := range refs {
		group = append(group, scheduledRef{at: at, ref: r})
	}
	m.groups = append(m.groups, group)
	return nil
}

func (m *memScheduler) RemoveQueuedByBatch(ctx context.Context, batchID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, batchID)
	return 0, nil
}

type fakeResolver struct {
	imageErr error
}

func (r fakeResolver) GetImage(ctx context.Context, subjectID string) (domain.SubjectImage, error) {
	if r.imageErr != nil {
		return domain.SubjectImage{}, r.imageErr
	}
	return domain.SubjectImage{Data: []byte("png"), MIMEType: "image/png", Width: 800, Height: 600}, nil
}

func (fakeResolver) GetContext(ctx context.Context, subjectID string) (domain.SubjectContext, error) {
	return domain.SubjectContext{PostTitle: "Weekend ride"}, nil
}

// fakeProvider answers with reply, or with the queued errors first.
type fakeProvider struct {
	name  domain.ProviderName
	reply domain.Metadata
	errs  []error
	calls atomic.Int32
	hook  func() // runs inside Analyze before replying
	mu    sync.Mutex
}

func (p *fakeProvider) Name() domain.ProviderName { return p.name }
func (p *fakeProvider) Model() string             { return string(p.name) + "-model" }
func (p *fakeProvider) ValidateConfig() error     { return nil }

func (p *fakeProvider) Analyze(ctx context.Context, req *provider.AnalyzeRequest) (*provider.AnalyzeResult, error) {
	p.calls.Add(1)
	if p.hook != nil {
		p.hook()
	}
	p.mu.Lock()
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Unlock()
	return &provider.AnalyzeResult{
		Provider:       p.name,
		Model:          p.Model(),
		PromptVersion:  "test",
		Metadata:       p.reply,
		Usage:          domain.Usage{InputTokens: 1000, OutputTokens: 100},
		Cost:           domain.CostBreakdown{TotalCost: 0.002},
		RequestPayload: `{"model":"m"}`,
	}, nil
}

type fakeSelector struct {
	providers []provider.Provider
}

func (f fakeSelector) Primary() (provider.Provider, error) {
	if len(f.providers) == 0 {
		return nil, domain.ErrNoProvider
	}
	return f.providers[0], nil
}

func (f fakeSelector) Chain() []provider.Provider { return f.providers }

func (f fakeSelector) ChainNames() []string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, string(p.Name()))
	}
	return names
}

// fakeLimiter admits budget calls per provider, then reports delay.
// A non-nil err fails every Acquire, as a lost limiter store would.
type fakeLimiter struct {
	mu     sync.Mutex
	budget map[domain.ProviderName]int
	delay  int
	err    error
}

func (l *fakeLimiter) Acquire(ctx context.Context, p domain.ProviderName) (int, error) {
	if l == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	left, limited := l.budget[p]
	if !limited {
		return 0, nil
	}
	if left > 0 {
		l.budget[p] = left - 1
		return 0, nil
	}
	return l.delay, nil
}

func goodMetadata(score float64) domain.Metadata {
	return domain.Metadata{
		Alt:      "A red bicycle leaning against a brick wall at sunset",
		Caption:  "An old bike waits outside the bakery.",
		Title:    "Red bicycle",
		Keywords: []string{"bicycle", "brick wall", "sunset"},
		Score:    score,
	}
}

type harness struct {
	jobs      *memJobs
	subjects  *memSubjects
	scheduler *memScheduler
	limiter   *fakeLimiter
	resolver  *fakeResolver
	sync      *Synchronizer
}

func newHarness(t *testing.T, providers []provider.Provider, cfg SynchronizerConfig, subjectIDs ...string) *harness {
	t.Helper()
	scorer, err := quality.NewScorer(quality.DefaultRules(), quality.DefaultWeights())
	if err != nil {
		t.Fatalf("NewScorer() error: %v", err)
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	h := &harness{
		jobs:      newMemJobs(),
		subjects:  newMemSubjects(subjectIDs...),
		scheduler: &memScheduler{},
		limiter:   &fakeLimiter{budget: map[domain.ProviderName]int{}},
		resolver:  &fakeResolver{},
	}
	h.sync = NewSynchronizer(h.jobs, h.subjects, h.resolver, fakeSelector{providers: providers},
		h.limiter, scorer, h.scheduler, cfg)
	h.sync.SetClock(func() time.Time { return testNow })
	return h
}
