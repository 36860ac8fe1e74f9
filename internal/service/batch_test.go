package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/provider"
)

func TestBatchProcessor_Run(t *testing.T) {
	p := &fakeProvider{name: domain.ProviderOpenAI, reply: goodMetadata(0.9)}
	h := newHarness(t, []provider.Provider{p}, SynchronizerConfig{}, "s1", "s2", "s3")
	b := NewBatchProcessor(h.sync, h.scheduler, 2)

	result := b.Run(context.Background(), []string{"s1", "s2", "missing", "s3"}, BatchOptions{BatchID: "b1"})

	if result.BatchID != "b1" || result.Total != 4 {
		t.Fatalf("result = %+v", result)
	}
	if result.Approved != 3 || result.Processed != 3 || result.Failed != 1 {
		t.Errorf("approved=%d processed=%d failed=%d", result.Approved, result.Processed, result.Failed)
	}
	if math.Abs(result.TotalCost-0.006) > 1e-9 {
		t.Errorf("total cost = %v", result.TotalCost)
	}
	if result.RateLimited || result.ResumeAt != nil {
		t.Error("batch reported a rate limit")
	}
	if len(result.Items[2].Errors) == 0 || result.Items[2].JobID != "" {
		t.Errorf("missing subject item = %+v", result.Items[2])
	}
	for _, i := range []int{0, 1, 3} {
		if result.Items[i].Status != domain.JobStatusApproved {
			t.Errorf("item %d status = %s", i, result.Items[i].Status)
		}
	}
}

func TestBatchProcessor_RateLimitStopsAndReschedulesGroup(t *testing.T) {
	p := &fakeProvider{name: domain.ProviderOpenAI, reply: goodMetadata(0.9)}
	h := newHarness(t, []provider.Provider{p}, SynchronizerConfig{}, "s1", "s2", "s3", "s4", "s5")
	h.limiter.budget[domain.ProviderOpenAI] = 2
	h.limiter.delay = 45
	b := NewBatchProcessor(h.sync, h.scheduler, 1)

	result := b.Run(context.Background(), []string{"s1", "s2", "s3", "s4", "s5"}, BatchOptions{BatchID: "b2"})

	if result.Approved != 2 {
		t.Errorf("approved = %d, want 2", result.Approved)
	}
	if !result.RateLimited || result.Rescheduled != 3 {
		t.Fatalf("rate_limited=%v rescheduled=%d, want true/3", result.RateLimited, result.Rescheduled)
	}
	wantResume := testNow.Add(45 * time.Second)
	if result.ResumeAt == nil || !result.ResumeAt.Equal(wantResume) {
		t.Errorf("resume_at = %v, want %v", result.ResumeAt, wantResume)
	}
	if got := p.calls.Load(); got != 2 {
		t.Errorf("provider calls = %d, want 2", got)
	}

	// The item that hit the limit is rescheduled on its own, the rest as one group.
	if len(h.scheduler.single) != 1 {
		t.Errorf("single reschedules = %d, want 1", len(h.scheduler.single))
	}
	if len(h.scheduler.groups) != 1 || len(h.scheduler.groups[0]) != 2 {
		t.Fatalf("groups = %+v, want one group of 2", h.scheduler.groups)
	}
	for _, r := range h.scheduler.groups[0] {
		if !r.at.Equal(wantResume) || r.ref.BatchID != "b2" || r.ref.Reason != domain.TaskReasonRateLimit {
			t.Errorf("group ref = %+v at %v", r.ref, r.at)
		}
		if got := h.jobs.get(t, r.ref.JobID).Status; got != domain.JobStatusPending {
			t.Errorf("rescheduled job status = %s, want pending", got)
		}
	}
}

func TestBatchProcessor_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	p := &fakeProvider{name: domain.ProviderOpenAI, reply: goodMetadata(0.95)}
	p.hook = func() {
		once.Do(func() { close(started) })
		<-release
	}
	h := newHarness(t, []provider.Provider{p}, SynchronizerConfig{}, "s1", "s2", "s3")
	b := NewBatchProcessor(h.sync, h.scheduler, 1)

	done := make(chan *BatchResult, 1)
	go func() {
		done <- b.Run(context.Background(), []string{"s1", "s2", "s3"}, BatchOptions{BatchID: "b3"})
	}()

	<-started
	running, _, err := b.Cancel(context.Background(), "b3")
	if err != nil || !running {
		t.Fatalf("Cancel() = %v, %v; want running batch", running, err)
	}
	close(release)
	result := <-done

	if result.Cancelled != 3 {
		t.Errorf("cancelled = %d, want 3", result.Cancelled)
	}
	if got := p.calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want only the in-flight one", got)
	}

	// The in-flight result is recorded but not applied.
	inflight := h.jobs.get(t, result.Items[0].JobID)
	if inflight.Status != domain.JobStatusNeedsReview || !inflight.Cancelled {
		t.Errorf("in-flight job = %s cancelled=%v", inflight.Status, inflight.Cancelled)
	}
	subject, _ := h.subjects.GetByID(context.Background(), "s1")
	if subject.State != domain.StateNone || subject.Draft != nil || subject.Alt != "original alt" {
		t.Errorf("cancelled result reached the subject: %+v", subject)
	}

	for _, item := range result.Items[1:] {
		if item.JobID == "" {
			continue
		}
		if got := h.jobs.get(t, item.JobID).Status; got != domain.JobStatusSkipped {
			t.Errorf("unstarted job %s status = %s, want skipped", item.JobID, got)
		}
	}
	if len(h.scheduler.removed) < 2 {
		t.Errorf("queued tasks removed %d times, want by Cancel and by the run", len(h.scheduler.removed))
	}
}

func TestBatchProcessor_CancelUnknownBatch(t *testing.T) {
	h := newHarness(t, nil, SynchronizerConfig{})
	b := NewBatchProcessor(h.sync, h.scheduler, 1)

	running, _, err := b.Cancel(context.Background(), "nope")
	if err != nil || running {
		t.Fatalf("Cancel() = %v, %v", running, err)
	}
	if len(h.scheduler.removed) != 1 || h.scheduler.removed[0] != "nope" {
		t.Errorf("removed = %v", h.scheduler.removed)
	}
}
