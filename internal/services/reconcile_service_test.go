package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/captureq/internal/backend"
	"github.com/osvaldoandrade/captureq/internal/ratelimit"
	"github.com/osvaldoandrade/captureq/internal/repository"
	"github.com/osvaldoandrade/captureq/pkg/domain"
)

// scriptedSubmitter answers Status from a per-uuid script; the last entry repeats.
type scriptedSubmitter struct {
	mu          sync.Mutex
	statuses    map[string][]domain.BackendStatus
	statusCalls map[string]int
	submitted   []backend.SubmitRequest
	submitErr   error
	rename      map[string]string
}

func (s *scriptedSubmitter) Status(_ context.Context, uuid string) (domain.BackendStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusCalls == nil {
		s.statusCalls = map[string]int{}
	}
	script := s.statuses[uuid]
	i := s.statusCalls[uuid]
	s.statusCalls[uuid]++
	if len(script) == 0 {
		return domain.BackendQueued, nil
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], nil
}

func (s *scriptedSubmitter) Submit(_ context.Context, req backend.SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = append(s.submitted, req)
	if s.submitErr != nil {
		return "", s.submitErr
	}
	if got, ok := s.rename[req.UUID]; ok {
		return got, nil
	}
	return req.UUID, nil
}

type reconcileFixture struct {
	ctx    context.Context
	rdb    *redis.Client
	repo   repository.CaptureRepository
	sub    *scriptedSubmitter
	sleeps []time.Duration
}

func setupReconcile(t *testing.T) (*reconcileFixture, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return &reconcileFixture{
		ctx:  context.Background(),
		rdb:  rdb,
		repo: repository.NewCaptureRepository(rdb, time.UTC),
		sub:  &scriptedSubmitter{statuses: map[string][]domain.BackendStatus{}},
	}, mr
}

func (f *reconcileFixture) service(bucket ratelimit.Bucket) ReconcileService {
	return NewReconcileService(f.repo, f.sub, ratelimit.NewTokenBucketLimiter(f.rdb), ReconcileOptions{
		ProbeRetries: 3,
		ProbeDelay:   3 * time.Second,
		RateLimit:    bucket,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	}, nil)
}

func (f *reconcileFixture) enqueue(t *testing.T, uuid string, priority float64, fields map[string]string) {
	t.Helper()
	if err := f.repo.Enqueue(f.ctx, uuid, fields, priority, ""); err != nil {
		t.Fatalf("enqueue %s: %v", uuid, err)
	}
}

func TestReconcileLeavesTemporarilyUnknownJob(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "racy", 0, map[string]string{"url": "http://example.com"})
	f.sub.statuses["racy"] = []domain.BackendStatus{domain.BackendUnknown, domain.BackendUnknown, domain.BackendQueued}

	rep, err := f.service(ratelimit.Bucket{}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Candidates != 0 || len(f.sub.submitted) != 0 {
		t.Fatalf("job should be left alone: %+v, submitted=%d", rep, len(f.sub.submitted))
	}
	if f.sub.statusCalls["racy"] != 3 || len(f.sleeps) != 2 {
		t.Fatalf("status calls=%d sleeps=%d", f.sub.statusCalls["racy"], len(f.sleeps))
	}
	fields, _ := f.rdb.HGetAll(f.ctx, "racy").Result()
	if len(fields) != 1 || fields["url"] != "http://example.com" {
		t.Fatalf("job record should be untouched: %v", fields)
	}
}

func TestReconcileResubmitsJobStillUnknown(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "lost", 2, map[string]string{
		"url":      "http://example.com",
		"headers":  "X-Test: 1",
		"priority": "2",
	})
	f.sub.statuses["lost"] = []domain.BackendStatus{domain.BackendUnknown}

	rep, err := f.service(ratelimit.Bucket{}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Resubmitted != 1 || len(f.sub.submitted) != 1 {
		t.Fatalf("expected one resubmission: %+v", rep)
	}
	if f.sub.statusCalls["lost"] != 4 || len(f.sleeps) != 3 {
		t.Fatalf("status calls=%d sleeps=%d", f.sub.statusCalls["lost"], len(f.sleeps))
	}
	for _, d := range f.sleeps {
		if d != 3*time.Second {
			t.Fatalf("fixed policy should wait 3s, got %v", d)
		}
	}
	req := f.sub.submitted[0]
	if req.UUID != "lost" || req.URL != "http://example.com" || req.Priority != 2 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestReconcileClearsNotQueuedFlag(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "flagged", 0, map[string]string{"url": "http://example.com", "not_queued": "1"})
	f.sub.rename = map[string]string{"flagged": "other"}

	rep, err := f.service(ratelimit.Bucket{}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Resubmitted != 1 {
		t.Fatalf("expected resubmission: %+v", rep)
	}
	if f.sub.statusCalls["flagged"] != 0 {
		t.Fatalf("flagged job should not be probed")
	}
	if ok, _ := f.rdb.HExists(f.ctx, "flagged", "not_queued").Result(); ok {
		t.Fatalf("not_queued should be cleared")
	}
	if ok, _ := f.rdb.HExists(f.ctx, "flagged", "url").Result(); !ok {
		t.Fatalf("job record must survive reconciliation")
	}
}

func TestReconcileStopsAtFirstFailure(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "first", 5, map[string]string{"url": "http://a.example", "not_queued": "1"})
	f.enqueue(t, "second", 1, map[string]string{"url": "http://b.example", "not_queued": "1"})
	f.sub.submitErr = errors.New("backend down")

	rep, err := f.service(ratelimit.Bucket{}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Aborted || len(f.sub.submitted) != 1 || f.sub.submitted[0].UUID != "first" {
		t.Fatalf("pass should stop after the first failure: %+v submitted=%v", rep, f.sub.submitted)
	}
	for _, id := range []string{"first", "second"} {
		if ok, _ := f.rdb.HExists(f.ctx, id, "not_queued").Result(); !ok {
			t.Fatalf("%s should keep its not_queued flag", id)
		}
	}
}

func TestReconcileHonoursRateLimit(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "a", 2, map[string]string{"url": "http://a.example", "not_queued": "1"})
	f.enqueue(t, "b", 1, map[string]string{"url": "http://b.example", "not_queued": "1"})

	rep, err := f.service(ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !rep.Aborted || rep.Resubmitted != 1 || len(f.sub.submitted) != 1 {
		t.Fatalf("second resubmission should be throttled: %+v", rep)
	}
	if ok, _ := f.rdb.HExists(f.ctx, "b", "not_queued").Result(); !ok {
		t.Fatalf("throttled job should keep its flag")
	}
}

func TestReconcileSkipsKnownJobs(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "busy", 0, map[string]string{"url": "http://example.com"})
	f.sub.statuses["busy"] = []domain.BackendStatus{domain.BackendInProgress}

	rep, err := f.service(ratelimit.Bucket{}).RunOnce(f.ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Scanned != 1 || rep.Candidates != 0 || len(f.sleeps) != 0 {
		t.Fatalf("known job should be skipped without retries: %+v sleeps=%d", rep, len(f.sleeps))
	}
}

// gatedSubmitter holds every Submit until release is closed.
type gatedSubmitter struct {
	*scriptedSubmitter
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSubmitter) Submit(ctx context.Context, req backend.SubmitRequest) (string, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.scriptedSubmitter.Submit(ctx, req)
}

func TestReconcileRejectsOverlappingPass(t *testing.T) {
	f, _ := setupReconcile(t)
	f.enqueue(t, "lost", 0, map[string]string{"url": "http://example.com", "not_queued": "1"})
	gate := &gatedSubmitter{scriptedSubmitter: f.sub, entered: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewReconcileService(f.repo, gate, ratelimit.NewTokenBucketLimiter(f.rdb), ReconcileOptions{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, nil)

	type result struct {
		rep ReconcileReport
		err error
	}
	first := make(chan result, 1)
	go func() {
		rep, err := svc.RunOnce(f.ctx)
		first <- result{rep, err}
	}()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first pass never reached the backend")
	}
	if _, err := svc.RunOnce(f.ctx); !errors.Is(err, domain.ErrReconcileBusy) {
		t.Fatalf("overlapping pass: expected ErrReconcileBusy, got %v", err)
	}
	close(gate.release)

	got := <-first
	if got.err != nil || got.rep.Resubmitted != 1 {
		t.Fatalf("first pass: %+v %v", got.rep, got.err)
	}
	if len(f.sub.submitted) != 1 {
		t.Fatalf("lost job submitted %d times", len(f.sub.submitted))
	}

	// the lock is released once the pass ends
	if _, err := svc.RunOnce(f.ctx); err != nil {
		t.Fatalf("follow-up pass: %v", err)
	}
}
