package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/notify"
)

type countingSender struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *countingSender) SendResult(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("smtp unavailable")
	}
	return nil
}

func (c *countingSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitForJob(t *testing.T, st *memory.Store, quizID string, check func(domain.EmailJob) bool) domain.EmailJob {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for job state")
		case <-time.After(10 * time.Millisecond):
		}
		jobs, err := st.EmailJobsByQuiz(context.Background(), quizID)
		if err != nil {
			t.Fatalf("list jobs: %v", err)
		}
		if len(jobs) == 1 && check(jobs[0]) {
			return jobs[0]
		}
	}
}

func TestSchedulerDeliversAndMarksSent(t *testing.T) {
	st := memory.NewStore()
	sender := &countingSender{}
	s := notify.NewScheduler(st, sender)
	s.Start()
	defer s.Stop()

	if err := s.ScheduleResultNotification(context.Background(), "quiz-1", "session-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	job := waitForJob(t, st, "quiz-1", func(j domain.EmailJob) bool { return j.Status == domain.EmailJobSent })
	if job.Attempts != 1 {
		t.Fatalf("expected one attempt, got %d", job.Attempts)
	}
	if job.Error != "" {
		t.Fatalf("expected clean job, got error %q", job.Error)
	}
}

func TestSchedulerRetriesBeforeSucceeding(t *testing.T) {
	st := memory.NewStore()
	sender := &countingSender{failures: 2}
	s := notify.NewScheduler(st, sender, notify.WithRetryDelay(5*time.Millisecond))
	s.Start()
	defer s.Stop()

	if err := s.ScheduleResultNotification(context.Background(), "quiz-1", "session-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	job := waitForJob(t, st, "quiz-1", func(j domain.EmailJob) bool { return j.Status == domain.EmailJobSent })
	if job.Attempts != 3 {
		t.Fatalf("expected three attempts, got %d", job.Attempts)
	}
	if sender.count() != 3 {
		t.Fatalf("expected three sends, got %d", sender.count())
	}
}

func TestSchedulerGivesUpAfterMaxAttempts(t *testing.T) {
	st := memory.NewStore()
	sender := &countingSender{failures: 100}
	s := notify.NewScheduler(st, sender,
		notify.WithMaxAttempts(3),
		notify.WithRetryDelay(5*time.Millisecond))
	s.Start()
	defer s.Stop()

	if err := s.ScheduleResultNotification(context.Background(), "quiz-1", "session-1"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	job := waitForJob(t, st, "quiz-1", func(j domain.EmailJob) bool { return j.Status == domain.EmailJobFailed })
	if job.Attempts != 3 {
		t.Fatalf("expected three attempts, got %d", job.Attempts)
	}
	if job.Error == "" {
		t.Fatalf("expected last error recorded on failed job")
	}

	// No further sends after the terminal state.
	sends := sender.count()
	time.Sleep(50 * time.Millisecond)
	if sender.count() != sends {
		t.Fatalf("sender called after terminal failure")
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	st := memory.NewStore()
	s := notify.NewScheduler(st, notify.LogSender{})
	s.Start()
	s.Stop()
	s.Stop()

	// Scheduling after stop persists the job without delivering it.
	if err := s.ScheduleResultNotification(context.Background(), "quiz-1", "session-1"); err != nil {
		t.Fatalf("schedule after stop: %v", err)
	}
	jobs, err := st.EmailJobsByQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != domain.EmailJobQueued {
		t.Fatalf("expected persisted queued job, got %+v", jobs)
	}
}
