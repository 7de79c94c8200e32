// Package notify delivers result notifications for finalized sessions. It is
// an at-least-once task queue: jobs are persisted, retried a bounded number
// of times, and terminal failure is recorded instead of propagated back into
// session state.
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// JobStore persists email jobs across attempts.
type JobStore interface {
	CreateEmailJob(ctx context.Context, job *domain.EmailJob) error
	GetEmailJob(ctx context.Context, jobID string) (domain.EmailJob, error)
	UpdateEmailJob(ctx context.Context, job *domain.EmailJob) error
}

// Sender performs the actual delivery. Rendering and transport (SMTP,
// provider API) live behind this interface, outside the core.
type Sender interface {
	SendResult(ctx context.Context, quizID, sessionID string) error
}

// LogSender is the fallback sender when no mail transport is configured: it
// only logs, so result delivery degrades visibly rather than silently.
type LogSender struct{}

func (LogSender) SendResult(_ context.Context, quizID, sessionID string) error {
	log.Printf("no mail transport configured; result for session %s of quiz %s not delivered", sessionID, quizID)
	return nil
}

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 5 * time.Second
	queueCapacity      = 256
)

// Scheduler runs a single delivery worker over a persisted job queue.
// Construct once at startup and pass by reference to the engine.
type Scheduler struct {
	store       JobStore
	sender      Sender
	maxAttempts int
	retryDelay  time.Duration
	clock       func() time.Time

	queue chan string
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// Option tweaks scheduler construction.
type Option func(*Scheduler)

// WithMaxAttempts bounds the delivery attempts per job. Non-positive values
// keep the default.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause before a failed job is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryDelay = d
		}
	}
}

// WithClock is test-only, for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.clock = now }
}

func NewScheduler(store JobStore, sender Sender, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:       store,
		sender:      sender,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		clock:       time.Now,
		queue:       make(chan string, queueCapacity),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the delivery worker.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case jobID := <-s.queue:
				s.process(jobID)
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the worker. Queued jobs stay persisted as queued and would be
// picked up by a future requeue pass; in-flight delivery finishes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
}

// ScheduleResultNotification persists a queued job for the session and hands
// it to the worker. At-least-once: a duplicate schedule for the same session
// yields a duplicate email, which is acceptable here.
func (s *Scheduler) ScheduleResultNotification(ctx context.Context, quizID, sessionID string) error {
	job := &domain.EmailJob{
		ID:        uuid.NewString(),
		QuizID:    quizID,
		SessionID: sessionID,
		Status:    domain.EmailJobQueued,
		CreatedAt: s.clock(),
	}
	if err := s.store.CreateEmailJob(ctx, job); err != nil {
		return err
	}
	s.enqueue(job.ID)
	return nil
}

func (s *Scheduler) enqueue(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.queue <- jobID:
	default:
		log.Printf("notification queue full, job %s left queued", jobID)
	}
}

func (s *Scheduler) process(jobID string) {
	ctx := context.Background()
	job, err := s.store.GetEmailJob(ctx, jobID)
	if err != nil {
		log.Printf("load email job %s: %v", jobID, err)
		return
	}
	if job.Status == domain.EmailJobSent || job.Attempts >= s.maxAttempts {
		return
	}

	sendErr := s.sender.SendResult(ctx, job.QuizID, job.SessionID)

	now := s.clock()
	job.Attempts++
	job.LastTriedAt = &now
	switch {
	case sendErr == nil:
		job.Status = domain.EmailJobSent
		job.Error = ""
	case job.Attempts >= s.maxAttempts:
		job.Status = domain.EmailJobFailed
		job.Error = sendErr.Error()
	default:
		job.Status = domain.EmailJobQueued
		job.Error = sendErr.Error()
	}
	if err := s.store.UpdateEmailJob(ctx, &job); err != nil {
		log.Printf("update email job %s: %v", jobID, err)
		return
	}

	if job.Status == domain.EmailJobQueued {
		// Retry later; enqueue is a no-op once the scheduler is stopped.
		time.AfterFunc(s.retryDelay, func() { s.enqueue(jobID) })
	}
}
