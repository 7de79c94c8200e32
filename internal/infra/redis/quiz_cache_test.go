package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type countingRepo struct {
	app.QuizRepository

	mu            sync.Mutex
	quizLoads     int
	questionLoads int
}

func (c *countingRepo) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	c.mu.Lock()
	c.quizLoads++
	c.mu.Unlock()
	return c.QuizRepository.GetQuiz(ctx, quizID)
}

func (c *countingRepo) QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error) {
	c.mu.Lock()
	c.questionLoads++
	c.mu.Unlock()
	return c.QuizRepository.QuestionsByQuiz(ctx, quizID)
}

func (c *countingRepo) loads() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quizLoads, c.questionLoads
}

func newCacheFixture(t *testing.T) (*QuizCache, *countingRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingRepo{QuizRepository: memory.NewStore()}
	return NewQuizCache(inner, rdb, 10*time.Minute), inner, mr
}

func seedQuiz(t *testing.T, cache *QuizCache) (domain.Quiz, []domain.Question) {
	t.Helper()
	ctx := context.Background()
	quiz, err := domain.NewQuiz(domain.QuizInput{Title: "cached", DurationSeconds: 60})
	if err != nil {
		t.Fatalf("new quiz: %v", err)
	}
	if err := cache.CreateQuiz(ctx, &quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	q, err := domain.NewQuestion(quiz.ID, domain.QuestionInput{Text: "?", Options: []string{"a", "b"}, CorrectOption: 1})
	if err != nil {
		t.Fatalf("new question: %v", err)
	}
	if err := cache.AddQuestions(ctx, quiz.ID, []domain.Question{q}); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	return quiz, []domain.Question{q}
}

func TestGetQuizServesRepeatsFromCache(t *testing.T) {
	cache, inner, _ := newCacheFixture(t)
	quiz, _ := seedQuiz(t, cache)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		got, err := cache.GetQuiz(ctx, quiz.ID)
		if err != nil {
			t.Fatalf("get quiz: %v", err)
		}
		if got.ID != quiz.ID || got.Title != quiz.Title {
			t.Fatalf("unexpected quiz %+v", got)
		}
	}

	quizLoads, _ := inner.loads()
	if quizLoads != 1 {
		t.Fatalf("expected one backing load, got %d", quizLoads)
	}
}

func TestQuestionsRoundTripKeepsCorrectOption(t *testing.T) {
	cache, inner, _ := newCacheFixture(t)
	quiz, questions := seedQuiz(t, cache)
	ctx := context.Background()

	// First load fills the cache, second is served from it.
	if _, err := cache.QuestionsByQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("first load: %v", err)
	}
	got, err := cache.QuestionsByQuiz(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}

	if _, questionLoads := inner.loads(); questionLoads != 1 {
		t.Fatalf("expected one backing load, got %d", questionLoads)
	}
	if len(got) != 1 || got[0].ID != questions[0].ID {
		t.Fatalf("unexpected questions %+v", got)
	}
	// Scoring depends on the correct option surviving the cache round trip.
	if got[0].CorrectOptionID != questions[0].CorrectOptionID {
		t.Fatalf("correct option lost in cache: %+v", got[0])
	}
}

func TestStatusUpdateInvalidatesQuizKey(t *testing.T) {
	cache, _, mr := newCacheFixture(t)
	quiz, _ := seedQuiz(t, cache)
	ctx := context.Background()

	if _, err := cache.GetQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if !mr.Exists("quiz:" + quiz.ID) {
		t.Fatalf("expected cache key after read")
	}

	if err := cache.UpdateQuizStatus(ctx, quiz.ID, domain.QuizRunning, time.Now()); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if mr.Exists("quiz:" + quiz.ID) {
		t.Fatalf("expected cache key invalidated after status change")
	}

	got, err := cache.GetQuiz(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("reload quiz: %v", err)
	}
	if got.Status != domain.QuizRunning {
		t.Fatalf("expected running quiz after reload, got %s", got.Status)
	}
}

func TestAddQuestionsInvalidatesQuestionsKey(t *testing.T) {
	cache, _, mr := newCacheFixture(t)
	quiz, _ := seedQuiz(t, cache)
	ctx := context.Background()

	if _, err := cache.QuestionsByQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	key := "quiz:" + quiz.ID + ":questions"
	if !mr.Exists(key) {
		t.Fatalf("expected questions cached")
	}

	extra, err := domain.NewQuestion(quiz.ID, domain.QuestionInput{Text: "more", Options: []string{"x", "y"}, CorrectOption: 0})
	if err != nil {
		t.Fatalf("new question: %v", err)
	}
	if err := cache.AddQuestions(ctx, quiz.ID, []domain.Question{extra}); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	if mr.Exists(key) {
		t.Fatalf("expected questions key invalidated")
	}

	got, err := cache.QuestionsByQuiz(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("reload questions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 questions after reload, got %d", len(got))
	}
}

func TestConcurrentMissesAcrossKeys(t *testing.T) {
	cache, inner, _ := newCacheFixture(t)
	first, _ := seedQuiz(t, cache)
	second, _ := seedQuiz(t, cache)
	ctx := context.Background()

	// Misses for distinct keys fill in parallel; the jittered TTL they
	// each compute must not trip the race detector.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		for _, id := range []string{first.ID, second.ID} {
			wg.Add(2)
			go func(id string) {
				defer wg.Done()
				if _, err := cache.GetQuiz(ctx, id); err != nil {
					t.Errorf("get quiz %s: %v", id, err)
				}
			}(id)
			go func(id string) {
				defer wg.Done()
				if _, err := cache.QuestionsByQuiz(ctx, id); err != nil {
					t.Errorf("questions for %s: %v", id, err)
				}
			}(id)
		}
	}
	wg.Wait()

	quizLoads, questionLoads := inner.loads()
	if quizLoads > 2 || questionLoads > 2 {
		t.Fatalf("expected at most one backing load per key, got %d/%d", quizLoads, questionLoads)
	}
}

func TestCacheMissPropagatesNotFound(t *testing.T) {
	cache, _, _ := newCacheFixture(t)

	_, err := cache.GetQuiz(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found through cache, got %v", err)
	}
}
