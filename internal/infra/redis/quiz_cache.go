// Package redis caches quiz content in Redis in front of a slower backing
// store. Quiz and question content is immutable once a quiz is running, so a
// TTL read-through cache is safe; the mutating paths write through and
// invalidate.
package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuizCache decorates an app.QuizRepository with Redis caching. Cache misses
// for the same quiz are coalesced so a room full of participants joining at
// once hits the backing store once.
type QuizCache struct {
	inner app.QuizRepository
	rdb   *redis.Client
	ttl   time.Duration
	sf    singleflight.Group

	// rnd is shared by fills for different keys running concurrently and
	// rand.Rand is not goroutine-safe.
	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(inner app.QuizRepository, rdb *redis.Client, ttl time.Duration) *QuizCache {
	return &QuizCache{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// questionRecord carries the correct option id, which the public JSON shape
// of domain.Question deliberately omits.
type questionRecord struct {
	ID              string          `json:"id"`
	QuizID          string          `json:"quizId"`
	Text            string          `json:"text"`
	Options         []domain.Option `json:"options"`
	CorrectOptionID string          `json:"correctOptionId"`
}

func toRecords(questions []domain.Question) []questionRecord {
	out := make([]questionRecord, 0, len(questions))
	for _, q := range questions {
		out = append(out, questionRecord{
			ID: q.ID, QuizID: q.QuizID, Text: q.Text,
			Options: q.Options, CorrectOptionID: q.CorrectOptionID,
		})
	}
	return out
}

func fromRecords(records []questionRecord) []domain.Question {
	out := make([]domain.Question, 0, len(records))
	for _, r := range records {
		out = append(out, domain.Question{
			ID: r.ID, QuizID: r.QuizID, Text: r.Text,
			Options: r.Options, CorrectOptionID: r.CorrectOptionID,
		})
	}
	return out
}

func (c *QuizCache) CreateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	return c.inner.CreateQuiz(ctx, quiz)
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := c.quizKey(quizID)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err == nil {
			return quiz, nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			var quiz domain.Quiz
			if err := json.Unmarshal(raw, &quiz); err == nil {
				return quiz, nil
			}
		}
		quiz, err := c.inner.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if raw, err := json.Marshal(quiz); err == nil {
			_ = c.rdb.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) UpdateQuizStatus(ctx context.Context, quizID string, status domain.QuizStatus, at time.Time) error {
	if err := c.inner.UpdateQuizStatus(ctx, quizID, status, at); err != nil {
		return err
	}
	_ = c.rdb.Del(ctx, c.quizKey(quizID)).Err()
	return nil
}

func (c *QuizCache) AddQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	if err := c.inner.AddQuestions(ctx, quizID, questions); err != nil {
		return err
	}
	_ = c.rdb.Del(ctx, c.questionsKey(quizID)).Err()
	return nil
}

func (c *QuizCache) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	// Single-question lookups ride on the backing store; the hot read path
	// (session creation, answer scoring) is covered by the per-quiz keys.
	return c.inner.GetQuestion(ctx, questionID)
}

func (c *QuizCache) QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error) {
	key := c.questionsKey(quizID)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var records []questionRecord
		if err := json.Unmarshal(raw, &records); err == nil {
			return fromRecords(records), nil
		}
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
			var records []questionRecord
			if err := json.Unmarshal(raw, &records); err == nil {
				return fromRecords(records), nil
			}
		}
		questions, err := c.inner.QuestionsByQuiz(ctx, quizID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(toRecords(questions)); err == nil {
			_ = c.rdb.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuizCache) quizKey(quizID string) string {
	return "quiz:" + quizID
}

func (c *QuizCache) questionsKey(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
