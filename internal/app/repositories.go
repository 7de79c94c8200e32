package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/hub"
)

// QuizRepository persists quizzes and their questions.
type QuizRepository interface {
	CreateQuiz(ctx context.Context, quiz *domain.Quiz) error
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// UpdateQuizStatus records a lifecycle transition together with its
	// timestamp (startAt for running, endAt for ended).
	UpdateQuizStatus(ctx context.Context, quizID string, status domain.QuizStatus, at time.Time) error
	AddQuestions(ctx context.Context, quizID string, questions []domain.Question) error
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	// QuestionsByQuiz returns the quiz's questions in insertion order.
	QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error)
}

// SessionRepository persists participant sessions. The (quizID, participantID)
// pair is unique; CreateSession returns a Conflict error when it is taken.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindSession(ctx context.Context, quizID, participantID string) (domain.Session, bool, error)
	SessionsByQuiz(ctx context.Context, quizID string) ([]domain.Session, error)
	// ActivateWaiting flips every waiting session of the quiz to active with
	// the given start time and reports how many sessions changed.
	ActivateWaiting(ctx context.Context, quizID string, startAt time.Time) (int, error)
	// ApplySubmission atomically adds the score and time deltas of one
	// accepted answer to the session counters.
	ApplySubmission(ctx context.Context, sessionID string, scoreDelta int, timeDeltaMs int64) error
	IncrementFullscreenExits(ctx context.Context, sessionID string) error
	// FinalizeSession moves the session to ended, returning false when it
	// already was (the caller then skips notification scheduling).
	FinalizeSession(ctx context.Context, sessionID string, endAt time.Time) (bool, error)
}

// AnswerLedger records answers at most once per (session, question) pair.
type AnswerLedger interface {
	// RecordAnswer appends the answer, or returns a Conflict error when one
	// already exists for the same session and question. The uniqueness
	// constraint lives in the store, not just in memory.
	RecordAnswer(ctx context.Context, answer *domain.Answer) error
	AnsweredCount(ctx context.Context, sessionID string) (int, error)
	// AnswersBySession returns the session's answers in submission order.
	AnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// EventLogRepository appends and reads proctoring events.
type EventLogRepository interface {
	AppendEvent(ctx context.Context, event *domain.EventLog) error
	// EventsByQuiz returns the quiz's events, newest first.
	EventsByQuiz(ctx context.Context, quizID string) ([]domain.EventLog, error)
}

// ParticipantRepository resolves and looks up participant identity.
type ParticipantRepository interface {
	// ResolveParticipant finds or creates the participant for the contact
	// key (email), refreshing name and team on every call.
	ResolveParticipant(ctx context.Context, name, teamName, email string) (domain.Participant, error)
	ParticipantsByID(ctx context.Context, ids []string) (map[string]domain.Participant, error)
}

// Notifier schedules result delivery for a finalized session. Fire and
// forget: failures are logged by the engine, never propagated.
type Notifier interface {
	ScheduleResultNotification(ctx context.Context, quizID, sessionID string) error
}

// Broadcaster is the fan-out surface the engine pushes events through.
// Implemented by hub.Hub; tests substitute a recorder.
type Broadcaster interface {
	Publish(room hub.Room, name string, payload any)
}
