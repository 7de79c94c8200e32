package domain

import "time"

// QuizStatus is the lifecycle state of a quiz. Transitions are monotonic:
// draft -> running -> ended, never backwards.
type QuizStatus string

const (
	QuizDraft   QuizStatus = "draft"
	QuizRunning QuizStatus = "running"
	QuizEnded   QuizStatus = "ended"
)

// SessionStatus is the lifecycle state of a participant session.
type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// QuizConfig holds the per-quiz scoring and shuffle settings.
type QuizConfig struct {
	ShuffleQuestions bool `json:"shuffleQuestions"`
	ShuffleOptions   bool `json:"shuffleOptions"`
	PointsPerCorrect int  `json:"pointsPerCorrect"`
}

// DefaultQuizConfig is applied when a quiz is created without an explicit config.
func DefaultQuizConfig() QuizConfig {
	return QuizConfig{ShuffleQuestions: true, ShuffleOptions: true, PointsPerCorrect: 1}
}

// Quiz is a timed multiple-choice quiz. StartAt/EndAt are set exactly once,
// on the transition into running/ended.
type Quiz struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"durationSeconds"`
	Status          QuizStatus `json:"status"`
	Config          QuizConfig `json:"config"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	EndAt           *time.Time `json:"endAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Option is a possible answer for a question.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question belongs to exactly one quiz and has 2-8 options, exactly one of
// which is correct. Questions are immutable once the quiz leaves draft.
type Question struct {
	ID              string   `json:"id"`
	QuizID          string   `json:"quizId"`
	Text            string   `json:"text"`
	Options         []Option `json:"options"`
	CorrectOptionID string   `json:"-"`
}

// Participant is the stable identity a session is keyed on. Identity is
// deduplicated by email.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TeamName string `json:"teamName"`
	Email    string `json:"email"`
}

// Session is one participant's attempt at one quiz. QuestionOrder and
// OptionOrders are fixed at creation and define the only valid presentation
// order for that participant.
type Session struct {
	ID              string              `json:"id"`
	QuizID          string              `json:"quizId"`
	ParticipantID   string              `json:"participantId"`
	Status          SessionStatus       `json:"status"`
	QuestionOrder   []string            `json:"questionOrder"`
	OptionOrders    map[string][]string `json:"optionOrders"`
	Score           int                 `json:"score"`
	TotalTimeMs     int64               `json:"totalTimeMs"`
	FullscreenExits int                 `json:"fullscreenExits"`
	JoinAt          time.Time           `json:"joinAt"`
	StartAt         *time.Time          `json:"startAt,omitempty"`
	EndAt           *time.Time          `json:"endAt,omitempty"`
}

// Answer records one submission for one (session, question) pair. Answers
// are append-only; a second submission for the same pair is a conflict.
type Answer struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	QuizID           string    `json:"quizId"`
	QuestionID       string    `json:"questionId"`
	SelectedOptionID string    `json:"selectedOptionId"`
	IsCorrect        bool      `json:"isCorrect"`
	TimeTakenMs      int64     `json:"timeTakenMs"`
	AnsweredAt       time.Time `json:"answeredAt"`
}

// NextQuestion is the participant-facing view of the next unanswered
// question of a session. Options follow the session's persisted order; the
// correct option is never included. Done is set instead of an error when the
// session is not active or its order is exhausted, so clients poll a single
// surface for the whole run.
type NextQuestion struct {
	Done       bool          `json:"done"`
	Status     SessionStatus `json:"status,omitempty"`
	QuestionID string        `json:"questionId,omitempty"`
	Text       string        `json:"text,omitempty"`
	Options    []Option      `json:"options,omitempty"`
}

// EventType enumerates client-observable proctoring events.
type EventType string

const (
	EventFullscreenExit    EventType = "fullscreen_exit"
	EventBlur              EventType = "blur"
	EventFocus             EventType = "focus"
	EventVisibilityHidden  EventType = "visibility_hidden"
	EventVisibilityVisible EventType = "visibility_visible"
	EventRejoin            EventType = "rejoin"
)

// ValidEventType reports whether t is a known proctoring event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventFullscreenExit, EventBlur, EventFocus,
		EventVisibilityHidden, EventVisibilityVisible, EventRejoin:
		return true
	}
	return false
}

// EventLog is an append-only record of a proctoring event.
type EventLog struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	QuizID    string    `json:"quizId"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
}

// EventLogEntry is one admin-facing row of a quiz's proctoring trail, the
// event joined with the participant behind its session.
type EventLogEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	Name      string    `json:"name"`
	TeamName  string    `json:"teamName"`
	Email     string    `json:"email"`
}

// RankingEntry is one row of the ranking pushed to admin observers.
type RankingEntry struct {
	SessionID       string        `json:"sessionId"`
	Name            string        `json:"name"`
	TeamName        string        `json:"teamName"`
	Email           string        `json:"email"`
	Score           int           `json:"score"`
	TotalTimeMs     int64         `json:"totalTimeMs"`
	FullscreenExits int           `json:"fullscreenExits"`
	Status          SessionStatus `json:"status"`
}

// ParticipantSummary is the roster row sent to a freshly joined admin.
type ParticipantSummary struct {
	SessionID string        `json:"sessionId"`
	Name      string        `json:"name"`
	TeamName  string        `json:"teamName"`
	Email     string        `json:"email"`
	Status    SessionStatus `json:"status"`
	JoinedAt  time.Time     `json:"joinedAt"`
}

// EmailJobStatus is the delivery state of a queued result notification.
type EmailJobStatus string

const (
	EmailJobQueued EmailJobStatus = "queued"
	EmailJobSent   EmailJobStatus = "sent"
	EmailJobFailed EmailJobStatus = "failed"
)

// EmailJob tracks the result-notification delivery attempts for one
// finalized session.
type EmailJob struct {
	ID          string         `json:"id"`
	QuizID      string         `json:"quizId"`
	SessionID   string         `json:"sessionId"`
	Status      EmailJobStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	LastTriedAt *time.Time     `json:"lastTriedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
