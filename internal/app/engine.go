// Package app contains the quiz/session orchestration engine: quiz and
// session lifecycles, the at-most-once answer ledger, ranking, and the
// fan-out of lifecycle and ranking events.
package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/hub"
	"live-quiz-service/internal/shuffle"
)

// Wire event names, shared with the transport layer.
const (
	EventStart         = "server:start"
	EventEnd           = "server:end"
	EventRankingUpdate = "server:rankingUpdate"
	EventProgress      = "server:progress"
	EventJoinedUsers   = "server:joinedUsers"
)

// StartPayload announces the authoritative start instant to participants.
// Clients schedule their countdown against StartAt, not against receipt time.
type StartPayload struct {
	StartAt         int64 `json:"startAt"`
	DurationSeconds int   `json:"durationSeconds"`
}

// ProgressPayload tells admins how far one session has progressed.
type ProgressPayload struct {
	SessionID      string `json:"sessionId"`
	AnsweredCount  int    `json:"answeredCount"`
	TotalQuestions int    `json:"totalQuestions"`
}

// startLead is how far in the future a quiz start is scheduled, so the start
// broadcast reaches participants before the authoritative instant.
const defaultStartLead = time.Second

// Deps collects the collaborators the engine is constructed over.
type Deps struct {
	Quizzes      QuizRepository
	Sessions     SessionRepository
	Answers      AnswerLedger
	Events       EventLogRepository
	Participants ParticipantRepository
	Notifier     Notifier
	Broadcast    Broadcaster
	Orders       *shuffle.Generator
}

// Engine implements the core quiz/session operations. Quiz-level transitions
// are serialized per quiz, answer submission and event logging per session.
type Engine struct {
	quizzes      QuizRepository
	sessions     SessionRepository
	answers      AnswerLedger
	events       EventLogRepository
	participants ParticipantRepository
	notifier     Notifier
	broadcast    Broadcaster
	orders       *shuffle.Generator

	clock     func() time.Time
	startLead time.Duration

	quizMu    *keyedMutex
	sessionMu *keyedMutex
	rankMu    *keyedMutex
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock is test-only, for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithStartLead overrides the scheduling buffer applied to quiz starts.
func WithStartLead(lead time.Duration) Option {
	return func(e *Engine) { e.startLead = lead }
}

func NewEngine(deps Deps, opts ...Option) *Engine {
	e := &Engine{
		quizzes:      deps.Quizzes,
		sessions:     deps.Sessions,
		answers:      deps.Answers,
		events:       deps.Events,
		participants: deps.Participants,
		notifier:     deps.Notifier,
		broadcast:    deps.Broadcast,
		orders:       deps.Orders,
		clock:        time.Now,
		startLead:    defaultStartLead,
		quizMu:       newKeyedMutex(),
		sessionMu:    newKeyedMutex(),
		rankMu:       newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateQuiz creates a draft quiz from a validated admin input.
func (e *Engine) CreateQuiz(ctx context.Context, in domain.QuizInput) (domain.Quiz, error) {
	quiz, err := domain.NewQuiz(in)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.CreatedAt = e.clock()
	if err := e.quizzes.CreateQuiz(ctx, &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// AddQuestions bulk-adds questions to a draft quiz. Once the quiz leaves
// draft its question set is immutable.
func (e *Engine) AddQuestions(ctx context.Context, quizID string, inputs []domain.QuestionInput) ([]domain.Question, error) {
	unlock := e.quizMu.lock(quizID)
	defer unlock()

	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if quiz.Status != domain.QuizDraft {
		return nil, domain.InvalidStatef("cannot add questions to a %s quiz", quiz.Status)
	}

	questions := make([]domain.Question, 0, len(inputs))
	for _, in := range inputs {
		q, err := domain.NewQuestion(quizID, in)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := e.quizzes.AddQuestions(ctx, quizID, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// Quiz returns the quiz by id.
func (e *Engine) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return e.quizzes.GetQuiz(ctx, quizID)
}

// Session returns the session by id.
func (e *Engine) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	return e.sessions.GetSession(ctx, sessionID)
}

// CreateSession joins a participant to a quiz, creating their session with a
// fixed presentation order. Idempotent: a repeat call with the same contact
// identity returns the existing session unchanged.
func (e *Engine) CreateSession(ctx context.Context, quizID, name, teamName, email string) (domain.Session, domain.Participant, error) {
	unlock := e.quizMu.lock(quizID)
	defer unlock()

	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if quiz.Status == domain.QuizEnded {
		return domain.Session{}, domain.Participant{}, domain.InvalidStatef("quiz %s has already ended", quizID)
	}

	participant, err := e.participants.ResolveParticipant(ctx, name, teamName, email)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}

	if existing, ok, err := e.sessions.FindSession(ctx, quizID, participant.ID); err != nil {
		return domain.Session{}, domain.Participant{}, err
	} else if ok {
		return existing, participant, nil
	}

	questions, err := e.quizzes.QuestionsByQuiz(ctx, quizID)
	if err != nil {
		return domain.Session{}, domain.Participant{}, err
	}
	if len(questions) == 0 {
		return domain.Session{}, domain.Participant{}, domain.EmptyQuizf("cannot join quiz %s: it has no questions", quizID)
	}

	questionIDs := make([]string, 0, len(questions))
	for _, q := range questions {
		questionIDs = append(questionIDs, q.ID)
	}
	questionOrder := e.orders.OrderQuestions(questionIDs, quiz.Config.ShuffleQuestions)

	optionOrders := make(map[string][]string, len(questions))
	for _, q := range questions {
		optionIDs := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			optionIDs = append(optionIDs, o.ID)
		}
		optionOrders[q.ID] = e.orders.OrderOptions(optionIDs, quiz.Config.ShuffleOptions)
	}
	if err := domain.ValidateOrders(questions, questionOrder, optionOrders); err != nil {
		return domain.Session{}, domain.Participant{}, err
	}

	session := &domain.Session{
		ID:            uuid.NewString(),
		QuizID:        quizID,
		ParticipantID: participant.ID,
		Status:        domain.SessionWaiting,
		QuestionOrder: questionOrder,
		OptionOrders:  optionOrders,
		JoinAt:        e.clock(),
	}
	if err := e.sessions.CreateSession(ctx, session); err != nil {
		// Lost a creation race; the unique (quiz, participant) constraint
		// resolved it, so hand back the winner.
		if errors.Is(err, domain.ErrConflict) {
			if existing, ok, findErr := e.sessions.FindSession(ctx, quizID, participant.ID); findErr == nil && ok {
				return existing, participant, nil
			}
		}
		return domain.Session{}, domain.Participant{}, err
	}
	return *session, participant, nil
}

// StartQuiz transitions the quiz to running, activates its waiting sessions,
// and announces the start to the participant room. Starting an already
// running quiz is a no-op success with the original startAt; retries converge
// by re-applying the bulk activation.
func (e *Engine) StartQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	unlock := e.quizMu.lock(quizID)
	defer unlock()

	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	switch quiz.Status {
	case domain.QuizEnded:
		return domain.Quiz{}, domain.InvalidStatef("cannot start quiz %s: it has already ended", quizID)
	case domain.QuizRunning:
		if quiz.StartAt != nil {
			if _, err := e.sessions.ActivateWaiting(ctx, quizID, *quiz.StartAt); err != nil {
				return domain.Quiz{}, err
			}
		}
		return quiz, nil
	}

	startAt := e.clock().Add(e.startLead)
	if err := e.quizzes.UpdateQuizStatus(ctx, quizID, domain.QuizRunning, startAt); err != nil {
		return domain.Quiz{}, err
	}
	if _, err := e.sessions.ActivateWaiting(ctx, quizID, startAt); err != nil {
		return domain.Quiz{}, err
	}

	quiz.Status = domain.QuizRunning
	quiz.StartAt = &startAt

	e.broadcast.Publish(hub.Participants(quizID), EventStart, StartPayload{
		StartAt:         startAt.UnixMilli(),
		DurationSeconds: quiz.DurationSeconds,
	})
	return quiz, nil
}

// EndQuiz transitions the quiz to ended, finalizes its active sessions,
// announces the end to participants, and pushes a final ranking to admins.
// Ending an already ended quiz is a no-op success; retries converge by
// re-running the finalization pass.
func (e *Engine) EndQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	unlock := e.quizMu.lock(quizID)
	defer unlock()

	quiz, err := e.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	switch quiz.Status {
	case domain.QuizEnded:
		if quiz.EndAt != nil {
			e.finalizeQuizSessions(ctx, quizID, *quiz.EndAt)
		}
		return quiz, nil
	case domain.QuizDraft:
		return domain.Quiz{}, domain.InvalidStatef("cannot end quiz %s: it has not started", quizID)
	}

	endAt := e.clock()
	if err := e.quizzes.UpdateQuizStatus(ctx, quizID, domain.QuizEnded, endAt); err != nil {
		return domain.Quiz{}, err
	}
	e.finalizeQuizSessions(ctx, quizID, endAt)

	quiz.Status = domain.QuizEnded
	quiz.EndAt = &endAt

	e.broadcast.Publish(hub.Participants(quizID), EventEnd, struct{}{})
	e.broadcastRanking(ctx, quizID)
	return quiz, nil
}

// finalizeQuizSessions ends every active session of the quiz and schedules a
// result notification for each newly finalized one. Per-session failures are
// logged and never fail the enclosing quiz transition.
func (e *Engine) finalizeQuizSessions(ctx context.Context, quizID string, endAt time.Time) {
	sessions, err := e.sessions.SessionsByQuiz(ctx, quizID)
	if err != nil {
		log.Printf("end quiz %s: list sessions: %v", quizID, err)
		return
	}
	for _, s := range sessions {
		if s.Status != domain.SessionActive {
			continue
		}
		finalized, err := e.sessions.FinalizeSession(ctx, s.ID, endAt)
		if err != nil {
			log.Printf("finalize session %s: %v", s.ID, err)
			continue
		}
		if !finalized {
			continue
		}
		if err := e.notifier.ScheduleResultNotification(ctx, quizID, s.ID); err != nil {
			log.Printf("schedule result notification for session %s: %v", s.ID, err)
		}
	}
}

// SubmitAnswer records one answer for the session, scores it, and notifies
// admin observers. The returned bool is the correctness of the submission;
// the correct option itself is never revealed through this path.
func (e *Engine) SubmitAnswer(ctx context.Context, sessionID, questionID, selectedOptionID string, timeTakenMs int64) (bool, error) {
	if timeTakenMs < 0 {
		return false, domain.InvalidInputf("timeTakenMs must not be negative")
	}

	unlock := e.sessionMu.lock(sessionID)
	defer unlock()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Status != domain.SessionActive {
		return false, domain.InvalidStatef("cannot submit answer for %s session", session.Status)
	}

	question, err := e.quizzes.GetQuestion(ctx, questionID)
	if err != nil || question.QuizID != session.QuizID {
		return false, domain.NotFoundf("question %s not found in this quiz", questionID)
	}
	if !contains(session.QuestionOrder, questionID) {
		return false, domain.InvalidStatef("question %s was not presented to this session", questionID)
	}

	quiz, err := e.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return false, err
	}

	isCorrect := selectedOptionID == question.CorrectOptionID
	answer := &domain.Answer{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		QuizID:           session.QuizID,
		QuestionID:       questionID,
		SelectedOptionID: selectedOptionID,
		IsCorrect:        isCorrect,
		TimeTakenMs:      timeTakenMs,
		AnsweredAt:       e.clock(),
	}
	if err := e.answers.RecordAnswer(ctx, answer); err != nil {
		return false, err
	}

	scoreDelta := 0
	if isCorrect {
		scoreDelta = quiz.Config.PointsPerCorrect
	}
	if err := e.sessions.ApplySubmission(ctx, sessionID, scoreDelta, timeTakenMs); err != nil {
		return false, err
	}

	answered, err := e.answers.AnsweredCount(ctx, sessionID)
	if err != nil {
		log.Printf("count answers for session %s: %v", sessionID, err)
	} else {
		e.broadcast.Publish(hub.Admins(session.QuizID), EventProgress, ProgressPayload{
			SessionID:      sessionID,
			AnsweredCount:  answered,
			TotalQuestions: len(session.QuestionOrder),
		})
	}
	e.broadcastRanking(ctx, session.QuizID)
	return isCorrect, nil
}

// NextQuestion returns the first question of the session's presentation
// order without a recorded answer, options in the session's order and the
// correct option withheld. An inactive session or an exhausted order is
// reported through Done rather than an error.
func (e *Engine) NextQuestion(ctx context.Context, sessionID string) (domain.NextQuestion, error) {
	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.NextQuestion{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.NextQuestion{Done: true, Status: session.Status}, nil
	}

	answers, err := e.answers.AnswersBySession(ctx, sessionID)
	if err != nil {
		return domain.NextQuestion{}, err
	}
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionID] = true
	}

	var nextID string
	for _, qid := range session.QuestionOrder {
		if !answered[qid] {
			nextID = qid
			break
		}
	}
	if nextID == "" {
		return domain.NextQuestion{Done: true, Status: session.Status}, nil
	}

	question, err := e.quizzes.GetQuestion(ctx, nextID)
	if err != nil {
		return domain.NextQuestion{}, err
	}
	byID := make(map[string]domain.Option, len(question.Options))
	for _, o := range question.Options {
		byID[o.ID] = o
	}
	options := make([]domain.Option, 0, len(question.Options))
	for _, oid := range session.OptionOrders[nextID] {
		options = append(options, byID[oid])
	}
	return domain.NextQuestion{
		QuestionID: question.ID,
		Text:       question.Text,
		Options:    options,
	}, nil
}

// LogEvent appends a proctoring event for the session. Any session status is
// accepted so the audit trail stays complete after a quiz ends; fullscreen
// exits additionally bump the session counter and, while the session is
// still active, refresh the admin ranking.
func (e *Engine) LogEvent(ctx context.Context, sessionID string, eventType domain.EventType) (domain.EventLog, error) {
	if !domain.ValidEventType(eventType) {
		return domain.EventLog{}, domain.InvalidInputf("unknown event type %q", eventType)
	}

	unlock := e.sessionMu.lock(sessionID)
	defer unlock()

	session, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.EventLog{}, err
	}

	event := &domain.EventLog{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		QuizID:    session.QuizID,
		Type:      eventType,
		At:        e.clock(),
	}
	if err := e.events.AppendEvent(ctx, event); err != nil {
		return domain.EventLog{}, err
	}

	if eventType == domain.EventFullscreenExit {
		if err := e.sessions.IncrementFullscreenExits(ctx, sessionID); err != nil {
			return domain.EventLog{}, err
		}
		if session.Status == domain.SessionActive {
			e.broadcastRanking(ctx, session.QuizID)
		}
	}
	return *event, nil
}

// Rank computes the current ordering of every session of the quiz: score
// descending, then total time ascending, then fullscreen exits ascending.
// The sort is stable so equal entries keep their input order.
func (e *Engine) Rank(ctx context.Context, quizID string) ([]domain.RankingEntry, error) {
	if _, err := e.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	sessions, err := e.sessions.SessionsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ParticipantID)
	}
	people, err := e.participants.ParticipantsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RankingEntry, 0, len(sessions))
	for _, s := range sessions {
		p := people[s.ParticipantID]
		entries = append(entries, domain.RankingEntry{
			SessionID:       s.ID,
			Name:            p.Name,
			TeamName:        p.TeamName,
			Email:           p.Email,
			Score:           s.Score,
			TotalTimeMs:     s.TotalTimeMs,
			FullscreenExits: s.FullscreenExits,
			Status:          s.Status,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].TotalTimeMs != entries[j].TotalTimeMs {
			return entries[i].TotalTimeMs < entries[j].TotalTimeMs
		}
		return entries[i].FullscreenExits < entries[j].FullscreenExits
	})
	return entries, nil
}

// Participants lists the quiz roster for admin observers, oldest join first.
func (e *Engine) Participants(ctx context.Context, quizID string) ([]domain.ParticipantSummary, error) {
	if _, err := e.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	sessions, err := e.sessions.SessionsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ParticipantID)
	}
	people, err := e.participants.ParticipantsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	roster := make([]domain.ParticipantSummary, 0, len(sessions))
	for _, s := range sessions {
		p := people[s.ParticipantID]
		roster = append(roster, domain.ParticipantSummary{
			SessionID: s.ID,
			Name:      p.Name,
			TeamName:  p.TeamName,
			Email:     p.Email,
			Status:    s.Status,
			JoinedAt:  s.JoinAt,
		})
	}
	sort.SliceStable(roster, func(i, j int) bool { return roster[i].JoinedAt.Before(roster[j].JoinedAt) })
	return roster, nil
}

// EventLogs returns the quiz's proctoring trail for admin review, newest
// first, each event joined with the participant behind its session.
func (e *Engine) EventLogs(ctx context.Context, quizID string) ([]domain.EventLogEntry, error) {
	if _, err := e.quizzes.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}
	events, err := e.events.EventsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	sessions, err := e.sessions.SessionsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}

	participantBySession := make(map[string]string, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		participantBySession[s.ID] = s.ParticipantID
		ids = append(ids, s.ParticipantID)
	}
	people, err := e.participants.ParticipantsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.EventLogEntry, 0, len(events))
	for _, ev := range events {
		p := people[participantBySession[ev.SessionID]]
		entries = append(entries, domain.EventLogEntry{
			ID:        ev.ID,
			SessionID: ev.SessionID,
			Type:      ev.Type,
			At:        ev.At,
			Name:      p.Name,
			TeamName:  p.TeamName,
			Email:     p.Email,
		})
	}
	return entries, nil
}

// broadcastRanking recomputes the ranking and pushes it to the admin room.
// Compute and publish run under a per-quiz lock so a stale ranking can never
// overtake a fresher one. Failures are logged; they never surface to the
// operation that triggered the refresh.
func (e *Engine) broadcastRanking(ctx context.Context, quizID string) {
	unlock := e.rankMu.lock(quizID)
	defer unlock()

	entries, err := e.Rank(ctx, quizID)
	if err != nil {
		log.Printf("rank quiz %s: %v", quizID, err)
		return
	}
	e.broadcast.Publish(hub.Admins(quizID), EventRankingUpdate, entries)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
