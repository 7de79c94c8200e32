// Package memory provides an in-process store implementing every repository
// the engine consumes. It enforces the same uniqueness constraints as the
// postgres store so tests exercise the real contracts.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

type sessionKey struct {
	quizID        string
	participantID string
}

type answerKey struct {
	sessionID  string
	questionID string
}

// Store keeps every entity in mutex-guarded maps. All methods return copies;
// callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	quizzes         map[string]domain.Quiz
	questions       map[string]domain.Question
	questionsByQuiz map[string][]string

	participants       map[string]domain.Participant
	participantByEmail map[string]string

	sessions      map[string]domain.Session
	sessionByPair map[sessionKey]string

	answers          map[answerKey]domain.Answer
	answersBySession map[string][]answerKey

	events []domain.EventLog

	emailJobs map[string]domain.EmailJob
}

func NewStore() *Store {
	return &Store{
		quizzes:            make(map[string]domain.Quiz),
		questions:          make(map[string]domain.Question),
		questionsByQuiz:    make(map[string][]string),
		participants:       make(map[string]domain.Participant),
		participantByEmail: make(map[string]string),
		sessions:           make(map[string]domain.Session),
		sessionByPair:      make(map[sessionKey]string),
		answers:            make(map[answerKey]domain.Answer),
		answersBySession:   make(map[string][]answerKey),
		emailJobs:          make(map[string]domain.EmailJob),
	}
}

func (s *Store) CreateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quiz.ID]; ok {
		return domain.Conflictf("quiz %s already exists", quiz.ID)
	}
	s.quizzes[quiz.ID] = *quiz
	return nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.NotFoundf("quiz %s not found", quizID)
	}
	return quiz, nil
}

func (s *Store) UpdateQuizStatus(_ context.Context, quizID string, status domain.QuizStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.NotFoundf("quiz %s not found", quizID)
	}
	quiz.Status = status
	switch status {
	case domain.QuizRunning:
		t := at
		quiz.StartAt = &t
	case domain.QuizEnded:
		t := at
		quiz.EndAt = &t
	}
	s.quizzes[quizID] = quiz
	return nil
}

func (s *Store) AddQuestions(_ context.Context, quizID string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[quizID]; !ok {
		return domain.NotFoundf("quiz %s not found", quizID)
	}
	for _, q := range questions {
		s.questions[q.ID] = q
		s.questionsByQuiz[quizID] = append(s.questionsByQuiz[quizID], q.ID)
	}
	return nil
}

func (s *Store) GetQuestion(_ context.Context, questionID string) (domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	if !ok {
		return domain.Question{}, domain.NotFoundf("question %s not found", questionID)
	}
	return q, nil
}

func (s *Store) QuestionsByQuiz(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.questionsByQuiz[quizID]
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.questions[id])
	}
	return out, nil
}

func (s *Store) ResolveParticipant(_ context.Context, name, teamName, email string) (domain.Participant, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return domain.Participant{}, domain.InvalidInputf("email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.participantByEmail[key]; ok {
		p := s.participants[id]
		p.Name = name
		p.TeamName = teamName
		s.participants[id] = p
		return p, nil
	}
	p := domain.Participant{ID: uuid.NewString(), Name: name, TeamName: teamName, Email: key}
	s.participants[p.ID] = p
	s.participantByEmail[key] = p.ID
	return p, nil
}

func (s *Store) ParticipantsByID(_ context.Context, ids []string) (map[string]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Participant, len(ids))
	for _, id := range ids {
		if p, ok := s.participants[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey{quizID: session.QuizID, participantID: session.ParticipantID}
	if _, ok := s.sessionByPair[key]; ok {
		return domain.Conflictf("participant %s already has a session for quiz %s", session.ParticipantID, session.QuizID)
	}
	s.sessions[session.ID] = cloneSession(*session)
	s.sessionByPair[key] = session.ID
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.NotFoundf("session %s not found", sessionID)
	}
	return cloneSession(session), nil
}

func (s *Store) FindSession(_ context.Context, quizID, participantID string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessionByPair[sessionKey{quizID: quizID, participantID: participantID}]
	if !ok {
		return domain.Session{}, false, nil
	}
	return cloneSession(s.sessions[id]), true, nil
}

func (s *Store) SessionsByQuiz(_ context.Context, quizID string) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0)
	for _, session := range s.sessions {
		if session.QuizID == quizID {
			out = append(out, cloneSession(session))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinAt.Before(out[j].JoinAt) })
	return out, nil
}

func (s *Store) ActivateWaiting(_ context.Context, quizID string, startAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activated := 0
	for id, session := range s.sessions {
		if session.QuizID != quizID || session.Status != domain.SessionWaiting {
			continue
		}
		t := startAt
		session.Status = domain.SessionActive
		session.StartAt = &t
		s.sessions[id] = session
		activated++
	}
	return activated, nil
}

func (s *Store) ApplySubmission(_ context.Context, sessionID string, scoreDelta int, timeDeltaMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.NotFoundf("session %s not found", sessionID)
	}
	session.Score += scoreDelta
	session.TotalTimeMs += timeDeltaMs
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) IncrementFullscreenExits(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.NotFoundf("session %s not found", sessionID)
	}
	session.FullscreenExits++
	s.sessions[sessionID] = session
	return nil
}

func (s *Store) FinalizeSession(_ context.Context, sessionID string, endAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, domain.NotFoundf("session %s not found", sessionID)
	}
	if session.Status == domain.SessionEnded {
		return false, nil
	}
	t := endAt
	session.Status = domain.SessionEnded
	session.EndAt = &t
	s.sessions[sessionID] = session
	return true, nil
}

func (s *Store) RecordAnswer(_ context.Context, answer *domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{sessionID: answer.SessionID, questionID: answer.QuestionID}
	if _, ok := s.answers[key]; ok {
		return domain.Conflictf("question %s has already been answered in this session", answer.QuestionID)
	}
	s.answers[key] = *answer
	s.answersBySession[answer.SessionID] = append(s.answersBySession[answer.SessionID], key)
	return nil
}

func (s *Store) AnsweredCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answersBySession[sessionID]), nil
}

// AnswersBySession returns the session's answers in submission order.
func (s *Store) AnswersBySession(_ context.Context, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.answersBySession[sessionID]
	out := make([]domain.Answer, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.answers[k])
	}
	return out, nil
}

func (s *Store) AppendEvent(_ context.Context, event *domain.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

// EventsByQuiz returns the quiz's proctoring events, newest first.
func (s *Store) EventsByQuiz(_ context.Context, quizID string) ([]domain.EventLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EventLog, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].QuizID == quizID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *Store) CreateEmailJob(_ context.Context, job *domain.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emailJobs[job.ID] = *job
	return nil
}

func (s *Store) GetEmailJob(_ context.Context, jobID string) (domain.EmailJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.emailJobs[jobID]
	if !ok {
		return domain.EmailJob{}, domain.NotFoundf("email job %s not found", jobID)
	}
	return job, nil
}

// EmailJobsByQuiz returns the quiz's notification jobs in creation order.
func (s *Store) EmailJobsByQuiz(_ context.Context, quizID string) ([]domain.EmailJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.EmailJob, 0)
	for _, job := range s.emailJobs {
		if job.QuizID == quizID {
			out = append(out, job)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateEmailJob(_ context.Context, job *domain.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emailJobs[job.ID]; !ok {
		return domain.NotFoundf("email job %s not found", job.ID)
	}
	s.emailJobs[job.ID] = *job
	return nil
}

func cloneSession(s domain.Session) domain.Session {
	out := s
	out.QuestionOrder = append([]string(nil), s.QuestionOrder...)
	out.OptionOrders = make(map[string][]string, len(s.OptionOrders))
	for qid, order := range s.OptionOrders {
		out.OptionOrders[qid] = append([]string(nil), order...)
	}
	if s.StartAt != nil {
		t := *s.StartAt
		out.StartAt = &t
	}
	if s.EndAt != nil {
		t := *s.EndAt
		out.EndAt = &t
	}
	return out
}
