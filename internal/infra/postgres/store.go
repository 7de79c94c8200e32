// Package postgres implements the engine's repositories over a pgx pool.
// Uniqueness invariants (one session per quiz+participant, one answer per
// session+question, one participant per email) are enforced by unique
// indexes, not application checks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *Store) CreateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quizzes (id, title, duration_seconds, status, shuffle_questions, shuffle_options, points_per_correct, start_at, end_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		quiz.ID, quiz.Title, quiz.DurationSeconds, quiz.Status,
		quiz.Config.ShuffleQuestions, quiz.Config.ShuffleOptions, quiz.Config.PointsPerCorrect,
		quiz.StartAt, quiz.EndAt, quiz.CreatedAt)
	if isUniqueViolation(err) {
		return domain.Conflictf("quiz %s already exists", quiz.ID)
	}
	if err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, duration_seconds, status, shuffle_questions, shuffle_options, points_per_correct, start_at, end_at, created_at
		FROM quizzes WHERE id = $1`, quizID).Scan(
		&quiz.ID, &quiz.Title, &quiz.DurationSeconds, &quiz.Status,
		&quiz.Config.ShuffleQuestions, &quiz.Config.ShuffleOptions, &quiz.Config.PointsPerCorrect,
		&quiz.StartAt, &quiz.EndAt, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.NotFoundf("quiz %s not found", quizID)
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("get quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) UpdateQuizStatus(ctx context.Context, quizID string, status domain.QuizStatus, at time.Time) error {
	column := "start_at"
	if status == domain.QuizEnded {
		column = "end_at"
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET status = $2, `+column+` = $3 WHERE id = $1`,
		quizID, status, at)
	if err != nil {
		return fmt.Errorf("update quiz status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("quiz %s not found", quizID)
	}
	return nil
}

func (s *Store) AddQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("add questions: %w", err)
	}
	defer tx.Rollback(ctx)

	var position int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM questions WHERE quiz_id = $1`, quizID).Scan(&position); err != nil {
		return fmt.Errorf("add questions: %w", err)
	}
	for i, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("marshal options: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO questions (id, quiz_id, text, options, correct_option_id, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			q.ID, quizID, q.Text, options, q.CorrectOptionID, position+i); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var (
		q       domain.Question
		options []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, quiz_id, text, options, correct_option_id
		FROM questions WHERE id = $1`, questionID).Scan(
		&q.ID, &q.QuizID, &q.Text, &options, &q.CorrectOptionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.NotFoundf("question %s not found", questionID)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("get question: %w", err)
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal options: %w", err)
	}
	return q, nil
}

func (s *Store) QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, quiz_id, text, options, correct_option_id
		FROM questions WHERE quiz_id = $1 ORDER BY position`, quizID)
	if err != nil {
		return nil, fmt.Errorf("questions by quiz: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q       domain.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Text, &options, &q.CorrectOptionID); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) ResolveParticipant(ctx context.Context, name, teamName, email string) (domain.Participant, error) {
	var p domain.Participant
	err := s.pool.QueryRow(ctx, `
		INSERT INTO participants (id, name, team_name, email)
		VALUES ($1, $2, $3, lower($4))
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, team_name = EXCLUDED.team_name
		RETURNING id, name, team_name, email`,
		uuid.NewString(), name, teamName, email).Scan(&p.ID, &p.Name, &p.TeamName, &p.Email)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("resolve participant: %w", err)
	}
	return p, nil
}

func (s *Store) ParticipantsByID(ctx context.Context, ids []string) (map[string]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, team_name, email FROM participants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("participants by id: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Participant, len(ids))
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.TeamName, &p.Email); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	questionOrder, err := json.Marshal(session.QuestionOrder)
	if err != nil {
		return fmt.Errorf("marshal question order: %w", err)
	}
	optionOrders, err := json.Marshal(session.OptionOrders)
	if err != nil {
		return fmt.Errorf("marshal option orders: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, quiz_id, participant_id, status, question_order, option_orders, score, total_time_ms, fullscreen_exits, join_at, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		session.ID, session.QuizID, session.ParticipantID, session.Status,
		questionOrder, optionOrders,
		session.Score, session.TotalTimeMs, session.FullscreenExits,
		session.JoinAt, session.StartAt, session.EndAt)
	if isUniqueViolation(err) {
		return domain.Conflictf("participant %s already has a session for quiz %s", session.ParticipantID, session.QuizID)
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, quiz_id, participant_id, status, question_order, option_orders, score, total_time_ms, fullscreen_exits, join_at, start_at, end_at`

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		session       domain.Session
		questionOrder []byte
		optionOrders  []byte
	)
	err := row.Scan(&session.ID, &session.QuizID, &session.ParticipantID, &session.Status,
		&questionOrder, &optionOrders,
		&session.Score, &session.TotalTimeMs, &session.FullscreenExits,
		&session.JoinAt, &session.StartAt, &session.EndAt)
	if err != nil {
		return domain.Session{}, err
	}
	if err := json.Unmarshal(questionOrder, &session.QuestionOrder); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal question order: %w", err)
	}
	if err := json.Unmarshal(optionOrders, &session.OptionOrders); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal option orders: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.NotFoundf("session %s not found", sessionID)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) FindSession(ctx context.Context, quizID, participantID string) (domain.Session, bool, error) {
	session, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE quiz_id = $1 AND participant_id = $2`, quizID, participantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("find session: %w", err)
	}
	return session, true, nil
}

func (s *Store) SessionsByQuiz(ctx context.Context, quizID string) ([]domain.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE quiz_id = $1 ORDER BY join_at`, quizID)
	if err != nil {
		return nil, fmt.Errorf("sessions by quiz: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *Store) ActivateWaiting(ctx context.Context, quizID string, startAt time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $3, start_at = $2
		WHERE quiz_id = $1 AND status = $4`,
		quizID, startAt, domain.SessionActive, domain.SessionWaiting)
	if err != nil {
		return 0, fmt.Errorf("activate waiting sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ApplySubmission(ctx context.Context, sessionID string, scoreDelta int, timeDeltaMs int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET score = score + $2, total_time_ms = total_time_ms + $3
		WHERE id = $1`, sessionID, scoreDelta, timeDeltaMs)
	if err != nil {
		return fmt.Errorf("apply submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("session %s not found", sessionID)
	}
	return nil
}

func (s *Store) IncrementFullscreenExits(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET fullscreen_exits = fullscreen_exits + 1 WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("increment fullscreen exits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("session %s not found", sessionID)
	}
	return nil
}

func (s *Store) FinalizeSession(ctx context.Context, sessionID string, endAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $3, end_at = $2
		WHERE id = $1 AND status <> $3`,
		sessionID, endAt, domain.SessionEnded)
	if err != nil {
		return false, fmt.Errorf("finalize session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("finalize session: %w", err)
	}
	if !exists {
		return false, domain.NotFoundf("session %s not found", sessionID)
	}
	return false, nil
}

func (s *Store) RecordAnswer(ctx context.Context, answer *domain.Answer) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO answers (id, session_id, quiz_id, question_id, selected_option_id, is_correct, time_taken_ms, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, question_id) DO NOTHING`,
		answer.ID, answer.SessionID, answer.QuizID, answer.QuestionID,
		answer.SelectedOptionID, answer.IsCorrect, answer.TimeTakenMs, answer.AnsweredAt)
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflictf("question %s has already been answered in this session", answer.QuestionID)
	}
	return nil
}

func (s *Store) AnsweredCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM answers WHERE session_id = $1`, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("answered count: %w", err)
	}
	return count, nil
}

func (s *Store) AnswersBySession(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, quiz_id, question_id, selected_option_id, is_correct, time_taken_ms, answered_at
		FROM answers WHERE session_id = $1 ORDER BY answered_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("answers by session: %w", err)
	}
	defer rows.Close()

	var out []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuizID, &a.QuestionID,
			&a.SelectedOptionID, &a.IsCorrect, &a.TimeTakenMs, &a.AnsweredAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, event *domain.EventLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO event_logs (id, session_id, quiz_id, type, at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.SessionID, event.QuizID, event.Type, event.At)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) EventsByQuiz(ctx context.Context, quizID string) ([]domain.EventLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, quiz_id, type, at
		FROM event_logs WHERE quiz_id = $1 ORDER BY at DESC`, quizID)
	if err != nil {
		return nil, fmt.Errorf("events by quiz: %w", err)
	}
	defer rows.Close()

	var out []domain.EventLog
	for rows.Next() {
		var ev domain.EventLog
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.QuizID, &ev.Type, &ev.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) CreateEmailJob(ctx context.Context, job *domain.EmailJob) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO email_jobs (id, quiz_id, session_id, status, attempts, last_tried_at, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.QuizID, job.SessionID, job.Status, job.Attempts, job.LastTriedAt, job.Error, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email job: %w", err)
	}
	return nil
}

func (s *Store) GetEmailJob(ctx context.Context, jobID string) (domain.EmailJob, error) {
	var job domain.EmailJob
	err := s.pool.QueryRow(ctx, `
		SELECT id, quiz_id, session_id, status, attempts, last_tried_at, error, created_at
		FROM email_jobs WHERE id = $1`, jobID).Scan(
		&job.ID, &job.QuizID, &job.SessionID, &job.Status,
		&job.Attempts, &job.LastTriedAt, &job.Error, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EmailJob{}, domain.NotFoundf("email job %s not found", jobID)
	}
	if err != nil {
		return domain.EmailJob{}, fmt.Errorf("get email job: %w", err)
	}
	return job, nil
}

func (s *Store) UpdateEmailJob(ctx context.Context, job *domain.EmailJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE email_jobs SET status = $2, attempts = $3, last_tried_at = $4, error = $5
		WHERE id = $1`,
		job.ID, job.Status, job.Attempts, job.LastTriedAt, job.Error)
	if err != nil {
		return fmt.Errorf("update email job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("email job %s not found", job.ID)
	}
	return nil
}
