package domain

import (
	"errors"
	"testing"
)

func TestNewQuizDefaults(t *testing.T) {
	quiz, err := NewQuiz(QuizInput{Title: "Weekly trivia", DurationSeconds: 300})
	if err != nil {
		t.Fatalf("new quiz: %v", err)
	}
	if quiz.Status != QuizDraft {
		t.Fatalf("expected draft status, got %s", quiz.Status)
	}
	if !quiz.Config.ShuffleQuestions || !quiz.Config.ShuffleOptions || quiz.Config.PointsPerCorrect != 1 {
		t.Fatalf("expected default config, got %+v", quiz.Config)
	}
}

func TestNewQuizRejectsBadInput(t *testing.T) {
	if _, err := NewQuiz(QuizInput{Title: "", DurationSeconds: 60}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing title, got %v", err)
	}
	if _, err := NewQuiz(QuizInput{Title: "x", DurationSeconds: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero duration, got %v", err)
	}
	cfg := QuizConfig{PointsPerCorrect: 0}
	if _, err := NewQuiz(QuizInput{Title: "x", DurationSeconds: 60, Config: &cfg}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero points, got %v", err)
	}
}

func TestNewQuestionOptionBounds(t *testing.T) {
	if _, err := NewQuestion("quiz", QuestionInput{Text: "q", Options: []string{"only"}, CorrectOption: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for one option, got %v", err)
	}
	nine := make([]string, 9)
	for i := range nine {
		nine[i] = "opt"
	}
	if _, err := NewQuestion("quiz", QuestionInput{Text: "q", Options: nine, CorrectOption: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for nine options, got %v", err)
	}
	if _, err := NewQuestion("quiz", QuestionInput{Text: "q", Options: []string{"a", "b"}, CorrectOption: 2}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for out-of-range correct option, got %v", err)
	}
}

func TestNewQuestionMarksCorrectOption(t *testing.T) {
	q, err := NewQuestion("quiz", QuestionInput{Text: "2+2?", Options: []string{"3", "4", "5"}, CorrectOption: 1})
	if err != nil {
		t.Fatalf("new question: %v", err)
	}
	if len(q.Options) != 3 {
		t.Fatalf("expected 3 options, got %d", len(q.Options))
	}
	if q.CorrectOptionID != q.Options[1].ID {
		t.Fatalf("correct option id %s does not match option %s", q.CorrectOptionID, q.Options[1].ID)
	}
}

func TestValidateOrders(t *testing.T) {
	q1, _ := NewQuestion("quiz", QuestionInput{Text: "a", Options: []string{"x", "y"}, CorrectOption: 0})
	q2, _ := NewQuestion("quiz", QuestionInput{Text: "b", Options: []string{"x", "y", "z"}, CorrectOption: 2})
	questions := []Question{q1, q2}

	good := map[string][]string{
		q1.ID: {q1.Options[1].ID, q1.Options[0].ID},
		q2.ID: {q2.Options[0].ID, q2.Options[1].ID, q2.Options[2].ID},
	}
	if err := ValidateOrders(questions, []string{q2.ID, q1.ID}, good); err != nil {
		t.Fatalf("expected valid orders, got %v", err)
	}

	if err := ValidateOrders(questions, []string{q1.ID, q1.ID}, good); err == nil {
		t.Fatalf("expected error for repeated question")
	}
	if err := ValidateOrders(questions, []string{q1.ID}, good); err == nil {
		t.Fatalf("expected error for short question order")
	}

	missing := map[string][]string{
		q1.ID: {q1.Options[0].ID, q1.Options[1].ID},
	}
	if err := ValidateOrders(questions, []string{q1.ID, q2.ID}, missing); err == nil {
		t.Fatalf("expected error for uncovered question")
	}

	wrongOpts := map[string][]string{
		q1.ID: {q1.Options[0].ID, q2.Options[0].ID},
		q2.ID: good[q2.ID],
	}
	if err := ValidateOrders(questions, []string{q1.ID, q2.ID}, wrongOpts); err == nil {
		t.Fatalf("expected error for foreign option id")
	}
}

func TestErrorKinds(t *testing.T) {
	err := NotFoundf("quiz %s not found", "q1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found kind")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("kind should not match conflict")
	}
	if err.Error() != "quiz q1 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
