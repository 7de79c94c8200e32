package domain

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// QuizInput is the admin payload for creating a quiz.
type QuizInput struct {
	Title           string      `json:"title" validate:"required"`
	DurationSeconds int         `json:"durationSeconds" validate:"required,min=1"`
	Config          *QuizConfig `json:"config"`
}

// QuestionInput is the admin payload for one question in a bulk upload.
// CorrectOption is a zero-based index into Options; option ids are minted
// server-side so a client can never reference an option it did not send.
type QuestionInput struct {
	Text          string   `json:"text" validate:"required"`
	Options       []string `json:"options" validate:"required,min=2,max=8,dive,required"`
	CorrectOption int      `json:"correctOption" validate:"min=0"`
}

// NewQuiz validates in and builds a draft quiz. A nil config gets the
// defaults (shuffle both, 1 point per correct).
func NewQuiz(in QuizInput) (Quiz, error) {
	if err := validate.Struct(in); err != nil {
		return Quiz{}, InvalidInputf("invalid quiz: %v", err)
	}
	cfg := DefaultQuizConfig()
	if in.Config != nil {
		cfg = *in.Config
	}
	if cfg.PointsPerCorrect < 1 {
		return Quiz{}, InvalidInputf("pointsPerCorrect must be at least 1")
	}
	return Quiz{
		ID:              uuid.NewString(),
		Title:           in.Title,
		DurationSeconds: in.DurationSeconds,
		Status:          QuizDraft,
		Config:          cfg,
	}, nil
}

// NewQuestion validates in and builds a question for quizID, minting ids for
// the question and each option. The correct option invariant (it must be one
// of the question's own options) holds by construction.
func NewQuestion(quizID string, in QuestionInput) (Question, error) {
	if err := validate.Struct(in); err != nil {
		return Question{}, InvalidInputf("invalid question: %v", err)
	}
	if in.CorrectOption >= len(in.Options) {
		return Question{}, InvalidInputf("correctOption %d out of range for %d options", in.CorrectOption, len(in.Options))
	}
	q := Question{
		ID:      uuid.NewString(),
		QuizID:  quizID,
		Text:    in.Text,
		Options: make([]Option, 0, len(in.Options)),
	}
	for i, text := range in.Options {
		opt := Option{ID: uuid.NewString(), Text: text}
		q.Options = append(q.Options, opt)
		if i == in.CorrectOption {
			q.CorrectOptionID = opt.ID
		}
	}
	return q, nil
}

// ValidateOrders checks that questionOrder is a permutation of the given
// questions' ids and that optionOrders maps every question to a permutation
// of exactly its own option ids. Sessions are only persisted with orders
// that pass this check.
func ValidateOrders(questions []Question, questionOrder []string, optionOrders map[string][]string) error {
	if len(questionOrder) != len(questions) {
		return InvalidInputf("question order has %d entries for %d questions", len(questionOrder), len(questions))
	}
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	seen := make(map[string]bool, len(questionOrder))
	for _, qid := range questionOrder {
		if _, ok := byID[qid]; !ok {
			return InvalidInputf("question order references unknown question %s", qid)
		}
		if seen[qid] {
			return InvalidInputf("question order repeats question %s", qid)
		}
		seen[qid] = true
	}
	if len(optionOrders) != len(questions) {
		return InvalidInputf("option orders cover %d of %d questions", len(optionOrders), len(questions))
	}
	for qid, order := range optionOrders {
		q, ok := byID[qid]
		if !ok {
			return InvalidInputf("option order references unknown question %s", qid)
		}
		if len(order) != len(q.Options) {
			return InvalidInputf("option order for question %s has %d entries for %d options", qid, len(order), len(q.Options))
		}
		opts := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			opts[o.ID] = true
		}
		used := make(map[string]bool, len(order))
		for _, oid := range order {
			if !opts[oid] || used[oid] {
				return InvalidInputf("option order for question %s is not a permutation of its options", qid)
			}
			used[oid] = true
		}
	}
	return nil
}
