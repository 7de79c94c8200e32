// Package http exposes the engine over websockets (participants, admins)
// and a small JSON API for quiz administration. Authentication sits in front
// of these handlers and is out of scope here.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/hub"
)

type Handler struct {
	engine   *app.Engine
	hub      *hub.Hub
	upgrader websocket.Upgrader
}

func NewHandler(engine *app.Engine, h *hub.Hub) *Handler {
	return &Handler{
		engine: engine,
		hub:    h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws", h.ServeParticipantWS)
	mux.HandleFunc("GET /ws/admin", h.ServeAdminWS)

	mux.HandleFunc("POST /api/quizzes", h.createQuiz)
	mux.HandleFunc("POST /api/quizzes/{quizID}/questions", h.addQuestions)
	mux.HandleFunc("POST /api/quizzes/{quizID}/join", h.joinQuiz)
	mux.HandleFunc("POST /api/quizzes/{quizID}/start", h.startQuiz)
	mux.HandleFunc("POST /api/quizzes/{quizID}/end", h.endQuiz)
	mux.HandleFunc("GET /api/quizzes/{quizID}/ranking", h.ranking)
	mux.HandleFunc("GET /api/quizzes/{quizID}/participants", h.participants)
	mux.HandleFunc("GET /api/quizzes/{quizID}/logs", h.eventLogs)
	mux.HandleFunc("GET /api/sessions/{sessionID}/question", h.nextQuestion)
}

func (h *Handler) createQuiz(w http.ResponseWriter, r *http.Request) {
	var in domain.QuizInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	quiz, err := h.engine.CreateQuiz(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *Handler) addQuestions(w http.ResponseWriter, r *http.Request) {
	var inputs []domain.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	questions, err := h.engine.AddQuestions(r.Context(), r.PathValue("quizID"), inputs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"count":     len(questions),
		"questions": questions,
	})
}

type joinRequest struct {
	Name     string `json:"name"`
	TeamName string `json:"teamName"`
	Email    string `json:"email"`
}

func (h *Handler) joinQuiz(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session, participant, err := h.engine.CreateSession(r.Context(), r.PathValue("quizID"), req.Name, req.TeamName, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":     session,
		"participant": participant,
	})
}

func (h *Handler) startQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.engine.StartQuiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) endQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.engine.EndQuiz(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *Handler) ranking(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.Rank(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) participants(w http.ResponseWriter, r *http.Request) {
	roster, err := h.engine.Participants(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

func (h *Handler) eventLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := h.engine.EventLogs(r.Context(), r.PathValue("quizID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) nextQuestion(w http.ResponseWriter, r *http.Request) {
	next, err := h.engine.NextQuestion(r.Context(), r.PathValue("sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrEmptyQuiz),
		errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
}
