package http

import (
	"encoding/json"
	"log"
	"net/http"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/hub"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID  string `json:"questionId"`
	OptionID    string `json:"optionId"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

type eventPayload struct {
	Type string `json:"type"`
}

type answerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeParticipantWS attaches a participant's connection to their quiz room:
// lifecycle events flow out, answers and proctoring events flow in.
func (h *Handler) ServeParticipantWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	session, err := h.engine.Session(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(hub.Participants(session.QuizID))
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: update.Name, Payload: update.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// deliver hands the message to the writer, bailing out when the writer
	// already died on a write error so the read loop never blocks on a full
	// buffer nobody drains.
	deliver := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	alive := deliver(outboundMessage{Type: "joined", Payload: session})

	for alive {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			correct, err := h.engine.SubmitAnswer(r.Context(), sessionID, payload.QuestionID, payload.OptionID, payload.TimeTakenMs)
			if err != nil {
				alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			alive = deliver(outboundMessage{Type: "answerResult", Payload: answerResult{
				QuestionID: payload.QuestionID,
				Correct:    correct,
			}})
		case "nextQuestion":
			next, err := h.engine.NextQuestion(r.Context(), sessionID)
			if err != nil {
				alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			alive = deliver(outboundMessage{Type: "question", Payload: next})
		case "event":
			var payload eventPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid event payload"}})
				continue
			}
			if _, err := h.engine.LogEvent(r.Context(), sessionID, domain.EventType(payload.Type)); err != nil {
				alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		default:
			alive = deliver(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// ServeAdminWS attaches an observer to the quiz's admin room. The current
// roster is sent on join; ranking and progress updates follow as they happen.
// Token verification belongs to the auth layer in front of this handler.
func (h *Handler) ServeAdminWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	if _, err := h.engine.Quiz(r.Context(), quizID); err != nil {
		writeError(w, err)
		return
	}
	roster, err := h.engine.Participants(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(hub.Admins(quizID))
	defer cancel()

	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(outboundMessage{Type: app.EventJoinedUsers, Payload: roster}); err != nil {
		return
	}

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage{Type: update.Name, Payload: update.Payload}); err != nil {
				return
			}
		case <-readerGone:
			return
		}
	}
}
