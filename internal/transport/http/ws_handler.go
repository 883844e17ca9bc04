package http

import (
	"encoding/json"
	"net/http"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/logger"
	"github.com/gorilla/websocket"
)

// WSHandler streams live leaderboard snapshots for one challenge.
type WSHandler struct {
	service  *app.ChallengeService
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ChallengeService, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and pushes a "leaderboard" message on every
// join, submission and update of the challenge until the client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	challengeID := r.URL.Query().Get("challengeId")
	if challengeID == "" {
		http.Error(w, "missing challengeId", http.StatusBadRequest)
		return
	}

	updates, cancel, err := h.service.Subscribe(r.Context(), challengeID)
	if err != nil {
		status, msg := statusFor(err)
		http.Error(w, msg, status)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", "challenge", challengeID, "error", err)
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
				case send <- outboundMessage[any]{Type: "leaderboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ping":
			send <- outboundMessage[any]{Type: "pong", Payload: messagePayload{Message: challengeID}}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: messagePayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
