package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"classroom-live-service/internal/app"
	"classroom-live-service/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultSendBuffer = 32
	writeWait         = 10 * time.Second
	maxMessageSize    = 4 << 20
)

type WSHandler struct {
	controller *app.Controller
	upgrader   websocket.Upgrader
	validate   *validator.Validate
	sendBuffer int
}

// NewWSHandler serves room sessions over websockets. sendBuffer bounds the outbound
// queue of each connection; events for a full queue are dropped.
func NewWSHandler(controller *app.Controller, sendBuffer int) *WSHandler {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &WSHandler{
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		sendBuffer: sendBuffer,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type chatPayload struct {
	Msg string `json:"msg" validate:"required"`
}

// startQuizPayload carries either a full master quiz or the id of a bank quiz.
type startQuizPayload struct {
	QuizID string `json:"quizId"`
	domain.Quiz
}

// submitPayload has no name: submissions are always attributed to the connection's member.
type submitPayload struct {
	Email   string         `json:"email" validate:"omitempty,email"`
	Class   string         `json:"class" validate:"omitempty,max=120"`
	Version int64          `json:"version" validate:"gte=0"`
	Answers domain.Answers `json:"answers"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsConn is the domain.Conn of one websocket. Sends never block: a full queue or a
// closed connection drops the event.
type wsConn struct {
	id   string
	send chan domain.Envelope

	mu     sync.Mutex
	closed bool
}

func newWSConn(buffer int) *wsConn {
	return &wsConn{id: uuid.NewString(), send: make(chan domain.Envelope, buffer)}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(env domain.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades HTTP requests to websockets and wires them into the session controller.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	name := r.URL.Query().Get("name")
	role := domain.Role(r.URL.Query().Get("role"))
	if roomID == "" || name == "" || !role.Valid() {
		http.Error(w, "missing room or name, or role is not teacher/student", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "ws: upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessageSize)

	conn := newWSConn(h.sendBuffer)
	writerDone := make(chan struct{})
	go h.writeLoop(ws, conn, writerDone)

	ctx := r.Context()
	logger := slog.With("room", roomID, "name", name, "role", role, "conn", conn.ID())

	_, err = h.controller.Join(ctx, roomID, domain.Participant{
		Name:     name,
		Role:     role,
		Conn:     conn,
		JoinedAt: time.Now(),
	})
	if err != nil {
		h.reject(conn, roomID, err)
		conn.close()
		<-writerDone
		return
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.WarnContext(ctx, "ws: read failed", "error", err)
			}
			break
		}
		var inbound inboundMessage
		if err := json.Unmarshal(data, &inbound); err != nil || inbound.Type == "" {
			logger.WarnContext(ctx, "ws: undecodable frame", "error", err)
			h.reject(conn, roomID, fmt.Errorf("%w: frame is not an event envelope", domain.ErrMalformedPayload))
			continue
		}
		if inbound.Type == "leave" {
			break
		}
		if err := h.dispatch(ctx, roomID, conn.ID(), inbound); err != nil {
			logger.WarnContext(ctx, "ws: event rejected", "type", inbound.Type, "error", err)
			h.reject(conn, roomID, err)
		}
	}

	h.controller.Leave(context.WithoutCancel(ctx), roomID, name, role, conn.ID())
	conn.close()
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, roomID, connID string, in inboundMessage) error {
	switch domain.EventKind(in.Type) {
	case domain.EventChat:
		var p chatPayload
		if err := h.decode(in.Payload, &p); err != nil {
			return err
		}
		return h.controller.Chat(ctx, roomID, connID, domain.ChatMessage{Msg: p.Msg})

	case "startQuiz", domain.EventQuizStart:
		var p startQuizPayload
		if err := h.decode(in.Payload, &p); err != nil {
			return err
		}
		if p.QuizID != "" && p.QuestionCount() == 0 {
			_, err := h.controller.StartBankQuiz(ctx, roomID, connID, p.QuizID)
			return err
		}
		_, err := h.controller.StartQuiz(ctx, roomID, connID, p.Quiz)
		return err

	case "submit":
		var p submitPayload
		if err := h.decode(in.Payload, &p); err != nil {
			return err
		}
		return h.controller.Submit(ctx, roomID, connID, domain.Submission{
			Identity: domain.Identity{Email: p.Email, Class: p.Class},
			Version:  p.Version,
			Answers:  p.Answers,
		})

	case domain.EventCamera, domain.EventSlide:
		return h.controller.Relay(ctx, roomID, connID, domain.EventKind(in.Type), in.Payload)

	default:
		return fmt.Errorf("%w: unsupported message type %q", domain.ErrMalformedPayload, in.Type)
	}
}

func (h *WSHandler) decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	return nil
}

func (h *WSHandler) reject(conn *wsConn, roomID string, err error) {
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrMalformedPayload):
		msg = "malformed payload"
	case errors.Is(err, domain.ErrForbidden):
		msg = "forbidden"
	case errors.Is(err, domain.ErrParticipantNotFound):
		msg = "not a member of this room"
	case errors.Is(err, domain.ErrBankQuizNotFound):
		msg = "quiz not found"
	}
	conn.Send(domain.Envelope{Type: domain.EventError, Room: roomID, Payload: errorPayload{Message: msg}})
}

// writeLoop is the only writer of ws. After a write error it keeps draining the queue
// so senders never see a stuck channel.
func (h *WSHandler) writeLoop(ws *websocket.Conn, conn *wsConn, done chan<- struct{}) {
	defer close(done)
	failed := false
	for env := range conn.send {
		if failed {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteJSON(env); err != nil {
			slog.Warn("ws: write failed", "conn", conn.ID(), "error", err)
			failed = true
			_ = ws.Close()
		}
	}
	if !failed {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
