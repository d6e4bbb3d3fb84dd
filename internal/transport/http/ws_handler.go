package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-poll-service/internal/app"
	"live-poll-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

type WSHandler struct {
	service  *app.LiveService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler builds the websocket endpoint. An empty origin list accepts
// any origin.
func NewWSHandler(service *app.LiveService, logger *slog.Logger, allowedOrigins []string) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type inboundMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Code string `json:"code"`
}

type launchPayload struct {
	Draft   *domain.PollDraft `json:"draft,omitempty"`
	DraftID string            `json:"draftId,omitempty"`
}

type endPollPayload struct {
	PollID string `json:"pollId"`
}

type answerPayload struct {
	PollID          string `json:"pollId"`
	OptionIndex     *int   `json:"optionIndex"`
	ClientTimestamp int64  `json:"clientTimestamp,omitempty"`
}

type endPollResult struct {
	Results domain.PollResults `json:"results"`
	Closed  bool               `json:"closed"`
}

type outboundMessage[T any] struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Seq       uint64 `json:"seq,omitempty"`
	Payload   T      `json:"payload"`

	closeAfter bool
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsClient is one connection. The read loop owns code and sub; the writer
// goroutine is the only one touching the socket for writes.
type wsClient struct {
	h      *WSHandler
	conn   *websocket.Conn
	userID string
	name   string

	send       chan outboundMessage[any]
	writerDone chan struct{}

	code      string
	sub       *app.Subscription
	forwarder sync.WaitGroup
}

// ServeWS upgrades the request and runs the session protocol until the peer
// goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c := &wsClient{
		h:          h,
		conn:       conn,
		userID:     userID,
		name:       displayName,
		send:       make(chan outboundMessage[any], sendBuffer),
		writerDone: make(chan struct{}),
	}
	go c.writePump()

	c.readPump(r.Context())

	c.detach(context.Background(), true)
	close(c.send)
	<-c.writerDone
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.writerDone)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.h.logger.Debug("ws write failed", "user", c.userID, "error", err)
				return
			}
			if msg.closeAfter {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg.Type))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands a message to the writer. It returns false once the writer
// has stopped.
func (c *wsClient) enqueue(msg outboundMessage[any]) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.writerDone:
		return false
	}
}

func (c *wsClient) reply(typ, requestID string, payload any) {
	c.enqueue(outboundMessage[any]{Type: typ, RequestID: requestID, Payload: payload})
}

func (c *wsClient) fail(requestID string, err error) {
	code := string(domain.KindOf(err))
	message := err.Error()
	if code == "" {
		code = "internal"
		message = "internal error"
		c.h.logger.Error("ws request failed", "user", c.userID, "session", c.code, "error", err)
	}
	c.reply("error", requestID, errorPayload{Code: code, Message: message})
}

func (c *wsClient) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// the writer answers a close frame once the connection is detached
	c.conn.SetCloseHandler(func(int, string) error { return nil })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.h.logger.Debug("ws read failed", "user", c.userID, "error", err)
			}
			return
		}
		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			c.fail("", domain.NewError(domain.KindValidation, "malformed message"))
			continue
		}
		c.dispatch(ctx, in)
	}
}

func (c *wsClient) dispatch(ctx context.Context, in inboundMessage) {
	switch in.Type {
	case "join-session":
		var p joinPayload
		if err := decode(in.Payload, &p); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		c.join(ctx, in.RequestID, p.Code)
	case "leave-session":
		if err := c.requireSession(); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		code := c.code
		err := c.h.service.LeaveSession(ctx, code, c.userID)
		c.detach(ctx, false)
		if err != nil {
			c.fail(in.RequestID, err)
			return
		}
		c.reply("ack", in.RequestID, joinPayload{Code: code})
	case "launch-poll":
		var p launchPayload
		if err := decode(in.Payload, &p); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		if err := c.requireSession(); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		var (
			poll domain.Poll
			err  error
		)
		switch {
		case p.DraftID != "":
			poll, err = c.h.service.LaunchDraft(ctx, c.code, c.userID, p.DraftID)
		case p.Draft != nil:
			poll, err = c.h.service.LaunchPoll(ctx, c.code, c.userID, *p.Draft)
		default:
			err = domain.NewError(domain.KindValidation, "draft or draftId is required")
		}
		if err != nil {
			c.fail(in.RequestID, err)
			return
		}
		c.reply("ack", in.RequestID, poll)
	case "end-poll":
		var p endPollPayload
		if err := decode(in.Payload, &p); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		if err := c.requireSession(); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		results, closed, err := c.h.service.ClosePoll(ctx, c.code, c.userID, p.PollID)
		if err != nil {
			c.fail(in.RequestID, err)
			return
		}
		c.reply("ack", in.RequestID, endPollResult{Results: results, Closed: closed})
	case "submit-answer":
		var p answerPayload
		if err := decode(in.Payload, &p); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		if p.OptionIndex == nil {
			c.fail(in.RequestID, domain.NewError(domain.KindValidation, "optionIndex is required"))
			return
		}
		if err := c.requireSession(); err != nil {
			c.fail(in.RequestID, err)
			return
		}
		sub := app.Submission{PollID: p.PollID, OptionIndex: *p.OptionIndex}
		if p.ClientTimestamp > 0 {
			sub.ClientTimestamp = time.UnixMilli(p.ClientTimestamp).UTC()
		}
		answer, err := c.h.service.SubmitAnswer(ctx, c.code, c.userID, sub)
		if err != nil {
			c.fail(in.RequestID, err)
			return
		}
		c.reply("answer-accepted", in.RequestID, answer)
	case "ping":
		c.reply("pong", in.RequestID, struct{}{})
	default:
		c.fail(in.RequestID, domain.NewError(domain.KindValidation, "unsupported message type"))
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.NewError(domain.KindValidation, "payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewError(domain.KindValidation, "invalid payload")
	}
	return nil
}

func (c *wsClient) requireSession() error {
	if c.code == "" {
		return domain.NewError(domain.KindState, "join a session first")
	}
	return nil
}

// join (re)subscribes the connection. The previous subscription, if any, is
// closed first so the client never sees two event streams.
func (c *wsClient) join(ctx context.Context, requestID, code string) {
	code = app.NormalizeCode(code)
	c.detach(ctx, c.code != code)

	resync, sub, err := c.h.service.JoinSession(ctx, code, app.ParticipantJoin{ID: c.userID, DisplayName: c.name})
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.code = resync.Session.Code
	c.sub = sub
	// joined is queued before the forwarder starts so it precedes every event
	c.reply("joined", requestID, resync)
	c.forwarder.Add(1)
	go c.forward(sub)
}

// detach drops the event stream. With disconnect set the member is marked
// disconnected too, unless another of their connections is still joined.
func (c *wsClient) detach(ctx context.Context, disconnect bool) {
	if c.sub == nil {
		return
	}
	if disconnect {
		if err := c.h.service.Disconnect(ctx, c.code, c.sub); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.h.logger.Warn("disconnect failed", "user", c.userID, "session", c.code, "error", err)
		}
	} else {
		c.sub.Close()
	}
	c.forwarder.Wait()
	c.sub = nil
	c.code = ""
}

func (c *wsClient) forward(sub *app.Subscription) {
	defer c.forwarder.Done()
	for ev := range sub.Events() {
		if !c.enqueue(outboundMessage[any]{Type: string(ev.Type), Seq: ev.Seq, Payload: ev.Payload}) {
			return
		}
	}
	if errors.Is(sub.Err(), app.ErrSlowConsumer) {
		c.enqueue(outboundMessage[any]{
			Type:       "error",
			Payload:    errorPayload{Code: "slow_consumer", Message: "event stream lagged; reconnect to resync"},
			closeAfter: true,
		})
	}
}
