package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
	"github.com/vovakirdan/chatrelay/internal/store"
)

// WSHandler upgrades HTTP connections and runs the per-connection chat
// session against the room registry and the message log.
type WSHandler struct {
	registry *core.Registry
	messages store.MessageStore
	auth     *auth.Service
	cfg      config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *core.Registry, messages store.MessageStore, authService *auth.Service, cfg config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		registry: registry,
		messages: messages,
		auth:     authService,
		cfg:      cfg,
		log:      logger,
	}
}

// Handle serves GET /ws/:room_name.
func (h *WSHandler) Handle(c *gin.Context) {
	roomName := c.Param("room_name")
	if strings.TrimSpace(roomName) == "" {
		c.JSON(stdhttp.StatusBadRequest, ErrorResponse{Error: "room name is required"})
		return
	}

	// An optional token pins the username for the whole session; inbound
	// frames may then omit it. Without a token the connection is anonymous
	// and each frame carries its own username.
	var pinned string
	if token := c.Query("token"); token != "" {
		claims, err := h.auth.VerifyToken(token)
		if err != nil {
			c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		pinned = claims.Username
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	s := &session{
		h:        h,
		conn:     conn,
		client:   core.NewClient(h.cfg.SendQueue),
		roomName: roomName,
		pinned:   pinned,
		limiter:  newRateLimiter(h.cfg.MessageRateLimit),
	}
	s.run(c.Request.Context())
}

// session is the state for one connected client: Connecting on creation,
// Joined once it is a room member, Closed when run returns.
type session struct {
	h        *WSHandler
	conn     *websocket.Conn
	client   *core.Client
	roomName string
	pinned   string
	limiter  *rateLimiter

	room *core.Room
	// cursor is the highest persisted message id replayed from history.
	// Live messages at or below it were already delivered in the replay.
	cursor int64
}

func (s *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Join before snapshotting history: every broadcast from this point on
	// lands in the client's queue, and the replay cursor suppresses the
	// prefix the snapshot already covers. No gap, no duplicate.
	s.room = s.h.registry.Join(s.roomName, s.client)
	defer func() {
		if s.room.Leave(s.client) {
			s.h.registry.Remove(s.roomName)
		}
	}()

	s.h.log.Debug().Str("client_id", s.client.ID).Str("room", s.roomName).Msg("client joined")

	if err := s.replayHistory(ctx); err != nil {
		s.h.log.Warn().Err(err).Str("client_id", s.client.ID).Msg("history replay aborted")
		return
	}

	stop := make(chan struct{})
	defer close(stop)
	s.limiter.startReset(stop)

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx)
	}()
	go func() {
		errCh <- s.writeLoop(ctx)
	}()

	err := <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if st := websocket.CloseStatus(err); st != 0 {
			status = st
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			s.h.log.Warn().Err(err).Str("client_id", s.client.ID).Msg("ws connection closed with error")
		}
	}

	s.conn.Close(status, reason)
}

// replayHistory flushes the room's persisted messages to the client in
// ascending order before any live broadcast is forwarded. A storage failure
// is reported to the client and the session continues with an empty replay.
func (s *session) replayHistory(ctx context.Context) error {
	history, err := s.h.messages.ListMessages(ctx, s.roomName, s.h.cfg.HistoryLimit)
	if err != nil {
		s.h.log.Error().Err(err).Str("room", s.roomName).Msg("load history")
		return s.writeError(ctx, proto.CodeStorageError, "history unavailable")
	}

	for _, msg := range history {
		frame := proto.ChatMessage{
			Type:      proto.TypeChatMessage,
			Message:   msg.Content,
			Username:  msg.Username,
			Timestamp: msg.CreatedAt.Format(proto.TimestampLayout),
		}
		if err := wsjson.Write(ctx, s.conn, frame); err != nil {
			return err
		}
		s.cursor = msg.ID
	}
	return nil
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			// Malformed payload rejects the message, not the connection.
			if werr := s.writeError(ctx, proto.CodeBadRequest, "malformed payload"); werr != nil {
				return werr
			}
			continue
		}

		username := s.pinned
		if username == "" {
			username = strings.TrimSpace(inbound.Username)
		}

		switch {
		case strings.TrimSpace(inbound.Message) == "":
			if werr := s.writeError(ctx, proto.CodeBadRequest, "message is required"); werr != nil {
				return werr
			}
			continue
		case username == "":
			if werr := s.writeError(ctx, proto.CodeBadRequest, "username is required"); werr != nil {
				return werr
			}
			continue
		}

		if !s.limiter.allow() {
			if werr := s.writeError(ctx, proto.CodeRateLimited, "too many messages"); werr != nil {
				return werr
			}
			continue
		}

		var broadcast core.Message
		stored, err := s.h.messages.AppendMessage(ctx, s.roomName, username, inbound.Message)
		if err != nil {
			// Persist failed: tell the sender, then broadcast best-effort.
			// The zero id keeps replay cursors from suppressing the message.
			s.h.log.Error().Err(err).Str("room", s.roomName).Msg("append message")
			if werr := s.writeError(ctx, proto.CodeStorageError, "message not persisted"); werr != nil {
				return werr
			}
			broadcast = core.Message{
				Room:      s.roomName,
				Username:  username,
				Content:   inbound.Message,
				CreatedAt: time.Now().UTC(),
			}
		} else {
			broadcast = core.Message{
				ID:        stored.ID,
				Room:      stored.Room,
				Username:  stored.Username,
				Content:   stored.Content,
				CreatedAt: stored.CreatedAt,
			}
		}

		s.room.Broadcast(&broadcast, nil)
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-s.client.Inbox:
			if s.alreadyReplayed(msg) {
				continue
			}
			frame := proto.ChatMessage{
				Type:     proto.TypeChatMessage,
				Message:  msg.Content,
				Username: msg.Username,
			}
			if err := wsjson.Write(ctx, s.conn, frame); err != nil {
				s.h.log.Error().Err(err).Str("client_id", s.client.ID).Msg("write ws message")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// alreadyReplayed reports whether a live message was delivered by the history
// replay and must be suppressed. Unpersisted messages carry a zero id and are
// never suppressed.
func (s *session) alreadyReplayed(msg *core.Message) bool {
	return msg.ID > 0 && msg.ID <= s.cursor
}

func (s *session) writeError(ctx context.Context, code, msg string) error {
	return wsjson.Write(ctx, s.conn, proto.Error{
		Type: proto.TypeError,
		Code: code,
		Msg:  msg,
	})
}
