package chat

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ksred/p2p-usdt-api/internal/auth"
	"github.com/ksred/p2p-usdt-api/pkg/apperr"
	"github.com/ksred/p2p-usdt-api/pkg/response"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// streamFrame is what the server writes to a chat socket
type streamFrame struct {
	Type    string          `json:"type"` // message or error
	Message *Message        `json:"message,omitempty"`
	Error   *response.Error `json:"error,omitempty"`
}

// StreamHandler handles GET /p2p/orders/:id/chat/ws. The socket first replays
// the conversation, then pushes new messages as they are appended. Frames sent
// by the client ({"body": "..."}) are appended as user messages.
func (h *GinHandlers) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("id")
		wallet := auth.WalletFromContext(c)

		if err := h.service.authorizeReader(c.Request.Context(), orderID, wallet); err != nil {
			response.Handle(c, nil, err)
			return
		}
		if h.service.hub == nil {
			response.NotFound(c, "Live chat is not enabled")
			return
		}

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already written the HTTP error
			return
		}

		h.serveStream(conn, orderID, wallet)
	}
}

func (h *GinHandlers) serveStream(conn *websocket.Conn, orderID, wallet string) {
	logger := log.With().
		Str("order_id", orderID).
		Str("wallet", wallet).
		Str("component", "chat_stream").
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	// subscribe before replaying so nothing appended in between is missed
	sub := h.service.hub.Subscribe(orderID)
	defer sub.Close()

	failures := make(chan error, 1)
	go h.readLoop(ctx, cancel, conn, orderID, wallet, failures)

	write := func(frame streamFrame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug().Err(err).Msg("chat stream write failed")
			return false
		}
		return true
	}

	// live messages up to the last replayed id were already sent
	var replayedID uint
	for msg, err := range h.service.Messages(ctx, orderID) {
		if err != nil {
			logger.Error().Err(err).Msg("failed to replay chat")
			return
		}
		if !write(streamFrame{Type: "message", Message: &msg}) {
			return
		}
		replayedID = msg.ID
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(writeWait))
				return
			}
			if msg.ID <= replayedID {
				continue
			}
			if !write(streamFrame{Type: "message", Message: &msg}) {
				return
			}
		case err := <-failures:
			frame := streamFrame{Type: "error", Error: &response.Error{Code: string(apperr.KindOf(err)), Message: err.Error()}}
			if frame.Error.Code == "" {
				frame.Error.Code = response.ErrCodeInternalError
			}
			if !write(frame) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *GinHandlers) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, orderID, wallet string, failures chan<- error) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var request AppendRequest
		if err := conn.ReadJSON(&request); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if _, err := h.service.Append(ctx, orderID, wallet, request.Body, KindUser); err != nil {
			select {
			case failures <- err:
			default:
			}
		}
	}
}
