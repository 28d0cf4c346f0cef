// Package collab serves the collaboration protocol over websockets. Each
// connection is dispatched frame by frame to the session manager.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/protocol"
	"github.com/dd0wney/cluso-collab/pkg/session"
)

// Sessions is the part of the session manager the endpoint drives
type Sessions interface {
	Register(ctx context.Context, conn session.Conn, req *protocol.RegisterUser) (*protocol.RegisterReply, error)
	Apply(ctx context.Context, conn session.Conn, req *protocol.ApplyInstructions) (*protocol.ApplyInstructions, error)
	Ping(conn session.Conn, req *protocol.Ping) *protocol.Pong
	Disconnect(conn session.Conn)
}

var _ Sessions = (*session.Manager)(nil)

// Handler upgrades requests to websockets and runs one read loop per
// connection on the request goroutine.
type Handler struct {
	cfg      Config
	sessions Sessions
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  *metrics.Registry
}

// NewHandler creates the endpoint
func NewHandler(cfg Config, sessions Sessions) (*Handler, error) {
	if sessions == nil {
		return nil, ErrNoSessions
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		logger:   logging.OrNop(cfg.Logger).With(logging.Component("collab")),
		metrics:  cfg.Metrics,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.cfg.checkOrigin,
	}
	return h, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered with an HTTP error
		h.logger.Debug("websocket upgrade failed", logging.Addr(r.RemoteAddr), logging.Error(err))
		return
	}

	c := newClient(ws, &h.cfg, h.logger, h.metrics)
	h.metrics.WebsocketOpened()
	defer h.metrics.WebsocketClosed()
	h.logger.Debug("connection opened", logging.ConnID(c.id), logging.Addr(r.RemoteAddr))

	go c.writePump()
	h.readPump(context.WithoutCancel(r.Context()), c)
}

func (h *Handler) readPump(ctx context.Context, c *client) {
	defer func() {
		h.sessions.Disconnect(c)
		c.closeWith(websocket.CloseNormalClosure, "")
		h.logger.Debug("connection closed", logging.ConnID(c.id), logging.String("reason", c.closeMsg))
	}()

	c.ws.SetReadLimit(h.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("read failed", logging.ConnID(c.id), logging.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if err := h.dispatch(ctx, c, data); err != nil {
			if errors.Is(err, ErrMalformedFrame) || session.IsFatal(err) {
				h.logger.Warn("closing misbehaving connection", logging.ConnID(c.id), logging.Error(err))
				c.closeWith(websocket.ClosePolicyViolation, err.Error())
			}
			return
		}
	}
}

// dispatch handles one inbound frame. A returned error ends the connection.
func (h *Handler) dispatch(ctx context.Context, c *client, data []byte) error {
	var hdr protocol.Header
	if err := json.Unmarshal(data, &hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if hdr.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	h.metrics.RecordFrame("in", hdr.Type)

	switch hdr.Type {
	case protocol.TypeRegisterUser:
		var req protocol.RegisterUser
		if err := decode(data, &req); err != nil {
			return err
		}
		reply, _ := h.sessions.Register(ctx, c, &req)
		return c.Send(reply)

	case protocol.TypeApplyInstructions:
		var req protocol.ApplyInstructions
		if err := decode(data, &req); err != nil {
			return err
		}
		reply, err := h.sessions.Apply(ctx, c, &req)
		if session.IsFatal(err) {
			return err
		}
		return c.Send(reply)

	case protocol.TypePing:
		var req protocol.Ping
		if err := decode(data, &req); err != nil {
			return err
		}
		return c.Send(h.sessions.Ping(c, &req))

	default:
		return c.Send(&protocol.Nack{
			Header:   protocol.Header{Type: hdr.Type, ID: hdr.ID},
			Response: protocol.Fail(fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)),
		})
	}
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
