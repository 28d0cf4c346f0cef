package collab

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dd0wney/cluso-collab/pkg/logging"
	"github.com/dd0wney/cluso-collab/pkg/metrics"
	"github.com/dd0wney/cluso-collab/pkg/session"
)

// client is one websocket connection. Frames are queued on send and
// written by writePump, so Send never blocks the session pipeline.
type client struct {
	id      string
	ws      *websocket.Conn
	cfg     *Config
	logger  logging.Logger
	metrics *metrics.Registry

	send chan []byte
	done chan struct{}
	open atomic.Bool

	closeOnce sync.Once
	closeCode int
	closeMsg  string
}

var _ session.Conn = (*client)(nil)

func newClient(ws *websocket.Conn, cfg *Config, logger logging.Logger, m *metrics.Registry) *client {
	c := &client{
		id:      uuid.NewString(),
		ws:      ws,
		cfg:     cfg,
		metrics: m,
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	c.logger = logger.With(logging.ConnID(c.id))
	c.open.Store(true)
	return c
}

func (c *client) ID() string { return c.id }
func (c *client) Open() bool { return c.open.Load() }

// Send encodes frame and queues it. A full queue means the peer is not
// reading; the connection is closed rather than stalling the sender.
func (c *client) Send(frame any) error {
	if !c.open.Load() {
		return ErrConnClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
	case <-c.done:
		return ErrConnClosed
	default:
		c.closeWith(websocket.CloseTryAgainLater, ErrSendBufferFull.Error())
		return ErrSendBufferFull
	}

	msgType := "unknown"
	if t, ok := frame.(interface{ MessageType() string }); ok {
		msgType = t.MessageType()
	}
	c.metrics.RecordFrame("out", msgType)
	return nil
}

// Close ends the connection with a normal close frame carrying reason
func (c *client) Close(reason string) error {
	c.closeWith(websocket.CloseNormalClosure, reason)
	return nil
}

func (c *client) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeMsg = code, reason
		c.open.Store(false)
		close(c.done)
	})
}

// writePump owns all writes to ws. It drains queued frames before sending
// the close frame, so a notice queued ahead of Close is delivered.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", logging.Error(err))
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.drain()
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeMsg))
			}
			return
		}
	}
}

func (c *client) drain() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *client) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}
