package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/syntrixbase/syntrix-go/pkg/codes"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Stream endpoints relative to the backend base URL.
	ListenPath = "/v1/listen"
	WritePath  = "/v1/write"
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

// Conn is one bidirectional message stream. Messages delivers inbound
// frames until the stream fails or closes; after the channel is closed,
// Err reports the terminal error, nil for a clean shutdown.
type Conn interface {
	Send(msg BaseMessage) error
	Messages() <-chan BaseMessage
	Err() error
	Close() error
}

// Transport opens message streams against the backend.
type Transport interface {
	Dial(ctx context.Context, path string) (Conn, error)
}

// WebSocketTransport dials websocket streams.
type WebSocketTransport struct {
	BaseURL string
	Dialer  *websocket.Dialer
	Logger  *slog.Logger
}

func NewWebSocketTransport(baseURL string, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{BaseURL: baseURL, Dialer: websocket.DefaultDialer, Logger: logger}
}

func (t *WebSocketTransport) Dial(ctx context.Context, path string) (Conn, error) {
	u, err := url.JoinPath(t.BaseURL, path)
	if err != nil {
		return nil, codes.Wrap(codes.InvalidArgument, err)
	}
	ws, _, err := t.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, codes.Wrap(codes.Unavailable, err)
	}
	c := &wsConn{
		ws:     ws,
		send:   make(chan BaseMessage, 256),
		recv:   make(chan BaseMessage, 256),
		done:   make(chan struct{}),
		logger: t.Logger,
	}
	go c.writePump()
	go c.readPump()
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	send   chan BaseMessage
	recv   chan BaseMessage
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (c *wsConn) Send(msg BaseMessage) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return codes.New(codes.Unavailable, "stream closed")
	}
}

func (c *wsConn) Messages() <-chan BaseMessage { return c.recv }

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

// readPump pumps messages from the websocket connection to the receive
// channel. It is the connection's only reader.
func (c *wsConn) readPump() {
	defer func() {
		close(c.recv)
		c.Close()
	}()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { c.ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("stream closed by server")
			} else {
				select {
				case <-c.done:
					// Local close; not an error.
				default:
					c.fail(codes.Wrap(codes.Unavailable, err))
				}
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("unmarshalling stream message", "error", err)
			continue
		}

		select {
		case c.recv <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump pumps queued messages to the websocket connection. It is the
// connection's only writer.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(message); err != nil {
				c.fail(codes.Wrap(codes.Unavailable, err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(codes.Wrap(codes.Unavailable, err))
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
