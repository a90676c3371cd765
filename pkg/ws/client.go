// Package ws wraps a gorilla WebSocket connection behind a synchronous
// receive-with-timeout interface. A single read pump goroutine owns the
// connection reads and feeds a buffered frame channel, so a receive timeout
// does not poison the underlying connection the way a read deadline would.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20 // 1MB
	frameBufferSize     = 1024
)

var (
	// ErrReadTimeout is returned when no frame arrives within the timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("connection closed")
)

// Client handles one WebSocket connection lifecycle: dial, subscribe writes,
// frame reads and keepalive pings. It carries no retry logic; callers decide
// when to redial a failed connection.
type Client struct {
	name string
	url  string
	log  *zap.Logger

	writeTimeout time.Duration

	mu     sync.Mutex // guards conn and writes
	conn   *websocket.Conn
	frames chan []byte
	pong   chan struct{}
	done   chan struct{} // closed when the read pump exits
	errVal error         // read pump exit cause, valid after done is closed
}

// NewClient creates a client for the given endpoint. Dial must be called
// before any other method.
func NewClient(name, url string, log *zap.Logger) *Client {
	return &Client{
		name:         name,
		url:          url,
		log:          log,
		writeTimeout: defaultWriteTimeout,
	}
}

// Dial establishes a fresh connection and starts the read pump. Any previous
// connection is discarded first.
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(defaultReadLimit)

	frames := make(chan []byte, frameBufferSize)
	pong := make(chan struct{}, 1)
	done := make(chan struct{})

	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	c.conn = conn
	c.frames = frames
	c.pong = pong
	c.done = done

	go c.readPump(conn, frames, done)

	c.log.Info("websocket connected", zap.String("exchange", c.name), zap.String("url", c.url))
	return nil
}

// readPump owns all reads on conn. It exits on the first read error; the
// exit cause is published via c.errVal before done is closed.
func (c *Client) readPump(conn *websocket.Conn, frames chan<- []byte, done chan struct{}) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.done == done {
				c.errVal = err
			}
			c.mu.Unlock()
			close(done)
			return
		}
		select {
		case frames <- msg:
		default:
			// Buffer full: the consumer is stalled. Dropping keeps the
			// pump alive; the consumer observes the gap via metrics.
			c.log.Warn("frame buffer full, dropping frame", zap.String("exchange", c.name))
		}
	}
}

// WriteJSON sends one JSON message with the configured write timeout.
func (c *Client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Receive returns the next data frame, ErrReadTimeout when nothing arrives in
// time, or ErrClosed once the connection is gone.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	frames, done := c.frames, c.done
	c.mu.Unlock()
	if frames == nil {
		return nil, ErrClosed
	}

	// Drain buffered frames before consulting the done channel, so frames
	// read before a disconnect are not lost.
	select {
	case msg := <-frames:
		return msg, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-frames:
		return msg, nil
	case <-done:
		return nil, fmt.Errorf("%w: %v", ErrClosed, c.exitCause())
	case <-timer.C:
		return nil, ErrReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping sends a keepalive and waits up to timeout for liveness confirmation.
// Either a pong or a data frame arriving counts as liveness; a frame consumed
// here stays buffered for the next Receive.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	conn, frames, pong, done := c.conn, c.frames, c.pong, c.done
	if conn == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	// Drop a stale pong from a previous probe.
	select {
	case <-pong:
	default:
	}
	err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pong:
		return nil
	case msg := <-frames:
		// Traffic is liveness. Put the frame back for Receive.
		select {
		case frames <- msg:
		default:
		}
		return nil
	case <-done:
		return fmt.Errorf("%w: %v", ErrClosed, c.exitCause())
	case <-timer.C:
		return ErrReadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unread puts a frame back into the receive buffer. Used when a subscription
// probe reads past the acknowledgement into the data stream.
func (c *Client) Unread(msg []byte) {
	c.mu.Lock()
	frames := c.frames
	c.mu.Unlock()
	if frames == nil {
		return
	}
	select {
	case frames <- msg:
	default:
	}
}

// Close tears down the connection. The read pump exits on its own once the
// underlying reads start failing.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.frames = nil
	return err
}

func (c *Client) exitCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}
