package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/parley/server/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultSendBuffer = 256
	writeDeadline     = 10 * time.Second
	readDeadline      = 60 * time.Second
	pingInterval      = 30 * time.Second
)

// ConnConfig tunes a connection.
type ConnConfig struct {
	SendBuffer int
	RateRPS    float64 // <= 0 disables command rate limiting
	RateBurst  int
}

// Conn is one realtime connection of an authenticated user. A user may hold
// several connections at once.
type Conn struct {
	ID     string
	UserID int64
	WS     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	mu      sync.Mutex
	lastSeq uint64
	traceID string

	logger *zap.Logger
}

// NewConn creates a connection for userID. When ws is non-nil the write
// goroutine is started; a nil ws gives a detached connection whose outgoing
// frames can be read from Outbox.
func NewConn(userID int64, ws *websocket.Conn, cfg ConnConfig, logger *zap.Logger) *Conn {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	c := &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		WS:     ws,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	if ws != nil {
		go c.writePump()
	}
	return c
}

// writePump drains the send buffer into the socket and pings periodically.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.WS.Close()
	for {
		select {
		case data := <-c.send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("ws write error",
					zap.String("conn_id", c.ID),
					zap.Int64("user_id", c.UserID),
					zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.WS.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and queues it. It never blocks; it reports false when the
// packet was dropped.
func (c *Conn) Send(pkt *Packet) bool {
	data, err := pkt.Encode()
	if err != nil {
		c.logger.Error("packet encode failed", zap.String("type", pkt.Type), zap.Error(err))
		return false
	}
	return c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes without blocking.
func (c *Conn) SendRaw(data []byte) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		metrics.RecordDropped()
		c.logger.Warn("send buffer full, dropping packet",
			zap.String("conn_id", c.ID),
			zap.Int64("user_id", c.UserID))
		return false
	}
}

// Outbox exposes queued frames of a detached connection.
func (c *Conn) Outbox() <-chan []byte { return c.send }

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Allow consumes one command token.
func (c *Conn) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// AcceptSeq enforces monotonically increasing sequence numbers. Seq 0 is
// untracked and always accepted.
func (c *Conn) AcceptSeq(seq uint64) bool {
	if seq == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.lastSeq {
		return false
	}
	c.lastSeq = seq
	return true
}

// LastSeq returns the highest accepted sequence number.
func (c *Conn) LastSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// SetTraceID records the trace id of the command being handled.
func (c *Conn) SetTraceID(id string) {
	c.mu.Lock()
	c.traceID = id
	c.mu.Unlock()
}

// TraceID returns the trace id of the last dispatched command.
func (c *Conn) TraceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceID
}

// ExtendReadDeadline pushes the socket read deadline forward.
func (c *Conn) ExtendReadDeadline() {
	if c.WS != nil {
		_ = c.WS.SetReadDeadline(time.Now().Add(readDeadline))
	}
}
