// Package client is a Go chat client for the realtime gateway. It renders
// sends optimistically and reconciles them with server acknowledgements.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/parley/server/gateway"
	"github.com/kasuganosora/parley/server/message"
	"github.com/kasuganosora/parley/server/model"
	"go.uber.org/zap"
)

const (
	tempIDPrefix      = "temp-"
	writeWait         = 5 * time.Second
	minExpiryInterval = 10 * time.Millisecond
)

// ErrClosed is returned by operations on a closed client.
var ErrClosed = errors.New("client closed")

// Config configures a Client.
type Config struct {
	// URL is the gateway endpoint, e.g. ws://host/ws.
	URL    string
	Token  string
	UserID int64
	// AckTimeout fails optimistic messages that are not acknowledged in time.
	AckTimeout time.Duration
	Dialer     *websocket.Dialer
}

// Handlers are the event callbacks. Each is optional and runs on the
// client's read or expiry goroutine.
type Handlers struct {
	OnMessage      func(Entry)
	OnAck          func(Entry)
	OnFailed       func(Entry)
	OnNotification func(gateway.Notification)
	OnDeleted      func(id int64)
	OnUpdated      func(model.Message)
	OnError        func(event, msg string)
}

// Client is a connected chat session.
type Client struct {
	cfg      Config
	ws       *websocket.Conn
	rec      *Reconciler
	handlers Handlers
	logger   *zap.Logger

	writeMu   sync.Mutex
	seq       atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to the gateway and starts the read and expiry loops.
func Dial(ctx context.Context, cfg Config, h Handlers, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:      cfg,
		ws:       ws,
		rec:      NewReconciler(cfg.AckTimeout),
		handlers: h,
		logger:   logger,
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	if cfg.AckTimeout > 0 {
		c.wg.Add(1)
		go c.expiryLoop()
	}
	return c, nil
}

// Reconciler exposes the client's timelines.
func (c *Client) Reconciler() *Reconciler { return c.rec }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Join subscribes to room broadcasts.
func (c *Client) Join(room string) error {
	return c.send(gateway.EventJoinChannel, room)
}

// Leave unsubscribes from room broadcasts.
func (c *Client) Leave(room string) error {
	return c.send(gateway.EventLeaveChannel, room)
}

// SendChannel posts content to a channel and returns the temp id of the
// optimistic entry.
func (c *Client) SendChannel(channelID int64, content string) (string, error) {
	return c.sendMessage(message.ChannelRoom(channelID), gateway.SendMessage{
		Content:   content,
		ChannelID: &channelID,
	})
}

// SendDM posts content to a direct-message session.
func (c *Client) SendDM(dmID int64, content string) (string, error) {
	return c.sendMessage(message.DMRoom(dmID), gateway.SendMessage{
		Content: content,
		DMID:    &dmID,
	})
}

func (c *Client) sendMessage(room string, cmd gateway.SendMessage) (string, error) {
	cmd.TempID = tempIDPrefix + uuid.NewString()
	cmd.SenderID = c.cfg.UserID
	c.rec.AddLocal(room, cmd.TempID, cmd.Content, cmd.SenderID, time.Now())
	if err := c.send(gateway.EventSendMessage, cmd); err != nil {
		if e, ok := c.rec.Fail(cmd.TempID, err.Error()); ok && c.handlers.OnFailed != nil {
			c.handlers.OnFailed(e)
		}
		return cmd.TempID, err
	}
	return cmd.TempID, nil
}

// Delete asks the server to delete a message.
func (c *Client) Delete(id int64) error {
	return c.send(gateway.EventDeleteMessage, id)
}

func (c *Client) send(typ string, payload interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	pkt, err := gateway.NewPacket(typ, payload)
	if err != nil {
		return err
	}
	pkt.Seq = c.seq.Add(1)
	data, err := pkt.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close ends the session and waits for the client goroutines.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	c.wg.Wait()
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("client read ended", zap.Error(err))
			}
			return
		}
		var pkt gateway.Packet
		if err := json.Unmarshal(data, &pkt); err != nil {
			c.logger.Warn("client: malformed packet", zap.Error(err))
			continue
		}
		if err := c.handle(pkt); err != nil {
			c.logger.Warn("client: bad payload", zap.String("type", pkt.Type), zap.Error(err))
		}
	}
}

func (c *Client) handle(pkt gateway.Packet) error {
	h := c.handlers
	switch pkt.Type {
	case gateway.EventMessageAcknowledged:
		var ack gateway.Acknowledgement
		if err := json.Unmarshal(pkt.Payload, &ack); err != nil {
			return err
		}
		if e, ok := c.rec.Acknowledge(ack.TempID, ack.Message); ok && h.OnAck != nil {
			h.OnAck(e)
		}
	case gateway.EventReceiveMessage:
		var d gateway.Delivery
		if err := json.Unmarshal(pkt.Payload, &d); err != nil {
			return err
		}
		if e, added := c.rec.Receive(d.Message, d.SenderUsername); added && h.OnMessage != nil {
			h.OnMessage(e)
		}
	case gateway.EventReceiveNotification:
		var n gateway.Notification
		if err := json.Unmarshal(pkt.Payload, &n); err != nil {
			return err
		}
		if h.OnNotification != nil {
			h.OnNotification(n)
		}
	case gateway.EventMessageDeleted:
		var id int64
		if err := json.Unmarshal(pkt.Payload, &id); err != nil {
			return err
		}
		c.rec.Remove(id)
		if h.OnDeleted != nil {
			h.OnDeleted(id)
		}
	case gateway.EventMessageUpdated:
		var m model.Message
		if err := json.Unmarshal(pkt.Payload, &m); err != nil {
			return err
		}
		c.rec.Update(m)
		if h.OnUpdated != nil {
			h.OnUpdated(m)
		}
	case gateway.EventSendFailed:
		var f gateway.SendFailure
		if err := json.Unmarshal(pkt.Payload, &f); err != nil {
			return err
		}
		if e, ok := c.rec.Fail(f.TempID, f.Error); ok && h.OnFailed != nil {
			h.OnFailed(e)
		}
	case gateway.EventDeleteFailed:
		var f gateway.DeleteFailure
		if err := json.Unmarshal(pkt.Payload, &f); err != nil {
			return err
		}
		if h.OnError != nil {
			h.OnError(pkt.Type, f.Error)
		}
	case gateway.EventError:
		var e struct {
			Event   string `json:"event"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(pkt.Payload, &e); err != nil {
			return err
		}
		if h.OnError != nil {
			h.OnError(e.Event, e.Message)
		}
	default:
		c.logger.Debug("client: ignoring packet", zap.String("type", pkt.Type))
	}
	return nil
}

func (c *Client) expiryLoop() {
	defer c.wg.Done()
	interval := c.cfg.AckTimeout / 4
	if interval < minExpiryInterval {
		interval = minExpiryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			for _, e := range c.rec.Expire(now) {
				if c.handlers.OnFailed != nil {
					c.handlers.OnFailed(e)
				}
			}
		case <-c.done:
			return
		}
	}
}
