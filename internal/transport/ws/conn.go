// Package ws adapts gorilla/websocket connections to channel.Transport.
//
// One goroutine reads frames into the channel; one writer goroutine drains
// a bounded queue and sends pings. SendBinary never blocks: a full queue
// marks the peer as stalled and closes it.
package ws

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrTextFrame = errors.New("ws: text frames are not supported")

// Options bound one connection.
type Options struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	PingInterval  time.Duration
	MaxFrameBytes int64
	SendQueue     int

	// TLSConfig is used by Dial for wss URLs.
	TLSConfig *tls.Config
}

// OptionsFrom derives transport options from session config.
func OptionsFrom(cfg session.Config) Options {
	cfg = cfg.WithDefaults()
	return Options{
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		PingInterval:  cfg.HeartbeatInterval,
		MaxFrameBytes: cfg.MaxFrameBytes,
		SendQueue:     cfg.SendQueue,
	}
}

func (o Options) withDefaults() Options {
	d := OptionsFrom(session.Config{})
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	// Pings must land inside the peer's read deadline.
	if o.PingInterval >= o.ReadTimeout {
		o.PingInterval = o.ReadTimeout * 9 / 10
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = d.MaxFrameBytes
	}
	if o.SendQueue <= 0 {
		o.SendQueue = d.SendQueue
	}
	return o
}

// Conn is one websocket carrying binary frames.
type Conn struct {
	ws   *websocket.Conn
	opts Options
	log  zerolog.Logger

	send      chan []byte
	done      chan struct{}
	writerOut chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

var _ channel.Transport = (*Conn)(nil)

// NewConn wraps an established websocket.
func NewConn(c *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:        c,
		opts:      opts,
		log:       log.With().Str("remote", c.RemoteAddr().String()).Logger(),
		send:      make(chan []byte, opts.SendQueue),
		done:      make(chan struct{}),
		writerOut: make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// SendBinary queues one frame for the writer.
func (c *Conn) SendBinary(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Int("queue", cap(c.send)).Msg("send queue full; closing stalled peer")
		c.closeWith(websocket.CloseTryAgainLater, "stalled")
		return false
	}
}

// Close flushes queued frames, sends a close message and closes the socket.
func (c *Conn) Close() error {
	c.closeWith(websocket.CloseNormalClosure, "")
	return nil
}

func (c *Conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once Close has been requested.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Run pumps frames between the socket and ch until either side closes. It
// opens ch first and disconnects it on return.
func (c *Conn) Run(ch *channel.Channel) error {
	go c.writePump()
	ch.Open()
	err := c.readPump(ch)
	c.closeWith(closeCodeFor(err), closeReasonFor(err))
	<-c.writerOut
	ch.Disconnect()
	return err
}

func (c *Conn) readPump(ch *channel.Channel) error {
	c.ws.SetReadLimit(c.opts.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read error")
			}
			return fmt.Errorf("ws: read: %w", err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		if kind != websocket.BinaryMessage {
			c.log.Warn().Int("kind", kind).Msg("non-binary frame; closing")
			return ErrTextFrame
		}
		if err := ch.Receive(data); err != nil {
			c.log.Warn().Str("channel", ch.ID()).Err(err).Msg("fatal frame; closing")
			return err
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.writerOut)
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush drains frames queued before Close, then says goodbye.
func (c *Conn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			c.mu.Lock()
			code, reason := c.closeCode, c.closeReason
			c.mu.Unlock()
			if code == websocket.CloseAbnormalClosure {
				return
			}
			msg := websocket.FormatCloseMessage(code, reason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
			return
		}
	}
}

func (c *Conn) write(frame []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func closeCodeFor(err error) int {
	switch {
	case err == nil:
		return websocket.CloseNormalClosure
	case errors.Is(err, ErrTextFrame):
		return websocket.CloseUnsupportedData
	case errors.Is(err, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig
	default:
		return websocket.CloseProtocolError
	}
}

func closeReasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTextFrame):
		return "binary frames only"
	default:
		return "protocol error"
	}
}
