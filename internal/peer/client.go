// Package peer is the helper-process side of a session: it dials the
// server, authenticates with a role and redials with backoff when the
// connection drops.
package peer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/auth"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/danmuck/ledctl/internal/transport/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrURLRequired  = errors.New("peer: server url required")
	ErrRoleRequired = errors.New("peer: assignable role required")
	ErrGaveUp       = errors.New("peer: reconnect attempts exhausted")
	ErrSessionEnded = errors.New("peer: session ended")
)

// Conn is a dialled transport that pumps frames into a channel until either
// side closes.
type Conn interface {
	channel.Transport
	Run(ch *channel.Channel) error
}

// Dialer opens one connection to the server.
type Dialer func(ctx context.Context) (Conn, error)

// WSDialer dials a websocket endpoint.
func WSDialer(url string, opts ws.Options, header http.Header) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return ws.Dial(ctx, url, opts, header)
	}
}

// SessionFunc runs for the life of one authenticated session. ctx ends when
// the session does. A returned error drops the session and triggers a redial.
type SessionFunc func(ctx context.Context, ch *channel.Channel) error

type Config struct {
	URL      string
	Secret   string
	Role     protocol.Role
	Session  session.Config
	Observer channel.Observer

	// MaxAttempts bounds consecutive redials after a failure. Zero retries
	// forever.
	MaxAttempts int

	// CAFile, when set, is the only authority trusted for wss servers.
	CAFile string
}

// Client keeps one authenticated channel open.
type Client struct {
	cfg  Config
	dial Dialer
	rng  *rand.Rand
	log  zerolog.Logger

	mu       sync.Mutex
	setup    []func(*channel.Channel)
	sessions []SessionFunc
	current  *channel.Channel
	epoch    uint64
}

// New builds a websocket client for cfg.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	opts := ws.OptionsFrom(cfg.Session)
	if path := strings.TrimSpace(cfg.CAFile); path != "" {
		tlsCfg, err := clientTLS(path)
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsCfg
	}
	return NewWithDialer(cfg, WSDialer(cfg.URL, opts, nil))
}

func clientTLS(caFile string) (*tls.Config, error) {
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("peer: read tls ca bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPEM); !ok {
		return nil, fmt.Errorf("peer: parse tls ca bundle: %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// NewWithDialer builds a client over an arbitrary dialer.
func NewWithDialer(cfg Config, dial Dialer) (*Client, error) {
	if !cfg.Role.Assignable() {
		return nil, fmt.Errorf("%w: %s", ErrRoleRequired, cfg.Role)
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Client{
		cfg:  cfg,
		dial: dial,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		log:  log.With().Str("component", "peer").Str("role", cfg.Role.String()).Logger(),
	}, nil
}

// Setup registers fn to run on every new channel before it authenticates.
// Handlers installed here see frames the server sends during the handshake.
func (c *Client) Setup(fn func(*channel.Channel)) {
	c.mu.Lock()
	c.setup = append(c.setup, fn)
	c.mu.Unlock()
}

// OnSession registers fn to run once per authenticated session.
func (c *Client) OnSession(fn SessionFunc) {
	c.mu.Lock()
	c.sessions = append(c.sessions, fn)
	c.mu.Unlock()
}

// Current returns the authenticated channel, or nil between sessions.
func (c *Client) Current() *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Sessions counts sessions established so far.
func (c *Client) Sessions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Run connects and reconnects until ctx ends. It returns nil on
// cancellation and an error when the server refuses the credentials or
// MaxAttempts consecutive redials fail.
func (c *Client) Run(ctx context.Context) error {
	backoff := session.NewBackoff(c.cfg.Session.Backoff, c.rng)
	for {
		if ctx.Err() != nil {
			return nil
		}
		established, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if refused(err) {
			c.log.Error().Err(err).Msg("server refused handshake")
			return err
		}
		if established {
			backoff.Reset()
		}
		delay := backoff.Next()
		if c.cfg.MaxAttempts > 0 && backoff.Attempt() > c.cfg.MaxAttempts {
			return fmt.Errorf("%w after %d: %w", ErrGaveUp, c.cfg.MaxAttempts, err)
		}
		c.log.Warn().Err(err).Int("attempt", backoff.Attempt()).Dur("delay", delay).Msg("session lost; redialling")
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// runOnce dials, authenticates and serves one session. established reports
// whether the handshake succeeded.
func (c *Client) runOnce(ctx context.Context) (established bool, err error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	ch := channel.New(conn, channel.Options{Observer: c.cfg.Observer, Context: ctx})
	c.mu.Lock()
	setup := slices.Clone(c.setup)
	hooks := slices.Clone(c.sessions)
	c.mu.Unlock()
	for _, fn := range setup {
		fn(ch)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ch) }()

	authCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	resp, err := channel.Invoke(authCtx, ch, protocol.MethodAuthenticate, protocol.AuthRequest{
		Secret: c.cfg.Secret,
		Role:   c.cfg.Role,
	})
	cancel()
	if err != nil {
		_ = ch.Close()
		<-runErr
		return false, fmt.Errorf("authenticate: %w", err)
	}
	if err := ch.SetRole(resp.Role); err != nil {
		c.log.Debug().Err(err).Msg("set local role")
	}

	c.mu.Lock()
	c.current = ch
	c.epoch++
	c.mu.Unlock()
	c.log.Info().Str("channel", resp.ChannelID).Msg("session established")
	defer func() {
		c.mu.Lock()
		if c.current == ch {
			c.current = nil
		}
		c.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ch.Context())
	for _, fn := range hooks {
		fn := fn
		g.Go(func() error { return fn(gctx, ch) })
	}
	g.Go(func() error {
		<-gctx.Done()
		_ = ch.Close()
		return nil
	})
	transportErr := <-runErr
	hookErr := g.Wait()
	switch {
	case hookErr != nil:
		return true, hookErr
	case transportErr != nil:
		return true, transportErr
	default:
		return true, ErrSessionEnded
	}
}

// refused reports handshake errors that a redial cannot fix.
func refused(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized) ||
		errors.Is(err, protocol.ErrInvalidRole) ||
		errors.Is(err, protocol.ErrForbidden)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
