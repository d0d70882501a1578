package peer

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ledctl/internal/auth"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/danmuck/ledctl/internal/testutil/testlog"
	"github.com/danmuck/ledctl/internal/transport/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "garage"

var fastBackoff = session.Config{
	Backoff: session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond},
}

type server struct {
	reg *session.Registry
	url string

	mu     sync.Mutex
	joined []*channel.Channel
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{reg: session.NewRegistry(session.Config{}, auth.SharedSecret{Secret: secret})}
	s.reg.OnAuthenticated(func(ch *channel.Channel) {
		s.mu.Lock()
		s.joined = append(s.joined, ch)
		s.mu.Unlock()
	})
	srv := httptest.NewServer(ws.NewHandler(s.reg, ws.Options{}))
	t.Cleanup(func() {
		s.reg.Shutdown()
		srv.Close()
	})
	s.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return s
}

func (s *server) last() *channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.joined) == 0 {
		return nil
	}
	return s.joined[len(s.joined)-1]
}

func (s *server) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joined)
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- c.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(3 * time.Second):
			t.Error("client did not stop")
		}
	})
	return cancel, done
}

func TestNewValidates(t *testing.T) {
	testlog.Start(t)
	_, err := New(Config{Role: protocol.RoleAudioServer})
	assert.ErrorIs(t, err, ErrURLRequired)
	_, err = New(Config{URL: "ws://localhost/ws", Role: protocol.RoleNone})
	assert.ErrorIs(t, err, ErrRoleRequired)
}

func TestClientAuthenticatesAndRunsSession(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	c, err := New(Config{URL: srv.url, Secret: secret, Role: protocol.RolePiServer, Session: fastBackoff})
	require.NoError(t, err)

	started := make(chan protocol.Role, 1)
	c.OnSession(func(ctx context.Context, ch *channel.Channel) error {
		started <- ch.Role()
		<-ctx.Done()
		return nil
	})
	runClient(t, c)

	select {
	case role := <-started:
		assert.Equal(t, protocol.RolePiServer, role)
	case <-time.After(3 * time.Second):
		t.Fatal("session never started")
	}
	assert.NotNil(t, c.Current())
	require.Eventually(t, func() bool { return srv.reg.Peers()[protocol.RolePiServer] == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientRedialsAfterDrop(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	c, err := New(Config{URL: srv.url, Secret: secret, Role: protocol.RoleAudioServer, Session: fastBackoff})
	require.NoError(t, err)
	runClient(t, c)

	require.Eventually(t, func() bool { return srv.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, srv.last().Close())
	require.Eventually(t, func() bool { return srv.count() == 2 }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return c.Sessions() == 2 }, 3*time.Second, 10*time.Millisecond)
}

func TestSetupHandlersSeeHandshakeFrames(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	srv.reg.OnAuthenticated(func(ch *channel.Channel) {
		channel.Publish(ch, protocol.RouteGPIOWrite, protocol.GPIOWrite{R: 7})
	})
	c, err := New(Config{URL: srv.url, Secret: secret, Role: protocol.RolePiServer, Session: fastBackoff})
	require.NoError(t, err)

	got := make(chan protocol.GPIOWrite, 1)
	c.Setup(func(ch *channel.Channel) {
		channel.Subscribe(ch, protocol.RouteGPIOWrite, func(_ *channel.Channel, m protocol.GPIOWrite) { got <- m })
	})
	runClient(t, c)

	select {
	case m := <-got:
		assert.Equal(t, uint16(7), m.R)
	case <-time.After(3 * time.Second):
		t.Fatal("join frame not delivered")
	}
}

func TestWrongSecretStopsClient(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	c, err := New(Config{URL: srv.url, Secret: "nope", Role: protocol.RoleClient, Session: fastBackoff})
	require.NoError(t, err)
	_, done := runClient(t, c)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
	case <-time.After(3 * time.Second):
		t.Fatal("client kept retrying a refused secret")
	}
}

func TestDialFailuresGiveUp(t *testing.T) {
	testlog.Start(t)
	var dials atomic.Int32
	boom := errors.New("connection refused")
	c, err := NewWithDialer(Config{Role: protocol.RoleClient, MaxAttempts: 3, Session: fastBackoff}, func(context.Context) (Conn, error) {
		dials.Add(1)
		return nil, boom
	})
	require.NoError(t, err)
	_, done := runClient(t, c)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrGaveUp)
		assert.ErrorIs(t, err, boom)
	case <-time.After(3 * time.Second):
		t.Fatal("client never gave up")
	}
	assert.Equal(t, int32(4), dials.Load())
}

func TestFailingSessionHookRedials(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	c, err := New(Config{URL: srv.url, Secret: secret, Role: protocol.RoleBackgroundApp, Session: fastBackoff})
	require.NoError(t, err)
	var runs atomic.Int32
	c.OnSession(func(ctx context.Context, ch *channel.Channel) error {
		if runs.Add(1) == 1 {
			return errors.New("hook failed")
		}
		<-ctx.Done()
		return nil
	})
	runClient(t, c)

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, srv.count(), 2)
}

func TestCancelStopsRun(t *testing.T) {
	testlog.Start(t)
	srv := newServer(t)
	c, err := New(Config{URL: srv.url, Secret: secret, Role: protocol.RoleClient, Session: fastBackoff})
	require.NoError(t, err)
	cancel, done := runClient(t, c)
	require.Eventually(t, func() bool { return c.Current() != nil }, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run ignored cancellation")
	}
	require.Eventually(t, func() bool { return srv.reg.Peers()[protocol.RoleClient] == 0 }, 2*time.Second, 10*time.Millisecond)
}
