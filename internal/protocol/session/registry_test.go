package session

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ledctl/internal/auth"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/testutil/pipe"
	"github.com/danmuck/ledctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hunter2"

type conn struct {
	client   *channel.Channel
	server   *channel.Channel
	toClient *pipe.End
}

// dial attaches a fresh in-memory connection to reg.
func dial(t *testing.T, reg *Registry) conn {
	t.Helper()
	p := pipe.Dial(reg)
	t.Cleanup(func() { _ = p.Client.Close() })
	return conn{client: p.Client, server: p.Server, toClient: p.ToClient}
}

func authenticate(ctx context.Context, c conn, secret string, role protocol.Role) (protocol.AuthResponse, error) {
	return channel.Invoke(ctx, c.client, protocol.MethodAuthenticate, protocol.AuthRequest{Secret: secret, Role: role})
}

func login(t *testing.T, reg *Registry, role protocol.Role) conn {
	t.Helper()
	c := dial(t, reg)
	resp, err := authenticate(testCtx(t), c, testSecret, role)
	require.NoError(t, err)
	require.Equal(t, role, resp.Role)
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	reg := NewRegistry(cfg, auth.SharedSecret{Secret: testSecret})
	t.Cleanup(reg.Shutdown)
	return reg
}

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for attempt := 1; attempt <= 8; attempt++ {
		got := NextBackoffDelay(cfg, attempt, rng)
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, Multiplier: 2, MaxDelay: time.Second}, attempt, nil)
		if got < base/2 || got > base*3/2 {
			t.Fatalf("attempt%d got=%v outside [%v, %v]", attempt, got, base/2, base*3/2)
		}
	}
}

func TestBackoffResets(t *testing.T) {
	testlog.Start(t)
	b := NewBackoff(BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 3}, nil)
	assert.Equal(t, 10*time.Millisecond, b.Next())
	assert.Equal(t, 30*time.Millisecond, b.Next())
	assert.Equal(t, 2, b.Attempt())
	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.Next())
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{CallTimeout: time.Second}.WithDefaults()
	def := DefaultConfig()
	assert.Equal(t, time.Second, cfg.CallTimeout)
	assert.Equal(t, def.HandshakeTimeout, cfg.HandshakeTimeout)
	assert.Equal(t, def.SendQueue, cfg.SendQueue)
	assert.Equal(t, def.Backoff, cfg.Backoff)
}

func TestHandshakeAdmitsChannel(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	c := dial(t, reg)
	assert.Equal(t, 1, reg.Attached())
	assert.Empty(t, reg.Peers())

	resp, err := authenticate(testCtx(t), c, testSecret, protocol.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, protocol.RoleClient, resp.Role)
	assert.Equal(t, c.server.ID(), resp.ChannelID)
	assert.Equal(t, protocol.RoleClient, c.server.Role())
	assert.Equal(t, 1, reg.Peers()[protocol.RoleClient])

	sessions := reg.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "client", sessions[0].Role)
}

func TestHandshakeFailuresCloseTransport(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		role   protocol.Role
		want   error
	}{
		{name: "wrong secret", secret: "nope", role: protocol.RoleClient, want: auth.ErrUnauthorized},
		{name: "none role", secret: testSecret, role: protocol.RoleNone, want: protocol.ErrInvalidRole},
		{name: "unknown role", secret: testSecret, role: protocol.Role(42), want: protocol.ErrInvalidRole},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			reg := newTestRegistry(t, Config{})
			c := dial(t, reg)
			_, err := authenticate(testCtx(t), c, tc.secret, tc.role)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			require.Eventually(t, c.client.Closed, time.Second, 5*time.Millisecond)
			require.Eventually(t, func() bool { return reg.Attached() == 0 }, time.Second, 5*time.Millisecond)
			assert.Empty(t, reg.Peers())
		})
	}
}

func TestReauthenticationIsRejected(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	c := login(t, reg, protocol.RoleAudioServer)

	_, err := authenticate(testCtx(t), c, testSecret, protocol.RoleClient)
	assert.ErrorIs(t, err, protocol.ErrDuplicateRole)
	require.Eventually(t, c.client.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.RoleAudioServer, c.server.Role())
	require.Eventually(t, func() bool { return len(reg.Peers()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandshakeTimeoutClosesSilentChannel(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{HandshakeTimeout: 150 * time.Millisecond})
	authed := login(t, reg, protocol.RoleClient)
	silent := dial(t, reg)

	require.Eventually(t, silent.client.Closed, time.Second, 5*time.Millisecond)
	assert.False(t, authed.client.Closed())
	assert.Equal(t, 1, reg.Attached())
}

func TestRoleGating(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	require.NoError(t, Serve(reg, protocol.MethodSetMode, []protocol.Role{protocol.RoleClient},
		func(_ context.Context, _ *channel.Channel, req protocol.SetModeRequest) (protocol.State, error) {
			return protocol.State{Mode: req.Mode}, nil
		}))

	anon := dial(t, reg)
	_, err := channel.Invoke(testCtx(t), anon.client, protocol.MethodSetMode, protocol.SetModeRequest{Mode: protocol.ModeAudio})
	assert.ErrorIs(t, err, protocol.ErrUnauthenticated)
	assert.False(t, anon.client.Closed(), "gating rejects the call but keeps the channel")

	pi := login(t, reg, protocol.RolePiServer)
	_, err = channel.Invoke(testCtx(t), pi.client, protocol.MethodSetMode, protocol.SetModeRequest{Mode: protocol.ModeAudio})
	assert.ErrorIs(t, err, protocol.ErrForbidden)

	browser := login(t, reg, protocol.RoleClient)
	st, err := channel.Invoke(testCtx(t), browser.client, protocol.MethodSetMode, protocol.SetModeRequest{Mode: protocol.ModeAudio})
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeAudio, st.Mode)
}

func TestPlainHandlersAreGated(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	got := make(chan protocol.Role, 4)
	Subscribe(reg, protocol.RouteRGBSet, []protocol.Role{protocol.RoleClient}, func(ch *channel.Channel, _ protocol.RGB) {
		got <- ch.Role()
	})

	anon := dial(t, reg)
	require.True(t, channel.Publish(anon.client, protocol.RouteRGBSet, protocol.RGB{R: 1}))
	audio := login(t, reg, protocol.RoleAudioServer)
	require.True(t, channel.Publish(audio.client, protocol.RouteRGBSet, protocol.RGB{R: 2}))
	browser := login(t, reg, protocol.RoleClient)
	require.True(t, channel.Publish(browser.client, protocol.RouteRGBSet, protocol.RGB{R: 3}))

	select {
	case role := <-got:
		assert.Equal(t, protocol.RoleClient, role)
	case <-time.After(time.Second):
		t.Fatal("client frame not delivered")
	}
	assert.Empty(t, got)
	assert.False(t, anon.client.Closed())
}

func TestHandlerRegisteredAfterAttachReachesChannel(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	c := login(t, reg, protocol.RoleBackgroundApp)

	require.NoError(t, Serve(reg, protocol.MethodPing, nil, func(_ context.Context, _ *channel.Channel, req protocol.Ping) (protocol.Ping, error) {
		return protocol.Ping{Nonce: req.Nonce * 2}, nil
	}))
	pong, err := channel.Invoke(testCtx(t), c.client, protocol.MethodPing, protocol.Ping{Nonce: 21})
	require.NoError(t, err)
	assert.Equal(t, uint32(42), pong.Nonce)

	later := login(t, reg, protocol.RoleClient)
	pong, err = channel.Invoke(testCtx(t), later.client, protocol.MethodPing, protocol.Ping{Nonce: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pong.Nonce)
}

func TestHandleConflicts(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	h := func(context.Context, *channel.Channel, []byte) ([]byte, error) { return nil, nil }
	require.NoError(t, reg.Handle(protocol.TagGetState, nil, h))
	assert.ErrorIs(t, reg.Handle(protocol.TagGetState, nil, h), protocol.ErrHandlerConflict)
	assert.ErrorIs(t, reg.Handle(protocol.TagAuthenticate, nil, h), protocol.ErrHandlerConflict)
	assert.ErrorIs(t, reg.Handle(protocol.TagCall, nil, h), protocol.ErrNotApplicationTag)
}

func TestBroadcastRoleFilter(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})

	n, err := reg.Broadcast(protocol.TagAudioStop, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = reg.Broadcast(protocol.TagAudioStop, nil, protocol.RoleAudioServer)
	assert.ErrorIs(t, err, protocol.ErrNoSuchPeer)

	received := make(chan protocol.Role, 8)
	watch := func(c conn, role protocol.Role) {
		channel.Subscribe(c.client, protocol.RouteColorUpdate, func(*channel.Channel, protocol.ColorUpdate) {
			received <- role
		})
	}
	a := login(t, reg, protocol.RoleClient)
	watch(a, protocol.RoleClient)
	b := login(t, reg, protocol.RoleClient)
	watch(b, protocol.RoleClient)
	p := login(t, reg, protocol.RolePiServer)
	watch(p, protocol.RolePiServer)
	_ = dial(t, reg)

	n, err = Broadcast(reg, protocol.RouteColorUpdate, protocol.ColorUpdate{Color: protocol.RGB{R: 9}}, protocol.RoleClient)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for i := 0; i < 2; i++ {
		select {
		case role := <-received:
			assert.Equal(t, protocol.RoleClient, role)
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}

	n, err = Broadcast(reg, protocol.RouteColorUpdate, protocol.ColorUpdate{})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "unauthenticated channels never receive broadcasts")
}

func TestBroadcastSkipsStalledPeer(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	healthy := login(t, reg, protocol.RoleClient)
	stalled := login(t, reg, protocol.RoleClient)
	stalled.toClient.Stall(true)

	got := make(chan struct{}, 1)
	channel.Subscribe(healthy.client, protocol.RouteModeChanged, func(*channel.Channel, protocol.ModeChanged) {
		got <- struct{}{}
	})

	done := make(chan int, 1)
	go func() {
		n, _ := Broadcast(reg, protocol.RouteModeChanged, protocol.ModeChanged{Mode: protocol.ModeOff})
		done <- n
	}()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on stalled peer")
	}
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("healthy peer missed broadcast")
	}
}

func TestAllInteractiveDisconnectedIsEdgeTriggered(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	var fired atomic.Int32
	reg.OnAllInteractiveDisconnected(func() { fired.Add(1) })

	audio := login(t, reg, protocol.RoleAudioServer)
	a := login(t, reg, protocol.RoleClient)
	b := login(t, reg, protocol.RoleClient)

	require.NoError(t, a.client.Close())
	require.Eventually(t, func() bool { return reg.Peers()[protocol.RoleClient] == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, fired.Load())

	require.NoError(t, b.client.Close())
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, audio.client.Close())
	require.Eventually(t, func() bool { return len(reg.Peers()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())

	c := login(t, reg, protocol.RoleClient)
	require.NoError(t, c.client.Close())
	require.Eventually(t, func() bool { return fired.Load() == 2 }, time.Second, 5*time.Millisecond)

	anon := dial(t, reg)
	require.NoError(t, anon.client.Close())
	require.Eventually(t, func() bool { return reg.Attached() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), fired.Load())
}

func TestCallTargetsLongestLivedPeer(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{CallTimeout: 200 * time.Millisecond})

	_, err := Invoke(testCtx(t), reg, protocol.RoleAudioServer, protocol.MethodPing, protocol.Ping{})
	assert.ErrorIs(t, err, protocol.ErrNoSuchPeer)

	first := login(t, reg, protocol.RoleAudioServer)
	second := login(t, reg, protocol.RoleAudioServer)
	for i, c := range []conn{first, second} {
		nonce := uint32(100 * (i + 1))
		require.NoError(t, channel.Serve(c.client, protocol.MethodPing, func(context.Context, *channel.Channel, protocol.Ping) (protocol.Ping, error) {
			return protocol.Ping{Nonce: nonce}, nil
		}))
	}

	pong, err := Invoke(testCtx(t), reg, protocol.RoleAudioServer, protocol.MethodPing, protocol.Ping{Nonce: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(100), pong.Nonce)

	require.NoError(t, first.client.Close())
	require.Eventually(t, func() bool { return reg.Peers()[protocol.RoleAudioServer] == 1 }, time.Second, 5*time.Millisecond)
	pong, err = Invoke(testCtx(t), reg, protocol.RoleAudioServer, protocol.MethodPing, protocol.Ping{Nonce: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(200), pong.Nonce)
}

func TestCallAppliesCallTimeout(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{CallTimeout: 30 * time.Millisecond})
	c := login(t, reg, protocol.RolePiServer)
	block := make(chan struct{})
	defer close(block)
	require.NoError(t, c.client.Handle(protocol.TagGetState, func(ctx context.Context, _ *channel.Channel, _ []byte) ([]byte, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, nil
	}))

	start := time.Now()
	_, err := reg.Call(context.Background(), protocol.RolePiServer, protocol.TagGetState, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, c.server.Stats().Pending)
}

func TestPeerList(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	login(t, reg, protocol.RolePiServer)
	login(t, reg, protocol.RoleClient)
	login(t, reg, protocol.RoleClient)

	list := reg.PeerList()
	assert.Equal(t, []protocol.PeerCount{
		{Role: protocol.RoleClient, Count: 2},
		{Role: protocol.RolePiServer, Count: 1},
	}, list.Peers)
}

func TestShutdownClosesEverything(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(Config{}, auth.SharedSecret{Secret: testSecret})
	a := login(t, reg, protocol.RoleClient)
	b := dial(t, reg)

	reg.Shutdown()
	require.Eventually(t, a.client.Closed, time.Second, 5*time.Millisecond)
	require.Eventually(t, b.client.Closed, time.Second, 5*time.Millisecond)
	assert.Zero(t, reg.Attached())

	late := reg.Attach(pipe.NewEnd(0))
	assert.True(t, late.Closed())
	reg.Shutdown()
}

func TestOnAuthenticatedSeesRole(t *testing.T) {
	testlog.Start(t)
	reg := newTestRegistry(t, Config{})
	joined := make(chan protocol.Role, 2)
	reg.OnAuthenticated(func(ch *channel.Channel) { joined <- ch.Role() })

	_ = dial(t, reg)
	login(t, reg, protocol.RolePiServer)
	select {
	case role := <-joined:
		assert.Equal(t, protocol.RolePiServer, role)
	case <-time.After(time.Second):
		t.Fatal("join hook not called")
	}
	assert.Empty(t, joined)
}
