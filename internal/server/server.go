// Package server runs the ledctl process: the session registry, the lights
// controller and the HTTP surface that carries websocket peers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ledctl/internal/auth"
	"github.com/danmuck/ledctl/internal/config"
	"github.com/danmuck/ledctl/internal/lights"
	"github.com/danmuck/ledctl/internal/observability"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/danmuck/ledctl/internal/transport/ws"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Driver names accepted by Config.Driver.
const (
	DriverLog = "log"
	DriverPi  = "pi"
)

var (
	ErrUnknownDriver = errors.New("server: unknown driver")
	ErrTLSPair       = errors.New("server: tls cert and key must be set together")
)

// Config configures one ledctl process.
type Config struct {
	Name         string
	Addr         string
	Secret       string
	Origins      []string
	SettingsPath string
	Driver       string
	Session      session.Config

	// TLSCertFile and TLSKeyFile switch the listener to TLS when both are
	// set.
	TLSCertFile string
	TLSKeyFile  string
}

func DefaultConfig() Config {
	return Config{
		Name:         "ledctl",
		Addr:         ":8080",
		SettingsPath: "ledctl.settings.toml",
		Driver:       DriverPi,
		Session:      session.DefaultConfig(),
	}
}

// Service owns the registry, the lighting controller and the router.
type Service struct {
	cfg      Config
	registry *session.Registry
	lights   *lights.Controller
	router   *gin.Engine
	started  time.Time
	log      zerolog.Logger
}

// New builds a service and restores persisted settings. A missing settings
// file starts from the defaults.
func New(cfg Config) (*Service, error) {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = def.Name
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = def.Addr
	}
	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = def.Driver
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, ErrTLSPair
	}
	cfg.Session = cfg.Session.WithDefaults()

	logger := log.With().Str("node", cfg.Name).Logger()
	if strings.TrimSpace(cfg.Secret) == "" {
		logger.Warn().Msg("no secret configured; every handshake will be refused")
	}

	observability.RegisterMetrics()
	metrics := observability.NewChannelMetrics(cfg.Name)
	reg := session.NewRegistry(cfg.Session, auth.SharedSecret{Secret: cfg.Secret},
		session.WithObserver(metrics),
		session.WithLogger(logger.With().Str("component", "session").Logger()),
	)

	var driver lights.Driver
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverPi:
		driver = lights.PeerDriver{Registry: reg}
	case DriverLog:
		driver = lights.NewLogDriver(logger)
	default:
		reg.Shutdown()
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	settings := config.DefaultSettings()
	var store *config.SettingsStore
	if path := strings.TrimSpace(cfg.SettingsPath); path != "" {
		store = config.NewSettingsStore(path)
		loaded, err := store.Load()
		if err != nil {
			reg.Shutdown()
			return nil, err
		}
		settings = loaded
	}

	var persister lights.Persister
	if store != nil {
		persister = store
	}
	ctl := lights.NewController(reg, lights.NewState(settings), driver, persister)
	if err := ctl.Register(); err != nil {
		reg.Shutdown()
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		registry: reg,
		lights:   ctl,
		started:  time.Now(),
		log:      logger,
	}
	s.router = s.newRouter()
	s.registerRoutes()
	return s, nil
}

func (s *Service) newRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	origins := corsOrigins(s.cfg.Origins)
	r.Use(cors.New(cors.Config{
		AllowOrigins:    origins,
		AllowAllOrigins: len(origins) == 0,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

// corsOrigins keeps the origins cors accepts. Bare host entries only
// apply to the websocket origin check.
func corsOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://") {
			out = append(out, origin)
		}
	}
	return out
}

func (s *Service) Config() Config              { return s.cfg }
func (s *Service) Registry() *session.Registry { return s.registry }
func (s *Service) Lights() *lights.Controller  { return s.lights }
func (s *Service) Handler() http.Handler       { return s.router }

// TLS reports whether Serve terminates TLS.
func (s *Service) TLS() bool { return s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" }

// Run listens on the configured address until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts HTTP on ln until ctx ends, then closes every session and
// drains the server.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Session.HandshakeTimeout,
	}
	s.lights.Restore(ctx)
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("driver", s.cfg.Driver).
		Bool("tls", s.TLS()).
		Msg("ledctl listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.TLS() {
			err = srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// hijacked websocket connections are not tracked by Shutdown
		s.registry.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Session.WriteTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	err := g.Wait()
	s.log.Info().Err(err).Msg("ledctl stopped")
	return err
}

// Close shuts every session down without serving.
func (s *Service) Close() {
	s.registry.Shutdown()
}

// wsOptions derives socket options from the session config.
func (s *Service) wsOptions() ws.Options {
	return ws.OptionsFrom(s.cfg.Session)
}
