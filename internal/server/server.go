package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itsnoxius/mockgate/internal/api"
	"github.com/itsnoxius/mockgate/internal/config"
	"github.com/itsnoxius/mockgate/internal/configclient"
	"github.com/itsnoxius/mockgate/internal/database"
	"github.com/itsnoxius/mockgate/internal/forwarder"
	"github.com/itsnoxius/mockgate/internal/hub"
	"github.com/itsnoxius/mockgate/internal/logger"
	"github.com/itsnoxius/mockgate/internal/observe"
	"github.com/itsnoxius/mockgate/internal/proxy"
	"github.com/itsnoxius/mockgate/internal/registry"
)

const (
	// WSPath is the live event endpoint
	WSPath = "/_mockgate/ws"

	shutdownTimeout  = 30 * time.Second
	redisPingTimeout = 5 * time.Second
)

// Server owns every long-lived component of the gateway
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	Client   *configclient.Client
	Registry *registry.Registry
	Hub      *hub.Hub
	Bridge   *hub.RedisBridge
	DB       *database.DB
	Pipeline *observe.Pipeline
	Proxy    *proxy.Proxy

	router *mux.Router
}

// New wires the components described by cfg. Nothing is started yet.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger.Component(log, "server")}

	if cfg.ConfigServiceURL != "" {
		s.Client = configclient.New(cfg.ConfigServiceURL, configclient.WithTimeout(cfg.ForwardTimeout))
	}

	var source registry.Source
	if cfg.ConfigFile != "" {
		source = &registry.FileSource{Path: cfg.ConfigFile}
	} else if s.Client != nil {
		source = &registry.HTTPSource{Client: s.Client}
	} else {
		return nil, errors.New("no configuration source")
	}
	s.Registry = registry.New(source, log)

	s.Hub = hub.New(hub.DefaultBuffer, log)
	var publisher hub.Publisher = s.Hub
	if cfg.RedisURL != "" {
		bridge, err := hub.NewRedisBridge(cfg.RedisURL, s.Hub, log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := bridge.Ping(ctx); err != nil {
			_ = bridge.Client.Close()
			return nil, err
		}
		s.Bridge = bridge
		publisher = bridge
	}

	var sink observe.Sink
	switch cfg.LogSink {
	case config.SinkHTTP:
		if s.Client == nil {
			return nil, errors.New("http log sink needs a config service url")
		}
		sink = s.Client
	case config.SinkSQLite:
		db, err := database.New(cfg.DBPath)
		if err != nil {
			s.closeBridge()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.DB = db
		sink = db
	default:
		sink = observe.NopSink{}
	}

	s.Pipeline = observe.New(sink, publisher, observe.Options{
		QueueSize:   cfg.LogQueueSize,
		Workers:     cfg.LogWorkers,
		SinkTimeout: cfg.LogTimeout,
	}, log)

	s.Proxy = proxy.New(s.Registry, forwarder.New(cfg.ForwardTimeout, log), s.Pipeline, log,
		proxy.WithMaxBodyBytes(cfg.MaxBodyBytes))
	s.router = s.routes(log)

	s.logger.Debug("server wired",
		zap.String("source", source.String()),
		zap.String("log_sink", cfg.LogSink),
		zap.Bool("redis", s.Bridge != nil),
		zap.Bool("admin_api", cfg.AdminAPIKey != ""))
	return s, nil
}

func (s *Server) routes(log *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	// Register specific routes first (these take precedence)
	router.HandleFunc("/health", s.Proxy.HealthCheck)
	router.Handle(WSPath, hub.NewWSHandler(s.Hub, log, hub.WSOptions{
		Token:          s.cfg.AdminAPIKey,
		OriginPatterns: s.cfg.WSOrigins,
	}))

	if s.cfg.AdminAPIKey != "" {
		deps := api.Deps{
			Registry: s.Registry,
			Client:   s.Client,
			Hub:      s.Hub,
			Pipeline: s.Pipeline,
			Logger:   log,
		}
		if s.DB != nil {
			deps.Logs = s.DB
		}
		api.NewHandlers(deps, s.cfg.AdminAPIKey).Register(router, s.cfg.AdminDomain)
	}

	// PathPrefix("/") matches all paths, so every other request is routed
	router.PathPrefix("/").Handler(s.Proxy)
	return router
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured port and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve loads the configuration once, then runs the HTTP server, the refresh
// loop, the file watcher and the redis relay until ctx is cancelled or one of
// them fails. Shutdown drains in-flight requests and queued logs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	if err := s.Registry.Refresh(ctx); err != nil {
		s.logger.Warn("initial configuration load failed, serving no domains until the next refresh", zap.Error(err))
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-s.Registry.Start(gctx, s.cfg.RefreshInterval)
		return nil
	})

	if s.cfg.ConfigFile != "" {
		g.Go(func() error {
			return s.Registry.Watch(gctx, s.cfg.ConfigFile)
		})
	}

	if s.Bridge != nil {
		g.Go(func() error {
			return s.Bridge.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if perr := s.Pipeline.Close(shutdownCtx); perr != nil {
			s.logger.Warn("log queue not fully drained", zap.Error(perr))
		}
		return err
	})

	return g.Wait()
}

// Close releases the hub, the redis connection and the database
func (s *Server) Close() {
	s.Hub.Close()
	s.closeBridge()
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			s.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

func (s *Server) closeBridge() {
	if s.Bridge != nil {
		_ = s.Bridge.Close()
	}
}
