package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ggoodman/xrce-agent-go/adminhttp"
	"github.com/ggoodman/xrce-agent-go/agent"
	"github.com/ggoodman/xrce-agent-go/auth"
	"github.com/ggoodman/xrce-agent-go/dispatch"
	"github.com/ggoodman/xrce-agent-go/entities"
	"github.com/ggoodman/xrce-agent-go/internal/logctx"
	"github.com/ggoodman/xrce-agent-go/internal/metrics"
	"github.com/ggoodman/xrce-agent-go/refs"
	"github.com/ggoodman/xrce-agent-go/sessions"
	"github.com/ggoodman/xrce-agent-go/sessions/memoryhost"
	"github.com/ggoodman/xrce-agent-go/sessions/redishost"
	"github.com/ggoodman/xrce-agent-go/transport/udp"
	"github.com/ggoodman/xrce-agent-go/transport/ws"
)

func newLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}

func printSchema(w io.Writer) error {
	data, err := refs.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func serve(cfg Config) error {
	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.close()
	return srv.run(ctx)
}

// server holds the wired components of one agent process.
type server struct {
	cfg  Config
	log  *slog.Logger
	repo *refs.Repository
	host sessions.Host

	agent      *agent.Agent
	udp        *udp.Server
	http       *http.Server
	closeFuncs []func() error
}

func build(ctx context.Context, cfg Config, log *slog.Logger, reg *prometheus.Registry) (*server, error) {
	s := &server{cfg: cfg, log: log}

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewProm(reg)
	prom.SetBuildInfo(version)

	agentOpts := []agent.Option{
		agent.WithLogger(log),
		agent.WithMetrics(prom),
		agent.WithEventBuffer(cfg.EventBuffer),
	}
	if cfg.InstanceID != "" {
		agentOpts = append(agentOpts, agent.WithInstanceID(cfg.InstanceID))
	}

	switch cfg.SessionHost {
	case "memory":
		s.host = memoryhost.New()
	case "redis":
		h, err := redishost.NewFromEnv()
		if err != nil {
			return nil, err
		}
		s.host = h
		s.closeFuncs = append(s.closeFuncs, h.Close)
	}
	if s.host != nil {
		agentOpts = append(agentOpts, agent.WithHost(s.host))
	}

	var factory entities.Factory = entities.NewMemory()
	if cfg.RefsPath != "" {
		repo, err := refs.Load(cfg.RefsPath, refs.WithLogger(log))
		if err != nil {
			s.close()
			return nil, err
		}
		s.repo = repo
		factory = refs.NewResolver(repo, factory)
		log.InfoContext(ctx, "reference profiles loaded", slog.String("path", cfg.RefsPath), slog.Int("count", len(repo.Names())))
	}
	agentOpts = append(agentOpts, agent.WithFactory(factory))

	if cfg.AuthIssuer != "" {
		authn, err := newAuthenticator(ctx, cfg)
		if err != nil {
			s.close()
			return nil, err
		}
		agentOpts = append(agentOpts, agent.WithAuthenticator(authn))
	}

	s.agent = agent.New(agentOpts...)
	d := dispatch.New(s.agent, dispatch.WithLogger(log))

	if cfg.UDPAddr != "" {
		s.udp = udp.New(d,
			udp.WithLogger(log),
			udp.WithMaxDatagramSize(cfg.MaxDatagram),
			udp.WithConcurrency(cfg.UDPConcurrency),
		)
	}

	if cfg.HTTPAddr != "" {
		adminOpts := []adminhttp.Option{
			adminhttp.WithLogger(log),
			adminhttp.WithMetricsHandler(metrics.Handler(reg)),
		}
		if s.host != nil {
			adminOpts = append(adminOpts, adminhttp.WithHost(s.host))
		}
		mux := http.NewServeMux()
		mux.Handle("GET /ws", ws.New(d,
			ws.WithLogger(log),
			ws.WithReadLimit(cfg.WSReadLimit),
			ws.WithOriginPatterns(cfg.WSOrigins...),
		))
		mux.Handle("/", adminhttp.New(s.agent, adminOpts...))
		s.http = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		}
	}

	return s, nil
}

func newAuthenticator(ctx context.Context, cfg Config) (auth.Authenticator, error) {
	opts := []auth.TokenAuthOption{auth.WithLeeway(cfg.AuthLeeway)}
	if len(cfg.AuthScopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(cfg.AuthScopes...))
	}
	if cfg.AuthJWKSURL != "" {
		return auth.NewStatic(ctx, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL, opts...)
	}
	return auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.AuthAudience, opts...)
}

// run starts every component and blocks until ctx ends or one of them
// fails.
func (s *server) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 4)
	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("directory", s.agent.Run)
	if s.repo != nil {
		start("refs", s.repo.Watch)
	}
	if s.udp != nil {
		s.log.InfoContext(ctx, "udp listening", slog.String("addr", s.cfg.UDPAddr))
		start("udp", func(ctx context.Context) error {
			return s.udp.ListenAndServe(ctx, s.cfg.UDPAddr)
		})
	}
	if s.http != nil {
		s.http.BaseContext = func(net.Listener) context.Context { return ctx }
		s.log.InfoContext(ctx, "http listening", slog.String("addr", s.cfg.HTTPAddr))
		start("http", func(ctx context.Context) error {
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
				defer done()
				if err := s.http.Shutdown(shutdownCtx); err != nil {
					s.log.Warn("http shutdown", slog.String("err", err.Error()))
				}
			}()
			if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	s.log.InfoContext(ctx, "xrce agent started", slog.String("agent_id", s.agent.ID()), slog.String("version", version))
	<-ctx.Done()
	wg.Wait()
	close(errs)

	var err error
	for e := range errs {
		err = errors.Join(err, e)
	}
	s.log.Info("xrce agent stopped", slog.Int("clients", s.agent.Len()))
	return err
}

func (s *server) close() {
	for _, fn := range s.closeFuncs {
		if err := fn(); err != nil {
			s.log.Warn("close failed", slog.String("err", err.Error()))
		}
	}
	s.closeFuncs = nil
}
