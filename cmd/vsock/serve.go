package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/vango-dev/vsock/internal/config"
	"github.com/vango-dev/vsock/internal/demo"
	"github.com/vango-dev/vsock/internal/errors"
	"github.com/vango-dev/vsock/pkg/middleware"
	"github.com/vango-dev/vsock/pkg/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo chat server",
		Long: `Run the demo chat server.

Endpoints:
  /socket    WebSocket endpoint (server.path)
  /metrics   Prometheus metrics (metrics.path)
  /healthz   liveness and connection count

Clients choose a room and display name with query parameters:
  ws://localhost:8080/socket?room=lobby&name=ava

Examples:
  vsock serve
  vsock serve --addr=:9000
  vsock serve --config=vsock.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config, "+config.DefaultAddress+")")

	return cmd
}

// app is the wired demo server.
type app struct {
	srv      *server.Server
	handler  http.Handler
	registry *prometheus.Registry
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	packets := demo.NewPackets()
	svc := demo.NewService(packets, logger)
	srv := server.New(packets.Schema, svc.Handle, cfg.ServerConfig(logger))
	svc.Bind(srv.Conns())

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		srv.Use(middleware.Prometheus(
			middleware.WithRegistry(reg),
			middleware.WithNamespace(cfg.Metrics.Namespace),
		))
	}
	if cfg.Tracing.Enabled {
		srv.Use(middleware.OpenTelemetry(middleware.WithTracerName(cfg.Tracing.TracerName)))
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := srv.Conns().Stats()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok\nconnections %d\nschema %s\n", stats.Active, packets.Schema.Fingerprint())
	})
	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Handle(cfg.Server.Path, srv)

	return &app{srv: srv, handler: r, registry: reg}
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger := cfg.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	a := newApp(cfg, logger)

	ln, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return errors.New("E200").
			WithDetailf("Could not listen on %s", cfg.Server.Address).
			WithSuggestion("Pick another address with --addr or set " + config.EnvAddress).
			Wrap(err)
	}

	printBanner(cmd)
	success(cmd, "Listening on %s", ln.Addr())
	info(cmd, "WebSocket  %s", cfg.Server.Path)
	if cfg.Metrics.Enabled {
		info(cmd, "Metrics    %s", cfg.Metrics.Path)
	}
	info(cmd, "Schema     %s v%s (%s)", demo.SchemaName, demo.SchemaVersion, a.srv.Schema().Fingerprint())

	return a.srv.Serve(ctx, ln, a.handler)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var path string
	if f := cmd.Flag("config"); f != nil {
		path = f.Value.String()
	}
	return config.Load(path)
}
