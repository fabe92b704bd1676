// Command tictactoe starts the tic-tac-toe match server.
//
// It supports two modes:
//  1. default – runs the framed TCP GraphQL server plus the HTTP server
//     exposing /graphql, /graphql/ws, /metrics, /healthz and an /mcp endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API
//     if none is available
//
// Configuration comes from the environment (and a .env file); flags override it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/tictactoe/api"
	"github.com/wricardo/tictactoe/game/config"
	"github.com/wricardo/tictactoe/game/service"
	"github.com/wricardo/tictactoe/graph"
	"github.com/wricardo/tictactoe/metrics"
	"github.com/wricardo/tictactoe/transport/gqlsession"
	"github.com/wricardo/tictactoe/transport/mcp"
	"github.com/wricardo/tictactoe/transport/tcp"
	"github.com/wricardo/tictactoe/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Tic Tac Toe Server"
)

const shutdownTimeout = 10 * time.Second

// main loads .env, parses flags and starts the selected mode.
func main() {
	// Load .env file if it exists (ignore error if not found)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("error loading .env file", slog.Any("error", err))
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    "tictactoe",
		Usage:   AppName,
		Version: Version,
		Flags:   appFlags(),
		Action:  runServer,
		Commands: []*cli.Command{
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run an MCP stdio server backed by the HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "api-url",
						Usage: "HTTP API to proxy to; an internal server is started when it does not answer",
						Value: "http://localhost:4000",
					},
				},
				Action: runStdioMCP,
			},
		},
	}
}

func appFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "tcp-addr", Usage: "TCP listen address (TTT_TCP_ADDR)"},
		&cli.StringFlag{Name: "http-addr", Usage: "HTTP listen address (TTT_HTTP_ADDR)"},
		&cli.StringFlag{Name: "delimiter", Usage: "TCP command delimiter line (TTT_DELIMITER)"},
		&cli.StringFlag{Name: "static-dir", Usage: "Directory served on / (TTT_STATIC_DIR)"},
		&cli.DurationFlag{Name: "sweep-interval", Usage: "Lobby liveness sweep interval (TTT_SWEEP_INTERVAL)"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging (TTT_DEBUG)"},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel (NGROK_ENABLED)"},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "Ngrok auth token (NGROK_AUTHTOKEN)"},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (NGROK_DOMAIN)"},
	}
}

// loadConfig reads the environment and applies the flags that were set
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if cmd.IsSet("tcp-addr") {
		cfg.TCPAddr = cmd.String("tcp-addr")
	}
	if cmd.IsSet("http-addr") {
		cfg.HTTPAddr = cmd.String("http-addr")
	}
	if cmd.IsSet("delimiter") {
		cfg.Delimiter = cmd.String("delimiter")
	}
	if cmd.IsSet("static-dir") {
		cfg.StaticDir = cmd.String("static-dir")
	}
	if cmd.IsSet("sweep-interval") {
		cfg.SweepInterval = cmd.Duration("sweep-interval")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}

	return cfg, cfg.Validate()
}

// newLogger writes to stderr so stdout stays free for MCP stdio
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds the wired services shared by every mode
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	svc      *service.Services
	engine   *graph.Engine
	registry *prometheus.Registry
	metrics  *metrics.Collector
	hub      *websocket.Hub
	api      *api.Server
}

// newApp wires the registries, the query engine and the HTTP API
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	svc, err := service.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	engine, err := graph.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build schema: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	metrics.RegisterGauges(registry, svc)

	hub := websocket.NewHub(engine, svc, websocket.Config{Logger: logger, Metrics: collector})
	go hub.Run()

	apiServer := api.NewServer(engine, svc, hub, api.Config{
		StaticDir: cfg.StaticDir,
		RateLimit: api.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit),
			Burst: cfg.RateBurst,
		},
		Gatherer: registry,
		Metrics:  collector,
		Gauges:   svc,
		Logger:   logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		svc:      svc,
		engine:   engine,
		registry: registry,
		metrics:  collector,
		hub:      hub,
		api:      apiServer,
	}, nil
}

// newTCPServer creates the framed TCP server; every connection runs its own
// GraphQL session with an anonymous scope
func (a *app) newTCPServer() (*tcp.Server, error) {
	return tcp.NewServer(tcp.Config{
		Addr:      a.cfg.TCPAddr,
		Delimiter: a.cfg.Delimiter,
		Logger:    a.logger,
	}, func(send tcp.SendFunc) tcp.Session {
		return gqlsession.NewHandler(a.engine, a.svc.NewScope, gqlsession.SendFunc(send), gqlsession.Config{
			Transport: "tcp",
			Logger:    a.logger,
			Metrics:   a.metrics,
		})
	})
}

// routes mounts the API at / and, when given, the MCP endpoint at /mcp
func (a *app) routes(mcpClient *mcp.Client) http.Handler {
	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", a.api)
	if mcpClient != nil {
		mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient))
	}
	return mainRouter
}

// close stops the background work started by newApp
func (a *app) close() {
	a.hub.Shutdown()
	a.api.Close()
}

func mcpHandler(mcpClient *mcp.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// runServer starts the TCP and HTTP servers and blocks until a signal
// arrives or one of them fails
func runServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	logger.Info("starting", slog.String("app", AppName), slog.String("version", Version))
	if cfg.GeneratedSecret {
		logger.Warn("TTT_SECRET is not set, using a generated secret; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return a.serve(ctx)
}

// serve runs every listener in one errgroup; the first failure or the end
// of ctx shuts all of them down
func (a *app) serve(ctx context.Context) error {
	tcpServer, err := a.newTCPServer()
	if err != nil {
		return err
	}
	if err := tcpServer.Start(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		tcpServer.Stop()
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTPAddr, err)
	}
	httpAddr := ln.Addr().String()
	handler := a.routes(mcp.NewClient(localURL(httpAddr)))

	httpServer := &http.Server{
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening",
			slog.String("addr", httpAddr),
			slog.String("graphql", localURL(httpAddr)+"/graphql"),
			slog.String("websocket", "ws"+localURL(httpAddr)[len("http"):]+"/graphql/ws"),
			slog.String("mcp", localURL(httpAddr)+"/mcp"))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if a.cfg.Ngrok.Enabled {
		g.Go(func() error {
			a.runNgrok(gctx, handler)
			return nil
		})
	}

	g.Go(func() error {
		a.sessionCleanupRoutine(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown error", slog.Any("error", err))
		}
		return tcpServer.Stop()
	})

	err = g.Wait()
	a.logger.Info("server stopped")
	return err
}

// runNgrok exposes handler through an ngrok tunnel until ctx ends. A
// missing token or a tunnel failure is logged and does not stop the server.
func (a *app) runNgrok(ctx context.Context, handler http.Handler) {
	if a.cfg.Ngrok.AuthToken == "" {
		a.logger.Warn("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN or NGROK_AUTH_TOKEN)")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if a.cfg.Ngrok.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(a.cfg.Ngrok.Domain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(a.cfg.Ngrok.AuthToken))
	if err != nil {
		a.logger.Error("failed to start ngrok tunnel", slog.Any("error", err))
		return
	}

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			a.logger.Warn("failed to close ngrok tunnel", slog.Any("error", err))
		}
	}()

	a.logger.Info("ngrok tunnel established", slog.String("url", tun.URL()))
	if err := http.Serve(tun, handler); err != nil && ctx.Err() == nil {
		a.logger.Error("ngrok server error", slog.Any("error", err))
	}
	a.logger.Info("ngrok tunnel closed")
}

// sessionCleanupRoutine periodically removes user sessions that have not
// been used within the configured max age
func (a *app) sessionCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SessionCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := a.svc.Sessions.CleanupExpiredSessions(a.cfg.SessionMaxAge); removed > 0 {
				a.logger.Info("cleaned up expired sessions", slog.Int("removed", removed))
			}
		}
	}
}

// runStdioMCP runs an MCP stdio server. It reuses the API at --api-url when
// it answers; otherwise it starts an internal HTTP API on a random loopback
// port and targets that.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Debug)
	slog.SetDefault(logger)

	baseURL := cmd.String("api-url")
	logger.Info("checking for external API server", slog.String("url", baseURL))

	if !apiAvailable(ctx, baseURL) {
		logger.Info("no external API server found, starting internal HTTP server")

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		httpServer := &http.Server{Handler: a.routes(nil)}
		go func() {
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("internal HTTP server error", slog.Any("error", err))
			}
		}()
		defer httpServer.Close()

		baseURL = "http://" + ln.Addr().String()
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info("MCP stdio server ready", slog.String("api", baseURL))

	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

// apiAvailable reports whether baseURL answers its health check
func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// localURL turns a listen address into a URL reachable from this host
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}
