package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flitsinc/go-duet/internal/agents"
	"github.com/flitsinc/go-duet/internal/api"
	"github.com/flitsinc/go-duet/internal/config"
	"github.com/flitsinc/go-duet/internal/event"
	"github.com/flitsinc/go-duet/internal/eventbus"
	"github.com/flitsinc/go-duet/internal/idgen"
	"github.com/flitsinc/go-duet/internal/orchestrator"
	"github.com/flitsinc/go-duet/internal/policy"
	"github.com/flitsinc/go-duet/internal/state"
	"github.com/flitsinc/go-duet/internal/telemetry"
	"github.com/flitsinc/go-duet/internal/tools"
	"github.com/flitsinc/go-duet/internal/web"
)

// untilStopped stands in for "no duration": the session runs until a signal.
const untilStopped = time.Duration(1<<63 - 1)

func main() {
	if err := run(); err != nil {
		log.Fatalf("duetd: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "duetd",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Insecure:     true,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := state.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	store := state.NewStore(db)

	sessionID := idgen.New()
	logger = logger.With("session", sessionID)
	bus := eventbus.NewBus(db, eventbus.WithSession(sessionID), eventbus.WithLogger(logger))

	sink, err := openBackend(ctx, cfg, bus, logger)
	if err != nil {
		return fmt.Errorf("open %s sink: %w", cfg.Sink, err)
	}
	defer sink.Close()

	router := tools.NewRouter(logger)
	var toolNames []string
	for i, command := range cfg.Tools {
		name := toolName(i, command, toolNames)
		toolNames = append(toolNames, name)
		router.Add(tools.NewShellCommand(name, command, tools.WithDir(cfg.DataDir), tools.WithLogger(logger)))
	}
	shells := map[string]api.LineSender{}
	if cfg.ShellTool {
		shell := tools.NewShell("shell", "", logger)
		router.Add(shell)
		shells["shell"] = shell
		toolNames = append(toolNames, "shell")
	}

	orch := orchestrator.New(orchestrator.Config{
		AgentA: cfg.AgentA,
		AgentB: cfg.AgentB,
		Agents: map[string]orchestrator.StreamingAgent{
			cfg.AgentA: agentFor(cfg.AgentACmd),
			cfg.AgentB: agentFor(cfg.AgentBCmd),
		},
		Router:         router,
		Sink:           sink,
		Policy:         policy.NewStatic(cfg.Policy.Config, []string{cfg.AgentA, cfg.AgentB}),
		BufferMaxLen:   cfg.Policy.Buffer.MaxLen,
		SummaryChars:   cfg.Policy.Buffer.SummaryChars,
		PromptMaxLines: cfg.Policy.Prompt.MaxLines,
		PromptMaxChars: cfg.Policy.Prompt.MaxChars,
		TickInterval:   cfg.Policy.TickInterval(),
		SessionID:      sessionID,
		Logger:         logger,
		Tracer:         tel.Tracer(),
		Meter:          tel.Meter(),
		OnEvent:        bus.Publish,
	})

	if _, err := store.CreateSession(ctx, sessionID, cfg.AgentA, cfg.AgentB); err != nil {
		return fmt.Errorf("record session: %w", err)
	}

	listener, err := listen(cfg.HTTPAddr)
	if err != nil {
		return err
	}
	apiServer := &api.Server{
		Conversation: orch,
		Bus:          bus,
		Store:        store,
		Inbox:        sink,
		Shells:       shells,
		Limiter:      api.NewInboxLimiter(cfg.InboxRPS),
		StartedAt:    time.Now().UTC(),
		Info: api.DiagnosticsInfo{
			HTTPAddr: cfg.HTTPAddr,
			DataDir:  cfg.DataDir,
			Sink:     cfg.Sink,
			LogPath:  cfg.LogPath,
			DBPath:   cfg.DBPath,
			Tools:    toolNames,
		},
	}
	if cfg.Sink == config.SinkSQLite {
		apiServer.Log = bus
	}

	webServer := &web.Server{Dir: cfg.WebDir}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer.Handler())
	mux.Handle("/", webServer.Handler())

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()
	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(loggingMiddleware(mux), "duetd"),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return serverCtx
		},
	}
	go func() {
		logger.Info("duetd listening", "addr", listener.Addr().String(), "sink", cfg.Sink)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	duration := cfg.Duration
	if duration <= 0 {
		duration = untilStopped
	}
	runErr := orch.Run(ctx, duration)
	if errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		runErr = nil
	}

	snap := orch.Snapshot()
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.FinishSession(finishCtx, sessionID, snap.LastSeq, runErr); err != nil {
		logger.Warn("record session outcome failed", "error", err)
	}
	finishCancel()
	logger.Info("session summary", summaryAttrs(cfg, snap)...)

	serverCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}
	_ = httpServer.Close()
	return runErr
}

func agentFor(command string) orchestrator.StreamingAgent {
	if strings.TrimSpace(command) == "" {
		return agents.NewStatic("", event.ActReport)
	}
	return agents.NewShellCommand(command)
}

// toolName names a tool after its program, suffixed when taken.
func toolName(i int, command string, taken []string) string {
	name := fmt.Sprintf("tool%d", i+1)
	if fields := strings.Fields(command); len(fields) > 0 {
		name = fields[0]
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 && idx < len(name)-1 {
			name = name[idx+1:]
		}
	}
	for _, t := range taken {
		if t == name {
			return fmt.Sprintf("%s-%d", name, i+1)
		}
	}
	return name
}

func summaryAttrs(cfg config.Config, snap orchestrator.Snapshot) []any {
	attrs := []any{"events", humanize.Comma(snap.LastSeq), "state", snap.State}
	if cfg.Sink == config.SinkJSONL {
		if info, err := os.Stat(cfg.LogPath); err == nil {
			attrs = append(attrs, "log_size", humanize.Bytes(uint64(info.Size())))
		}
	}
	return attrs
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
