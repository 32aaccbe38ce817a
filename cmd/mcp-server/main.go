// dead-drop room server.
// Stdio for a locally attached agent, streamable HTTP for everyone else.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
	"github.com/jaakkos/deaddrop/internal/tools/collab"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	useHTTP := flag.Bool("http", false, "serve streamable HTTP instead of stdio")
	host := flag.String("host", "", "bind address (overrides HOST)")
	port := flag.Int("port", 0, "bind port (overrides PORT)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("dead-drop " + Version)
		return
	}

	tmpLogger := log.New(os.Stderr, "[dead-drop] ", log.LstdFlags|log.Lshortfile)
	cfg, err := policy.FromEnv()
	if err != nil {
		tmpLogger.Fatalf("Config: %v", err)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}

	logger := setupLogger(cfg.LogFile)
	logger.Printf("Starting dead-drop room server (db=%s)", cfg.DBPath)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("Store: %v", err)
	}

	registry := app.NewSessionRegistry()
	sessions := app.NewSessionStore()
	svc := app.NewService(st, registry, cfg, logger)

	hooks := &server.Hooks{}
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if session := server.ClientSessionFromContext(ctx); session != nil {
			sessions.Set(session.SessionID(), session)
			logger.Printf("Client session registered: %s", session.SessionID())
		}
		if message != nil {
			ci := message.Params.ClientInfo
			logger.Printf("Client: %s %s, Protocol: %s", ci.Name, ci.Version, message.Params.ProtocolVersion)
		}
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		sid := session.SessionID()
		agent := registry.AgentFor(sid)
		registry.Remove(sid)
		sessions.Remove(sid)
		if agent != "" {
			logger.Printf("Client session unregistered: %s (agent=%s)", sid, agent)
		} else {
			logger.Printf("Client session unregistered: %s", sid)
		}
	})

	mcpServer := server.NewMCPServer(
		"dead-drop",
		Version,
		server.WithInstructions(collab.InstructionsText()),
		server.WithToolCapabilities(true), // advertise tools listChanged
		server.WithToolFilter(collab.UnreadToolFilter(svc, logger)),
		server.WithToolHandlerMiddleware(collab.ActivityMiddleware(registry)),
		server.WithHooks(hooks),
		server.WithResourceCapabilities(false, true),
	)
	collab.Register(mcpServer, svc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Push plumbing: a failed channel write means the session is dead.
	pushFunc := func(sessionID, method string, params map[string]any) error {
		session := sessions.Get(sessionID)
		if session == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}
		if !session.Initialized() {
			return fmt.Errorf("session %s not initialized", sessionID)
		}
		notification := mcp.JSONRPCNotification{
			JSONRPC: "2.0",
			Notification: mcp.Notification{
				Method: method,
				Params: mcp.NotificationParams{AdditionalFields: params},
			},
		}
		select {
		case session.NotificationChannel() <- notification:
			return nil
		default:
			return fmt.Errorf("session %s channel full", sessionID)
		}
	}
	evict := func(sessionID string) {
		registry.Remove(sessionID)
		sessions.Remove(sessionID)
	}

	notifier := app.NewNotifier(cfg.SignalFilePath(), st, registry, pushFunc, evict, logger)
	svc.SetNotifier(notifier)
	go notifier.Start(ctx)

	watchdog := app.NewWatchdog(st, registry, evict, cfg, logger)
	go watchdog.Start(ctx)

	if *useHTTP {
		runHTTPServer(ctx, mcpServer, cfg, registry, logger)
	} else {
		logger.Println("Stdio ready")
		stdioSrv := server.NewStdioServer(mcpServer)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			logger.Printf("Stdio server stopped: %v", err)
		}
	}

	cancel()
	watchdog.Stop()
	notifier.Stop()
	if err := st.Close(); err != nil {
		logger.Printf("Warning: close store: %v", err)
	}
	logger.Println("Server stopped")
}

// runHTTPServer serves streamable HTTP (/mcp), SSE (/sse, /message) and a
// health probe until ctx is cancelled. Bind failure is fatal.
func runHTTPServer(ctx context.Context, mcpServer *server.MCPServer, cfg *policy.Config,
	registry *app.SessionRegistry, logger *log.Logger) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatalf("HTTP listen %s: %v", addr, err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	baseURL := fmt.Sprintf("http://%s:%d", cfg.Host, actualPort)
	logger.Printf("HTTP server on %s", addr)
	logger.Printf("  Agents connect at: %s/mcp", baseURL)

	sseSrv := server.NewSSEServer(mcpServer, server.WithBaseURL(baseURL))
	streamSrv := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streamSrv)
	mux.Handle("/sse", sseSrv)
	mux.Handle("/sse/", sseSrv)
	mux.Handle("/message", sseSrv)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","port":%d,"agents":%d}`, actualPort, registry.Count())
	})

	httpServer := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}
}

// setupLogger logs to stderr, and additionally to the configured log file.
func setupLogger(logFile string) *log.Logger {
	w := io.Writer(os.Stderr)
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
			if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
				w = io.MultiWriter(os.Stderr, f)
			}
		}
	}
	return log.New(w, "[dead-drop] ", log.LstdFlags|log.Lshortfile)
}
