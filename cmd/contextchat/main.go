package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ContextChat/internal/chat"
	"ContextChat/internal/config"
	"ContextChat/internal/httpapi"
	"ContextChat/internal/llm"
	"ContextChat/internal/resolver"
	"ContextChat/internal/store"
	"ContextChat/internal/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		serve      = flag.Bool("serve", false, "Run the HTTP API instead of the interactive prompt")
		provider   = flag.String("provider", "", "Language model provider (openai|ollama)")
		listen     = flag.String("listen", "", "HTTP listen address")
		sessionID  = flag.String("session-id", "", "Resume an existing session by ID (interactive mode)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *debug {
		cfg.Debug = true
	}

	logger, err := telemetry.InitLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	db, err := telemetry.InitDB(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	understander, err := newUnderstander(cfg, logger, tracer, meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	sessions := store.NewSQLiteStore(db, logger)
	res := resolver.New(llm.NewCached(understander, logger), cfg.ConfidenceThreshold, logger)
	engine := chat.NewManager(sessions, res, cfg.ContextWindow, tracer, logger)

	if *serve {
		handler := httpapi.NewServer(engine, logger)
		logger.Info("listening", "addr", cfg.ListenAddr, "provider", cfg.Provider)
		fmt.Printf("ContextChat API listening on %s\n", cfg.ListenAddr)
		if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runInteractive(ctx, engine, *sessionID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newUnderstander(cfg config.Config, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (llm.Understander, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAI(cfg.OpenAIBaseURL, cfg.Model, cfg.CollaboratorTimeout, logger, tracer, meter), nil
	case config.ProviderOllama:
		return llm.NewOllama(cfg.OllamaBaseURL, cfg.Model, cfg.CollaboratorTimeout, logger, tracer, meter), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}

// runInteractive is a local prompt against the engine: each line is
// resolved against the session's history and the outcome printed.
func runInteractive(ctx context.Context, engine *chat.Manager, sessionID string) error {
	if sessionID == "" {
		sess, err := engine.NewSession(ctx, nil)
		if err != nil {
			return err
		}
		sessionID = sess.ID
	}

	fmt.Println("=== ContextChat ===")
	fmt.Printf("Session: %s\n", sessionID)
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, newID, err := handleCommand(ctx, engine, sessionID, input)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			if newID != "" {
				sessionID = newID
			}
			if quit {
				break
			}
			continue
		}

		_, res, err := engine.Process(ctx, sessionID, input)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		if res.ContextApplied {
			fmt.Printf("Resolved: %s (confidence %.2f)\n\n", res.ResolvedQuery, res.Confidence)
		} else {
			fmt.Printf("Resolved: %s (no context needed)\n\n", res.ResolvedQuery)
		}
	}

	fmt.Println("Goodbye!")
	return nil
}

func handleCommand(ctx context.Context, engine *chat.Manager, sessionID, cmd string) (quit bool, newSessionID string, err error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, "", nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, "", nil

	case "/new-session":
		sess, err := engine.NewSession(ctx, nil)
		if err != nil {
			return false, "", err
		}
		fmt.Println("Started new session:", sess.ID)
		return false, sess.ID, nil

	case "/history":
		msgs, err := engine.History(ctx, sessionID)
		if err != nil {
			return false, "", err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		fmt.Println()
		return false, "", nil

	case "/clear":
		if err := engine.Clear(ctx, sessionID); err != nil {
			return false, "", err
		}
		fmt.Println("Session cleared.")
		return false, "", nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /quit, /exit   - Exit")
		fmt.Println("  /new-session   - Start a new session")
		fmt.Println("  /history       - Show session history")
		fmt.Println("  /clear         - Clear session history")
		fmt.Println("  /help          - Show this help message")
		return false, "", nil

	default:
		return false, "", nil
	}
}
