package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/game-scanner/internal/inference"
	"github.com/zombor/game-scanner/internal/scan"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A .env file is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	flags := ff.NewFlagSet("game-scanner")
	var (
		port         = flags.IntLong("port", 8080, "HTTP server port")
		dbDriver     = flags.StringLong("db-driver", "bolt", "Database driver: 'bolt' or 'postgres'")
		dbPath       = flags.StringLong("db", "game-scanner.db", "BoltDB file path")
		postgresDSN  = flags.StringLong("postgres-dsn", "", "PostgreSQL connection string (db-driver=postgres)")
		storagePath  = flags.StringLong("storage", "./uploads", "Image storage directory path")
		backendKind  = flags.StringLong("backend", "stub", "Inference backend: 'stub' or 'live'")
		provider     = flags.StringLong("provider", "gemini", "Live inference provider: 'gemini' or 'ollama'")
		geminiKey    = flags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = flags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = flags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = flags.StringLong("ollama-model", "llava", "Ollama vision model name")
		stubDelay    = flags.DurationLong("stub-delay", 0, "Artificial latency of the stub backend")
		stageTimeout = flags.DurationLong("stage-timeout", 90*time.Second, "Deadline for each inference call")
		workers      = flags.IntLong("recognition-workers", 2, "Concurrent recognition workers")
		queueSize    = flags.IntLong("queue-size", 64, "Recognition queue capacity")
		requeueEvery = flags.DurationLong("requeue-interval", 30*time.Second, "How often scans left waiting by a full queue are re-queued")
		aiPricing    = flags.BoolLong("ai-pricing", "Append backend pricing reasoning to the engine's")
		maxUploadMB  = flags.IntLong("max-upload-mb", 12, "Maximum upload size in megabytes")
		authUser     = flags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = flags.StringLong("auth-pass", "", "Basic auth password (optional)")
		_            = flags.StringLong("config", "", "Config file (optional)")
		showVersion  = flags.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(flags, os.Args[1:],
		ff.WithEnvVarPrefix("GAME_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(flags))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	slog.Info("Initializing database...", "driver", *dbDriver)
	var store scan.Store
	var err error
	switch *dbDriver {
	case "bolt":
		store, err = scan.NewBoltStore(*dbPath)
	case "postgres":
		if *postgresDSN == "" {
			slog.Error("PostgreSQL DSN is required. Set --postgres-dsn flag or GAME_SCANNER_POSTGRES_DSN environment variable")
			os.Exit(1)
		}
		store, err = scan.NewPostgresStore(ctx, *postgresDSN)
	default:
		slog.Error("Invalid database driver", "driver", *dbDriver, "valid", "bolt or postgres")
		os.Exit(1)
	}
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize inference backend
	apiKey := *geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if inference.Kind(*backendKind) == inference.KindLive && *provider == "gemini" && apiKey == "" {
		slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
		os.Exit(1)
	}
	slog.Info("Initializing inference backend...", "backend", *backendKind, "provider", *provider)
	backend, err := inference.New(inference.Config{
		Kind:        inference.Kind(*backendKind),
		Provider:    *provider,
		GeminiKey:   apiKey,
		GeminiModel: *geminiModel,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		StubDelay:   *stubDelay,
	})
	if err != nil {
		slog.Error("Failed to initialize inference backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	// Initialize storage
	slog.Info("Initializing storage...", "path", *storagePath)
	files, err := scan.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := scan.NewService(store, files, backend, scan.Options{
		StageTimeout:    *stageTimeout,
		AIPricing:       *aiPricing,
		Workers:         *workers,
		QueueSize:       *queueSize,
		RequeueInterval: *requeueEvery,
	})
	if err := service.Recover(ctx); err != nil {
		slog.Error("Failed to recover interrupted scans", "error", err)
		os.Exit(1)
	}

	basicAuth := scan.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := scan.NewServer(service, basicAuth, int64(*maxUploadMB)<<20)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return service.Run(ctx)
	})
	g.Go(func() error {
		return server.Start(ctx, addr)
	})

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shut down")
}
