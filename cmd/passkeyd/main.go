// ABOUTME: Entry point for the passkeyd authentication server
// ABOUTME: Serves passkey registration and login ceremonies over HTTP

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkeyd/internal/ceremony"
	"github.com/2389/passkeyd/internal/config"
	"github.com/2389/passkeyd/internal/session"
	"github.com/2389/passkeyd/internal/store"
	"github.com/2389/passkeyd/internal/verify"
	"github.com/2389/passkeyd/internal/web"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                         _                          _
 _ __   __ _ ___ ___ | | __  ___  _   _   __| |
| '_ \ / _' |/ __/ __|| |/ / / _ \| | | | / _' |
| |_) | (_| |\__ \__ \|   < |  __/| |_| || (_| |
| .__/ \__,_||___/___/|_|\_\ \___| \__, | \__,_|
|_|                                |___/
`

const defaultConfig = `# passkeyd configuration
server:
  http_addr: ":7860"
  # base_url: "https://auth.example.com"

database:
  path: "${HOME}/.local/share/passkeyd/passkeyd.db"

challenges:
  ttl: "5m"

logging:
  level: "info"
  format: "text"
`

// getConfigPath returns the path to the passkeyd config file.
// Priority: PASSKEYD_CONFIG env var > XDG_CONFIG_HOME/passkeyd/passkeyd.yaml > ~/.config/passkeyd/passkeyd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PASSKEYD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "passkeyd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "passkeyd", "passkeyd.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: passkeyd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the authentication server")
		fmt.Println("  init     Write a default config file")
		fmt.Println("  version  Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(defaultConfig), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	color.Green("Wrote default config to %s", path)
	return nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	color.Cyan(banner)
	color.White("passkeyd %s", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	setupLogging(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}
	defer st.Close()

	rpID, displayName, origins := cfg.ResolveRP()
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: displayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return fmt.Errorf("initializing webauthn: %w", err)
	}
	slog.Info("webauthn configured", "rp_id", rpID, "origins", origins)

	ceremonies := ceremony.NewService(wa, verify.NewGateway(wa), st, cfg.Challenges.TTL)
	defer ceremonies.Close()

	mux := http.NewServeMux()
	web.New(ceremonies, session.NewBinder()).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// setupLogging configures the default slog logger from config.
func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
