package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relaydesk/relaydesk/internal/config"
	"github.com/relaydesk/relaydesk/internal/httpapi"
	"github.com/relaydesk/relaydesk/internal/logger"
	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/agent"
	"github.com/relaydesk/relaydesk/pkg/conversation"
	"github.com/relaydesk/relaydesk/pkg/credentials"
	"github.com/relaydesk/relaydesk/pkg/guardrails"
	"github.com/relaydesk/relaydesk/pkg/integrations"
	"github.com/relaydesk/relaydesk/pkg/session"
	"github.com/relaydesk/relaydesk/pkg/tools"
	"github.com/relaydesk/relaydesk/pkg/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RelayDesk runtime",
	Long: `Run the RelayDesk runtime in the foreground: the chat API server,
the session cache, the durable conversation store and the retention
schedule. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	observability.EnsureRegistered()

	if err := tracing.InitOpenTelemetry("relaydesk"); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry init failed, continuing without tracing")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	conversations, err := conversation.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer conversations.Close()

	var minter *transport.TokenMinter
	if cfg.Hosted.SigningSecret != "" {
		minter = transport.NewTokenMinter([]byte(cfg.Hosted.SigningSecret), cfg.Hosted.TokenTTL)
	} else {
		zl.Warn().Msg("No hosted signing secret configured, hosted transports run without auth tokens")
	}

	adapters := transport.NewAdapterSet(transport.AdapterSetOptions{
		Minter: minter,
		Reconnect: transport.ReconnectPolicy{
			MaxAttempts:    cfg.HTTPTransport.MaxReconnects,
			InitialBackoff: cfg.HTTPTransport.InitialBackoff,
			MaxBackoff:     cfg.HTTPTransport.MaxBackoff,
		},
	})

	resolver, err := buildResolver(cfg, zl)
	if err != nil {
		return err
	}

	orchestrator := integrations.NewOrchestrator(adapters, resolver)
	factory := agent.NewFactory(orchestrator, guardrails.NewRegistry(), tools.NewRegistry())
	catalog := agent.NewCatalog(filepath.Join(cfg.DataDir, "agents"), zl)

	sessions := session.NewStore(conversations, factory, catalog.Load, session.Options{
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	})

	profiles := make([]agent.ModelProfile, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		profiles = append(profiles, agent.ModelProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	runner := agent.NewRunner(agent.NewProviderFactory(profiles), agent.RunnerOptions{})

	server, err := httpapi.NewServer(httpapi.ServerOptions{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, sessions, conversations, factory, catalog.Load, runner, zl)
	if err != nil {
		return err
	}

	var retention *conversation.Retention
	if cfg.Retention.Enabled {
		retention = conversation.NewRetention(conversations, cfg.Retention.MaxAge, cfg.Retention.Schedule)
		if err := retention.Start(); err != nil {
			return fmt.Errorf("failed to start retention schedule: %w", err)
		}
	}

	// Config file changes only adjust the log level at runtime; everything
	// else requires a restart.
	watcher, err := config.NewWatcher(loader, func(next *config.Config) {
		parsed, err := zerolog.ParseLevel(next.Logging.Level)
		if err != nil {
			zl.Warn().Str("level", next.Logging.Level).Msg("Ignoring invalid log level on reload")
			return
		}
		zerolog.SetGlobalLevel(parsed)
		zl.Info().Str("level", next.Logging.Level).Msg("Log level updated from config reload")
	})
	if err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable, continuing without hot reload")
	} else if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Config watcher failed to start, continuing without hot reload")
		watcher = nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Teardown order: stop accepting turns, then evict every session so
	// transport sources close, then stop background work.
	if err := server.Stop(); err != nil {
		zl.Error().Err(err).Msg("Chat API server shutdown failed")
	}
	sessions.Close()
	if retention != nil {
		retention.Stop()
	}
	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		zl.Warn().Err(err).Msg("OpenTelemetry shutdown failed")
	}

	zl.Info().Msg("RelayDesk stopped")
	return nil
}

// buildResolver selects the credential resolver from configuration. Without
// a key, sealed values fail loudly instead of flowing through as
// ciphertext.
func buildResolver(cfg *config.Config, zl zerolog.Logger) (credentials.Resolver, error) {
	key, err := cfg.Credentials.DecodeKey()
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		zl.Warn().Msg("No credentials key configured, sealed integration credentials will not resolve")
		return credentials.PassthroughResolver{}, nil
	}
	return credentials.NewAESResolver(key)
}
