package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/shiftbreak/breakwatch/internal/breaks"
	"github.com/shiftbreak/breakwatch/internal/config"
	"github.com/shiftbreak/breakwatch/internal/gateway"
	"github.com/shiftbreak/breakwatch/internal/metrics"
	"github.com/shiftbreak/breakwatch/internal/service"
	"github.com/shiftbreak/breakwatch/internal/shift"
	"github.com/shiftbreak/breakwatch/internal/storage"
	"github.com/shiftbreak/breakwatch/internal/storage/bolt"
	"github.com/shiftbreak/breakwatch/internal/storage/redis"
	"github.com/shiftbreak/breakwatch/internal/systemd"
	"github.com/shiftbreak/breakwatch/internal/telegram"
	"github.com/shiftbreak/breakwatch/internal/timer"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Breakwatch bot",
	Long:  `Start the bot: poll for chat messages, track break sessions, run shift resets, and serve metrics.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Breakwatch")

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage initialized")

	clk := clock.New()

	shiftClock, err := breaks.NewShiftClock(clk, cfg.Shift.TimezoneOffsetHours, cfg.Shift.DayStart, cfg.Shift.NightStart)
	if err != nil {
		return fmt.Errorf("failed to build shift clock: %w", err)
	}

	policy, err := buildPolicy(cfg.Breaks)
	if err != nil {
		return fmt.Errorf("failed to build break policy: %w", err)
	}

	timers := timer.New(clk, logger)
	client := telegram.NewClient(cfg.Telegram.Token, logger)

	// The gateway consults the service for chat mutes; the service in turn
	// publishes through the gateway. The closure breaks the cycle.
	var svc *service.Service
	muted := func(chatID int64) bool {
		if svc == nil {
			return false
		}
		return svc.Muted(chatID)
	}

	gw := gateway.New(client, timers, muted, gateway.Options{
		ManagerID:       cfg.Telegram.ManagerID,
		ManagerUsername: cfg.Telegram.ManagerUsername,
		ManagerName:     cfg.Telegram.ManagerName,
		MaxAttempts:     cfg.Telegram.MaxAttempts,
		HelpDelete:      parseDuration(cfg.Breaks.HelpDelete, time.Minute),
	}, logger)

	sessions := breaks.NewStore(policy, shiftClock, timers, store.Users(), gw, logger)

	svc = service.New(client, sessions, policy, shiftClock, gw, store.Chats(),
		cfg.Telegram.ManagerID, cfg.Telegram.PollTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.LoadMutes(ctx); err != nil {
		return fmt.Errorf("failed to load chat settings: %w", err)
	}
	if err := sessions.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore session state: %w", err)
	}

	aggregator := shift.New(clk, shiftClock, sessions, gw,
		parseDuration(cfg.Breaks.IdleRetention, 30*24*time.Hour),
		parseDuration(cfg.Shift.ReconcileDelay, 5*time.Second),
		logger)
	aggregator.Start()
	logger.Info().Msg("Shift aggregator started")

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.Metrics.BindAddress, cfg.Metrics.Port)
		metricsServer = metrics.NewServer(addr, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", addr).Msg("Metrics Server started")
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("systemd notify failed")
	}

	logger.Info().Msg("Breakwatch startup complete")

	runErr := svc.Run(ctx)

	logger.Info().Msg("Shutdown signal received, gracefully stopping...")
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("systemd notify failed")
	}

	aggregator.Stop()
	gw.Wait()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("Breakwatch stopped")
	return runErr
}

// openStorage creates the configured storage backend.
func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return bolt.Open(cfg.Path)
	}
}

// buildPolicy converts validated configuration into the runtime policy.
func buildPolicy(cfg config.BreaksConfig) (*breaks.Policy, error) {
	rules := make(map[breaks.Kind]breaks.Rule, 3)
	for kind, kc := range map[breaks.Kind]config.KindConfig{
		breaks.KindToilet: cfg.Toilet,
		breaks.KindSmoke:  cfg.Smoke,
		breaks.KindMeal:   cfg.Meal,
	} {
		minDur, err := time.ParseDuration(kc.MinDuration)
		if err != nil {
			return nil, fmt.Errorf("%s min_duration: %w", kind, err)
		}
		cooldown, err := time.ParseDuration(kc.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("%s cooldown: %w", kind, err)
		}
		rules[kind] = breaks.Rule{
			LimitMinutes: kc.LimitMinutes,
			ShiftQuota:   kc.ShiftQuota,
			MinDuration:  minDur,
			Cooldown:     cooldown,
		}
	}

	grace, err := time.ParseDuration(cfg.Grace)
	if err != nil {
		return nil, fmt.Errorf("grace: %w", err)
	}

	return breaks.NewPolicy(rules, grace), nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
