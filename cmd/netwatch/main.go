// Command netwatch runs the network telemetry daemon: it polls the device
// fleet, stores points, evaluates alert rules and serves the live alert
// stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netwatch-io/netwatch/internal/alerts"
	"github.com/netwatch-io/netwatch/internal/collectors"
	"github.com/netwatch-io/netwatch/internal/config"
	"github.com/netwatch-io/netwatch/internal/coordinator"
	"github.com/netwatch-io/netwatch/internal/credentials"
	"github.com/netwatch-io/netwatch/internal/crypto"
	"github.com/netwatch-io/netwatch/internal/logging"
	"github.com/netwatch-io/netwatch/internal/notifications"
	"github.com/netwatch-io/netwatch/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "netwatch",
	Short:   "Home network telemetry daemon",
	Long:    `Polls modems, mesh nodes, gateways and servers, stores encrypted metrics in SQLite, and alerts on thresholds and anomalies`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netwatch %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "netwatch"})
	log.Info().Str("version", Version).Str("dataDir", cfg.DataDir).Msg("Starting netwatch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageCfg := storage.DefaultConfig(cfg.DataDir)
	storageCfg.DatabasePath = cfg.DatabasePath
	storageCfg.EncryptionKeyPath = cfg.EncryptionKeyPath
	storageCfg.BatchSize = cfg.BatchSize
	storageCfg.MaxDBSizeMB = cfg.MaxDBSizeMB
	storageCfg.EnableEncryption = cfg.EnableEncryption
	storageCfg.EnableCompression = cfg.EnableCompression
	storageCfg.CompressBackups = cfg.CompressBackups
	storageCfg.BackupDir = cfg.BackupDir
	storageCfg.RetentionPolicies = cfg.RetentionOverrides

	engine, err := storage.New(storageCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer engine.Close()

	// Credentials stay encrypted on disk regardless of the metric
	// encryption setting.
	cryptoMgr, err := crypto.NewManager(cfg.EncryptionKeyPath)
	if err != nil {
		return fmt.Errorf("load credential key: %w", err)
	}
	resolver := credentials.NewResolver(credentials.NewFileStore(cfg.CredentialsFile, cryptoMgr))

	hub := notifications.NewStreamHub()
	notifier := notifications.NewManager(notifications.RateLimit{
		MaxPerWindow: cfg.RateLimitMax,
		Window:       cfg.RateLimitWindow,
	})
	notifier.Register(hub)
	registerEnvChannels(notifier)

	alertEngine := alerts.NewEngine(alerts.Config{
		EvaluationTick:   cfg.EvaluationTick,
		BaselineInterval: cfg.BaselineInterval,
		Sensitivity:      cfg.Sensitivity,
	}, engine, notifier)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	config.ApplyRules(alertEngine, rules)

	scrape, err := config.LoadScrapeConfig(cfg.ScrapeFile)
	if err != nil {
		return fmt.Errorf("load scrape config: %w", err)
	}

	pipelineMetrics := coordinator.NewPipelineMetrics()
	coord := coordinator.New(coordinator.Config{
		MaxWorkers:         cfg.MaxWorkers,
		CollectionInterval: cfg.CollectionInterval,
		FlushInterval:      cfg.FlushInterval,
		BatchSize:          cfg.BatchSize,
	}, engine, collectors.Deps{
		Resolver: resolver,
		Executor: collectors.NewSSHExecutor(),
		Scrape:   scrape,
	}, pipelineMetrics)

	devices, err := config.LoadDevices(cfg.DevicesFile)
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	for _, device := range devices {
		if err := coord.UpsertDevice(device); err != nil {
			log.Error().Err(err).Str("device", device.ID).Msg("Skipping invalid device")
		}
	}
	log.Info().Int("devices", len(devices)).Int("rules", len(rules)).Msg("Fleet loaded")

	mux := http.NewServeMux()
	mux.Handle("/stream", hub)
	mux.Handle("/metrics", promhttp.HandlerFor(pipelineMetrics.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	coord.Start()
	alertEngine.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run()
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return config.WatchRules(gctx, cfg.RulesFile, alertEngine)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		hub.Stop()
		return nil
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	coord.Stop()
	alertEngine.Stop()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Component exited with error")
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

// registerEnvChannels wires optional delivery channels from the
// environment. Absent settings simply leave the channel unregistered.
func registerEnvChannels(m *notifications.Manager) {
	if url := os.Getenv("NETWATCH_WEBHOOK_URL"); url != "" {
		m.Register(notifications.NewWebhookChannel("webhook", url, nil))
	}
	if url := os.Getenv("NETWATCH_CHAT_WEBHOOK_URL"); url != "" {
		m.Register(notifications.NewChatWebhookChannel("chat", url))
	}
	if host := os.Getenv("NETWATCH_SMTP_HOST"); host != "" {
		port := 587
		if raw := os.Getenv("NETWATCH_SMTP_PORT"); raw != "" {
			fmt.Sscanf(raw, "%d", &port)
		}
		var to []string
		if raw := os.Getenv("NETWATCH_SMTP_TO"); raw != "" {
			to = append(to, raw)
		}
		m.Register(notifications.NewEmailChannel(notifications.EmailConfig{
			Host:     host,
			Port:     port,
			Username: os.Getenv("NETWATCH_SMTP_USER"),
			Password: os.Getenv("NETWATCH_SMTP_PASS"),
			From:     os.Getenv("NETWATCH_SMTP_FROM"),
			To:       to,
		}))
	}
}
