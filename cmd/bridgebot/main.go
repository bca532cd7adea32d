package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bridgebot/internal/backend"
	"bridgebot/internal/bus"
	"bridgebot/internal/channel"
	"bridgebot/internal/config"
	"bridgebot/internal/domain"
	"bridgebot/internal/history"
	"bridgebot/internal/metrics"
	"bridgebot/internal/relay"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	// Credentials can live in a .env file next to the binary.
	_ = godotenv.Load()

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "bridgebot",
		Short: "bridgebot: chat platform to conversational backend relay",
		Long:  "bridgebot relays chat messages from Discord, Telegram, Slack and other channels to a single conversational HTTP backend.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.bridgebot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults plus
// environment overrides when no file exists.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using environment", "path", cfgPath, "err", err)
		return config.FromEnv()
	}
	return cfg, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the relay with all enabled channels",
		Long:  "Starts the relay dispatcher and every channel enabled in the config. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the backend from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Interactive session: no platform channels, CLI in foreground.
			cfg.Channels = config.ChannelsConfig{}
			return runRelay(cfg, true)
		},
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return runRelay(cfg, false)
}

// runRelay wires the bus, backend client, dispatcher, and channels. In
// interactive mode the CLI channel runs in the foreground and the relay
// exits when it does; otherwise it blocks until a shutdown signal.
func runRelay(cfg *config.Config, interactive bool) error {
	setLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	events := bus.NewEventBus(logger)

	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	client := backend.NewClient(backend.Config{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Timeout: timeout,
		Logger:  logger,
	})
	if err := client.Healthy(ctx); err != nil {
		logger.Warn("backend not fully configured", "err", err)
	}

	contexts := relay.NewContextStore()
	commands := relay.NewCommands(cfg.General.CommandPrefix, contexts, cfg.Backend.URL, timeout)

	registerMetrics(events, contexts)

	var store *history.Store
	if cfg.History.Enabled {
		var err error
		store, err = history.NewStore(cfg.History.DBPath, logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer store.Close()
		registerHistory(events, store)
		logger.Info("transcript log enabled", "db", cfg.History.DBPath)
	}

	dispatcher := relay.NewDispatcher(relay.DispatcherConfig{
		Backend:      client,
		Contexts:     contexts,
		Commands:     commands,
		Bus:          messageBus,
		Events:       events,
		Logger:       logger,
		AllowedChats: cfg.General.AllowedChats,
		ChunkLimit:   cfg.General.ChunkLimit,
		Concurrency:  cfg.General.MaxConcurrentMessages,
	})
	go dispatcher.Run(ctx)

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics)
	}

	logger.Info("bridgebot starting",
		"version", version,
		"backend", cfg.Backend.URL,
		"api_key", config.MaskSecret(cfg.Backend.APIKey),
		"timeout", timeout,
		"allowed_chats", len(cfg.General.AllowedChats),
		"chunk_limit", cfg.General.ChunkLimit,
	)

	if interactive {
		cli := channel.NewCLI(channel.CLIConfig{Logger: logger})
		defer messageBus.Close()
		return cli.Start(ctx, messageBus)
	}

	channels := startChannels(ctx, cfg, messageBus)
	if len(channels) == 0 {
		return fmt.Errorf("no channels enabled, nothing to do")
	}

	// Block until shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// startChannels starts every enabled channel adapter in its own goroutine.
func startChannels(ctx context.Context, cfg *config.Config, messageBus domain.MessageBus) []domain.Channel {
	var channels []domain.Channel

	start := func(ch domain.Channel) {
		channels = append(channels, ch)
		go func() {
			if err := ch.Start(ctx, messageBus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}()
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if cfg.Channels.Discord.Enabled {
		start(channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Telegram.Enabled {
		start(channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.Channels.Telegram.Token,
			Logger: logger,
		}))
	}
	if cfg.Channels.Slack.Enabled {
		start(channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Webhook.Enabled {
		start(channel.NewWebhook(channel.WebhookConfig{
			Port:   cfg.Channels.Webhook.Port,
			Path:   cfg.Channels.Webhook.Path,
			Secret: cfg.Channels.Webhook.Secret,
			Logger: logger,
		}))
	}
	if cfg.Channels.WebSocket.Enabled {
		start(channel.NewWebSocketChannel(channel.WSConfig{
			Port:   cfg.Channels.WebSocket.Port,
			Path:   cfg.Channels.WebSocket.Path,
			Logger: logger,
		}))
	}
	if cfg.Channels.CLI.Enabled {
		start(channel.NewCLI(channel.CLIConfig{Logger: logger}))
	}

	return channels
}

// registerMetrics subscribes the meters to dispatcher events.
func registerMetrics(events *bus.EventBus, contexts *relay.ContextStore) {
	events.On(bus.EventMessageReceived, func(e bus.Event) {
		metrics.MessagesTotal.Inc()
	})
	events.On(bus.EventMessageFiltered, func(e bus.Event) {
		metrics.FilteredTotal.Inc()
	})
	events.On(bus.EventCommandHandled, func(e bus.Event) {
		metrics.CommandsTotal.Inc()
	})
	events.On(bus.EventRelaySucceeded, func(e bus.Event) {
		metrics.RelayTotal.Inc()
		metrics.ContextsActive.Set(int64(contexts.Len()))
		if chunks, ok := e.Payload["chunks"].(int); ok {
			metrics.ChunksSent.Add(int64(chunks))
		}
		if elapsed, ok := e.Payload["elapsed"].(float64); ok {
			metrics.RelayLatency.Observe(elapsed)
		}
	})
	events.On(bus.EventRelayFailed, func(e bus.Event) {
		metrics.RelayTotal.Inc()
		kind, _ := e.Payload["kind"].(string)
		metrics.RelayErrors(kind).Inc()
		if elapsed, ok := e.Payload["elapsed"].(float64); ok {
			metrics.RelayLatency.Observe(elapsed)
		}
	})
	events.On(bus.EventContextReset, func(e bus.Event) {
		metrics.ContextsActive.Set(int64(contexts.Len()))
	})
}

// registerHistory appends every relayed exchange to the transcript log.
func registerHistory(events *bus.EventBus, store *history.Store) {
	str := func(p map[string]any, key string) string {
		s, _ := p[key].(string)
		return s
	}
	record := func(e bus.Event, failed bool) {
		channelName := str(e.Payload, "channel")
		chatID := str(e.Payload, "chat_id")
		ex := history.Exchange{
			ConvKey:   channelName + ":" + chatID,
			Channel:   channelName,
			ChatID:    chatID,
			SenderID:  str(e.Payload, "sender"),
			Request:   str(e.Payload, "message"),
			Reply:     str(e.Payload, "reply"),
			ContextID: str(e.Payload, "context"),
			Failed:    failed,
			ErrorKind: str(e.Payload, "kind"),
			CreatedAt: e.Timestamp,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.RecordExchange(ctx, ex); err != nil {
			logger.Warn("transcript write failed", "err", err)
		}
	}
	events.On(bus.EventRelaySucceeded, func(e bus.Event) { record(e, false) })
	events.On(bus.EventRelayFailed, func(e bus.Event) { record(e, true) })
}

// serveMetrics exposes the Prometheus text endpoint.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig) {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, metrics.Collector.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("metrics server starting", "port", cfg.Port, "endpoint", cfg.Endpoint)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", "err", err)
	}
}

func setLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg, err = config.FromEnv()
				if err != nil {
					return err
				}
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			client := backend.NewClient(backend.Config{
				URL:     cfg.Backend.URL,
				APIKey:  cfg.Backend.APIKey,
				Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
				Logger:  logger,
			})
			if err := client.Healthy(context.Background()); err != nil {
				logger.Info("backend", "url", cfg.Backend.URL, "configured", false, "err", err)
			} else {
				logger.Info("backend", "url", cfg.Backend.URL, "configured", true)
			}

			if cfg.History.Enabled {
				store, err := history.NewStore(cfg.History.DBPath, logger)
				if err != nil {
					return err
				}
				defer store.Close()
				sums, err := store.Conversations(context.Background(), 10)
				if err != nil {
					return err
				}
				for _, s := range sums {
					logger.Info("conversation",
						"key", s.ConvKey,
						"exchanges", s.Exchanges,
						"failures", s.Failures,
						"last_seen", s.LastSeen.Format(time.RFC3339),
					)
				}
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("bridgebot " + version)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. backend.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.commandPrefix $)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
