package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			CommandPrefix:         "!",
			MaxConcurrentMessages: 5,
			ChunkLimit:            2000,
		},
		Backend: BackendConfig{
			URL:            "http://127.0.0.1:80/api_message",
			TimeoutSeconds: 300, // the agent can be slow
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled: false,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Slack: SlackConfig{
				Enabled: false,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Port:    9090,
				Path:    "/webhook",
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Port:    9091,
				Path:    "/ws",
			},
			CLI: CLIConfig{
				Enabled: false,
			},
		},
		History: HistoryConfig{
			Enabled: false,
			DBPath:  "~/.bridgebot/history.db",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Port:     9092,
			Endpoint: "/metrics",
		},
	}
}
