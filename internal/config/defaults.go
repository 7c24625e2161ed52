package config

import "asticker2vid/internal/render"

const defaultHello = `*This bot turns animated stickers into videos!*

Just send me your stickers and I'll convert them!`

func Defaults() *Config {
	return &Config{
		DataDir: "~/.asticker2vid",
		Telegram: TelegramConfig{
			BotURL:       "https://t.me/asticker2vid_bot",
			PollTimeout:  60,
			HelloMessage: defaultHello,
			LinkPrefix:   "Here's the link to download the video: ",
		},
		HTTP: HTTPConfig{
			Host:    "localhost",
			Port:    12534,
			BaseURL: "http://localhost:12534",
		},
		Render: RenderConfig{
			LottieScriptURL: render.DefaultLottieScriptURL,
			FFmpegPath:      "ffmpeg",
			Background:      "black",
			MaxFPS:          60,
			TimeoutSeconds:  180,
		},
		Scratch: ScratchConfig{
			StaleAfterMinutes: 60,
		},
		Cache: CacheConfig{
			Enabled:              true,
			MaxBytes:             512 << 20,
			MaxAgeHours:          24 * 7,
			SweepIntervalMinutes: 10,
		},
		Archive: ArchiveConfig{
			Region: "auto",
			Prefix: "videos",
		},
		ErrorReporting: ErrorReportingConfig{
			Environment: "production",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Workers: WorkersConfig{
			Concurrency: 4,
			QueueSize:   100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
