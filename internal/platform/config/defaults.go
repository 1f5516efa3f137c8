package config

import "time"

// DefaultConfig returns the configuration used when no config file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "percepto.log",
		},
		Web: WebConfig{
			Enabled:   false,
			StaticDir: "web/dist",
		},
		Upload: UploadConfig{
			MaxFileSize:    10 * 1024 * 1024,
			AllowedFormats: []string{"png", "jpeg", "jpg", "bmp", "webp"},
			MaxWidth:       16384,
			MaxHeight:      16384,
			MaxPixels:      100_000_000,
		},
		Vision: VisionConfig{
			BaseURL: "https://api.anthropic.com/v1",
			APIKey:  "${ANTHROPIC_API_KEY}",
			Models: []string{
				"claude-3-5-sonnet-20241022",
				"claude-3-5-haiku-20241022",
				"claude-3-sonnet-20240229",
				"claude-3-haiku-20240307",
			},
			MaxTokens: 1000,
			Timeout:   Duration(30 * time.Second),
		},
		Speech: SpeechConfig{
			Voice:        "en-US-AriaNeural",
			EspeakBinary: "espeak",
			EspeakRate:   150,
			EspeakVolume: 0.9,
		},
	}
}
