package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" decode directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Web    WebConfig    `yaml:"web"`
	Upload UploadConfig `yaml:"upload"`
	Vision VisionConfig `yaml:"vision"`
	Speech SpeechConfig `yaml:"speech"`
}

type ServerConfig struct {
	IP    string `yaml:"ip"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StaticDir string `yaml:"static_dir"`
}

// UploadConfig bounds what the transport accepts before any decoding happens.
type UploadConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	AllowedFormats []string `yaml:"allowed_formats"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	MaxPixels      int64    `yaml:"max_pixels"`
	SaveDir        string   `yaml:"save_dir"`
}

// VisionConfig describes the remote description service and its model
// fallback chain, most capable first.
type VisionConfig struct {
	BaseURL   string   `yaml:"url"`
	APIKey    string   `yaml:"api_key"`
	Models    []string `yaml:"models"`
	MaxTokens int      `yaml:"max_tokens"`
	Timeout   Duration `yaml:"timeout"`
}

// SpeechConfig configures the synthesis backends; edge is the network
// primary, espeak the offline fallback.
type SpeechConfig struct {
	Voice        string  `yaml:"voice"`
	EspeakBinary string  `yaml:"espeak_binary"`
	EspeakRate   int     `yaml:"espeak_rate"`
	EspeakVolume float64 `yaml:"espeak_volume"`
	TempDir      string  `yaml:"temp_dir"`
}
