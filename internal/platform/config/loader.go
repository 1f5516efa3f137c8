package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Loader resolves configuration once at startup: .env first, then the YAML
// file, then environment expansion for credential fields.
type Loader struct {
	useDotEnv bool
	path      string
}

// NewLoader creates a loader reading from the given YAML path.
func NewLoader(path string) *Loader {
	return &Loader{
		useDotEnv: true,
		path:      path,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load reads the config file, falling back to defaults when it is absent.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			fmt.Println("no .env file found, using system environment")
		}
	}

	cfg := DefaultConfig()
	path := l.path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		path = ""
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.Vision.APIKey = os.ExpandEnv(cfg.Vision.APIKey)
	cfg.Server.Token = os.ExpandEnv(cfg.Server.Token)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config: cfg,
		Path:   path,
	}, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be > 0")
	}
	if len(cfg.Vision.Models) == 0 {
		return fmt.Errorf("vision.models must list at least one model")
	}
	if cfg.Vision.MaxTokens <= 0 {
		return fmt.Errorf("vision.max_tokens must be > 0")
	}
	if cfg.Speech.EspeakRate <= 0 {
		return fmt.Errorf("speech.espeak_rate must be > 0")
	}
	if cfg.Speech.EspeakVolume < 0 || cfg.Speech.EspeakVolume > 1 {
		return fmt.Errorf("speech.espeak_volume must be within [0,1]")
	}
	return nil
}
