package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	defaultHTTPPort = 8000
	defaultGRPCPort = 9000
)

// DefaultHTTPPort returns the default HTTP port.
func DefaultHTTPPort() int {
	return defaultHTTPPort
}

// DefaultGRPCPort returns the default gRPC port.
func DefaultGRPCPort() int {
	return defaultGRPCPort
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:              "0.0.0.0",
			HTTPPort:          defaultHTTPPort,
			GRPCPort:          defaultGRPCPort,
			ProcessingTimeout: 2 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "logs/clearbg.log",
		},
		Upload: UploadConfig{
			MaxFileSizeMB:     10,
			AllowedExtensions: []string{"jpg", "jpeg", "png", "webp"},
		},
		Models: ModelsConfig{
			Default: "rembg",
			Warmup: WarmupConfig{
				Mode:            WarmupAll,
				Order:           []string{"rembg", "withoutbg"},
				SettleDelay:     5 * time.Second,
				InterModelDelay: 3 * time.Second,
			},
			Rembg: RembgConfig{
				Model:     "u2netp",
				ModelsDir: DefaultModelsPath(),
			},
			WithoutBG: WithoutBGConfig{
				BinPath:        "withoutbg-server",
				Port:           8091,
				HealthPath:     "/health",
				ReadyTimeout:   2 * time.Minute,
				RequestTimeout: 2 * time.Minute,
			},
		},
		Monitor: MonitorConfig{
			Schedule: "@every 1m",
		},
	}
}

// DefaultConfigPath returns the default path for the clearbg config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "clearbg", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "clearbg")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "clearbg")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "clearbg")
		}
		return filepath.Join(home, ".config", "clearbg")
	}
}

// DefaultModelsPath returns the default path for the clearbg models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "clearbg", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "clearbg", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "clearbg", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "clearbg", "models")
		}
		return filepath.Join(home, ".cache", "clearbg", "models")
	}
}
