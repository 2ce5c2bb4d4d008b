package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// Config holds the main configuration for the application.
type Config struct {
	Version string        `json:"version"           yaml:"version"`
	Server  ServerConfig  `json:"server"            yaml:"server"`
	Logging LoggingConfig `json:"logging"           yaml:"logging"`
	Upload  UploadConfig  `json:"upload"            yaml:"upload"`
	Models  ModelsConfig  `json:"models"            yaml:"models"`
	Monitor MonitorConfig `json:"monitor,omitempty" yaml:"monitor,omitempty"`
}

// ServerConfig holds the listener and request limits.
type ServerConfig struct {
	Host              string        `json:"host"               yaml:"host"`
	HTTPPort          int           `json:"http_port"          yaml:"http_port"`
	GRPCPort          int           `json:"grpc_port"          yaml:"grpc_port"`
	ProcessingTimeout time.Duration `json:"processing_timeout" yaml:"processing_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"   yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"             yaml:"level"`
	File   string `json:"file,omitempty"    yaml:"file,omitempty"`
	ToFile bool   `json:"to_file,omitempty" yaml:"to_file,omitempty"`
}

// UploadConfig holds upload validation limits.
type UploadConfig struct {
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions"`
	MaxFileSizeMB     int      `json:"max_file_size_mb"   yaml:"max_file_size_mb"`
}

// MaxFileSizeBytes converts the megabyte limit to bytes.
func (u UploadConfig) MaxFileSizeBytes() int64 {
	return int64(u.MaxFileSizeMB) * 1024 * 1024
}

// IsAllowedExtension reports whether ext (with or without a leading dot) is accepted.
func (u UploadConfig) IsAllowedExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext != "" && slices.Contains(u.AllowedExtensions, ext)
}

// ModelsConfig holds model selection, warmup and per-backend settings.
type ModelsConfig struct {
	Default   string          `json:"default"   yaml:"default"`
	Warmup    WarmupConfig    `json:"warmup"    yaml:"warmup"`
	Rembg     RembgConfig     `json:"rembg"     yaml:"rembg"`
	WithoutBG WithoutBGConfig `json:"withoutbg" yaml:"withoutbg"`
}

const (
	// WarmupAll initializes every registered model during warmup.
	WarmupAll = "all"

	// WarmupNone skips warmup; every model loads on its first request.
	WarmupNone = "none"
)

// WarmupConfig controls the staggered background initialization.
// Mode is "all", "none" or the name of a single model.
type WarmupConfig struct {
	Mode            string        `json:"mode"              yaml:"mode"`
	Order           []string      `json:"order,omitempty"   yaml:"order,omitempty"`
	SettleDelay     time.Duration `json:"settle_delay"      yaml:"settle_delay"`
	InterModelDelay time.Duration `json:"inter_model_delay" yaml:"inter_model_delay"`
}

// RembgConfig configures the in-process ONNX backend.
type RembgConfig struct {
	Model     string       `json:"model"                yaml:"model"`
	ModelPath string       `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	ModelsDir string       `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
	Source    SourceConfig `json:"source,omitempty"     yaml:"source,omitempty"`
}

// WithoutBGConfig configures the sidecar server backend.
// When BaseURL is set the server is managed externally and BinPath is ignored.
type WithoutBGConfig struct {
	Env            map[string]string `json:"env,omitempty"      yaml:"env,omitempty"`
	BaseURL        string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	BinPath        string            `json:"bin_path,omitempty" yaml:"bin_path,omitempty"`
	HealthPath     string            `json:"health_path"        yaml:"health_path"`
	Args           []string          `json:"args,omitempty"     yaml:"args,omitempty"`
	Port           int               `json:"port"               yaml:"port"`
	ReadyTimeout   time.Duration     `json:"ready_timeout"      yaml:"ready_timeout"`
	RequestTimeout time.Duration     `json:"request_timeout"    yaml:"request_timeout"`
}

// MonitorConfig controls the periodic readiness reporter. An empty schedule disables it.
type MonitorConfig struct {
	Schedule string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ErrNoSource is returned when a model has no source configured.
var ErrNoSource = errors.New("no source configured for model")

// GetSource returns the active source.
func (s SourceConfig) GetSource() (ModelSource, error) {
	if s.HuggingFace != nil {
		return *s.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// Validate checks cross-field constraints the schema cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.http_port out of range: %d", c.Server.HTTPPort))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.HTTPPort {
		errs = append(errs, errors.New("server.grpc_port must differ from server.http_port"))
	}
	if c.Server.ProcessingTimeout <= 0 {
		errs = append(errs, errors.New("server.processing_timeout must be positive"))
	}
	if c.Upload.MaxFileSizeMB <= 0 {
		errs = append(errs, errors.New("upload.max_file_size_mb must be positive"))
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("upload.allowed_extensions must not be empty"))
	}
	if strings.TrimSpace(c.Models.Warmup.Mode) == "" {
		errs = append(errs, errors.New("models.warmup.mode must not be empty"))
	}
	if c.Models.Warmup.SettleDelay < 0 || c.Models.Warmup.InterModelDelay < 0 {
		errs = append(errs, errors.New("models.warmup delays must not be negative"))
	}

	return errors.Join(errs...)
}

// normalize lower-cases the values compared case-insensitively.
func (c *Config) normalize() {
	for i, ext := range c.Upload.AllowedExtensions {
		c.Upload.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	c.Models.Warmup.Mode = strings.TrimSpace(c.Models.Warmup.Mode)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}
