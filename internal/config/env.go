package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ekisa-team/clearbg/internal/envvar"
)

// ApplyEnv overrides config values with CLEARBG_* environment variables.
func ApplyEnv(c *Config) error {
	if v := os.Getenv(envvar.ClearbgServerHost); v != "" {
		c.Server.Host = v
	}

	if err := envInt(envvar.ClearbgServerHTTPPort, &c.Server.HTTPPort); err != nil {
		return err
	}
	if err := envInt(envvar.ClearbgServerGRPCPort, &c.Server.GRPCPort); err != nil {
		return err
	}
	if err := envInt(envvar.ClearbgMaxFileSizeMB, &c.Upload.MaxFileSizeMB); err != nil {
		return err
	}

	if v := os.Getenv(envvar.ClearbgLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(envvar.ClearbgWarmupMode); v != "" {
		c.Models.Warmup.Mode = v
	}
	if v := os.Getenv(envvar.ClearbgModelsPath); v != "" {
		c.Models.Rembg.ModelsDir = v
	}

	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: invalid %s=%q: %w", name, v, err)
	}

	*dst = n
	return nil
}
