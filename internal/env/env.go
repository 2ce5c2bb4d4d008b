package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/clearbg/internal/envvar"
)

// Environment is the runtime environment the process is running in.
type Environment string

const (
	// Development enables human readable logs.
	Development Environment = "development"

	// Production enables JSON logs.
	Production Environment = "production"
)

// FromEnv reads the environment from CLEARBG_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.ClearbgEnv))
}

// Parse maps a raw value to an Environment.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return Production
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
