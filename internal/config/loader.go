package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

const embeddedSchemaURL = "clearbg.v1.schema.json"

//go:embed clearbg.v1.schema.json
var embeddedSchema []byte

// Schema returns the bundled JSON schema.
func Schema() []byte {
	return embeddedSchema
}

// LoadAndValidate loads the configuration at path, validates it against the schema at
// schemaPath (the bundled schema when empty), merges it over Default and applies
// environment overrides.
func LoadAndValidate(path, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	return Parse(data, schemaPath)
}

// Parse validates and decodes raw YAML.
func Parse(data []byte, schemaPath string) (*Config, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	schema, err := compileSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	// An empty document decodes to nil; there is nothing to validate.
	if raw != nil {
		if err := schema.Validate(raw); err != nil {
			return nil, fmt.Errorf("config: config validation failed: %w", err)
		}
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid config: %w", err)
	}

	return config, nil
}

// FromEnv returns Default with environment overrides applied, for running without a file.
func FromEnv() (*Config, error) {
	config := Default()
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid config: %w", err)
	}

	return config, nil
}

func compileSchema(schemaPath string) (*jsonschema.Schema, error) {
	if schemaPath != "" {
		return jsonschema.Compile(schemaPath)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(embeddedSchemaURL, bytes.NewReader(embeddedSchema)); err != nil {
		return nil, err
	}

	return compiler.Compile(embeddedSchemaURL)
}
