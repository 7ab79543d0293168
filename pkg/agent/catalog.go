package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownAgent is returned when no configuration file exists for the
// requested agent.
var ErrUnknownAgent = errors.New("unknown agent")

// agentIDRegex validates agent ID format (lowercase alphanumeric with hyphens)
var agentIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// ConfigurationSchema is the JSON schema every persisted agent
// configuration is validated against before assembly.
const ConfigurationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "instructions", "model"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string"},
    "instructions": {"type": "string", "minLength": 1},
    "model": {"type": "string", "minLength": 1},
    "is_active": {"type": "boolean"},
    "rules": {"type": "object"},
    "selected_tools": {"type": "array", "items": {"type": "string"}},
    "guardrails": {
      "type": "object",
      "properties": {
        "input": {"type": "array", "items": {"type": "string"}},
        "output": {"type": "array", "items": {"type": "string"}},
        "thresholds": {"type": "object"},
        "custom_instructions": {"type": "string"}
      }
    },
    "integrations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["integration_id"],
        "properties": {
          "integration_id": {"type": "string", "minLength": 1},
          "is_enabled": {"type": "boolean"},
          "selected_tools": {"type": "array", "items": {"type": "string"}},
          "config": {"type": "object"},
          "integration": {
            "type": "object",
            "required": ["id", "type", "name"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "type": {"type": "string", "minLength": 1},
              "name": {"type": "string", "minLength": 1},
              "credentials": {"type": "object"},
              "is_active": {"type": "boolean"}
            }
          }
        }
      }
    }
  }
}`

// Catalog loads persisted agent configurations from disk. Files live at
// <dir>/<organization_id>/<agent_id>.json and are schema-validated before
// they reach the factory.
type Catalog struct {
	dir          string
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewCatalog creates a catalog rooted at dir.
func NewCatalog(dir string, logger zerolog.Logger) *Catalog {
	return &Catalog{
		dir:          dir,
		logger:       logger.With().Str("component", "agent-catalog").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(ConfigurationSchema),
	}
}

// Load reads and validates one agent configuration. The signature matches
// the session store's ConfigLoader.
func (c *Catalog) Load(ctx context.Context, organizationID, agentID string) (Configuration, error) {
	if !agentIDRegex.MatchString(agentID) {
		return Configuration{}, fmt.Errorf("%w: invalid agent ID %q", ErrUnknownAgent, agentID)
	}

	path := filepath.Join(c.dir, organizationID, agentID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Configuration{}, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
		}
		return Configuration{}, fmt.Errorf("failed to read agent configuration: %w", err)
	}

	cfg, err := parseConfiguration(data, c.schemaLoader)
	if err != nil {
		return Configuration{}, err
	}

	c.logger.Debug().
		Str("agent_id", cfg.ID).
		Str("model", cfg.Model).
		Msg("Loaded agent configuration")

	return cfg, nil
}

// List enumerates every agent configuration for one organization.
func (c *Catalog) List(ctx context.Context, organizationID string) ([]Configuration, error) {
	entries, err := os.ReadDir(filepath.Join(c.dir, organizationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read agent catalog: %w", err)
	}

	var configs []Configuration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		agentID := strings.TrimSuffix(entry.Name(), ".json")
		cfg, err := c.Load(ctx, organizationID, agentID)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("file", entry.Name()).
				Msg("Skipping malformed agent configuration")
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

// parseConfiguration validates the raw JSON against the schema and decodes
// it.
func parseConfiguration(data []byte, schemaLoader gojsonschema.JSONLoader) (Configuration, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Configuration{}, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for i, verr := range result.Errors() {
			if i > 0 {
				errMsg += "; "
			}
			errMsg += verr.String()
		}
		return Configuration{}, fmt.Errorf("invalid agent configuration: %s", errMsg)
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("failed to parse agent configuration: %w", err)
	}
	return cfg, nil
}
