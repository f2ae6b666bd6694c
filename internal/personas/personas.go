// Package personas holds the discovery persona catalog: the system framing and
// display metadata for each required analytical angle.
package personas

import (
	"cmp"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/rdengine/go/orchestrator/internal/models"
)

//go:embed personas.yaml
var defaultCatalog []byte

var (
	ErrPersonaNotFound = errors.New("persona not found")
	ErrConfigInvalid   = errors.New("invalid persona configuration")
)

// PersonaConfig is one catalog entry.
type PersonaConfig struct {
	ID           models.Persona `yaml:"-" json:"id"`
	Name         string         `yaml:"name" json:"name"`
	Description  string         `yaml:"description" json:"description"`
	SystemPrompt string         `yaml:"system_prompt" json:"system_prompt"`
	Priority     int            `yaml:"priority" json:"priority"`
}

// Config is the YAML document shape.
type Config struct {
	Personas map[string]*PersonaConfig `yaml:"personas"`
}

// ConfigError represents a configuration-related error
type ConfigError struct {
	File    string
	Persona string
	Cause   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s[%s]: %v", e.File, e.Persona, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Catalog is an immutable persona lookup.
type Catalog struct {
	byID map[models.Persona]*PersonaConfig
}

// Default returns the embedded catalog. It panics only if the embedded file is broken.
func Default() *Catalog {
	c, err := parse("personas.yaml", defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalog file and overlays it on the embedded defaults, so an override
// file only needs the fields it changes. An empty path returns the defaults.
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{File: path, Cause: fmt.Errorf("failed to read config file: %w", err)}
	}
	override, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	for id, p := range override.byID {
		cur := base.byID[id]
		if p.Name != "" {
			cur.Name = p.Name
		}
		if p.Description != "" {
			cur.Description = p.Description
		}
		if p.SystemPrompt != "" {
			cur.SystemPrompt = p.SystemPrompt
		}
		if p.Priority != 0 {
			cur.Priority = p.Priority
		}
	}
	return base, nil
}

func parse(file string, data []byte) (*Catalog, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigError{File: file, Cause: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	if len(cfg.Personas) == 0 {
		return nil, &ConfigError{File: file, Cause: fmt.Errorf("%w: no personas defined", ErrConfigInvalid)}
	}
	c := &Catalog{byID: make(map[models.Persona]*PersonaConfig, len(cfg.Personas))}
	for key, p := range cfg.Personas {
		id := models.Persona(strings.ToLower(strings.TrimSpace(key)))
		if !id.IsValid() {
			return nil, &ConfigError{File: file, Persona: key, Cause: fmt.Errorf("%w: unknown persona", ErrConfigInvalid)}
		}
		if p == nil {
			p = &PersonaConfig{}
		}
		p.ID = id
		p.SystemPrompt = strings.TrimSpace(p.SystemPrompt)
		c.byID[id] = p
	}
	return c, nil
}

// Get returns the persona entry.
func (c *Catalog) Get(id models.Persona) (*PersonaConfig, error) {
	p, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPersonaNotFound, id)
	}
	return p, nil
}

// SystemPrompt returns the persona framing, or a generic one for unknown personas.
func (c *Catalog) SystemPrompt(id models.Persona) string {
	if p, ok := c.byID[id]; ok && p.SystemPrompt != "" {
		return p.SystemPrompt
	}
	return "You are a research analyst. Search broadly for well-sourced, specific findings."
}

// Validate reports any required persona missing from the catalog.
func (c *Catalog) Validate() error {
	missing := lo.Filter(models.RequiredPersonas, func(p models.Persona, _ int) bool {
		_, ok := c.byID[p]
		return !ok
	})
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing personas %v", ErrConfigInvalid, missing)
	}
	return nil
}

// All returns every entry ordered by priority.
func (c *Catalog) All() []*PersonaConfig {
	out := lo.Values(c.byID)
	slices.SortFunc(out, func(a, b *PersonaConfig) int {
		if a.Priority != b.Priority {
			return cmp.Compare(a.Priority, b.Priority)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}
