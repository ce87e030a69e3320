package capability

import (
	"context"
	"fmt"
)

// Client is one invokable capability. Implementations wrap a single
// external surface (a webhook, an HTTP origin) and normalize results into
// plain maps for template resolution.
type Client interface {
	Name() string
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Resolver hands out clients by capability name. The sandbox depends on
// this, not on the full registry, so tests can substitute stubs.
type Resolver interface {
	Resolve(name string) (Client, bool)
}

// ResultField declares one field every invocation of a capability
// produces. Declared results let generated blocks be checked and dry-run
// without touching the real surface.
type ResultField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Spec is one manifest entry: a named capability, the client type that
// backs it, where its credential lives, and what it returns.
type Spec struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	Description   string         `yaml:"description"`
	CredentialEnv string         `yaml:"credential_env"`
	Results       []ResultField  `yaml:"results"`
	Settings      map[string]any `yaml:"settings"`
}

// Validate checks a spec is complete enough to build a client from.
func (s Spec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("capability missing name")
	}
	if s.Type == "" {
		return fmt.Errorf("capability %s: missing type", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("capability %s: missing description", s.Name)
	}
	return nil
}

// Helper functions for settings access.
func getString(settings map[string]any, key, defaultVal string) string {
	if v, ok := settings[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

func getInt(settings map[string]any, key string, defaultVal int) int {
	if v, ok := settings[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}
