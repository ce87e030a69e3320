package capability

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"blockforge/internal/prompt"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// manifest is the on-disk YAML shape.
type manifest struct {
	Capabilities []Spec `yaml:"capabilities"`
}

// Registry holds the capabilities loaded from the manifest and the clients
// built for them. It can watch the manifest file and hot-reload on change;
// a broken edit keeps the last good set.
type Registry struct {
	mu      sync.RWMutex
	path    string
	specs   map[string]Spec
	clients map[string]Client
	logger  *logrus.Logger
}

// NewRegistry loads the manifest at path and builds a client for every
// entry.
func NewRegistry(path string, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		path:    path,
		specs:   make(map[string]Spec),
		clients: make(map[string]Client),
		logger:  logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read capability manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse capability manifest: %w", err)
	}

	specs := make(map[string]Spec, len(m.Capabilities))
	clients := make(map[string]Client, len(m.Capabilities))
	for _, spec := range m.Capabilities {
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, exists := specs[spec.Name]; exists {
			return fmt.Errorf("capability %s declared twice in manifest", spec.Name)
		}
		client, err := buildClient(spec)
		if err != nil {
			return err
		}
		specs[spec.Name] = spec
		clients[spec.Name] = client
	}

	r.mu.Lock()
	r.specs = specs
	r.clients = clients
	r.mu.Unlock()

	r.logger.WithField("capabilities", len(specs)).Info("Capability manifest loaded")
	return nil
}

// buildClient maps a spec's type onto a concrete client. Credentials are
// read from the environment at build time.
func buildClient(spec Spec) (Client, error) {
	credential := ""
	if spec.CredentialEnv != "" {
		credential = os.Getenv(spec.CredentialEnv)
	}

	switch spec.Type {
	case "discord":
		return newDiscordClient(spec, credential), nil
	case "slack":
		return newSlackClient(spec, credential), nil
	case "http":
		return newHTTPClient(spec), nil
	case "stub":
		return NewStubClient(spec), nil
	default:
		return nil, fmt.Errorf("capability %s: unknown type %q", spec.Name, spec.Type)
	}
}

// Watch re-loads the manifest whenever the file changes, until ctx is
// cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(r.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.path, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.load(); err != nil {
					r.logger.WithError(err).Warn("Manifest reload failed, keeping previous capabilities")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.WithError(err).Warn("Manifest watcher error")
			}
		}
	}()

	return nil
}

// Resolve returns the client for a capability name.
func (r *Registry) Resolve(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// Has reports whether a capability exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// Spec returns the manifest entry for a capability.
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// Summaries returns what the block generator should see, sorted by name
// for deterministic prompts.
func (r *Registry) Summaries() []prompt.CapabilitySummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]prompt.CapabilitySummary, 0, len(names))
	for _, name := range names {
		summaries = append(summaries, prompt.CapabilitySummary{
			Name:        name,
			Description: r.specs[name].Description,
		})
	}
	return summaries
}

// StubResolver returns a resolver whose clients fabricate results from the
// declared result fields instead of touching real surfaces. Used for dry
// runs.
func (r *Registry) StubResolver() Resolver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stubs := make(map[string]Client, len(r.specs))
	for name, spec := range r.specs {
		stubs[name] = NewStubClient(spec)
	}
	return resolverFunc(func(name string) (Client, bool) {
		c, ok := stubs[name]
		return c, ok
	})
}

type resolverFunc func(name string) (Client, bool)

func (f resolverFunc) Resolve(name string) (Client, bool) { return f(name) }
