// Package sources implements the fetchers that read source systems for the
// ingestion stage. Each source kind registers a factory; New builds the
// fetcher for one configured source.
//
// Fetchers never touch the warehouse. They return transient errors for
// failures worth retrying (network errors, timeouts, HTTP 429 and 5xx) and
// structural errors for responses they cannot interpret.
package sources

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/nightfall/internal/ingest"
	"github.com/ajitpratap0/nightfall/pkg/clients"
	"github.com/ajitpratap0/nightfall/pkg/config"
	"github.com/ajitpratap0/nightfall/pkg/errors"
)

// Deps holds the shared collaborators fetchers may use.
type Deps struct {
	HTTP   *clients.HTTPClient
	Logger *zap.Logger
}

// Factory creates the fetcher for one source.
type Factory func(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error)

// Registry maps source kinds to factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for kind.
func (r *Registry) Register(kind string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[kind]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source kind %s already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// New creates the fetcher for cfg.
func (r *Registry) New(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Kind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeConfig, "source kind %s not found", cfg.Kind)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.With(zap.String("source", cfg.Name), zap.String("kind", cfg.Kind))

	f, err := factory(cfg, deps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create source %s", cfg.Name))
	}
	return f, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Register adds a factory to the default registry. It panics on duplicates
// since it only runs from init.
func Register(kind string, factory Factory) {
	if err := defaultRegistry.Register(kind, factory); err != nil {
		panic(err)
	}
}

// New creates a fetcher from the default registry.
func New(cfg config.SourceConfig, deps Deps) (ingest.Fetcher, error) {
	return defaultRegistry.New(cfg, deps)
}

// Kinds lists the kinds in the default registry.
func Kinds() []string {
	return defaultRegistry.Kinds()
}

// Close releases the resources of f when it holds any.
func Close(f ingest.Fetcher) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func requireHTTP(cfg config.SourceConfig, deps Deps) error {
	if deps.HTTP == nil {
		return errors.Newf(errors.ErrorTypeConfig, "source %s needs an HTTP client", cfg.Name)
	}
	return nil
}
