package handler

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/moplog/moplog/cfg"
	"github.com/rs/zerolog/log"
)

const routeCacheSize = 1024

// Factory creates a Handler from its named configuration
type Factory func(name string, config cfg.HandlerConfiguration) (Handler, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

// RegisterHandler registers a handler factory for a type
func RegisterHandler(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// RegisteredTypes returns the registered handler types, sorted
func RegisteredTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func lookupFactory(typeName string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[typeName]
	return f, ok
}

// Resolver turns a handler name from the routing table into an instance
type Resolver interface {
	Lookup(name string) (Handler, error)
}

// MapResolver resolves names from a fixed set of instances
type MapResolver map[string]Handler

func (m MapResolver) Lookup(name string) (Handler, error) {
	h, ok := m[name]
	if !ok || h == nil {
		return nil, fmt.Errorf("no handler instance named %q", name)
	}
	return h, nil
}

// FactoryResolver resolves names through the registered factories.
// A name with a [handlers.<name>] definition is built by the factory for its
// type; otherwise the name itself must be a registered type.
type FactoryResolver struct {
	definitions map[string]cfg.HandlerConfiguration
}

// NewFactoryResolver creates a resolver over the handler definitions
func NewFactoryResolver(definitions map[string]cfg.HandlerConfiguration) *FactoryResolver {
	return &FactoryResolver{definitions: definitions}
}

func (r *FactoryResolver) Lookup(name string) (Handler, error) {
	config, defined := r.definitions[name]
	if !defined {
		config = cfg.HandlerConfiguration{Type: name}
	}

	factory, ok := lookupFactory(config.Type)
	if !ok {
		if defined {
			return nil, fmt.Errorf("unknown handler type: %s", config.Type)
		}
		return nil, fmt.Errorf("no handler definition or type named %q", name)
	}

	h, err := factory(name, config)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("factory for %q returned no handler", config.Type)
	}
	return h, nil
}

// UnresolvedHandlerError reports a routed handler name that could not be
// built. It is fatal: a configured namespace is never dropped silently.
type UnresolvedHandlerError struct {
	Name       string
	Namespaces []string
	Err        error
}

func (e *UnresolvedHandlerError) Error() string {
	return fmt.Sprintf("cannot resolve handler %q for %s: %v", e.Name, strings.Join(e.Namespaces, ", "), e.Err)
}

func (e *UnresolvedHandlerError) Unwrap() error { return e.Err }

type globRoute struct {
	pattern string
	matcher glob.Glob
	name    string
}

type route struct {
	name    string
	handler Handler
}

// Registry maps namespaces to handler instances. It is immutable after
// construction apart from its route cache.
type Registry struct {
	exact    map[string]string
	globs    []globRoute
	handlers map[string]Handler
	cache    *lru.Cache[string, route]
}

// NewRegistry resolves every handler named in routing exactly once.
// Routing keys containing glob meta characters match namespaces by pattern
// and are tried in lexical order after exact keys.
func NewRegistry(routing map[string]string, resolver Resolver) (*Registry, error) {
	cache, err := lru.New[string, route](routeCacheSize)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		exact:    make(map[string]string, len(routing)),
		handlers: make(map[string]Handler),
		cache:    cache,
	}

	byName := make(map[string][]string)
	for ns, name := range routing {
		byName[name] = append(byName[name], ns)

		if !isPattern(ns) {
			r.exact[ns] = name
			continue
		}
		g, err := glob.Compile(ns, '.')
		if err != nil {
			return nil, fmt.Errorf("invalid namespace pattern %q: %w", ns, err)
		}
		r.globs = append(r.globs, globRoute{pattern: ns, matcher: g, name: name})
	}
	sort.Slice(r.globs, func(i, j int) bool { return r.globs[i].pattern < r.globs[j].pattern })

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h, err := resolver.Lookup(name)
		if err != nil {
			r.Close()
			namespaces := byName[name]
			sort.Strings(namespaces)
			return nil, &UnresolvedHandlerError{Name: name, Namespaces: namespaces, Err: err}
		}
		r.handlers[name] = h
		log.Info().Str("handler", name).Strs("namespaces", byName[name]).Msg("Bound handler")
	}

	return r, nil
}

func isPattern(ns string) bool {
	return strings.ContainsAny(ns, "*?[{")
}

// Resolve returns the handler bound to ns and its name
func (r *Registry) Resolve(ns string) (Handler, string, bool) {
	if rt, ok := r.cache.Get(ns); ok {
		return rt.handler, rt.name, rt.handler != nil
	}

	rt := r.match(ns)
	r.cache.Add(ns, rt)
	return rt.handler, rt.name, rt.handler != nil
}

func (r *Registry) match(ns string) route {
	if name, ok := r.exact[ns]; ok {
		return route{name: name, handler: r.handlers[name]}
	}
	for _, g := range r.globs {
		if g.matcher.Match(ns) {
			return route{name: g.name, handler: r.handlers[g.name]}
		}
	}
	return route{}
}

// Names returns the bound handler names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every handler implementing io.Closer. Failures are
// collected, never short-circuited.
func (r *Registry) Close() error {
	var errs []error
	for name, h := range r.handlers {
		c, ok := h.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("Failed to close handler")
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
