// Package prompt manages the orchestrator's prompt templates: the
// classifier selection prompt, the decomposer plan prompt, each agent's
// system prompt, and the aggregator synthesis prompt. Templates use strict
// {name} interpolation — every placeholder in a template must be supplied by
// the caller, and any variable the caller supplies but the template doesn't
// reference is also an error, catching stale call sites early rather than
// silently dropping context an agent was meant to receive.
package prompt

import (
	"fmt"
	"regexp"
	"sync"
)

// Built-in template names. Concrete agents register their own
// "agent.<name>.system" entries at startup; these three ship in Defaults().
const (
	ClassifierSelection = "classifier.selection"
	DecomposerPlan      = "decomposer.plan"
	AggregatorSynthesize = "aggregator.synthesize"
)

// AgentSystemKey builds the template key for an agent's system prompt.
func AgentSystemKey(agentName string) string {
	return fmt.Sprintf("agent.%s.system", agentName)
}

// Vars is the substitution map passed to Render.
type Vars map[string]string

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Template is a named prompt body plus the set of placeholder names it
// references, computed once at load time so Render can validate without
// re-scanning the string on every call.
type Template struct {
	Name string
	Body string
	vars map[string]bool
}

func newTemplate(name, body string) *Template {
	vars := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(body, -1) {
		vars[m[1]] = true
	}
	return &Template{Name: name, Body: body, vars: vars}
}

// Render substitutes every {name} placeholder in the template with the
// matching entry in vars. It is an error for the template to reference a
// name missing from vars, and an error for vars to supply a name the
// template never references.
func (t *Template) Render(vars Vars) (string, error) {
	for name := range t.vars {
		if _, ok := vars[name]; !ok {
			return "", fmt.Errorf("prompt %q: missing value for {%s}", t.Name, name)
		}
	}
	for name := range vars {
		if !t.vars[name] {
			return "", fmt.Errorf("prompt %q: unused variable %q passed to render", t.Name, name)
		}
	}
	return placeholderRe.ReplaceAllStringFunc(t.Body, func(match string) string {
		name := match[1 : len(match)-1]
		return vars[name]
	}), nil
}

// Source loads raw template bodies keyed by name. Implementations: an
// embedded filesystem of defaults, a watched directory for operator
// overrides, and an in-memory map for tests.
type Source interface {
	Load() (map[string]string, error)
}

// Store is the orchestrator-wide prompt registry. It merges one or more
// Sources in order — later sources override earlier ones by key — and
// exposes Get/Render plus hot-reload via Watch.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	sources   []Source
	overrides *liveSource
}

// liveSource holds control-surface template edits applied via SetOverride.
// It is always the last source in Store.sources, so a live edit wins over
// every file- or embed-backed template until the process restarts.
type liveSource struct {
	mu     sync.Mutex
	bodies MemorySource
}

func (l *liveSource) Load() (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bodies.Load()
}

// New builds a Store by loading sources in order; later sources' keys win
// on conflict, so a filesystem override directory should be passed after
// the embedded defaults.
func New(sources ...Source) (*Store, error) {
	overrides := &liveSource{bodies: MemorySource{}}
	s := &Store{sources: append(append([]Source{}, sources...), overrides), overrides: overrides}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetOverride replaces a template's body in-process, taking effect
// immediately and surviving every Reload (including Watch-triggered ones)
// until the process restarts. Used by the control surface's agent/config endpoint to
// apply a prompt edit without writing to the watched prompt directory.
func (s *Store) SetOverride(name, body string) error {
	s.overrides.mu.Lock()
	s.overrides.bodies[name] = body
	s.overrides.mu.Unlock()
	return s.reload()
}

func (s *Store) reload() error {
	merged := map[string]string{}
	for _, src := range s.sources {
		bodies, err := src.Load()
		if err != nil {
			return err
		}
		for name, body := range bodies {
			merged[name] = body
		}
	}
	templates := make(map[string]*Template, len(merged))
	for name, body := range merged {
		templates[name] = newTemplate(name, body)
	}
	s.mu.Lock()
	s.templates = templates
	s.mu.Unlock()
	return nil
}

// Get returns the named template, or an error if it has not been loaded by
// any source.
func (s *Store) Get(name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt store: unknown template %q", name)
	}
	return t, nil
}

// Render is a convenience wrapper for Get followed by Render.
func (s *Store) Render(name string, vars Vars) (string, error) {
	t, err := s.Get(name)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

// Reload re-reads every source and atomically swaps the template set. Used
// both for manual control-surface reloads and by Watch's fsnotify callback.
func (s *Store) Reload() error {
	return s.reload()
}

// Names returns every loaded template name, for the control surface's
// prompt-listing endpoint.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}
