package agent

import (
	"fmt"

	"github.com/conclave-ai/conclave/pkg/registry"
)

// Registry is the name-keyed agent catalog the classifier, decomposer, and
// executor all consult. Open to runtime registration of new agents beyond
// the three defaults (spec.md 4.E: "open to registration of additional
// agents under unique names").
type Registry struct {
	*registry.BaseRegistry[Agent]
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Agent]()}
}

// Descriptors returns an immutable snapshot of every registered agent's
// name and capabilities, the shape the classifier renders into its prompt.
func (r *Registry) Descriptors() []Descriptor {
	agents := r.List()
	out := make([]Descriptor, 0, len(agents))
	for _, a := range agents {
		out = append(out, Descriptor{
			Name:             a.Name(),
			Capabilities:     a.Capabilities(),
			PromptTemplateID: "agent." + a.Name() + ".system",
			Active:           true,
		})
	}
	return out
}

// Resolve looks up every named agent, failing fast if any name in names is
// not registered — used after the classifier or a control-surface override
// produces a RoutingDecision, before dispatch begins.
func (r *Registry) Resolve(names []string) ([]Agent, error) {
	out := make([]Agent, 0, len(names))
	for _, name := range names {
		a, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("agent: %q is not registered", name)
		}
		out = append(out, a)
	}
	return out, nil
}
