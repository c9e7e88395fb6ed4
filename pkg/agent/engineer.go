package agent

import (
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// NewEngineer builds the engineering specialist: code, architecture, and
// debugging questions. Differs from the other defaults only in its prompt
// template and capability tags, per spec.md 4.E.
func NewEngineer(gateway model.Gateway, prompts *prompt.Store, params model.Params) (*Base, error) {
	return NewBase(Config{
		Name:           "engineer",
		Capabilities:   []string{"code", "architecture", "debugging", "performance"},
		PromptTemplate: prompt.AgentSystemKey("engineer"),
		Gateway:        gateway,
		Prompts:        prompts,
		Params:         params,
	})
}
