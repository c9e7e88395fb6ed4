package agent

import (
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// NewResearcher builds the research/retrieval specialist: fact lookup,
// summarization, and source-grounded answers.
func NewResearcher(gateway model.Gateway, prompts *prompt.Store, params model.Params) (*Base, error) {
	return NewBase(Config{
		Name:           "researcher",
		Capabilities:   []string{"research", "retrieval", "summarization", "fact-checking"},
		PromptTemplate: prompt.AgentSystemKey("researcher"),
		Gateway:        gateway,
		Prompts:        prompts,
		Params:         params,
	})
}
