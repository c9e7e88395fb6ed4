package agent

import (
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// NewEthicist builds the ethics/reasoning specialist: tradeoff analysis,
// risk framing, and value-sensitive questions the other two specialists
// aren't prompted to weigh in on.
func NewEthicist(gateway model.Gateway, prompts *prompt.Store, params model.Params) (*Base, error) {
	return NewBase(Config{
		Name:           "ethicist",
		Capabilities:   []string{"ethics", "risk-analysis", "policy", "reasoning"},
		PromptTemplate: prompt.AgentSystemKey("ethicist"),
		Gateway:        gateway,
		Prompts:        prompts,
		Params:         params,
	})
}
