package convo

import (
	"strings"

	"github.com/ashureev/convo-gateway/internal/llm"
)

// ToolAwarePromptBuilder renders a system prompt that enumerates the
// available tools so the model knows what it can call and when to prefer
// live data over its own priors.
type ToolAwarePromptBuilder struct {
	preamble string
}

// NewToolAwarePromptBuilder constructs a builder with the default
// preamble; a non-empty preamble overrides it.
func NewToolAwarePromptBuilder(preamble string) *ToolAwarePromptBuilder {
	if preamble == "" {
		preamble = "You are a helpful assistant for blockchain and DeFi questions. " +
			"Prefer calling a tool over guessing whenever the user asks about live data " +
			"such as gas prices, token prices, lending rates, or balances."
	}
	return &ToolAwarePromptBuilder{preamble: preamble}
}

// Build implements PromptBuilder.
func (b *ToolAwarePromptBuilder) Build(catalog []llm.ToolSpec) string {
	if len(catalog) == 0 {
		return b.preamble
	}
	var sb strings.Builder
	sb.WriteString(b.preamble)
	sb.WriteString("\n\nAvailable tools:\n")
	for _, spec := range catalog {
		sb.WriteString("- ")
		sb.WriteString(spec.Name)
		if spec.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(spec.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
