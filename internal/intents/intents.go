// Package intents implements the gateway's component-intent generator: a
// three-layer pipeline that turns tool results and conversational text
// into UI-render instructions, grounded on the same package-level
// regexp.MustCompile table idiom used for prompt-pattern classification
// elsewhere in this codebase's ancestry.
package intents

import (
	"regexp"
	"strings"
)

// Intent is one UI-render instruction.
type Intent struct {
	Type      string
	Component string
	Props     map[string]any
}

const renderComponentType = "RENDER_COMPONENT"

// toolComponentMap is the tool-result-driven layer: fixed mapping from
// tool name to the component that should render its result.
var toolComponentMap = map[string]string{
	"get_gas_prices":    "NetworkStatus",
	"get_crypto_price":  "TokenSwap",
	"get_lending_rates": "LendingSection",
	"get_token_balance": "YourAssets",
}

// keywordComponentMap is the response-text-driven layer: case-insensitive
// keyword sets mapped to a component.
var keywordComponentMap = []struct {
	Component string
	Keywords  []string
}{
	{Component: "NetworkStatus", Keywords: []string{"gas", "fee"}},
	{Component: "TokenSwap", Keywords: []string{"swap", "trade"}},
	{Component: "LendingSection", Keywords: []string{"lend", "apy", "yield"}},
	{Component: "YourAssets", Keywords: []string{"balance", "asset", "portfolio", "wallet"}},
}

// patternFallback is the last-resort layer, a regex-keyed table over the
// user message only, used when the two layers above produced nothing.
var patternFallback = []struct {
	Pattern   *regexp.Regexp
	Component string
}{
	{Pattern: regexp.MustCompile(`(?i)gas\s*price`), Component: "NetworkStatus"},
	{Pattern: regexp.MustCompile(`(?i)swap|exchange`), Component: "TokenSwap"},
	{Pattern: regexp.MustCompile(`(?i)lend|borrow|apy`), Component: "LendingSection"},
	{Pattern: regexp.MustCompile(`(?i)wallet|balance|portfolio`), Component: "YourAssets"},
}

// ToolResult is the minimal shape this package needs from a tool
// execution: its name and the decoded result data, for props extraction.
type ToolResult struct {
	ToolName string
	Success  bool
	Data     map[string]any
}

// Generate combines all three layers over the given tool results and
// conversational text, de-duplicating on (type, component) and preserving
// insertion order of first appearance.
func Generate(toolResults []ToolResult, userText, llmText string) []Intent {
	seen := make(map[string]struct{})
	var out []Intent

	add := func(component string, props map[string]any) {
		key := renderComponentType + "|" + component
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, Intent{Type: renderComponentType, Component: component, Props: props})
	}

	for _, tr := range toolResults {
		if !tr.Success {
			continue
		}
		component, ok := toolComponentMap[tr.ToolName]
		if !ok {
			continue
		}
		add(component, extractProps(tr))
	}

	combinedText := strings.ToLower(userText + " " + llmText)
	for _, kw := range keywordComponentMap {
		if containsAny(combinedText, kw.Keywords) {
			add(kw.Component, nil)
		}
	}

	if len(out) == 0 {
		for _, pf := range patternFallback {
			if pf.Pattern.MatchString(userText) {
				add(pf.Component, nil)
				break
			}
		}
	}

	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// extractProps reaches into a tool's result data using known field paths
// with fallbacks, per tool.
func extractProps(tr ToolResult) map[string]any {
	switch tr.ToolName {
	case "get_gas_prices":
		return pick(tr.Data, "network", "gwei", "transactionType")
	case "get_crypto_price":
		return pick(tr.Data, "symbol", "price", "currency")
	case "get_lending_rates":
		return pick(tr.Data, "token", "apy", "protocols")
	case "get_token_balance":
		return pick(tr.Data, "address", "network", "balance")
	default:
		return nil
	}
}

func pick(data map[string]any, fields ...string) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = v
		}
	}
	return out
}
