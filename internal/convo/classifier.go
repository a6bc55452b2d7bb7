package convo

import "strings"

// IntentClassification is the advisory result of the keyword classifier.
// It rides along in the assistant message's context bag and never gates
// tool execution.
type IntentClassification struct {
	Primary        string   `json:"primary"`
	Confidence     float64  `json:"confidence"`
	SuggestedTools []string `json:"suggested_tools"`
}

var intentRules = []struct {
	name     string
	keywords []string
	tools    []string
}{
	{name: "gas_inquiry", keywords: []string{"gas", "fee", "gwei"}, tools: []string{"get_gas_prices"}},
	{name: "price_inquiry", keywords: []string{"price", "worth", "cost", "rate", "quote"}, tools: []string{"get_crypto_price"}},
	{name: "lending_inquiry", keywords: []string{"lend", "borrow", "apy", "yield", "interest"}, tools: []string{"get_lending_rates"}},
	{name: "balance_inquiry", keywords: []string{"balance", "wallet", "portfolio", "asset", "holding"}, tools: []string{"get_token_balance"}},
}

// ClassifyIntent runs the simple keyword classifier over the user's text.
// The first rule with the most keyword hits wins; no hits yields a
// low-confidence "general" classification with no suggested tools.
func ClassifyIntent(text string) IntentClassification {
	lower := strings.ToLower(text)

	best := -1
	bestHits := 0
	for i, rule := range intentRules {
		hits := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = i
			bestHits = hits
		}
	}

	if best == -1 {
		return IntentClassification{Primary: "general", Confidence: 0.3, SuggestedTools: []string{}}
	}

	confidence := 0.5 + 0.15*float64(bestHits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return IntentClassification{
		Primary:        intentRules[best].name,
		Confidence:     confidence,
		SuggestedTools: append([]string(nil), intentRules[best].tools...),
	}
}
