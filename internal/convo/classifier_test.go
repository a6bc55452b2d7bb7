package convo

import "testing"

func TestClassifyIntentKeywordRules(t *testing.T) {
	cases := []struct {
		text        string
		wantPrimary string
		wantTool    string
	}{
		{"What's the gas fee on Ethereum?", "gas_inquiry", "get_gas_prices"},
		{"how much is BTC worth right now", "price_inquiry", "get_crypto_price"},
		{"best apy for lending DAI?", "lending_inquiry", "get_lending_rates"},
		{"show my wallet balance", "balance_inquiry", "get_token_balance"},
	}
	for _, tc := range cases {
		got := ClassifyIntent(tc.text)
		if got.Primary != tc.wantPrimary {
			t.Errorf("ClassifyIntent(%q).Primary = %q, want %q", tc.text, got.Primary, tc.wantPrimary)
		}
		if len(got.SuggestedTools) == 0 || got.SuggestedTools[0] != tc.wantTool {
			t.Errorf("ClassifyIntent(%q).SuggestedTools = %v, want [%s]", tc.text, got.SuggestedTools, tc.wantTool)
		}
		if got.Confidence <= 0.3 {
			t.Errorf("ClassifyIntent(%q).Confidence = %v, want > 0.3", tc.text, got.Confidence)
		}
	}
}

func TestClassifyIntentGeneralFallback(t *testing.T) {
	got := ClassifyIntent("tell me a joke")
	if got.Primary != "general" {
		t.Errorf("Primary = %q, want general", got.Primary)
	}
	if len(got.SuggestedTools) != 0 {
		t.Errorf("SuggestedTools = %v, want empty", got.SuggestedTools)
	}
}

func TestClassifyIntentMoreHitsRaiseConfidence(t *testing.T) {
	one := ClassifyIntent("gas?")
	two := ClassifyIntent("gas fee in gwei?")
	if two.Confidence <= one.Confidence {
		t.Errorf("confidence with more hits (%v) should exceed single-hit (%v)", two.Confidence, one.Confidence)
	}
}
