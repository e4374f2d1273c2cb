package llm

import "testing"

func TestEndpointForModel(t *testing.T) {
	cases := []struct {
		model, override, want string
	}{
		{"gpt-4o", "", EndpointChat},
		{"gpt-4o-mini", "", EndpointChat},
		{"gpt-5", "", EndpointResponses},
		{"gpt-5-mini", "", EndpointResponses},
		{"o1-preview", "", EndpointResponses},
		{"o3", "", EndpointResponses},
		{"o4-mini", "", EndpointResponses},
		{"llama-3.1-70b", "", EndpointChat},
		// explicit override beats prefix inference
		{"gpt-5", "chat", EndpointChat},
		{"gpt-4o", "responses", EndpointResponses},
		{"gpt-4o", "RESPONSES", EndpointResponses},
		{"gpt-5", "bogus", EndpointResponses},
	}
	for _, tc := range cases {
		got := EndpointForModel(tc.model, tc.override)
		if got != tc.want {
			t.Fatalf("EndpointForModel(%q, %q) = %q, want %q", tc.model, tc.override, got, tc.want)
		}
	}
}

func TestEndpointForModel_Stable(t *testing.T) {
	first := EndpointForModel("gpt-5-turbo", "")
	for i := 0; i < 100; i++ {
		if got := EndpointForModel("gpt-5-turbo", ""); got != first {
			t.Fatalf("endpoint selection is not stable: %q then %q", first, got)
		}
	}
}

func TestSanitizeParams_DefaultRuleKeepsSamplingKnobs(t *testing.T) {
	raw := map[string]any{
		"temperature":       0.7,
		"max_tokens":        256,
		"top_p":             1.0,
		"frequency_penalty": 0.0,
		"presence_penalty":  0.0,
	}
	kept, dropped := sanitizeParams("gpt-4o", raw)
	if len(dropped) != 0 {
		t.Fatalf("unexpected drops: %v", dropped)
	}
	if len(kept) != 5 {
		t.Fatalf("expected 5 kept params, got %d", len(kept))
	}
	if _, ok := kept["max_tokens"]; !ok {
		t.Fatalf("max_tokens should survive for chat models")
	}
}

func TestSanitizeParams_ReasoningModelDropsAndRenames(t *testing.T) {
	raw := map[string]any{
		"temperature": 1.1,
		"max_tokens":  768,
		"top_p":       1.0,
	}
	kept, dropped := sanitizeParams("gpt-5-mini", raw)
	if len(dropped) != 2 {
		t.Fatalf("expected temperature and top_p dropped, got %v", dropped)
	}
	if v, ok := kept["max_output_tokens"]; !ok || v != 768 {
		t.Fatalf("expected max_tokens renamed to max_output_tokens, got %v", kept)
	}
	if _, ok := kept["max_tokens"]; ok {
		t.Fatalf("original name must not be sent alongside the alias")
	}
}

func TestResolveParamRules_LongestPrefixWins(t *testing.T) {
	r := resolveParamRules("o3-mini-high")
	if !r.allows("max_output_tokens") {
		t.Fatalf("expected o3 family rule")
	}
	r = resolveParamRules("totally-unknown-model")
	if !r.allows("temperature") {
		t.Fatalf("expected default rule for unknown models")
	}
}
