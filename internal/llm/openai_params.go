package llm

import "strings"

// Endpoint names for the two OpenAI wire formats.
const (
	EndpointChat      = "chat"
	EndpointResponses = "responses"
)

// Model families that only accept the structured responses endpoint.
var responsesOnlyPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// EndpointForModel picks the wire format. An explicit override wins; without
// one the decision is a prefix match against the responses-only table. Pure
// and stable for a given (model, override) pair.
func EndpointForModel(model, override string) string {
	switch strings.ToLower(strings.TrimSpace(override)) {
	case EndpointChat:
		return EndpointChat
	case EndpointResponses:
		return EndpointResponses
	}
	if modelUsesResponses(model) {
		return EndpointResponses
	}
	return EndpointChat
}

func modelUsesResponses(model string) bool {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, p := range responsesOnlyPrefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// paramRule describes which generation parameters a model family accepts and
// how parameter names are renamed for it. Stricter backends hard-fail on
// unknown fields, so anything outside the allow list is dropped.
type paramRule struct {
	allowed []string
	aliases map[string]string
}

func (r paramRule) allows(name string) bool {
	for _, a := range r.allowed {
		if a == name {
			return true
		}
	}
	return false
}

var modelParamRules = map[string]paramRule{
	"default": {
		allowed: []string{
			"temperature", "max_tokens", "top_p",
			"frequency_penalty", "presence_penalty",
		},
	},
	// Reasoning families reject sampling knobs and use the output-token name.
	"gpt-5": {
		allowed: []string{"max_output_tokens"},
		aliases: map[string]string{"max_tokens": "max_output_tokens"},
	},
	"o1": {
		allowed: []string{"max_output_tokens"},
		aliases: map[string]string{"max_tokens": "max_output_tokens"},
	},
	"o3": {
		allowed: []string{"max_output_tokens"},
		aliases: map[string]string{"max_tokens": "max_output_tokens"},
	},
	"o4": {
		allowed: []string{"max_output_tokens"},
		aliases: map[string]string{"max_tokens": "max_output_tokens"},
	},
}

// resolveParamRules finds the rule for a model: exact key, then the longest
// matching prefix, then the default rule.
func resolveParamRules(model string) paramRule {
	model = strings.ToLower(strings.TrimSpace(model))
	if r, ok := modelParamRules[model]; ok {
		return r
	}
	var (
		matched    paramRule
		matchedLen = -1
		found      bool
	)
	for key, r := range modelParamRules {
		if key == "default" {
			continue
		}
		if strings.HasPrefix(model, key) && len(key) > matchedLen {
			matched = r
			matchedLen = len(key)
			found = true
		}
	}
	if found {
		return matched
	}
	return modelParamRules["default"]
}

// sanitizeParams filters raw generation parameters through the model's rule,
// applying renames. It returns the kept set and the dropped names.
func sanitizeParams(model string, raw map[string]any) (kept map[string]any, dropped []string) {
	rule := resolveParamRules(model)
	kept = make(map[string]any, len(raw))
	for name, value := range raw {
		target := name
		if rule.aliases != nil {
			if alias, ok := rule.aliases[name]; ok {
				target = alias
			}
		}
		if !rule.allows(target) {
			dropped = append(dropped, name)
			continue
		}
		if _, exists := kept[target]; exists && target != name {
			continue
		}
		kept[target] = value
	}
	return kept, dropped
}
