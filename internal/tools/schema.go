package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Validate checks params against s in stable (sorted parameter name)
// order, stopping at the first violation so the result is deterministic
// for a given (schema, params) pair.
func (s Schema) Validate(params map[string]any) []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := s[name]
		v, present := params[name]
		if !present {
			if rule.Required {
				return []string{fmt.Sprintf("Parameter %q is required", name)}
			}
			continue
		}
		if p := rule.validateValue(name, v); p != "" {
			return []string{p}
		}
	}

	return nil
}

func (rule ParamSchema) validateValue(name string, v any) string {
	switch rule.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("Parameter %q must be a string", name)
		}
		if len(rule.Enum) > 0 && !containsString(rule.Enum, s) {
			return fmt.Sprintf("Parameter %q must be one of [%s]", name, strings.Join(rule.Enum, ", "))
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil || !re.MatchString(s) {
				return fmt.Sprintf("Parameter %q does not match required pattern", name)
			}
		}
	case TypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Sprintf("Parameter %q must be a number", name)
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("Parameter %q must be a boolean", name)
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Sprintf("Parameter %q must be an array", name)
		}
		if rule.Items != nil && rule.Items.Type == TypeString && len(rule.Items.Enum) > 0 {
			for _, item := range arr {
				s, ok := item.(string)
				if !ok || !containsString(rule.Items.Enum, s) {
					return fmt.Sprintf("Parameter %q items must be one of [%s]", name, strings.Join(rule.Items.Enum, ", "))
				}
			}
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("Parameter %q must be an object", name)
		}
	}
	return ""
}

// WireFormat renders the schema as the JSON-Schema-like object the LLM
// adapter puts on the wire for each tool.
func (s Schema) WireFormat() map[string]any {
	properties := make(map[string]any, len(s))
	var required []string
	for name, rule := range s {
		prop := map[string]any{"type": string(rule.Type)}
		if len(rule.Enum) > 0 {
			prop["enum"] = rule.Enum
		}
		if rule.Pattern != "" {
			prop["pattern"] = rule.Pattern
		}
		if rule.Items != nil {
			items := map[string]any{"type": string(rule.Items.Type)}
			if len(rule.Items.Enum) > 0 {
				items["enum"] = rule.Items.Enum
			}
			prop["items"] = items
		}
		properties[name] = prop
		if rule.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
