package tools

import (
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
)

// Reference renders a human-readable description of every tool and its
// arguments for the planner prompt. Nested objects are expanded one level.
func (r *Registry) Reference() string {
	var sb strings.Builder
	for _, name := range r.order {
		t := r.tools[name]
		fmt.Fprintf(&sb, "### %s\n%s\n", name, t.Description())
		if s := t.Schema(); s != nil && s.Properties != nil && s.Properties.Len() > 0 {
			sb.WriteString("Args:\n")
			writeProperties(&sb, s, "", 1)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeProperties(sb *strings.Builder, s *jsonschema.Schema, indent string, depth int) {
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		attrs := []string{typeName(prop)}
		if slices.Contains(s.Required, name) {
			attrs = append(attrs, "required")
		} else {
			attrs = append(attrs, "optional")
		}
		if enum := enumValues(prop); len(enum) > 0 {
			attrs = append(attrs, "one of: "+strings.Join(enum, "|"))
		}
		if prop.Default != nil {
			attrs = append(attrs, fmt.Sprintf("default=%v", prop.Default))
		}
		fmt.Fprintf(sb, "%s- %s (%s)", indent, name, strings.Join(attrs, ", "))
		if prop.Description != "" {
			sb.WriteString(": " + prop.Description)
		}
		sb.WriteByte('\n')

		if depth > 1 {
			continue
		}
		nested := prop
		if prop.Type == "array" && prop.Items != nil {
			nested = prop.Items
		}
		if nested.Properties != nil && nested.Properties.Len() > 0 {
			writeProperties(sb, nested, indent+"    ", depth+1)
		}
	}
}

func typeName(s *jsonschema.Schema) string {
	switch {
	case s.Type == "array" && s.Items != nil && s.Items.Type != "":
		return "array of " + s.Items.Type
	case s.Type != "":
		return s.Type
	case len(s.AnyOf) > 0 || len(s.OneOf) > 0:
		return "any"
	default:
		return "object"
	}
}

func enumValues(s *jsonschema.Schema) []string {
	src := s.Enum
	if len(src) == 0 && s.Items != nil {
		src = s.Items.Enum
	}
	out := make([]string, 0, len(src))
	for _, v := range src {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
