package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

var schemaCache sync.Map // reflect.Type -> map[string]any

// SchemaOf reflects the JSON schema of T with definitions inlined.
func SchemaOf[T any]() map[string]any {
	var zero T
	typ := reflect.TypeOf(zero)
	if cached, ok := schemaCache.Load(typ); ok {
		return cached.(map[string]any)
	}
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	raw, err := json.Marshal(r.Reflect(zero))
	if err != nil {
		panic(fmt.Sprintf("reflect schema %s: %v", typ, err))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("decode schema %s: %v", typ, err))
	}
	delete(out, "$schema")
	delete(out, "$id")
	schemaCache.Store(typ, out)
	return out
}

// CompleteJSON calls p with a response schema reflected from T and decodes
// the reply into T. Replies wrapped in code fences or prose are tolerated
// as long as they contain one JSON object.
func CompleteJSON[T any](ctx context.Context, p Provider, name string, msgs []Message) (T, error) {
	var out T
	raw, err := p.Complete(ctx, Request{
		Messages: msgs,
		Schema:   &Schema{Name: name, Schema: SchemaOf[T]()},
	})
	if err != nil {
		return out, err
	}
	body := ExtractJSON(raw)
	if body == "" {
		return out, fmt.Errorf("%s: no JSON object in reply", name)
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, fmt.Errorf("%s: decode reply: %w", name, err)
	}
	return out, nil
}

// ExtractJSON returns the outermost JSON object in s, or "".
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
