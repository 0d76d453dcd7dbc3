package extract

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/property-import/internal/model"
)

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["fields"],
    "properties": {
      "fields": {"type": "object"},
      "field_confidences": {
        "type": "object",
        "additionalProperties": {"type": "number", "minimum": 0, "maximum": 100}
      }
    }
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("results.json", strings.NewReader(resultSchema)); err != nil {
		return nil, eris.Wrap(err, "extract: add schema")
	}
	schema, err := compiler.Compile("results.json")
	if err != nil {
		return nil, eris.Wrap(err, "extract: compile schema")
	}
	return schema, nil
})

// cleanJSON strips markdown fences and any prose around the outermost JSON
// array or object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return strings.TrimSpace(text)
	}
	closer := "}"
	if text[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(text, closer); end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// parseResults decodes a provider reply into extraction results. A bare
// object or an object wrapping a "properties" array is accepted as well as
// the requested array.
func parseResults(reply string) ([]model.ExtractionResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(cleanJSON(reply)), &doc); err != nil {
		return nil, eris.Wrap(err, "extract: decode reply")
	}
	doc = unwrapResults(doc)

	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, eris.Wrap(err, "extract: reply does not match schema")
	}

	items := doc.([]any)
	results := make([]model.ExtractionResult, 0, len(items))
	for _, item := range items {
		obj := item.(map[string]any)
		res := model.ExtractionResult{
			Fields:           obj["fields"].(map[string]any),
			FieldConfidences: make(map[string]int),
		}
		if confs, ok := obj["field_confidences"].(map[string]any); ok {
			for k, v := range confs {
				if f, ok := v.(float64); ok {
					res.FieldConfidences[k] = model.ClampConfidence(int(f + 0.5))
				}
			}
		}
		results = append(results, res)
	}
	return results, nil
}

func unwrapResults(doc any) any {
	obj, ok := doc.(map[string]any)
	if !ok {
		return doc
	}
	if inner, ok := obj["properties"].([]any); ok {
		return inner
	}
	if _, ok := obj["fields"]; ok {
		return []any{obj}
	}
	return doc
}
