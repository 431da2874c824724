package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dshills/whiteboard/internal/element"
)

const schemaURL = "whiteboard-snapshot.schema.json"

// schemaTemplate is the version 2 snapshot schema. %s is replaced by the
// list of known element kinds.
const schemaTemplate = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "elements"],
  "properties": {
    "version": {"const": 2},
    "elements": {"type": "array", "items": {"$ref": "#/$defs/element"}},
    "viewport": {"$ref": "#/$defs/viewport"}
  },
  "$defs": {
    "point": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {"x": {"type": "number"}, "y": {"type": "number"}}
    },
    "size": {
      "type": "object",
      "properties": {"width": {"type": "number"}, "height": {"type": "number"}}
    },
    "element": {
      "type": "object",
      "required": ["id", "kind", "position"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "kind": {"enum": %s},
        "position": {"$ref": "#/$defs/point"},
        "size": {"$ref": "#/$defs/size"},
        "rotation": {"type": "number"},
        "visible": {"type": "boolean"},
        "locked": {"type": "boolean"},
        "bounds": {"type": "object"},
        "style": {"type": "object"},
        "data": {
          "type": "object",
          "properties": {
            "text": {"type": "string"},
            "fontSize": {"type": "number", "exclusiveMinimum": 0},
            "points": {"type": "array", "items": {"$ref": "#/$defs/point"}},
            "strokeWidth": {"type": "number", "minimum": 0},
            "start": {"$ref": "#/$defs/point"},
            "end": {"$ref": "#/$defs/point"},
            "from": {"type": "string"},
            "to": {"type": "string"}
          }
        }
      }
    },
    "viewport": {
      "type": "object",
      "properties": {
        "x": {"type": "number"},
        "y": {"type": "number"},
        "scale": {"type": "number", "exclusiveMinimum": 0},
        "minScale": {"type": "number", "exclusiveMinimum": 0},
        "maxScale": {"type": "number", "exclusiveMinimum": 0}
      }
    }
  }
}`

// SchemaError reports a snapshot that does not match the schema.
type SchemaError struct {
	// Location is the JSON pointer of the first failing value.
	Location string
	Err      error
}

func (e *SchemaError) Error() string {
	if e.Location == "" {
		return fmt.Sprintf("snapshot schema: %v", e.Err)
	}
	return fmt.Sprintf("snapshot schema at %s: %v", e.Location, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// SchemaSource returns the snapshot JSON Schema.
func SchemaSource() string {
	kinds, _ := json.Marshal(element.Kinds)
	return fmt.Sprintf(schemaTemplate, kinds)
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString(schemaURL, SchemaSource())
})

// ValidateSchema checks data, which must be current-version JSON.
func ValidateSchema(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile snapshot schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return &SchemaError{Location: leaf.InstanceLocation, Err: errors.New(strings.TrimSpace(leaf.Message))}
		}
		return &SchemaError{Err: err}
	}
	return nil
}
