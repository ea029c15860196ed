package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidMeta is returned when client-supplied meta fails its schema.
var ErrInvalidMeta = errors.New("ledger: invalid meta")

const metaSchemaURL = "https://helm-gate.schemas.local/ledger/meta.schema.json"

// metaSchema accepts the tagged envelope for every variant that callers may
// submit. Legacy meta is read-only and cannot be submitted.
const metaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind", "data"],
  "additionalProperties": false,
  "properties": {
    "kind": {"enum": ["transition", "denial", "resolution"]},
    "data": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"kind": {"const": "transition"}}},
      "then": {"properties": {"data": {
        "additionalProperties": false,
        "properties": {
          "before": {},
          "after": {},
          "request_id": {"type": "string", "maxLength": 128}
        }
      }}}
    },
    {
      "if": {"properties": {"kind": {"const": "denial"}}},
      "then": {"properties": {"data": {
        "required": ["attempted_action", "scope"],
        "additionalProperties": false,
        "properties": {
          "attempted_action": {"type": "string", "minLength": 1},
          "scope": {"enum": ["shift", "organization"]},
          "shift_id": {"type": "string"},
          "date": {"type": "string", "format": "date"},
          "shift_code": {"type": "string"},
          "unknown_reason_codes": {"type": "array", "items": {"type": "string"}},
          "request_id": {"type": "string", "maxLength": 128}
        }
      }}}
    },
    {
      "if": {"properties": {"kind": {"const": "resolution"}}},
      "then": {"properties": {"data": {
        "required": ["resolved_type", "resolved_id"],
        "additionalProperties": false,
        "properties": {
          "resolved_type": {"type": "string", "minLength": 1},
          "resolved_id": {"type": "string", "minLength": 1},
          "note": {"type": "string", "maxLength": 2000},
          "request_id": {"type": "string", "maxLength": 128}
        }
      }}}
    }
  ]
}`

var (
	compiledMeta     *jsonschema.Schema
	compiledMetaErr  error
	compiledMetaOnce sync.Once
)

func metaValidator() (*jsonschema.Schema, error) {
	compiledMetaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		c.AssertFormat = true
		if err := c.AddResource(metaSchemaURL, strings.NewReader(metaSchema)); err != nil {
			compiledMetaErr = fmt.Errorf("ledger: meta schema load failed: %w", err)
			return
		}
		compiledMeta, compiledMetaErr = c.Compile(metaSchemaURL)
	})
	return compiledMeta, compiledMetaErr
}

// ParseMeta validates client-supplied meta against the envelope schema and
// decodes it. Empty input and JSON null yield a nil Meta.
func ParseMeta(raw []byte) (Meta, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	schema, err := metaValidator()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	return UnmarshalMeta(raw)
}
