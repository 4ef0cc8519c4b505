package streams

import (
	"fmt"

	"github.com/mohammad-safakhou/meetingmind/models"
)

// Definition describes a schema entry managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: models.JobGenerateFollowUp,
		Version:   models.JobPayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["meeting_id", "summary"],
  "properties": {
    "meeting_id": {"type": "string", "minLength": 1},
    "summary": {"$ref": "#/definitions/summary"}
  },
  "additionalProperties": true,
  "definitions": {
    "summary": {
      "type": "object",
      "properties": {
        "executiveSummary": {"type": "string"},
        "keyPoints": {"type": ["array", "null"], "items": {"type": "string"}},
        "decisions": {"type": ["array", "null"], "items": {"type": "string"}}
      },
      "additionalProperties": true
    }
  }
}`),
	},
	{
		EventType: models.JobCRMSync,
		Version:   models.JobPayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["meeting_id"],
  "properties": {
    "meeting_id": {"type": "string", "minLength": 1},
    "crm_type": {"type": "string", "enum": ["hubspot", "salesforce"]},
    "deal_id": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: models.JobRegenerateSummary,
		Version:   models.JobPayloadVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["meeting_id"],
  "properties": {
    "meeting_id": {"type": "string", "minLength": 1},
    "reason": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns the built-in schema definitions.
func BaseDefinitions() []Definition {
	defs := make([]Definition, len(baseDefinitions))
	copy(defs, baseDefinitions)
	return defs
}

// RegisterBaseSchemas loads the job schemas into the provided registry.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	if reg == nil {
		return fmt.Errorf("registry is nil")
	}
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}
