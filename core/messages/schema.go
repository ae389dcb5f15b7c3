package messages

import (
	"encoding/json"
	"fmt"

	"github.com/qri-io/jsonschema"
)

const infoSchema = `{
	"type": "object",
	"required": ["topic", "apartment", "location", "uuid", "type", "version"],
	"properties": {
		"topic": {"type": "string"},
		"apartment": {"type": "string"},
		"location": {"type": "string"},
		"uuid": {"type": "string", "minLength": 1},
		"type": {"type": "string"},
		"sensor": {"type": ["string", "null"]},
		"version": {"type": "integer", "minimum": 0}
	}
}`

const subscriptionSchema = `{
	"type": "object",
	"required": ["uuid", "topic", "type"],
	"properties": {
		"uuid": {"type": "string", "minLength": 1},
		"topic": {"type": "string"},
		"type": {"type": "string"}
	}
}`

var configSchemaJSON = fmt.Sprintf(`{
	"type": "object",
	"required": ["info", "add", "del"],
	"properties": {
		"info": %s,
		"add": {"type": "array", "items": %s},
		"del": {"type": "array", "items": %s}
	}
}`, infoSchema, subscriptionSchema, subscriptionSchema)

const failureSchemaJSON = `{
	"type": "object",
	"required": ["uuid", "reason"],
	"properties": {
		"uuid": {"type": "string", "minLength": 1},
		"reason": {"type": "string"}
	}
}`

const deviceSchemaJSON = `{
	"type": "object",
	"required": ["apartment", "location", "uuid", "type", "value", "timestamp"],
	"properties": {
		"apartment": {"type": "string"},
		"location": {"type": "string"},
		"uuid": {"type": "string", "minLength": 1},
		"type": {"type": "string"},
		"sensor": {"type": ["string", "null"]},
		"value": {"enum": ["on", "off"]},
		"timestamp": {"type": "integer"}
	}
}`

var (
	configSchema  = mustSchema(configSchemaJSON)
	failureSchema = mustSchema(failureSchemaJSON)
	deviceSchema  = mustSchema(deviceSchemaJSON)
)

func mustSchema(raw string) *jsonschema.Schema {
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(raw), rs); err != nil {
		panic(fmt.Sprintf("invalid JSON schema: %s", err))
	}
	return rs
}
