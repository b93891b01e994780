package memory

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const memoryPayloadSchemaJSON = `{
	"type": "object",
	"required": ["userId", "context"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"context": {
			"type": "object",
			"if": {"required": ["version"]},
			"then": {
				"properties": {
					"version": {"type": "integer", "minimum": 1},
					"topics": {
						"type": "object",
						"additionalProperties": {
							"type": "object",
							"properties": {
								"relevance": {"type": "number", "minimum": 0, "maximum": 1},
								"mentions": {"type": "integer", "minimum": 1}
							}
						}
					},
					"interactions": {"type": "array", "maxItems": 10}
				}
			}
		}
	}
}`

const messagePayloadSchemaJSON = `{
	"type": "object",
	"required": ["userId", "content"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"content": {"type": "string", "minLength": 1},
		"isFromUser": {"type": ["boolean", "integer"]}
	}
}`

var (
	memoryPayloadSchema  = jsonschema.MustCompileString("memory-payload.json", memoryPayloadSchemaJSON)
	messagePayloadSchema = jsonschema.MustCompileString("message-payload.json", messagePayloadSchemaJSON)
)

// ValidateMemoryPayload checks a {userId, context} document.
func ValidateMemoryPayload(data []byte) error {
	return ValidateJSON(memoryPayloadSchema, data)
}

// ValidateMessagePayload checks a {userId, content, isFromUser} document.
func ValidateMessagePayload(data []byte) error {
	return ValidateJSON(messagePayloadSchema, data)
}

// ValidateJSON decodes data and checks it against schema.
func ValidateJSON(schema *jsonschema.Schema, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
