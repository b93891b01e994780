package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/theamal11z/Rex68/internal/memory"
)

const settingSchemaJSON = `{
	"type": "object",
	"required": ["key", "value"],
	"properties": {
		"key": {"type": "string", "minLength": 1},
		"value": {"type": "string"}
	}
}`

const settingValueSchemaJSON = `{
	"type": "object",
	"required": ["value"],
	"properties": {
		"value": {"type": "string", "minLength": 1}
	}
}`

const contentSchemaJSON = `{
	"type": "object",
	"required": ["type", "content"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"content": {"type": "string", "minLength": 1}
	}
}`

const triggerSchemaJSON = `{
	"type": "object",
	"required": ["phrase", "guidelines"],
	"properties": {
		"phrase": {"type": "string", "minLength": 1},
		"guidelines": {"type": "string"},
		"personality": {"type": "string"},
		"examples": {"type": "string"},
		"identity": {"type": "string"},
		"purpose": {"type": "string"},
		"audience": {"type": "string"},
		"task": {"type": "string"},
		"active": {"type": "boolean"}
	}
}`

const chatSchemaJSON = `{
	"type": "object",
	"required": ["userId", "content"],
	"properties": {
		"userId": {"type": "string", "minLength": 1},
		"content": {"type": "string", "minLength": 1},
		"trigger": {"type": "string"}
	}
}`

var (
	settingSchema      = jsonschema.MustCompileString("setting.json", settingSchemaJSON)
	settingValueSchema = jsonschema.MustCompileString("setting-value.json", settingValueSchemaJSON)
	contentSchema      = jsonschema.MustCompileString("content.json", contentSchemaJSON)
	triggerSchema      = jsonschema.MustCompileString("trigger.json", triggerSchemaJSON)
	chatSchema         = jsonschema.MustCompileString("chat.json", chatSchemaJSON)
)

// readBody reads a capped request body.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}

// decodeValid validates data against schema and decodes it into dst.
func decodeValid(data []byte, schema *jsonschema.Schema, dst any) error {
	if err := memory.ValidateJSON(schema, data); err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// messageRequest mirrors the stored message shape; isFromUser may be a
// boolean or 0/1.
type messageRequest struct {
	UserID     string          `json:"userId"`
	Content    string          `json:"content"`
	IsFromUser json.RawMessage `json:"isFromUser"`
}

func (m messageRequest) fromUser() bool {
	switch string(m.IsFromUser) {
	case "true", "1":
		return true
	}
	return false
}

type memoryRequest struct {
	UserID  string          `json:"userId"`
	Context json.RawMessage `json:"context"`
}

func decodeMessage(data []byte) (messageRequest, error) {
	var req messageRequest
	if err := memory.ValidateMessagePayload(data); err != nil {
		return req, err
	}
	err := json.Unmarshal(data, &req)
	return req, err
}

func decodeMemory(data []byte) (memoryRequest, error) {
	var req memoryRequest
	if err := memory.ValidateMemoryPayload(data); err != nil {
		return req, err
	}
	err := json.Unmarshal(data, &req)
	return req, err
}
