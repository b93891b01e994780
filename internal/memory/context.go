package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MemoryContext is the stored shape of a user's memory. It is either a
// *StructuredMemory or a LegacyMemory; the presence of "version" decides.
type MemoryContext interface {
	memoryContext()
}

// LegacyMemory is a pre-structured memory object kept as raw JSON fields.
type LegacyMemory struct {
	Fields map[string]any
}

func (LegacyMemory) memoryContext()      {}
func (*StructuredMemory) memoryContext() {}

// DecodeContext parses a stored context blob into the tagged union.
func DecodeContext(data []byte) (MemoryContext, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode memory context: %w", err)
	}

	if v, ok := top["version"]; ok && strings.TrimSpace(string(v)) != "null" {
		var m StructuredMemory
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode structured memory: %w", err)
		}
		return &m, nil
	}

	fields := make(map[string]any, len(top))
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode legacy memory: %w", err)
	}
	return LegacyMemory{Fields: fields}, nil
}

// EncodeContext serializes either variant back to JSON.
func EncodeContext(ctx MemoryContext) ([]byte, error) {
	switch c := ctx.(type) {
	case *StructuredMemory:
		return json.Marshal(c)
	case LegacyMemory:
		if c.Fields == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(c.Fields)
	case nil:
		return nil, fmt.Errorf("encode memory context: nil context")
	default:
		return nil, fmt.Errorf("encode memory context: unsupported type %T", ctx)
	}
}

func (l LegacyMemory) stringField(key string) string {
	if v, ok := l.Fields[key].(string); ok {
		return v
	}
	return ""
}

// LastInteraction accepts RFC3339 strings and unix-millisecond numbers.
func (l LegacyMemory) LastInteraction() (time.Time, bool) {
	switch v := l.Fields["lastInteraction"].(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v)), true
		}
	}
	return time.Time{}, false
}

func (l LegacyMemory) Notes() string     { return l.stringField("notes") }
func (l LegacyMemory) Sentiment() string { return l.stringField("sentiment") }
func (l LegacyMemory) UserID() string    { return l.stringField("userId") }
