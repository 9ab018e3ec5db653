package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemasOnce sync.Once
	schemasErr  error
	agentSchema *jsonschema.Schema
	obsSchema   *jsonschema.Schema
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		for _, name := range []string{"agent.schema.json", "observation.schema.json"} {
			b, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
				schemasErr = fmt.Errorf("%s: %w", name, err)
				return
			}
		}
		if agentSchema, schemasErr = c.Compile("agent.schema.json"); schemasErr != nil {
			return
		}
		obsSchema, schemasErr = c.Compile("observation.schema.json")
	})
	return schemasErr
}

// TrimFrame strips the trailing terminator padding some agents append to a
// reply (NUL bytes, newlines).
func TrimFrame(b []byte) []byte {
	b = bytes.TrimRight(b, "\x00")
	return bytes.TrimSpace(b)
}

// DecodeAgent parses one agent reply. With validate set, the message is
// checked against the embedded agent schema before it is decoded, so a
// wrongly typed control field is rejected as a whole instead of being half
// applied.
func DecodeAgent(raw []byte, validate bool) (AgentMsg, error) {
	raw = TrimFrame(raw)
	if len(raw) == 0 {
		return AgentMsg{}, Errorf(ErrProtoParse, "empty message", nil)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return AgentMsg{}, Errorf(ErrProtoParse, "invalid json", err)
	}
	if validate {
		if err := loadSchemas(); err != nil {
			return AgentMsg{}, Errorf(ErrInternal, "load schemas", err)
		}
		if err := agentSchema.Validate(v); err != nil {
			return AgentMsg{}, Errorf(ErrProtoSchema, "agent message", err)
		}
	}

	var m AgentMsg
	if err := json.Unmarshal(raw, &m); err != nil {
		return AgentMsg{}, Errorf(ErrProtoParse, "agent message", err)
	}
	if m.Type == "" {
		return AgentMsg{}, Errorf(ErrProtoType, "missing type", nil)
	}
	if !IsKnownType(m.Type) {
		return AgentMsg{}, Errorf(ErrProtoType, fmt.Sprintf("unexpected type %q", m.Type), nil)
	}
	return m, nil
}

// ValidateObservation checks a decoded observation document (as produced by
// json.Unmarshal into an any) against the observation schema.
func ValidateObservation(v any) error {
	if err := loadSchemas(); err != nil {
		return err
	}
	return obsSchema.Validate(v)
}
