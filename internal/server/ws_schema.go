package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	commands map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("ws_command", wsCommandSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.envelope = envelope

		commands := map[string]string{
			"ping":            wsPingDataSchema,
			"subscribe_job":   wsJobDataSchema,
			"unsubscribe_job": wsJobDataSchema,
		}
		wsSchemas.commands = make(map[string]*jsonschema.Schema, len(commands))
		for name, schema := range commands {
			compiled, err := jsonschema.CompileString("ws_command_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.commands[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// validateWSCommand checks the raw frame against the envelope schema and
// the per-command data schema, when one is registered.
func validateWSCommand(raw []byte, command string) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.envelope.Validate(payload); err != nil {
		return fmt.Errorf("invalid command frame: %w", err)
	}
	schema := wsSchemas.commands[command]
	if schema == nil {
		return nil
	}
	frame, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid command frame")
	}
	data, ok := frame["data"]
	if !ok {
		data = map[string]any{}
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("invalid %s data: %w", command, err)
	}
	return nil
}

const wsCommandSchema = `{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": { "type": "string", "minLength": 1 },
    "data": { "type": "object" }
  },
  "additionalProperties": false
}`

const wsPingDataSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "number" }
  }
}`

const wsJobDataSchema = `{
  "type": "object",
  "required": ["job_id"],
  "properties": {
    "job_id": { "type": "string", "minLength": 1 }
  }
}`
