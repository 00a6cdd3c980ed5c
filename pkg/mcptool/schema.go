package mcptool

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaValidator compiles and caches a tool's input schema and validates
// call arguments against it before dispatch. Grounded on the goa-ai
// example's registry/service.go validatePayloadJSONAgainstSchema: unmarshal
// the schema, add it as a compiler resource, compile, validate the
// payload document. Caching the compiled schema (goa-ai recompiles per
// call) avoids repeating that work on every tool call within one session.
type schemaValidator struct {
	mu     sync.Mutex
	schema map[string]*jsonschema.Schema // "server.tool" -> compiled schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{schema: make(map[string]*jsonschema.Schema)}
}

// validate compiles (once) and checks args against the tool's
// InputSchema. A nil/empty schema always passes. Schema compile failures
// are treated as non-fatal (log-worthy, not call-blocking) since the MCP
// server itself is authoritative on whether the call is well-formed.
func (v *schemaValidator) validate(key string, rawSchema any, args map[string]any) error {
	if rawSchema == nil {
		return nil
	}

	v.mu.Lock()
	schema, ok := v.schema[key]
	v.mu.Unlock()

	if !ok {
		schemaJSON, err := json.Marshal(rawSchema)
		if err != nil || string(schemaJSON) == "null" {
			return nil
		}
		var doc any
		if err := json.Unmarshal(schemaJSON, &doc); err != nil {
			return nil
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(key, doc); err != nil {
			return nil
		}
		schema, err = c.Compile(key)
		if err != nil {
			return nil
		}
		v.mu.Lock()
		v.schema[key] = schema
		v.mu.Unlock()
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal tool arguments: %w", err)
	}
	var argsDoc any
	if err := json.Unmarshal(argsJSON, &argsDoc); err != nil {
		return fmt.Errorf("unmarshal tool arguments: %w", err)
	}
	return schema.Validate(argsDoc)
}
