package controller

import "encoding/json"

// decodeLooseJSONObject parses a JSON object, returning nil on any error
// rather than propagating it — a malformed Action Input is an LLM
// formatting slip, not a controller bug, and is best surfaced back to the
// LLM as a tool_execution_failure via the dispatcher's own validation.
func decodeLooseJSONObject(raw string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
