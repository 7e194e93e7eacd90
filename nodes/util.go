package nodes

import "encoding/json"

// decodeToolArgs unmarshals a function-call's JSON arguments string
// returned by a tool-forced GenerateContent call.
func decodeToolArgs(raw string, v any) error {
	return json.Unmarshal([]byte(raw), v)
}
