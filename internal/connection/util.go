package connection

import "encoding/json"

// mustMarshal encodes v, which is always one of the bulk accumulator's
// own []string or map[string]int values — encoding cannot fail for
// these types, so a panic here would indicate a programming error.
func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
