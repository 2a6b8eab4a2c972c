package wire

import (
	"encoding/json"
	"fmt"
)

const logPrefix = "wire:codec"

// Encode serializes a message to JSON bytes.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserializes JSON bytes into a message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s - failed to decode message: %w", logPrefix, err)
	}
	return &m, nil
}

// EncodeArgs serializes call arguments positionally. Values that are
// already json.RawMessage are passed through.
func EncodeArgs(args []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			out = append(out, raw)
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to encode argument %d: %w", logPrefix, i, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// DecodeResult unmarshals a result into v. A nil or null result leaves v untouched.
func DecodeResult(result json.RawMessage, v interface{}) error {
	if len(result) == 0 || string(result) == "null" {
		return nil
	}
	if err := json.Unmarshal(result, v); err != nil {
		return fmt.Errorf("%s - failed to decode result: %w", logPrefix, err)
	}
	return nil
}
