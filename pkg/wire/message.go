// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Message is one decoded wire message
type Message struct {
	Type    uint8
	Payload map[int]interface{}
}

// EncodeMessage encodes [msg_type, payload_map]. A nil payload is sent as
// CBOR null.
func EncodeMessage(msgType uint8, payload map[int]interface{}) ([]byte, error) {
	var body interface{}
	if payload != nil {
		body = payload
	}
	data, err := cbor.Marshal([]interface{}{msgType, body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// ParseMessage parses [msg_type, payload_map]
// Returns the decoded message (nil payload for empty payloads)
func ParseMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty CBOR payload")
	}

	var msg []interface{}
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	if len(msg) != 2 {
		return Message{}, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	var out Message
	switch v := msg[0].(type) {
	case uint64:
		if v > 255 {
			return Message{}, fmt.Errorf("message type out of range: %d", v)
		}
		out.Type = uint8(v)
	default:
		return Message{}, fmt.Errorf("expected uint for message type, got %T", msg[0])
	}

	if msg[1] == nil {
		return out, nil
	}

	switch v := msg[1].(type) {
	case map[interface{}]interface{}:
		out.Payload = make(map[int]interface{}, len(v))
		for key, val := range v {
			switch k := key.(type) {
			case uint64:
				out.Payload[int(k)] = val
			case int64:
				out.Payload[int(k)] = val
			default:
				return Message{}, fmt.Errorf("expected integer map key, got %T", key)
			}
		}
	default:
		return Message{}, fmt.Errorf("expected map or nil for payload, got %T", msg[1])
	}

	return out, nil
}

// Map value extraction helpers

// GetMapInt extracts an integer from a payload map by key
func GetMapInt(m map[int]interface{}, key int) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case uint64:
		if val > 1<<63-1 {
			return 0, false
		}
		return int64(val), true
	}
	return 0, false
}

// GetMapBool extracts a bool from a payload map by key
func GetMapBool(m map[int]interface{}, key int) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	val, ok := v.(bool)
	return val, ok
}

// GetMapString extracts a string from a payload map by key
func GetMapString(m map[int]interface{}, key int) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	val, ok := v.(string)
	return val, ok
}

// requireInt extracts a mandatory integer field
func requireInt(m map[int]interface{}, key int, name string) (int, error) {
	v, ok := GetMapInt(m, key)
	if !ok {
		return 0, fmt.Errorf("missing or invalid %s", name)
	}
	return int(v), nil
}
