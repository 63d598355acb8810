package daemon

import (
	"encoding/json"
	"fmt"
)

// Message types for daemon RPC
const (
	TypeStatusRequest  = "STATUS_REQUEST"
	TypeStatusResponse = "STATUS_RESPONSE"
	TypeFlushRequest   = "FLUSH_REQUEST"
	TypeDeleteRequest  = "DELETE_REQUEST"
	TypeEnableRequest  = "ENABLE_REQUEST"
	TypeDisableRequest = "DISABLE_REQUEST"
	TypeAck            = "ACK"
	TypeError          = "ERROR"
)

// Message is the envelope for all daemon messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode creates a Message with the given type and payload.
func Encode(msgType string, payload any) ([]byte, error) {
	var payloadBytes []byte
	var err error

	if payload != nil {
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	msg := Message{
		Type:    msgType,
		Payload: payloadBytes,
	}
	return json.Marshal(msg)
}

// Decode parses a raw message and returns the type and payload.
func Decode(data []byte) (msgType string, payload json.RawMessage, err error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return msg.Type, msg.Payload, nil
}

// DecodePayload unmarshals the payload into the given type.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("unmarshal payload: %w", err)
	}
	return v, nil
}

// StatusResponse returns the daemon's current status.
type StatusResponse struct {
	PID           int    `json:"pid"`
	Running       bool   `json:"running"`
	ActiveFile    string `json:"active_file"`
	ActiveSize    int64  `json:"active_size"`
	BufferedLines int    `json:"buffered_lines"`
	Archives      int    `json:"archives"`
	DroppedLines  int64  `json:"dropped_lines"`
	Rotations     int64  `json:"rotations"`
	FlushFailures int64  `json:"flush_failures"`
	LastFlush     int64  `json:"last_flush,omitempty"` // unix millis
}

// Ack confirms a request was carried out.
type Ack struct {
	Message string `json:"message,omitempty"`
}

// Error is sent when an error occurs.
type Error struct {
	Message string `json:"message"`
}
