// Package protocol defines the JSON frames exchanged over a chat connection:
// correlated call/response pairs and unsolicited broadcast events.
package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
)

// Broadcast event names.
const (
	EventMessage  = "message"
	EventPresence = "presence"
)

// Call is a client-to-server request. Token must be unique among calls
// currently awaiting a response on the same connection.
type Call struct {
	Token  string          `json:"token"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response echoes the call token. On failure Data is absent and Message
// carries a human-readable reason.
type Response struct {
	Token   string      `json:"token"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Result is a response as decoded by the client, payload left raw for the
// caller to interpret.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func OK(token string, data interface{}) Response {
	return Response{Token: token, Success: true, Data: data}
}

func Fail(token, message string) Response {
	return Response{Token: token, Success: false, Message: message}
}

// NewToken returns a random 128-bit correlation token. Collisions among
// in-flight calls are treated as negligible.
func NewToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// EncodeBroadcast builds a broadcast frame: the event name merged into the
// payload at top level, no token.
func EncodeBroadcast(event string, payload map[string]interface{}) ([]byte, error) {
	if event == "" {
		return nil, errors.New("missing event")
	}
	frame := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		frame[k] = v
	}
	frame["event"] = event
	return json.Marshal(frame)
}

// Probe is the minimal view of an inbound frame used to tell responses from
// broadcasts: a frame with an event and no token is a broadcast, a frame with
// a token is a response.
type Probe struct {
	Token string `json:"token"`
	Event string `json:"event"`
}

func Identify(data []byte) (Probe, error) {
	var p Probe
	if err := json.Unmarshal(data, &p); err != nil {
		return Probe{}, err
	}
	return p, nil
}
