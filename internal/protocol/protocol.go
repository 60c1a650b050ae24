// Package protocol defines the JSON text frames exchanged over the
// persistent connection between the relay and transport clients.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/okdaichi/overlaysync/internal/document"
)

// Frame types. Receivers ignore any other type.
const (
	TypeUpdate = "update"
	TypeError  = "error"
)

// Frame is one message on the wire.
//
//	{"type":"update","config":{...}}
//	{"type":"error","error":"..."}
type Frame struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Decode parses a frame. It does not validate the carried document.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// EncodeUpdate returns the update frame carrying doc.
func EncodeUpdate(doc document.Document) ([]byte, error) {
	return json.Marshal(Frame{Type: TypeUpdate, Config: doc.Raw()})
}

// EncodeError returns an error frame with msg.
func EncodeError(msg string) []byte {
	data, _ := json.Marshal(Frame{Type: TypeError, Error: msg})
	return data
}

// Document parses the document carried by an update frame.
func (f Frame) Document() (document.Document, error) {
	return document.Parse(f.Config)
}
