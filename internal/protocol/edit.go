package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/codeshare/internal/identity"
)

// Edit carries the full document text. Sender is the originating session's
// identity so that receivers can drop their own echoes.
type Edit struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	Sender  string      `json:"sender"`
}

// NewEdit tags content with the sender's identity.
func NewEdit(content string, sender identity.Identity) Edit {
	return Edit{Type: TypeEdit, Content: content, Sender: sender.String()}
}

// From reports whether the edit originated from id.
func (e Edit) From(id identity.Identity) bool {
	return e.Sender == id.String()
}

// Encode marshals the edit to its wire form.
func (e Edit) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEdit parses a relayed frame. Frames of another type decode without
// error; callers check Type before using Content.
func DecodeEdit(data []byte) (Edit, error) {
	var e Edit
	if err := json.Unmarshal(data, &e); err != nil {
		return Edit{}, fmt.Errorf("decoding edit: %w", err)
	}
	return e, nil
}
