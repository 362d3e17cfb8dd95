// Package protocol defines the wire messages exchanged between participants
// (edits relayed through a room) and between a document owner and its
// execution sandbox (run requests and their results).
//
// Every message is a JSON object discriminated by its "type" field. Parsing
// happens at the boundary: unknown types are rejected rather than guessed at.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	TypeEdit   MessageType = "edit"
	TypeRunJS  MessageType = "run_js"
	TypeRunPy  MessageType = "run_py"
	TypeResult MessageType = "result"
	TypeError  MessageType = "error"
)

// Language is the short tag carried in the "kind" field of sandbox responses.
type Language string

const (
	JavaScript Language = "js"
	Python     Language = "py"
)

var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrUnknownLanguage = errors.New("unknown language")
)

// ParseLanguage accepts both the short wire tags and the editor names.
func ParseLanguage(name string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "js", "javascript":
		return JavaScript, nil
	case "py", "python":
		return Python, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
}

// EditorName is the name a text widget uses for syntax highlighting.
func (l Language) EditorName() string {
	switch l {
	case JavaScript:
		return "javascript"
	case Python:
		return "python"
	}
	return string(l)
}

// Label is the human-facing language name used in notifications.
func (l Language) Label() string {
	switch l {
	case JavaScript:
		return "JS"
	case Python:
		return "Python"
	}
	return "Unknown"
}

// envelope reads only the discriminator.
type envelope struct {
	Type MessageType `json:"type"`
}

func peekType(data []byte) (MessageType, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding message: %w", err)
	}
	return env.Type, nil
}
