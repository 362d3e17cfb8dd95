package protocol

import (
	"encoding/json"
	"fmt"
)

// Request asks the sandbox to run code. ID is optional on the wire; when set
// the sandbox echoes it on the matching response.
type Request struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
	ID   string      `json:"id,omitempty"`
}

// NewRequest builds a run request for lang.
func NewRequest(lang Language, code, id string) (Request, error) {
	switch lang {
	case JavaScript:
		return Request{Type: TypeRunJS, Code: code, ID: id}, nil
	case Python:
		return Request{Type: TypeRunPy, Code: code, ID: id}, nil
	}
	return Request{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
}

// Language maps the request type to the engine that serves it.
func (r Request) Language() Language {
	if r.Type == TypeRunPy {
		return Python
	}
	return JavaScript
}

func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// ParseRequest decodes an inbound sandbox message, rejecting anything that
// is not run_js or run_py. On ErrUnknownType the returned request still
// carries whatever ID was present so the rejection can be correlated.
func ParseRequest(data []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return Request{}, fmt.Errorf("decoding request: %w", err)
	}
	switch r.Type {
	case TypeRunJS, TypeRunPy:
		return r, nil
	}
	return r, fmt.Errorf("%w: %q", ErrUnknownType, r.Type)
}

// Response is either a Result or a Failure.
type Response interface {
	RequestID() string
	Lang() Language
	Output() []string
	response()
}

// Result reports a completed run. Value is nil when the evaluation produced
// nothing displayable.
type Result struct {
	Language Language
	Value    *string
	Logs     []string
	ID       string
}

// Failure reports a run that raised, failed to compile, or whose engine
// could not be bootstrapped. Logs holds output captured before the failure.
type Failure struct {
	Language Language
	Message  string
	Logs     []string
	ID       string
}

func (r Result) RequestID() string { return r.ID }
func (r Result) Lang() Language    { return r.Language }
func (r Result) Output() []string  { return r.Logs }
func (Result) response()           {}

func (f Failure) RequestID() string { return f.ID }
func (f Failure) Lang() Language    { return f.Language }
func (f Failure) Output() []string  { return f.Logs }
func (Failure) response()           {}

type resultWire struct {
	Type   MessageType `json:"type"`
	Kind   Language    `json:"kind,omitempty"`
	Result *string     `json:"result"`
	Logs   []string    `json:"logs"`
	ID     string      `json:"id,omitempty"`
}

type failureWire struct {
	Type  MessageType `json:"type"`
	Kind  Language    `json:"kind,omitempty"`
	Error string      `json:"error"`
	Logs  []string    `json:"logs"`
	ID    string      `json:"id,omitempty"`
}

func nonNil(logs []string) []string {
	if logs == nil {
		return []string{}
	}
	return logs
}

// EncodeResponse marshals a response to its wire form. Logs are always
// emitted as an array.
func EncodeResponse(resp Response) ([]byte, error) {
	switch r := resp.(type) {
	case Result:
		return json.Marshal(resultWire{
			Type:   TypeResult,
			Kind:   r.Language,
			Result: r.Value,
			Logs:   nonNil(r.Logs),
			ID:     r.ID,
		})
	case Failure:
		return json.Marshal(failureWire{
			Type:  TypeError,
			Kind:  r.Language,
			Error: r.Message,
			Logs:  nonNil(r.Logs),
			ID:    r.ID,
		})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownType, resp)
}

// ParseResponse decodes a sandbox response.
func ParseResponse(data []byte) (Response, error) {
	typ, err := peekType(data)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeResult:
		var w resultWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
		if w.Kind != JavaScript && w.Kind != Python {
			return nil, fmt.Errorf("result: %w: %q", ErrUnknownLanguage, w.Kind)
		}
		return Result{Language: w.Kind, Value: w.Result, Logs: nonNil(w.Logs), ID: w.ID}, nil
	case TypeError:
		var w failureWire
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decoding error: %w", err)
		}
		// A request rejected before its language was known has no kind.
		if w.Kind != "" && w.Kind != JavaScript && w.Kind != Python {
			return nil, fmt.Errorf("error: %w: %q", ErrUnknownLanguage, w.Kind)
		}
		return Failure{Language: w.Kind, Message: w.Error, Logs: nonNil(w.Logs), ID: w.ID}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// NormalizeValue maps the "no value" spellings of both engines to nil.
func NormalizeValue(s string) *string {
	switch s {
	case "", "undefined", "null", "None":
		return nil
	}
	return &s
}
