// Package envelope implements the wire shape for call results exchanged
// between an endpoint and a remote client.
//
// Every call result is exactly one of three variants:
//
//	{"type":"success","data":<any JSON>}
//	{"type":"failure","error":{"tag":"SomeError","data":<any JSON>}}
//	{"type":"defect","message":"...","cause":<optional JSON>}
//
// The "data" keys are required even when their value is null; "cause" is
// optional and passed through untouched. Anything else on the wire is
// rejected by Parse. No other shape is ever produced by an endpoint.
package envelope

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/drblury/wireflow/internal/bridge/codec"
)

// Kind discriminates the three envelope variants.
type Kind string

const (
	KindSuccess Kind = "success"
	KindFailure Kind = "failure"
	KindDefect  Kind = "defect"
)

// DefaultErrorTag is the wire tag used when a failure value carries no
// usable tag of its own.
const DefaultErrorTag = "RpcError"

// Tagged is implemented by failure values that name their own wire tag.
type Tagged interface {
	ErrorTag() string
}

// Envelope is a parsed or constructed call result. Exactly one variant is
// active, selected by Kind; the fields of the other variants are zero.
type Envelope struct {
	Kind Kind

	// Data carries the success payload.
	Data json.RawMessage

	// ErrorTag and ErrorData carry the failure variant.
	ErrorTag  string
	ErrorData json.RawMessage

	// Message and Cause carry the defect variant. Cause is optional.
	Message string
	Cause   json.RawMessage
}

type successWire struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type failureWire struct {
	Type  string    `json:"type"`
	Error errorWire `json:"error"`
}

type errorWire struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

type defectWire struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Cause   json.RawMessage `json:"cause,omitempty"`
}

var nullValue = json.RawMessage("null")

// Success builds a success envelope. A nil payload is normalized to JSON
// null so the data key is always present on the wire.
func Success(data json.RawMessage) Envelope {
	if len(data) == 0 {
		data = nullValue
	}
	return Envelope{Kind: KindSuccess, Data: data}
}

// Failure builds a failure envelope. An empty tag is replaced with
// DefaultErrorTag; a nil payload is normalized to JSON null.
func Failure(tag string, data json.RawMessage) Envelope {
	if tag == "" {
		tag = DefaultErrorTag
	}
	if len(data) == 0 {
		data = nullValue
	}
	return Envelope{Kind: KindFailure, ErrorTag: tag, ErrorData: data}
}

// Defect builds a defect envelope. The message is never empty on the wire;
// cause may be nil and is then omitted.
func Defect(message string, cause json.RawMessage) Envelope {
	if message == "" {
		message = "unknown defect"
	}
	return Envelope{Kind: KindDefect, Message: message, Cause: cause}
}

// Encode renders the envelope into its wire form.
func (e Envelope) Encode() ([]byte, error) {
	switch e.Kind {
	case KindSuccess:
		data := e.Data
		if len(data) == 0 {
			data = nullValue
		}
		return codec.Marshal(successWire{Type: string(KindSuccess), Data: data})
	case KindFailure:
		tag := e.ErrorTag
		if tag == "" {
			tag = DefaultErrorTag
		}
		data := e.ErrorData
		if len(data) == 0 {
			data = nullValue
		}
		return codec.Marshal(failureWire{Type: string(KindFailure), Error: errorWire{Tag: tag, Data: data}})
	case KindDefect:
		message := e.Message
		if message == "" {
			message = "unknown defect"
		}
		return codec.Marshal(defectWire{Type: string(KindDefect), Message: message, Cause: e.Cause})
	}
	return nil, fmt.Errorf("wireflow: cannot encode envelope of kind %q", e.Kind)
}

// Parse validates raw bytes into an Envelope. The boolean reports whether
// the payload is a well-formed envelope; malformed input yields false,
// never an error or a panic.
func Parse(raw []byte) (Envelope, bool) {
	var fields map[string]json.RawMessage
	if err := codec.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Envelope{}, false
	}

	kind, ok := stringField(fields, "type")
	if !ok {
		return Envelope{}, false
	}

	switch Kind(kind) {
	case KindSuccess:
		data, ok := fields["data"]
		if !ok {
			return Envelope{}, false
		}
		return Success(data), true

	case KindFailure:
		rawErr, ok := fields["error"]
		if !ok {
			return Envelope{}, false
		}
		var errFields map[string]json.RawMessage
		if err := codec.Unmarshal(rawErr, &errFields); err != nil || errFields == nil {
			return Envelope{}, false
		}
		tag, ok := stringField(errFields, "tag")
		if !ok || tag == "" {
			return Envelope{}, false
		}
		data, ok := errFields["data"]
		if !ok {
			return Envelope{}, false
		}
		return Failure(tag, data), true

	case KindDefect:
		message, ok := stringField(fields, "message")
		if !ok || message == "" {
			return Envelope{}, false
		}
		return Envelope{Kind: KindDefect, Message: message, Cause: fields["cause"]}, true
	}

	return Envelope{}, false
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var s string
	if err := codec.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// TagOf derives the wire tag for an arbitrary failure value. Values that
// implement Tagged name their own tag; other errors are tagged with their
// concrete type name; everything else falls back to DefaultErrorTag.
func TagOf(v any) string {
	if tagged, ok := v.(Tagged); ok {
		if tag := tagged.ErrorTag(); tag != "" {
			return tag
		}
	}
	if err, ok := v.(error); ok && err != nil {
		if name := concreteTypeName(err); name != "" {
			return name
		}
	}
	return DefaultErrorTag
}

func concreteTypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

// ToDefect converts an arbitrary failure cause (a recovered panic value, an
// unexpected error) into a defect envelope. Only the cause's text crosses
// the wire; the value itself is never serialized.
func ToDefect(cause any, prefix string) Envelope {
	text := causeText(cause)
	message := text
	if prefix != "" {
		message = prefix + ": " + text
	}
	quoted, err := codec.Marshal(text)
	if err != nil {
		quoted = nil
	}
	return Envelope{Kind: KindDefect, Message: message, Cause: quoted}
}

func causeText(cause any) string {
	var text string
	switch c := cause.(type) {
	case nil:
	case error:
		text = c.Error()
	case string:
		text = c
	default:
		text = fmt.Sprint(c)
	}
	if text == "" {
		text = "unknown cause"
	}
	return text
}
