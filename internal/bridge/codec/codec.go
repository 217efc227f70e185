// Package codec provides the payload codecs used at every wire boundary:
// plain sonic-backed JSON helpers plus typed per-payload codec pairs for
// methods and events.
package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Error wraps a marshal or unmarshal failure with the operation and the
// payload type involved, so boundary failures stay attributable.
type Error struct {
	Op   string // "marshal" or "unmarshal"
	Type string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wireflow: codec %s %s: %v", e.Op, e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Codec pairs the encode and decode halves for one payload type.
type Codec[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
}

// JSON returns a codec for any JSON-serializable payload type.
func JSON[T any]() Codec[T] {
	name := TypeName[T]()
	return Codec[T]{
		Marshal: func(v T) ([]byte, error) {
			data, err := defaultConfig.Marshal(v)
			if err != nil {
				return nil, &Error{Op: "marshal", Type: name, Err: err}
			}
			return data, nil
		},
		Unmarshal: func(data []byte) (T, error) {
			var v T
			if err := defaultConfig.Unmarshal(data, &v); err != nil {
				var zero T
				return zero, &Error{Op: "unmarshal", Type: name, Err: err}
			}
			return v, nil
		},
	}
}

// TypeName reports a short human-readable name for T, used in codec errors
// and failure tags.
func TypeName[T any]() string {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
