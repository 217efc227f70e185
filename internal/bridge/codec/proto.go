package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// MessageValidator validates unmarshalled protobuf payloads. Implementations
// typically forward to protovalidate or a custom struct validator.
type MessageValidator interface {
	Validate(msg proto.Message) error
}

// Proto returns a protojson codec for a generated protobuf message type.
// M must be the generated pointer type.
func Proto[M proto.Message]() Codec[M] {
	return ProtoValidated[M](nil)
}

// ProtoValidated returns a protojson codec that runs every decoded message
// through the given validator. A nil validator disables validation.
func ProtoValidated[M proto.Message](validator MessageValidator) Codec[M] {
	name := TypeName[M]()
	return Codec[M]{
		Marshal: func(msg M) ([]byte, error) {
			prepared, err := ensurePrototype(msg)
			if err != nil {
				return nil, &Error{Op: "marshal", Type: name, Err: err}
			}
			data, err := protojson.Marshal(prepared)
			if err != nil {
				return nil, &Error{Op: "marshal", Type: name, Err: err}
			}
			return data, nil
		},
		Unmarshal: func(data []byte) (M, error) {
			var zero M
			msg, err := ensurePrototype(zero)
			if err != nil {
				return zero, &Error{Op: "unmarshal", Type: name, Err: err}
			}
			if err := protojson.Unmarshal(data, msg); err != nil {
				return zero, &Error{Op: "unmarshal", Type: name, Err: err}
			}
			if validator != nil {
				if err := validator.Validate(msg); err != nil {
					return zero, &Error{Op: "unmarshal", Type: name, Err: err}
				}
			}
			return msg, nil
		},
	}
}

// ensurePrototype returns candidate unless it is a typed nil, in which case
// a fresh zero-value message of the same generated type is instantiated.
func ensurePrototype[M proto.Message](candidate M) (M, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero M
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, fmt.Errorf("message type is not instantiable")
	}
	if typ.Kind() != reflect.Pointer {
		return zero, fmt.Errorf("message type %s must be a pointer", typ)
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(M)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto(msg proto.Message) bool {
	if msg == nil {
		return true
	}
	v := reflect.ValueOf(msg)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
