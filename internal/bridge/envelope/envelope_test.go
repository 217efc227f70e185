package envelope

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"success with object", Success(json.RawMessage(`{"sum":5}`))},
		{"success with null", Success(nil)},
		{"success with scalar", Success(json.RawMessage(`42`))},
		{"failure", Failure("AccessDeniedError", json.RawMessage(`{"message":"denied"}`))},
		{"failure with null data", Failure("RateLimited", nil)},
		{"defect without cause", Defect("handler exploded", nil)},
		{"defect with cause", Defect("handler exploded", json.RawMessage(`"boom"`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.env.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			got, ok := Parse(data)
			if !ok {
				t.Fatalf("Parse(%s) not ok", data)
			}
			if !reflect.DeepEqual(got, tt.env) {
				t.Errorf("Parse(Encode()) = %+v, want %+v", got, tt.env)
			}
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Success(json.RawMessage(`{"sum":5}`)).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(data), `{"type":"success","data":{"sum":5}}`; got != want {
		t.Errorf("success wire = %s, want %s", got, want)
	}

	data, err = Failure("AccessDeniedError", json.RawMessage(`{"message":"denied"}`)).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(data), `{"type":"failure","error":{"tag":"AccessDeniedError","data":{"message":"denied"}}}`; got != want {
		t.Errorf("failure wire = %s, want %s", got, want)
	}

	data, err = Defect("it broke", nil).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(data), `{"type":"defect","message":"it broke"}`; got != want {
		t.Errorf("defect wire = %s, want %s", got, want)
	}
}

func TestEncodeUnknownKind(t *testing.T) {
	if _, err := (Envelope{Kind: "bogus"}).Encode(); err == nil {
		t.Error("expected error encoding unknown kind")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{`},
		{"json null", `null`},
		{"array", `[1,2,3]`},
		{"scalar", `42`},
		{"string", `"success"`},
		{"missing type", `{"data":1}`},
		{"numeric type", `{"type":7}`},
		{"unknown type", `{"type":"progress","data":1}`},
		{"success without data key", `{"type":"success"}`},
		{"failure without error", `{"type":"failure"}`},
		{"failure error not object", `{"type":"failure","error":"denied"}`},
		{"failure error null", `{"type":"failure","error":null}`},
		{"failure without tag", `{"type":"failure","error":{"data":1}}`},
		{"failure empty tag", `{"type":"failure","error":{"tag":"","data":1}}`},
		{"failure tag not string", `{"type":"failure","error":{"tag":3,"data":1}}`},
		{"failure without data key", `{"type":"failure","error":{"tag":"E"}}`},
		{"defect without message", `{"type":"defect"}`},
		{"defect empty message", `{"type":"defect","message":""}`},
		{"defect message not string", `{"type":"defect","message":12}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if env, ok := Parse([]byte(tt.raw)); ok {
				t.Errorf("Parse(%s) = %+v, want not ok", tt.raw, env)
			}
		})
	}
}

func TestParseAcceptsNullData(t *testing.T) {
	env, ok := Parse([]byte(`{"type":"success","data":null}`))
	if !ok {
		t.Fatal("Parse() not ok for null data")
	}
	if env.Kind != KindSuccess {
		t.Errorf("Kind = %q, want success", env.Kind)
	}
	if string(env.Data) != "null" {
		t.Errorf("Data = %s, want null", env.Data)
	}
}

func TestParsePassesCauseThrough(t *testing.T) {
	env, ok := Parse([]byte(`{"type":"defect","message":"m","cause":{"nested":true}}`))
	if !ok {
		t.Fatal("Parse() not ok")
	}
	if string(env.Cause) != `{"nested":true}` {
		t.Errorf("Cause = %s, want the raw object", env.Cause)
	}
}

type taggedError struct{ tag string }

func (e taggedError) Error() string    { return "tagged" }
func (e taggedError) ErrorTag() string { return e.tag }

type AccessDeniedError struct {
	Message string `json:"message"`
}

func (e *AccessDeniedError) Error() string { return e.Message }

func TestTagOf(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"tagged value", taggedError{tag: "QuotaExceeded"}, "QuotaExceeded"},
		{"tagged with empty tag falls back to type", taggedError{}, "taggedError"},
		{"typed error pointer", &AccessDeniedError{Message: "denied"}, "AccessDeniedError"},
		{"typed error value", errors.New("plain"), "errorString"},
		{"non error", 42, DefaultErrorTag},
		{"nil", nil, DefaultErrorTag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TagOf(tt.v); got != tt.want {
				t.Errorf("TagOf(%v) = %q, want %q", tt.v, got, tt.want)
			}
		})
	}
}

func TestToDefect(t *testing.T) {
	t.Run("error cause", func(t *testing.T) {
		env := ToDefect(errors.New("boom"), "Add handler failed")
		if env.Kind != KindDefect {
			t.Fatalf("Kind = %q, want defect", env.Kind)
		}
		if env.Message != "Add handler failed: boom" {
			t.Errorf("Message = %q", env.Message)
		}
		if string(env.Cause) != `"boom"` {
			t.Errorf("Cause = %s, want quoted text", env.Cause)
		}
	})

	t.Run("string cause without prefix", func(t *testing.T) {
		env := ToDefect("boom", "")
		if env.Message != "boom" {
			t.Errorf("Message = %q, want boom", env.Message)
		}
	})

	t.Run("arbitrary value", func(t *testing.T) {
		env := ToDefect(struct{ X int }{X: 3}, "")
		if !strings.Contains(env.Message, "3") {
			t.Errorf("Message = %q, want stringified value", env.Message)
		}
	})

	t.Run("nil cause", func(t *testing.T) {
		env := ToDefect(nil, "dispatch")
		if env.Message != "dispatch: unknown cause" {
			t.Errorf("Message = %q", env.Message)
		}
	})

	t.Run("round-trips on the wire", func(t *testing.T) {
		data, err := ToDefect(errors.New("boom"), "invoke").Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		env, ok := Parse(data)
		if !ok {
			t.Fatal("Parse() not ok")
		}
		if env.Message != "invoke: boom" {
			t.Errorf("Message = %q", env.Message)
		}
	})
}
