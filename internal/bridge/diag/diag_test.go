package diag

import (
	"errors"
	"testing"
)

func TestEmitSkipsNilHooks(t *testing.T) {
	var h Hooks
	h.EmitDecodeFailure(DecodeFailure{})
	h.EmitProtocolError(ProtocolError{})
	h.EmitEventDropped(EventDrop{})
	h.EmitDispatchFailure(DispatchFailure{})
}

func TestEmitSwallowsPanics(t *testing.T) {
	h := Hooks{
		OnDecodeFailure:   func(DecodeFailure) { panic("observer bug") },
		OnProtocolError:   func(ProtocolError) { panic("observer bug") },
		OnEventDropped:    func(EventDrop) { panic("observer bug") },
		OnDispatchFailure: func(DispatchFailure) { panic("observer bug") },
	}

	h.EmitDecodeFailure(DecodeFailure{Scope: ScopeRPCRequest})
	h.EmitProtocolError(ProtocolError{Method: "Add"})
	h.EmitEventDropped(EventDrop{Reason: DropQueueFull})
	h.EmitDispatchFailure(DispatchFailure{Event: "tick"})
}

func TestEmitPassesContext(t *testing.T) {
	var got DecodeFailure
	h := Hooks{OnDecodeFailure: func(ctx DecodeFailure) { got = ctx }}

	cause := errors.New("bad json")
	h.EmitDecodeFailure(DecodeFailure{
		Scope: ScopeEventPayload,
		Name:  "tick",
		Raw:   []byte(`{`),
		Cause: cause,
	})

	if got.Scope != ScopeEventPayload || got.Name != "tick" {
		t.Errorf("hook received %+v", got)
	}
	if got.Cause != cause {
		t.Errorf("Cause = %v, want %v", got.Cause, cause)
	}
}

func TestMergeCallsBothInOrder(t *testing.T) {
	var order []string
	first := Hooks{OnEventDropped: func(EventDrop) { order = append(order, "first") }}
	second := Hooks{OnEventDropped: func(EventDrop) { order = append(order, "second") }}

	merged := first.Merge(second)
	merged.EmitEventDropped(EventDrop{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestMergeIsolatesPanickingHook(t *testing.T) {
	var called bool
	first := Hooks{OnProtocolError: func(ProtocolError) { panic("bad observer") }}
	second := Hooks{OnProtocolError: func(ProtocolError) { called = true }}

	first.Merge(second).EmitProtocolError(ProtocolError{})

	if !called {
		t.Error("second hook not called after first panicked")
	}
}

func TestMergeKeepsSingleSide(t *testing.T) {
	var called bool
	h := Hooks{OnDecodeFailure: func(DecodeFailure) { called = true }}

	merged := h.Merge(Hooks{})
	merged.EmitDecodeFailure(DecodeFailure{})
	if !called {
		t.Error("surviving hook not called")
	}

	if merged.OnProtocolError != nil {
		t.Error("expected nil protocol-error hook after merging two nils")
	}
}

func TestAlertingHooks(t *testing.T) {
	var names []string
	h := AlertingHooks(func(name string, cause error) { names = append(names, name) })

	h.EmitProtocolError(ProtocolError{Method: "Add"})
	h.EmitDispatchFailure(DispatchFailure{Event: "tick"})

	if len(names) != 2 || names[0] != "Add" || names[1] != "tick" {
		t.Errorf("alerts = %v", names)
	}
}
