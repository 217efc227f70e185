// Package contract defines the typed method and event descriptors shared by
// endpoints, clients, and publishers. A contract assigns stable names to the
// calls and events two processes exchange; both sides must be built against
// the same contract.
package contract

import (
	"fmt"
	"sort"

	"github.com/drblury/wireflow/internal/bridge/codec"
)

// NoError marks a method as having no domain error channel. Declared as a
// method's error type it means every failure the handler produces is a
// defect, and any failure envelope received for the method is a protocol
// violation.
type NoError struct{}

func (NoError) Error() string { return "wireflow: method declares no error" }

// Contract is a named set of method and event descriptors. Methods and
// events share one name namespace. Contracts are assembled once, in package
// var blocks, so definition mistakes panic instead of returning errors.
type Contract struct {
	name    string
	methods map[string]*MethodSpec
	events  map[string]*EventSpec
}

// New returns an empty contract.
func New(name string) *Contract {
	return &Contract{
		name:    name,
		methods: make(map[string]*MethodSpec),
		events:  make(map[string]*EventSpec),
	}
}

// Name returns the contract name.
func (c *Contract) Name() string { return c.name }

// MethodNames returns all defined method names in sorted order.
func (c *Contract) MethodNames() []string {
	names := make([]string, 0, len(c.methods))
	for name := range c.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventNames returns all defined event names in sorted order.
func (c *Contract) EventNames() []string {
	names := make([]string, 0, len(c.events))
	for name := range c.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MethodSpec returns the erased spec for a method name.
func (c *Contract) MethodSpec(name string) (*MethodSpec, bool) {
	spec, ok := c.methods[name]
	return spec, ok
}

// EventSpec returns the erased spec for an event name.
func (c *Contract) EventSpec(name string) (*EventSpec, bool) {
	spec, ok := c.events[name]
	return spec, ok
}

func (c *Contract) defineMethod(name string, noError bool) *MethodSpec {
	c.reserve(name)
	spec := &MethodSpec{name: name, contract: c, noError: noError}
	c.methods[name] = spec
	return spec
}

func (c *Contract) defineEvent(name string) *EventSpec {
	c.reserve(name)
	spec := &EventSpec{name: name, contract: c}
	c.events[name] = spec
	return spec
}

func (c *Contract) reserve(name string) {
	if c == nil {
		panic("wireflow: contract is nil")
	}
	if name == "" {
		panic(fmt.Sprintf("wireflow: contract %q: name must not be empty", c.name))
	}
	if _, ok := c.methods[name]; ok {
		panic(fmt.Sprintf("wireflow: contract %q already defines %q", c.name, name))
	}
	if _, ok := c.events[name]; ok {
		panic(fmt.Sprintf("wireflow: contract %q already defines %q", c.name, name))
	}
}

// MethodSpec is the type-erased view of one method: its name, owning
// contract, and whether its error channel is empty.
type MethodSpec struct {
	name     string
	contract *Contract
	noError  bool
}

func (s *MethodSpec) Name() string        { return s.name }
func (s *MethodSpec) Contract() *Contract { return s.contract }

// NoError reports whether the method declares an empty error channel.
func (s *MethodSpec) NoError() bool { return s.noError }

// EventSpec is the type-erased view of one event.
type EventSpec struct {
	name     string
	contract *Contract
}

func (s *EventSpec) Name() string        { return s.name }
func (s *EventSpec) Contract() *Contract { return s.contract }

// Method is the typed handle for one request/response method. E is the
// declared domain error type; use NoError for methods that cannot fail with
// a domain error.
type Method[Req, Res any, E error] struct {
	spec *MethodSpec
	req  codec.Codec[Req]
	res  codec.Codec[Res]
	err  codec.Codec[E]
}

// NewMethod defines a method on c with JSON codecs for all payload types.
// It panics if the name is already taken.
func NewMethod[Req, Res any, E error](c *Contract, name string) Method[Req, Res, E] {
	return NewMethodWith[Req, Res, E](c, name, codec.JSON[Req](), codec.JSON[Res](), codec.JSON[E]())
}

// NewMethodWith defines a method with explicit codecs, for payload types
// that are not plain JSON (protobuf messages, custom encodings).
func NewMethodWith[Req, Res any, E error](c *Contract, name string, req codec.Codec[Req], res codec.Codec[Res], errCodec codec.Codec[E]) Method[Req, Res, E] {
	spec := c.defineMethod(name, isNoError[E]())
	return Method[Req, Res, E]{spec: spec, req: req, res: res, err: errCodec}
}

// Spec returns the erased method spec.
func (m Method[Req, Res, E]) Spec() *MethodSpec { return m.spec }

// Name returns the method name.
func (m Method[Req, Res, E]) Name() string { return m.spec.name }

// RequestCodec returns the request payload codec.
func (m Method[Req, Res, E]) RequestCodec() codec.Codec[Req] { return m.req }

// ResponseCodec returns the response payload codec.
func (m Method[Req, Res, E]) ResponseCodec() codec.Codec[Res] { return m.res }

// ErrorCodec returns the domain error codec. It is unused for NoError
// methods.
func (m Method[Req, Res, E]) ErrorCodec() codec.Codec[E] { return m.err }

// Event is the typed handle for one push event.
type Event[P any] struct {
	spec  *EventSpec
	codec codec.Codec[P]
}

// NewEvent defines an event on c with a JSON payload codec. It panics if
// the name is already taken.
func NewEvent[P any](c *Contract, name string) Event[P] {
	return NewEventWith[P](c, name, codec.JSON[P]())
}

// NewEventWith defines an event with an explicit payload codec.
func NewEventWith[P any](c *Contract, name string, payload codec.Codec[P]) Event[P] {
	spec := c.defineEvent(name)
	return Event[P]{spec: spec, codec: payload}
}

// Spec returns the erased event spec.
func (e Event[P]) Spec() *EventSpec { return e.spec }

// Name returns the event name.
func (e Event[P]) Name() string { return e.spec.name }

// PayloadCodec returns the payload codec.
func (e Event[P]) PayloadCodec() codec.Codec[P] { return e.codec }

func isNoError[E error]() bool {
	var e E
	_, ok := any(e).(NoError)
	return ok
}
