package gem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/semiconlab/gemequip/common"
)

// ErrUnrecognizedMessage is returned by Dispatch when no handler is
// registered for an inbound message's stream/function pair. The transport
// glue decides how to surface it on the wire (typically an S9 reply).
var ErrUnrecognizedMessage = errors.New("gem: unrecognized stream/function")

// HandlerFunc processes one inbound message and produces the reply, or nil
// when the message carries no wait bit.
type HandlerFunc func(*Message) (*Message, error)

// Dispatcher routes inbound messages to the handler registered for their
// stream/function pair. Handlers are registered once during engine
// construction; the registry is read-only afterwards.
type Dispatcher struct {
	mu             sync.RWMutex
	handlers       map[uint16]HandlerFunc
	defaultHandler HandlerFunc
	logger         common.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger common.Logger) *Dispatcher {
	if logger == nil {
		logger = common.NopLogger()
	}
	return &Dispatcher{
		handlers: make(map[uint16]HandlerFunc),
		logger:   logger,
	}
}

func sfKey(stream, function uint8) uint16 {
	return uint16(stream)<<8 | uint16(function)
}

// Register installs a handler for the given stream/function pair.
// Registering the same pair twice panics: the registry is a startup-time
// table and a duplicate registration is a wiring bug.
func (d *Dispatcher) Register(stream, function uint8, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := sfKey(stream, function)
	if _, exists := d.handlers[key]; exists {
		panic(fmt.Sprintf("gem: handler for S%dF%d registered twice", stream, function))
	}
	d.handlers[key] = handler
}

// RegisterDefault installs the fallback handler invoked for messages with no
// registered stream/function handler.
func (d *Dispatcher) RegisterDefault(handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultHandler = handler
}

// Dispatch routes msg to its handler and returns the produced reply, if any.
//
// When no handler matches and no default handler is installed, it returns
// ErrUnrecognizedMessage; for wait-bit messages the caller must translate
// that into the protocol's "unrecognized" reply, for header-only messages it
// is a silent drop.
func (d *Dispatcher) Dispatch(msg *Message) (*Message, error) {
	if msg == nil {
		return nil, errors.New("gem: nil message")
	}

	d.mu.RLock()
	handler, ok := d.handlers[sfKey(msg.StreamCode(), msg.FunctionCode())]
	fallback := d.defaultHandler
	d.mu.RUnlock()

	if !ok {
		if fallback == nil {
			d.logger.Warn("no handler registered", "message", msg.SF())
			return nil, ErrUnrecognizedMessage
		}
		handler = fallback
	}

	reply, err := handler(msg)
	if err != nil {
		d.logger.Error("handler failed", "message", msg.SF(), "error", err)
		return reply, err
	}
	return reply, nil
}
