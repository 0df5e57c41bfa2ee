package gem

import (
	"fmt"

	"github.com/arloliu/go-secs/secs2"
)

// Message is a single SECS-II message handled by the engine: a stream and
// function code, the wait bit, and a typed hierarchical data item.
//
// A Message is immutable once constructed. It implements the
// secs2.SECS2Message interface so it can be handed to go-secs sessions
// without conversion.
type Message struct {
	item     secs2.Item
	stream   uint8
	function uint8
	wait     bool
}

// ensure Message implements the secs2.SECS2Message interface.
var _ secs2.SECS2Message = (*Message)(nil)

// NewMessage creates a message with the given stream code, function code,
// wait bit (true when a reply is expected) and data item. A nil item is
// replaced by the empty SECS-II item.
func NewMessage(stream uint8, function uint8, replyExpected bool, item secs2.Item) *Message {
	if item == nil {
		item = secs2.NewEmptyItem()
	}
	return &Message{stream: stream, function: function, wait: replyExpected, item: item}
}

// StreamCode returns the stream code of the message.
func (m *Message) StreamCode() uint8 { return m.stream & 0x7F }

// FunctionCode returns the function code of the message.
func (m *Message) FunctionCode() uint8 { return m.function }

// WaitBit reports whether the sender expects a reply.
func (m *Message) WaitBit() bool { return m.wait }

// Item returns the SECS-II data item carried by the message.
func (m *Message) Item() secs2.Item { return m.item }

// Reply builds the secondary message answering this primary: same stream,
// function+1, wait bit cleared.
func (m *Message) Reply(item secs2.Item) *Message {
	return NewMessage(m.StreamCode(), m.FunctionCode()+1, false, item)
}

// SF returns the "SxFy" designation of the message, e.g. "S2F33".
func (m *Message) SF() string {
	return fmt.Sprintf("S%dF%d", m.StreamCode(), m.FunctionCode())
}
