package gem

import (
	"errors"
	"sync"

	"github.com/arloliu/go-secs/secs2"
)

// fakeTransport records outbound messages and serves scripted replies. The
// default reply to any primary is the single-byte accept acknowledgment.
type fakeTransport struct {
	mu      sync.Mutex
	usable  bool
	sent    []*Message
	replies map[uint16][]*Message
	// failNext fails the next n SendAndWait calls.
	failNext int
	// gate, when set, blocks SendAndWait until the channel is closed.
	gate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		usable:  true,
		replies: make(map[uint16][]*Message),
	}
}

func (f *fakeTransport) Send(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.usable {
		return ErrTransportUnusable
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendAndWait(msg *Message) (*Message, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.usable {
		return nil, ErrTransportUnusable
	}
	if f.failNext > 0 {
		f.failNext--
		return nil, errors.New("fake transport: scripted failure")
	}
	f.sent = append(f.sent, msg)

	key := sfKey(msg.StreamCode(), msg.FunctionCode())
	if queued := f.replies[key]; len(queued) > 0 {
		reply := queued[0]
		f.replies[key] = queued[1:]
		return reply, nil
	}
	return msg.Reply(secs2.B(0)), nil
}

func (f *fakeTransport) Usable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usable
}

func (f *fakeTransport) setUsable(usable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usable = usable
}

func (f *fakeTransport) queueReply(stream, function uint8, reply *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := sfKey(stream, function)
	f.replies[key] = append(f.replies[key], reply)
}

func (f *fakeTransport) sentMessages() []*Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Message(nil), f.sent...)
}

func (f *fakeTransport) lastSent() *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentCount(stream, function uint8) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, msg := range f.sent {
		if msg.StreamCode() == stream && msg.FunctionCode() == function {
			n++
		}
	}
	return n
}
