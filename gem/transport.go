package gem

// Transport abstracts the link used to exchange messages with the host.
// Implementations own connection lifecycle, framing and reply correlation;
// the engine only cares about request/reply and fire-and-forget semantics.
type Transport interface {
	// Send transmits a message without waiting for a reply.
	Send(msg *Message) error

	// SendAndWait transmits a primary message and blocks until the
	// correlated reply arrives or the transport's reply timeout expires.
	SendAndWait(msg *Message) (*Message, error)

	// Usable reports whether the link is currently able to carry messages.
	Usable() bool
}
