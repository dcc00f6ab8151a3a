package conn

// DataType mirrors spec.md §6's dataType partitioning used by broadcast to
// decide how many times to encode a body.
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeBuffer DataType = "buffer"
)

// Transport is the one interface spec.md's Connection depends on to move
// bytes. It is implemented only by duplex transports (the adapted TCP
// transport in transport/tcp, or a future WebSocket transport per spec.md
// §1): a persistent socket plus a background read loop that calls the
// registered recv handler for every inbound frame. transport/http does not
// implement this interface — its stateless, one-exchange-per-call shape
// (spec.md §4.7) doesn't fit a long-lived Connection, so it specializes
// ServiceMap/PendingRegistry/FlowSet/Validator directly instead.
type Transport interface {
	// DataType reports whether this transport carries text or binary
	// frames, which selects the box codec (spec.md §4.2) and determines
	// broadcast's per-dataType encode-once partitioning (spec.md §4.6).
	DataType() DataType

	// Send transmits one already-boxed frame.
	Send(data []byte) error

	// SetRecvHandler registers the callback invoked for every inbound
	// frame this transport produces, in arrival order (spec.md §5).
	SetRecvHandler(func(data []byte))

	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}

// Duplex is implemented by transports that support unsolicited
// server-to-client traffic (messages, broadcasts) and heartbeats — the
// capability spec.md §4.7 says HTTP explicitly lacks.
type Duplex interface {
	Transport
	IsDuplex() bool
}
