package frpg2rudp

// StreamState is the lifecycle state of a reliable Stream.
type StreamState int

const (
	// Listening is the initial server-side state before any SYN.
	Listening StreamState = iota
	// Connecting is the client-side state: SYN sent, awaiting SYN_ACK.
	Connecting
	// SynReceived is reached by either side mid-handshake.
	SynReceived
	// Established means the three-way handshake completed; DAT traffic
	// is permitted.
	Established
	// Closing means a FIN was initiated locally or received; the send
	// queue is draining before the stream reaches Closed.
	Closing
	// Closed is terminal; the owner must drop the stream.
	Closed
)

func (s StreamState) String() string {
	switch s {
	case Listening:
		return "Listening"
	case Connecting:
		return "Connecting"
	case SynReceived:
		return "SynReceived"
	case Established:
		return "Established"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
