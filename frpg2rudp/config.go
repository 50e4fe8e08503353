package frpg2rudp

import "time"

// Config collects the timing and capacity constants that must stay aligned
// with the game client's own timers for a session to remain stable. Loading
// these from a file is an external collaborator's job; Config just gives
// that collaborator something concrete to populate. The zero Config is not
// usable, always start from DefaultConfig.
type Config struct {
	// ClientTimeout is the idle-disconnect threshold.
	ClientTimeout time.Duration

	// RetransmitInterval is the first-retry age for an unacked packet.
	RetransmitInterval time.Duration

	// RetransmitCycleInterval is the per-resend cadence while retransmitting.
	RetransmitCycleInterval time.Duration

	// MinTimeBetweenResendAck rate-limits lost-ACK recovery.
	MinTimeBetweenResendAck time.Duration

	// ResendSynInterval is the client-side SYN repeat period for NAT
	// traversal.
	ResendSynInterval time.Duration

	// ConnectionCloseTimeout forces Closing -> Closed if a graceful FIN is
	// never acked.
	ConnectionCloseTimeout time.Duration

	// MaxPacketsInFlight bounds the retransmit buffer and the ahead-of-order
	// receive window.
	MaxPacketsInFlight int

	// StartSequenceIndex is the stream's initial outgoing sequence number.
	StartSequenceIndex uint32

	// TraceWire logs every reliable packet sent or received at debug level,
	// with its opcode and both ack counters. Off by default; it is very
	// noisy under real traffic.
	TraceWire bool
}

// DefaultConfig returns the constants this implementation ships with.
// TODO(capture): these durations mirror typical defaults for this protocol
// family but have not been confirmed against the real game client's build
// config.
func DefaultConfig() Config {
	return Config{
		ClientTimeout:           20 * time.Second,
		RetransmitInterval:      2 * time.Second,
		RetransmitCycleInterval: 1 * time.Second,
		MinTimeBetweenResendAck: 500 * time.Millisecond,
		ResendSynInterval:       2 * time.Second,
		ConnectionCloseTimeout:  10 * time.Second,
		MaxPacketsInFlight:      16,
		StartSequenceIndex:      1,
	}
}
