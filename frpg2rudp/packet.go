package frpg2rudp

import "github.com/ds3os-go/frpg2rudp/internal/wire"

// ReliablePacket is the header+payload pair exchanged across the Stream's
// public Send/Receive contract.
type ReliablePacket struct {
	Header  wire.Header
	Payload []byte

	// SendTime is the clock reading at which this packet was most
	// recently transmitted, used to drive the retransmit timer.
	SendTime float64
}
