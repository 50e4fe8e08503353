package frpg2rudp

// Datagram is the plaintext pair the UDP packet layer exchanges with the
// reliable layer above it. HasConnectionPrefix is only ever set true by the
// reliable layer when encoding a SYN, which includes the SYNs a connecting
// client resends every ResendSynInterval; see internal/wire's InitialData
// for the prefix's layout.
type Datagram struct {
	HasConnectionPrefix bool
	Payload             []byte
}
