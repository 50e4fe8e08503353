package frpg2rudp

import "github.com/ds3os-go/frpg2rudp/internal/wire"

// This file holds the opcode-specific handle/send pairs of the reliable
// stream. Each handle* method is only ever invoked from processPacket. The
// send* methods are called from handle* methods, from Connect/Disconnect,
// and from reliable.go: Pump resends SYNs, handleIncomingPacket re-ACKs,
// and MarkHandled sends a late ACK or DAT_ACK.

// handleSYN replies with both a SYN_ACK and an immediate ACK for the peer's
// SYN. The redundant-looking ACK matters: it is what lets a peer sitting in
// SynReceived advance to Established via handleACK, rather than handleSYN
// promoting the state itself.
//
// A SYN arriving at an already-established stream is ignored: accepting it
// would reset remoteSequenceIndex out from under live DAT traffic with no
// RST having been seen.
func (s *Stream) handleSYN(pkt ReliablePacket) {
	if s.state != Listening && s.state != SynReceived {
		s.log.Debug("ignoring SYN outside Listening/SynReceived")
		return
	}

	local, _ := pkt.Header.GetAckCounters()
	s.state = SynReceived

	s.sendSYNACK(local)
	s.sendACK(local)
}

func (s *Stream) sendSYN() {
	var hdr wire.Header
	hdr.OpCode = wire.SYN
	hdr.SetAckCounters(s.sequenceIndex, 0)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})
}

func (s *Stream) sendSYNACK(remoteIndex uint32) {
	var hdr wire.Header
	hdr.OpCode = wire.SYNACK
	hdr.SetAckCounters(s.sequenceIndex, remoteIndex)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})

	s.remoteSequenceIndex = remoteIndex

	// SYN_ACK consumes a sequence slot but doesn't follow any of the other
	// conventions of sequenced opcodes (no queueing, no retransmission), so
	// the bump happens here rather than in Send.
	s.sequenceIndex = (s.sequenceIndex + 1) % wire.MaxAckValue
}

// handleSYNACK lands the client in SynReceived, not Established. Established
// is only reached once the server's own immediate ACK (sent from handleSYN)
// arrives and handleACK promotes a SynReceived stream.
func (s *Stream) handleSYNACK(pkt ReliablePacket) {
	if s.state != Connecting {
		s.log.Debug("ignoring SYN_ACK outside Connecting")
		return
	}

	local, _ := pkt.Header.GetAckCounters()
	s.remoteSequenceIndex = local
	s.state = SynReceived

	s.sendACK(local)

	// Mirrors the sequence slot the peer consumed in sendSYNACK.
	s.sequenceIndex = (s.sequenceIndex + 1) % wire.MaxAckValue
}

func (s *Stream) handleACK(pkt ReliablePacket) {
	_, remote := pkt.Header.GetAckCounters()

	if s.state == SynReceived {
		s.log.Debug("received final handshake ACK, connection established")
		s.state = Established
	}

	s.sequenceIndexAcked = wire.ModularMax(s.sequenceIndexAcked, remote)
}

func (s *Stream) sendACK(remoteIndex uint32) {
	var hdr wire.Header
	hdr.OpCode = wire.ACK
	hdr.SetAckCounters(0, remoteIndex)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})

	s.remoteSequenceIndexAcked = remoteIndex
	s.lastAckSendTime = s.clock.Now()
}

// handleRACK ignores the packet. RACK appears to be a reject-ack of some
// kind; the game client never requires a response to it, so none is sent.
func (s *Stream) handleRACK(pkt ReliablePacket) {
	s.log.Debug("received RACK, ignoring")
}

// handleDAT acknowledges the packet immediately and makes it available to
// the upper layer. The sequence index is also remembered in
// expectedDatAckResponses so MarkHandled can later decide between a plain
// ACK and a DAT_ACK for it.
func (s *Stream) handleDAT(pkt ReliablePacket) {
	local, _ := pkt.Header.GetAckCounters()

	s.expectedDatAckResponses.Set(ackBit(local))
	s.receiveQueue = append(s.receiveQueue, pkt)
	s.sendACK(local)
}

// handleDATACK is handleDAT plus the piggybacked acknowledgment of our own
// outbound sequence carried in the remote counter.
func (s *Stream) handleDATACK(pkt ReliablePacket) {
	local, remote := pkt.Header.GetAckCounters()

	s.sequenceIndexAcked = wire.ModularMax(s.sequenceIndexAcked, remote)
	s.expectedDatAckResponses.Set(ackBit(local))
	s.receiveQueue = append(s.receiveQueue, pkt)
	s.sendACK(local)
}

// sendDATACK is only reachable when sendDatAckReplies is enabled; see
// MarkHandled.
func (s *Stream) sendDATACK(localIndex, remoteIndex uint32) {
	var hdr wire.Header
	hdr.OpCode = wire.DATACK
	hdr.SetAckCounters(localIndex, remoteIndex)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})

	s.remoteSequenceIndexAcked = remoteIndex
	s.lastAckSendTime = s.clock.Now()
}

// handleHBT absorbs the peer's piggybacked acknowledgment and replies with
// our own heartbeat carrying the latest sequence we have acknowledged.
func (s *Stream) handleHBT(pkt ReliablePacket) {
	_, remote := pkt.Header.GetAckCounters()
	s.sequenceIndexAcked = wire.ModularMax(s.sequenceIndexAcked, remote)

	s.sendHBT()
}

func (s *Stream) sendHBT() {
	var hdr wire.Header
	hdr.OpCode = wire.HBT
	hdr.SetAckCounters(0, s.remoteSequenceIndexAcked)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})
}

func (s *Stream) handleFIN(pkt ReliablePacket) {
	s.log.Debug("received FIN, closing connection")

	local, _ := pkt.Header.GetAckCounters()
	s.sendFINACK(local)

	s.state = Closing
	s.closeTimer = s.clock.Now()
	s.closeTimerSet = true
}

func (s *Stream) sendFIN() {
	var hdr wire.Header
	hdr.OpCode = wire.FIN
	hdr.SetAckCounters(s.sequenceIndex, 0)

	s.sendRaw(ReliablePacket{Header: hdr, SendTime: s.clock.Now()})

	s.state = Closing
	s.closeTimer = s.clock.Now()
	s.closeTimerSet = true
}

// handleFINACK moves the stream to Closing (it may already be there, from
// our own sendFIN). Pump's send-queue drain check is what actually advances
// Closing to Closed, so this never jumps the state directly.
func (s *Stream) handleFINACK(pkt ReliablePacket) {
	s.log.Debug("peer acknowledged FIN")
	if s.state != Closing {
		s.state = Closing
		s.closeTimer = s.clock.Now()
		s.closeTimerSet = true
	}
}

// sendFINACK goes through the sequenced Send path: FIN_ACK consumes a
// sequence slot and joins the send queue, unlike the other control opcodes.
// It is not retransmitted once the stream is Closing: the next Pump after
// the send queue drains moves the stream to Closed. If the stream is
// already Closing, Send drops it.
func (s *Stream) sendFINACK(remoteIndex uint32) {
	var hdr wire.Header
	hdr.OpCode = wire.FINACK
	hdr.SetAckCounters(s.sequenceIndex, remoteIndex)

	s.Send(ReliablePacket{Header: hdr})
}

func (s *Stream) handleRST(pkt ReliablePacket) {
	s.log.Debug("received RST, resetting stream")
	s.reset()
	s.state = Listening
}
