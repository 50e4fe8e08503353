// Package frpg2rudp implements the FRPG2 reliable-datagram protocol core:
// the CWC-authenticated UDP packet layer and the TCP-like sequencing layer
// that turns a raw datagram flow into an ordered, at-most-once-delivery
// stream of application packets. The per-client polling loop that drives
// both lives in the supervisor subpackage.
package frpg2rudp

import (
	"github.com/kelindar/bitmap"
	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

// Stream is the reliable packet stream for a single peer: handshake,
// sequencing, retransmission, ordered delivery, and teardown. A Stream is
// single-threaded: every exported method must be called from the goroutine
// that owns the stream.
type Stream struct {
	cfg   Config
	clock Clock
	log   *logrus.Entry

	udp *PacketStream

	isServer    bool
	peerSteamID string

	state StreamState

	sequenceIndex            uint32
	sequenceIndexAcked       uint32
	remoteSequenceIndex      uint32
	remoteSequenceIndexAcked uint32

	sendQueue        []ReliablePacket
	retransmitBuffer []ReliablePacket
	pendingReceive   *pendingQueue
	receiveQueue     []ReliablePacket

	lastPacketReceivedTime float64
	lastAckSendTime        float64
	resendSynTimer         float64
	closeTimer             float64
	closeTimerSet          bool
	retransmissionTimer    float64

	isRetransmitting    bool
	retransmittingIndex uint32
	retransmitPacket    ReliablePacket

	// datAckResponses holds sequence indices we sent as DAT_ACK ourselves;
	// expectedDatAckResponses holds indices the peer sent us a DAT for,
	// which could warrant a DAT_ACK reply once the upper layer finishes
	// with them. Both are read by MarkHandled.
	datAckResponses         bitmap.Bitmap
	expectedDatAckResponses bitmap.Bitmap

	// sendDatAckReplies gates MarkHandled's DAT_ACK reply path. The game
	// client has never been observed to need it, so it stays off; flipping
	// it on requires protocol verification against a live client.
	sendDatAckReplies bool

	inErrorState bool
}

// NewStream layers a reliable stream over an already-built PacketStream.
// The stream starts in Listening, the server-side initial state; a client
// calls Connect to move to Connecting.
func NewStream(udp *PacketStream, cfg Config, clock Clock, isServer bool, log *logrus.Entry) *Stream {
	s := &Stream{
		cfg:      cfg,
		clock:    clock,
		log:      log,
		udp:      udp,
		isServer: isServer,
	}
	s.log = log.WithField("peer", s.String())
	s.reset()
	return s
}

// reset restores per-stream mutable state to its initial values, on
// construction, on RST, and when Pump finds the stream Closed.
func (s *Stream) reset() {
	s.sequenceIndex = s.cfg.StartSequenceIndex
	s.sequenceIndexAcked = 0
	s.remoteSequenceIndex = 0
	s.remoteSequenceIndexAcked = 0

	s.pendingReceive = newPendingQueue()
	s.receiveQueue = nil
	s.sendQueue = nil
	s.retransmitBuffer = nil

	s.isRetransmitting = false
	s.datAckResponses = bitmap.Bitmap{}
	s.expectedDatAckResponses = bitmap.Bitmap{}

	s.lastPacketReceivedTime = s.clock.Now()
}

// LastActivityTime returns the clock reading of the most recent inbound
// packet of any opcode, heartbeats and acks included. Owners drive their
// idle-timeout decision from this rather than from data delivery, so a
// connection that is alive but has no application traffic in flight is not
// torn down.
func (s *Stream) LastActivityTime() float64 {
	return s.lastPacketReceivedTime
}

// String identifies the stream by its peer address in log lines.
func (s *Stream) String() string {
	return s.udp.RemoteAddr().String()
}

// Connect starts the client side of the handshake: the SYN is repeated
// every ResendSynInterval until a SYN_ACK arrives, which also serves to
// punch a hole through NAT.
func (s *Stream) Connect(steamID string) {
	s.state = Connecting
	s.peerSteamID = steamID
	s.resendSynTimer = s.clock.Now()
	s.sendSYN()
}

// State returns the stream's current lifecycle state.
func (s *Stream) State() StreamState { return s.state }

// InError reports whether the stream has hit an unrecoverable protocol
// error and must be torn down by its owner.
func (s *Stream) InError() bool { return s.inErrorState }

// Send enqueues an outbound reliable packet. Sequenced opcodes (and Unset,
// which Send resolves to DAT or DAT_ACK) consume a sequence number and join
// the send queue; everything else is transmitted immediately. It returns
// false only if framing fails; a closing stream silently swallows the
// packet and still returns true.
func (s *Stream) Send(pkt ReliablePacket) bool {
	if s.state == Closing {
		return true
	}

	if pkt.Header.OpCode.IsSequenced() || pkt.Header.OpCode == wire.Unset {
		sent := pkt
		sent.SendTime = s.clock.Now()

		if sent.Header.OpCode == wire.Unset {
			_, remote := sent.Header.GetAckCounters()
			sent.Header.SetAckCounters(s.sequenceIndex, remote)

			if remote > 0 {
				sent.Header.OpCode = wire.DATACK
				s.datAckResponses.Set(ackBit(remote))
				s.remoteSequenceIndexAcked = remote
			} else {
				sent.Header.OpCode = wire.DAT
			}
		}

		s.sequenceIndex = (s.sequenceIndex + 1) % wire.MaxAckValue
		s.sendQueue = append(s.sendQueue, sent)
		return true
	}

	return s.sendRaw(pkt)
}

// Receive pops one in-order DAT/DAT_ACK packet, in peer-send order.
func (s *Stream) Receive() (ReliablePacket, bool) {
	if len(s.receiveQueue) == 0 {
		return ReliablePacket{}, false
	}
	pkt := s.receiveQueue[0]
	s.receiveQueue = s.receiveQueue[1:]
	return pkt, true
}

// Disconnect initiates a graceful close.
func (s *Stream) Disconnect() {
	if s.state == Established {
		s.sendFIN()
	}
}

// MarkHandled lets the external message-handler collaborator acknowledge
// that it finished processing a received sequence number, sending a late
// ACK (or, with sendDatAckReplies, a DAT_ACK) on its behalf. A sequence we
// already acknowledged with an outbound DAT_ACK is only cleared from
// datAckResponses; nothing is sent for it. The stream's own Pump loop never
// calls this.
func (s *Stream) MarkHandled(ackSequence uint32) {
	if s.datAckResponses.Contains(ackBit(ackSequence)) {
		s.datAckResponses.Remove(ackBit(ackSequence))
		return
	}

	needsDatAck := false
	if s.expectedDatAckResponses.Contains(ackBit(ackSequence)) {
		s.expectedDatAckResponses.Remove(ackBit(ackSequence))
		needsDatAck = true
	}

	if s.sendDatAckReplies && needsDatAck {
		s.sendDATACK(s.sequenceIndex, ackSequence)
	} else {
		s.sendACK(ackSequence)
	}
}

// ackBit maps a 24-bit sequence index onto the much smaller bitmap key
// space backing the two DAT_ACK bookkeeping sets. Collision-free because
// outstanding entries never span anywhere near 2^16 indices: the in-flight
// window bounds them.
func ackBit(sequence uint32) uint32 {
	return sequence & 0xFFFF
}

// Pump runs one tick of the stream: accept and sequence inbound datagrams,
// run the retransmit timer, drain the outbound queue. It returns true once
// the stream is terminally closed or has hit a fatal error.
func (s *Stream) Pump() bool {
	// Mark the connection closed once everything queued has been sent.
	if s.state == Closing && len(s.sendQueue) == 0 {
		s.log.Debug("connection closed")
		s.state = Closed
	}

	if s.state == Closed {
		s.reset()
		return true
	}

	if s.udp.Pump() {
		return true
	}

	if s.state == Connecting {
		if s.clock.Now()-s.resendSynTimer > s.cfg.ResendSynInterval.Seconds() {
			s.sendSYN()
			s.resendSynTimer = s.clock.Now()
		}
	}

	// If closing has taken too long, stop trying to be graceful about it.
	if s.closeTimerSet && s.state == Closing {
		if s.clock.Now()-s.closeTimer > s.cfg.ConnectionCloseTimeout.Seconds() {
			s.log.Debug("connection closing took too long, assuming terminated")
			s.state = Closed
			return true
		}
	}

	s.handleIncoming()
	if s.inErrorState {
		return true
	}
	s.handleOutgoing()

	return false
}

// handleIncoming accepts every currently-queued inbound datagram, then
// greedily drains the pending-receive queue for any run of packets whose
// sequence is now contiguous with remoteSequenceIndex, stopping at the
// first gap.
func (s *Stream) handleIncoming() {
	for {
		d, ok := s.udp.Receive()
		if !ok {
			break
		}

		pkt, err := decodeReliablePacket(d)
		if err != nil {
			s.log.WithError(err).Warn("failed to decode reliable packet, marking stream fatal")
			s.inErrorState = true
			return
		}

		s.handleIncomingPacket(pkt)
		if s.inErrorState {
			return
		}
	}

	for {
		next, ok := s.pendingReceive.PeekMin()
		if !ok {
			break
		}
		if next.Header.LocalAck != s.nextRemoteSequenceIndex() {
			break
		}

		s.pendingReceive.PopMin()
		s.processPacket(next)
		s.remoteSequenceIndex = (s.remoteSequenceIndex + 1) % wire.MaxAckValue
	}
}

func (s *Stream) nextRemoteSequenceIndex() uint32 {
	return (s.remoteSequenceIndex + 1) % wire.MaxAckValue
}

// handleIncomingPacket applies the sequence discipline to one decoded
// packet. Sequenced opcodes are only legal once the handshake completed
// (Closing counts: FIN_ACK itself is sequenced). An in-order or
// ahead-of-order arrival within the receive window is held in the pending
// queue until contiguous; anything else is a duplicate. Both the duplicate
// and ahead cases re-ACK the last in-order sequence, rate-limited, since
// the peer may be retransmitting because our earlier ACK was lost.
func (s *Stream) handleIncomingPacket(pkt ReliablePacket) {
	s.lastPacketReceivedTime = s.clock.Now()

	if s.cfg.TraceWire {
		s.traceWire("recv", pkt)
	}

	if pkt.Header.OpCode.IsSequenced() {
		if s.state != Established && s.state != Closing {
			s.log.Warn("received sequenced packet before connection established")
			s.inErrorState = true
			return
		}

		local, _ := pkt.Header.GetAckCounters()
		delta := wire.SeqDelta(s.nextRemoteSequenceIndex(), local)
		window := uint32(s.cfg.MaxPacketsInFlight)

		if delta < window && !s.pendingReceive.Contains(local) {
			s.pendingReceive.Insert(pkt)
			if delta == 0 {
				return
			}
			s.log.WithField("local_ack", local).Debug("holding packet received ahead of sequence")
		} else {
			s.log.WithField("local_ack", local).Debug("dropping duplicate sequenced packet")
		}

		if s.clock.Now()-s.lastAckSendTime > s.cfg.MinTimeBetweenResendAck.Seconds() {
			s.log.Debug("resending ack, out-of-sequence packet received")
			s.sendACK(s.remoteSequenceIndexAcked)
		}
		return
	}

	s.processPacket(pkt)
}

// processPacket dispatches one in-order packet by opcode.
func (s *Stream) processPacket(pkt ReliablePacket) {
	switch pkt.Header.OpCode {
	case wire.SYN:
		s.handleSYN(pkt)
	case wire.SYNACK:
		s.handleSYNACK(pkt)
	case wire.DAT:
		s.handleDAT(pkt)
	case wire.HBT:
		s.handleHBT(pkt)
	case wire.FIN:
		s.handleFIN(pkt)
	case wire.RST:
		s.handleRST(pkt)
	case wire.ACK:
		s.handleACK(pkt)
	case wire.RACK:
		s.handleRACK(pkt)
	case wire.DATACK:
		s.handleDATACK(pkt)
	case wire.FINACK:
		s.handleFINACK(pkt)
	default:
		s.log.WithField("opcode", pkt.Header.OpCode).Error("received unknown reliable opcode")
		s.inErrorState = true
	}
}

// handleOutgoing prunes acknowledged packets from the retransmit buffer,
// runs the retransmit state machine, then drains the send queue while the
// in-flight cap allows.
func (s *Stream) handleOutgoing() {
	pruned := s.retransmitBuffer[:0]
	for _, pkt := range s.retransmitBuffer {
		local, _ := pkt.Header.GetAckCounters()
		if local <= s.sequenceIndexAcked || (local > wire.TopQuart && s.sequenceIndexAcked < wire.BottomQuart) {
			continue // acknowledged
		}
		pruned = append(pruned, pkt)
	}
	s.retransmitBuffer = pruned

	now := s.clock.Now()
	if !s.isRetransmitting {
		for _, pkt := range s.retransmitBuffer {
			if now-pkt.SendTime > s.cfg.RetransmitInterval.Seconds() {
				local, _ := pkt.Header.GetAckCounters()
				s.log.WithField("local_ack", local).Debug("starting retransmit of unacknowledged packet")

				s.sendRaw(pkt)

				s.isRetransmitting = true
				s.retransmittingIndex = local
				s.retransmitPacket = pkt
				s.retransmissionTimer = now
				break
			}
		}
	} else {
		recovered := s.sequenceIndexAcked >= s.retransmittingIndex ||
			(s.retransmittingIndex > wire.TopQuart && s.sequenceIndexAcked < wire.BottomQuart)

		if recovered {
			s.log.Debug("recovered from retransmit")
			s.isRetransmitting = false
		} else if now-s.retransmissionTimer > s.cfg.RetransmitCycleInterval.Seconds() {
			s.retransmissionTimer = now
			s.sendRaw(s.retransmitPacket)
		}
	}

	for !s.isRetransmitting && len(s.sendQueue) > 0 && len(s.retransmitBuffer) < s.cfg.MaxPacketsInFlight {
		pkt := s.sendQueue[0]
		s.sendQueue = s.sendQueue[1:]
		s.retransmitBuffer = append(s.retransmitBuffer, pkt)
		s.sendRaw(pkt)
	}
}

// sendRaw encodes and hands a packet straight to the UDP layer, bypassing
// the send queue.
func (s *Stream) sendRaw(pkt ReliablePacket) bool {
	if s.cfg.TraceWire {
		s.traceWire("send", pkt)
	}

	d := s.encodeReliablePacket(pkt)
	if err := s.udp.Send(d); err != nil {
		s.log.WithError(err).Warn("failed to send reliable packet")
		s.inErrorState = true
		return false
	}
	return true
}

func (s *Stream) traceWire(direction string, pkt ReliablePacket) {
	local, remote := pkt.Header.GetAckCounters()
	s.log.WithFields(logrus.Fields{
		"dir":        direction,
		"opcode":     pkt.Header.OpCode.String(),
		"local_ack":  local,
		"remote_ack": remote,
		"payload":    len(pkt.Payload),
	}).Debug("wire trace")
}
