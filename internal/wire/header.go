// Package wire encodes and decodes the FRPG2 reliable-packet header and the
// connection-prefix structure prepended to the first SYN of a connection.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the on-wire size in bytes of a reliable-packet header.
const HeaderSize = 12

// MagicNumber is the fixed two-byte marker at the start of every reliable
// header, big-endian on the wire.
const MagicNumber uint16 = 0xF502

// MaxAckValue is the modulus of the 24-bit sequence-counter space.
const MaxAckValue uint32 = 1 << 24

// TopQuart and BottomQuart are the wraparound-detection thresholds used by
// ModularMax.
const (
	TopQuart    uint32 = 3 * (1 << 22)
	BottomQuart uint32 = 1 << 22
)

// OpCode identifies the purpose of a reliable packet. Exact byte values
// have not been confirmed against the game binary. The state machine's
// behavior does not depend on the specific values, only on their
// distinctness, so placeholders are assigned in declaration order and must
// be overwritten once captured.
type OpCode uint8

const (
	// Unset marks a packet whose opcode the caller wants Send to resolve
	// (DAT vs DAT_ACK) based on whether a piggybacked ACK is present.
	Unset OpCode = 0x00

	// TODO(capture): confirm real wire value against the game client.
	SYN OpCode = 0x01
	// TODO(capture): confirm real wire value against the game client.
	SYNACK OpCode = 0x02
	// TODO(capture): confirm real wire value against the game client.
	DAT OpCode = 0x03
	// TODO(capture): confirm real wire value against the game client.
	HBT OpCode = 0x04
	// TODO(capture): confirm real wire value against the game client.
	FIN OpCode = 0x05
	// TODO(capture): confirm real wire value against the game client.
	RST OpCode = 0x06
	// TODO(capture): confirm real wire value against the game client.
	ACK OpCode = 0x07
	// TODO(capture): confirm real wire value against the game client.
	RACK OpCode = 0x08
	// TODO(capture): confirm real wire value against the game client.
	DATACK OpCode = 0x09
	// TODO(capture): confirm real wire value against the game client.
	FINACK OpCode = 0x0A
)

func (o OpCode) String() string {
	switch o {
	case Unset:
		return "UNSET"
	case SYN:
		return "SYN"
	case SYNACK:
		return "SYN_ACK"
	case DAT:
		return "DAT"
	case HBT:
		return "HBT"
	case FIN:
		return "FIN"
	case RST:
		return "RST"
	case ACK:
		return "ACK"
	case RACK:
		return "RACK"
	case DATACK:
		return "DAT_ACK"
	case FINACK:
		return "FIN_ACK"
	default:
		return "UNKNOWN"
	}
}

// IsSequenced reports whether the opcode consumes a local sequence number
// and participates in the retransmit/ordering discipline.
func (o OpCode) IsSequenced() bool {
	return o == DAT || o == DATACK || o == FINACK
}

// Header is the 12-byte reliable-packet header.
type Header struct {
	// LocalAck is the sender's own next sequence index.
	LocalAck uint32
	// RemoteAck is the last remote sequence the sender is acknowledging.
	RemoteAck uint32
	OpCode    OpCode
	// Unknown1 is echoed as zero; its purpose is unknown to this
	// implementation.
	Unknown1 uint8
}

// SetAckCounters packs local and remote into the header's 48-bit counter
// field: high 24 bits carry local, low 24 bits carry remote.
func (h *Header) SetAckCounters(local, remote uint32) {
	h.LocalAck = local % MaxAckValue
	h.RemoteAck = remote % MaxAckValue
}

// GetAckCounters is the inverse of SetAckCounters.
func (h *Header) GetAckCounters() (local, remote uint32) {
	return h.LocalAck, h.RemoteAck
}

// packedCounters returns the 48-bit local/remote pair packed into the low
// 48 bits of a uint64, ready to be serialized as 6 big-endian bytes. This
// layout has not been confirmed against a capture of the real client.
func (h *Header) packedCounters() uint64 {
	return (uint64(h.LocalAck) << 24) | uint64(h.RemoteAck)
}

func unpackCounters(packed uint64) (local, remote uint32) {
	local = uint32((packed >> 24) & 0xFFFFFF)
	remote = uint32(packed & 0xFFFFFF)
	return
}

// Encode serializes the header to its 12-byte wire form.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], MagicNumber)

	packed := h.packedCounters()
	// packed_counters is a u48: write the low 6 bytes of an 8-byte
	// big-endian value starting at offset 2.
	var packedBuf [8]byte
	binary.BigEndian.PutUint64(packedBuf[:], packed)
	copy(buf[2:8], packedBuf[2:8])

	buf[8] = byte(h.OpCode)
	buf[9] = h.Unknown1
	// buf[10:12] reserved/padding to reach HeaderSize; left zero.
	return buf
}

// ErrMalformedHeader is returned by Decode when the input is too short or
// carries the wrong magic number.
var ErrMalformedHeader = errors.New("wire: malformed reliable header")

// Decode parses a 12-byte reliable header, asserting the magic number.
func Decode(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errors.Wrap(ErrMalformedHeader, "too short")
	}
	if buf[0] != 0xF5 || buf[1] != 0x02 {
		return Header{}, errors.Wrap(ErrMalformedHeader, "bad magic number")
	}

	var packedBuf [8]byte
	copy(packedBuf[2:8], buf[2:8])
	packed := binary.BigEndian.Uint64(packedBuf[:])
	local, remote := unpackCounters(packed)

	return Header{
		LocalAck:  local,
		RemoteAck: remote,
		OpCode:    OpCode(buf[8]),
		Unknown1:  buf[9],
	}, nil
}

// ModularMax updates x with a newly observed y, both 24-bit sequence
// numbers, handling wraparound via a quartile heuristic: a tiny y seen
// while x sits near the top of the space means the counter wrapped.
func ModularMax(x, y uint32) uint32 {
	if x > TopQuart && y < BottomQuart {
		return y
	}
	if y > x {
		return y
	}
	return x
}

// SeqDelta returns the forward distance from x to y in the 24-bit circular
// sequence space: how many increments of x reach y.
func SeqDelta(x, y uint32) uint32 {
	return (y + MaxAckValue - x) % MaxAckValue
}

// SeqBefore reports whether x precedes y in the 24-bit circular sequence
// space. Only meaningful while both values sit within half the sequence
// space of each other, which every queue in this protocol guarantees: the
// in-flight window is orders of magnitude smaller than 2^23.
func SeqBefore(x, y uint32) bool {
	d := SeqDelta(x, y)
	return d != 0 && d < MaxAckValue/2
}
