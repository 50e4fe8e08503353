package frpg2rudp

import (
	"github.com/pkg/errors"

	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

// encodeReliablePacket turns a ReliablePacket into the Datagram the UDP
// packet layer will encrypt and send. Only a SYN carries the
// connection-prefix payload.
func (s *Stream) encodeReliablePacket(pkt ReliablePacket) Datagram {
	var payload []byte

	if pkt.Header.OpCode == wire.SYN {
		initial := wire.InitialData{
			SteamID:     s.peerSteamID,
			SteamIDCopy: s.peerSteamID,
		}
		payload = append(payload, initial.Encode()...)
	}

	payload = append(payload, pkt.Header.Encode()...)
	payload = append(payload, pkt.Payload...)

	return Datagram{
		HasConnectionPrefix: pkt.Header.OpCode == wire.SYN,
		Payload:             payload,
	}
}

// decodeReliablePacket is the inverse of encodeReliablePacket.
func decodeReliablePacket(d Datagram) (ReliablePacket, error) {
	payload := d.Payload

	if wire.HasInitialDataPrefix(payload) {
		payload = payload[wire.InitialDataSize:]
	}

	if len(payload) < wire.HeaderSize {
		return ReliablePacket{}, errors.Wrap(wire.ErrMalformedHeader, "payload shorter than header")
	}

	header, err := wire.Decode(payload)
	if err != nil {
		return ReliablePacket{}, err
	}

	return ReliablePacket{
		Header:  header,
		Payload: payload[wire.HeaderSize:],
	}, nil
}
