package frpg2rudp

import (
	"encoding/binary"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/internal/cwc"
)

// PacketStream is the single raw-datagram layer of a connection. It owns
// the CWC codec and the connection's Transport, decrypting inbound
// datagrams into a drained FIFO and encrypting outbound ones, optionally
// prefixed with the connection's auth token.
type PacketStream struct {
	transport Transport
	cipher    *cwc.Cipher
	authToken uint32
	isServer  bool

	// awaitingInitialPrefix is true only for a freshly accepted
	// server-side stream, until its first inbound datagram has been
	// processed. The auth-token prefix appears on the client's first
	// SYN only.
	awaitingInitialPrefix bool

	inbound []Datagram
	log     *logrus.Entry
}

// NewPacketStream wraps an already-established Transport and CWC cipher.
// isServer controls whether the stream expects an inbound connection-prefix
// on its very first datagram.
func NewPacketStream(transport Transport, cipher *cwc.Cipher, authToken uint32, isServer bool, log *logrus.Entry) *PacketStream {
	return &PacketStream{
		transport:             transport,
		cipher:                cipher,
		authToken:             authToken,
		isServer:              isServer,
		awaitingInitialPrefix: isServer,
		log:                   log,
	}
}

// RemoteAddr identifies the peer this stream talks to.
func (ps *PacketStream) RemoteAddr() net.Addr {
	return ps.transport.RemoteAddr()
}

// Send frames and encrypts one outbound datagram.
func (ps *PacketStream) Send(d Datagram) error {
	payload := d.Payload
	if d.HasConnectionPrefix {
		prefixed := make([]byte, 4+len(payload))
		binary.BigEndian.PutUint32(prefixed[:4], ps.authToken)
		copy(prefixed[4:], payload)
		payload = prefixed
	}

	framed, err := ps.cipher.Encrypt(payload)
	if err != nil {
		return err
	}

	return ps.transport.WriteTo(framed)
}

// Receive pops one decoded inbound datagram, returning ok=false when none
// is currently available.
func (ps *PacketStream) Receive() (Datagram, bool) {
	if len(ps.inbound) == 0 {
		return Datagram{}, false
	}
	d := ps.inbound[0]
	ps.inbound = ps.inbound[1:]
	return d, true
}

// Pump drains every currently-queued raw datagram from the Transport,
// decrypting each. A datagram that fails to decrypt is dropped and logged,
// not fatal to the stream. Pump returns true only on a fatal socket error.
func (ps *PacketStream) Pump() (fatal bool) {
	if err := ps.transport.Err(); err != nil {
		ps.log.WithError(err).Warn("udp transport failed")
		return true
	}

	for {
		raw, ok := ps.transport.TryRead()
		if !ok {
			break
		}

		plaintext, err := ps.cipher.Decrypt(raw)
		if err != nil {
			ps.log.WithError(err).Debug("dropping datagram that failed to decrypt")
			continue
		}

		if ps.awaitingInitialPrefix {
			if len(plaintext) >= 4 {
				plaintext = plaintext[4:]
			}
			ps.awaitingInitialPrefix = false
		}

		ps.inbound = append(ps.inbound, Datagram{Payload: plaintext})
	}

	return false
}
