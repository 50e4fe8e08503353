package supervisor

import (
	"net"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/frpg2rudp"
	"github.com/ds3os-go/frpg2rudp/internal/cwc"
)

// Peer bundles one remote client's wire stack: the per-peer inbox the
// Listener's demux loop feeds, the Transport built over it, and the
// Reliable Packet Stream layered on top. A Supervisor owns exactly one
// Peer for its lifetime.
type Peer struct {
	addr      net.Addr
	inbox     chan []byte
	errc      chan error
	transport frpg2rudp.Transport
	udp       *frpg2rudp.PacketStream
	stream    *frpg2rudp.Stream
}

// NewPeer builds a server-role Peer over conn's shared socket. cipher and
// authToken must already be negotiated out of band; key exchange is not
// this package's job.
func NewPeer(conn net.PacketConn, addr net.Addr, cipher *cwc.Cipher, authToken uint32, cfg frpg2rudp.Config, clock frpg2rudp.Clock, log *logrus.Entry) *Peer {
	p := &Peer{
		addr:  addr,
		inbox: make(chan []byte, 256),
		errc:  make(chan error, 1),
	}

	p.transport = frpg2rudp.NewPeerTransport(conn, addr, p.inbox, p.errc)
	p.udp = frpg2rudp.NewPacketStream(p.transport, cipher, authToken, true, log)
	p.stream = frpg2rudp.NewStream(p.udp, cfg, clock, true, log)

	return p
}

// Stream returns the Reliable Packet Stream driving this peer.
func (p *Peer) Stream() *frpg2rudp.Stream { return p.stream }

// Addr returns the peer's network address.
func (p *Peer) Addr() net.Addr { return p.addr }

func (p *Peer) deliver(data []byte) {
	select {
	case p.inbox <- data:
	default:
		// Inbox full: the peer's pump is falling behind. Drop rather
		// than block the shared demux goroutine.
	}
}
