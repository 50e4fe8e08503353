// Package supervisor implements the server-side client lifecycle: a
// shared-socket listener that demultiplexes datagrams to per-peer streams,
// and the per-peer polling loop that owns a reliable stream, watches it
// for timeout, and hands drained packets to an external message handler.
package supervisor

import (
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// rawPacket is one datagram read off the shared socket, tagged with its
// source address.
type rawPacket struct {
	addr net.Addr
	data []byte
}

// Listener demultiplexes a single shared net.PacketConn into per-peer
// inbox channels, handing each newly-seen address off to Accept.
type Listener struct {
	conn net.PacketConn
	log  *logrus.Entry

	acceptReady chan struct{}
	errs        chan error

	mu       sync.Mutex
	backlog  []*Peer
	byAddr   map[string]*Peer
	onAccept func(addr net.Addr) *Peer
}

// NewListener starts reading conn in the background. onAccept is called
// the first time a datagram arrives from a new address; it must construct
// and return the Peer (including its Stream) that will receive that
// address's future datagrams. The Peer's Supervisor is built by whoever
// takes it from Accept.
func NewListener(conn net.PacketConn, log *logrus.Entry, onAccept func(addr net.Addr) *Peer) *Listener {
	l := &Listener{
		conn:        conn,
		log:         log,
		acceptReady: make(chan struct{}, 1),
		errs:        make(chan error, 1),
		byAddr:      make(map[string]*Peer),
		onAccept:    onAccept,
	}

	pkts := make(chan rawPacket)
	go readRawPackets(conn, pkts, l.errs)
	go l.demux(pkts)

	return l
}

func readRawPackets(conn net.PacketConn, pkts chan<- rawPacket, errs chan<- error) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				break
			}
			errs <- err
			continue
		}

		cp := make([]byte, n)
		copy(cp, buf[:n])
		pkts <- rawPacket{addr, cp}
	}
	close(pkts)
}

func (l *Listener) demux(pkts <-chan rawPacket) {
	for pkt := range pkts {
		key := pkt.addr.String()

		l.mu.Lock()
		peer, known := l.byAddr[key]
		if !known {
			peer = l.onAccept(pkt.addr)
			l.byAddr[key] = peer
			l.backlog = append(l.backlog, peer)
		}
		l.mu.Unlock()

		if !known {
			// Wake a parked Accept. A full channel means a wakeup is
			// already pending and Accept will re-check the backlog.
			select {
			case l.acceptReady <- struct{}{}:
			default:
			}
		}

		peer.deliver(pkt.data)
	}
}

// Accept blocks until a new Peer has sent its first datagram. Peers are
// queued, not dropped: every address the demux loop sees is eventually
// returned from here, in arrival order, no matter when the caller shows up.
func (l *Listener) Accept() (*Peer, error) {
	for {
		l.mu.Lock()
		if len(l.backlog) > 0 {
			p := l.backlog[0]
			l.backlog = l.backlog[1:]
			l.mu.Unlock()
			return p, nil
		}
		l.mu.Unlock()

		select {
		case <-l.acceptReady:
		case err := <-l.errs:
			return nil, err
		}
	}
}

// Forget drops a peer's address mapping once its Supervisor has retired
// it, so the address can reconnect cleanly later.
func (l *Listener) Forget(addr net.Addr) {
	l.mu.Lock()
	delete(l.byAddr, addr.String())
	l.mu.Unlock()
}

// Conn returns the underlying shared socket.
func (l *Listener) Conn() net.PacketConn { return l.conn }
