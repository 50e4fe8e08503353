package frpg2rudp

import (
	"net"

	"github.com/pkg/errors"
)

// Transport is the narrow socket surface the packet stream needs: a
// non-blocking pull of already-demultiplexed raw datagrams for exactly one
// peer, and a way to write back to it. Concrete implementations pair a
// blocking socket-reading goroutine with a channel the cooperative pump
// drains without blocking.
type Transport interface {
	// TryRead returns the next queued raw datagram for this peer without
	// blocking. ok is false if none is currently queued.
	TryRead() (data []byte, ok bool)
	// WriteTo sends a raw datagram to this peer.
	WriteTo(data []byte) error
	// RemoteAddr identifies the peer, for logging.
	RemoteAddr() net.Addr
	// Err returns a non-nil error once the underlying socket has failed
	// fatally.
	Err() error
}

// clientTransport is a Transport for the client role: a single net.Conn
// already connected to the server, read by one dedicated goroutine feeding
// a buffered channel.
type clientTransport struct {
	conn   net.Conn
	inbox  chan []byte
	errc   chan error
	fatal  error
	closed chan struct{}
}

// NewClientTransport wraps a connected net.Conn (typically a dialed UDP
// socket) as a Transport suitable for a client-role Stream (Stream.Connect).
func NewClientTransport(conn net.Conn) Transport {
	t := &clientTransport{
		conn:   conn,
		inbox:  make(chan []byte, 256),
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *clientTransport) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			select {
			case t.errc <- errors.Wrap(err, "client transport read"):
			default:
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case t.inbox <- cp:
		case <-t.closed:
			return
		}
	}
}

func (t *clientTransport) TryRead() ([]byte, bool) {
	select {
	case d := <-t.inbox:
		return d, true
	default:
		return nil, false
	}
}

func (t *clientTransport) WriteTo(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *clientTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

func (t *clientTransport) Err() error {
	if t.fatal != nil {
		return t.fatal
	}
	select {
	case err := <-t.errc:
		t.fatal = err
		return err
	default:
		return nil
	}
}

// peerTransport is a Transport for the server role: the shared listening
// socket plus one peer's address, fed by an external demultiplexer (see
// frpg2rudp/supervisor.Listener) rather than its own reader goroutine.
type peerTransport struct {
	conn  net.PacketConn
	addr  net.Addr
	inbox chan []byte
	errc  chan error
	fatal error
}

// NewPeerTransport builds a Transport for one already-accepted peer on a
// shared net.PacketConn. inbox is fed by the owning Listener's demux loop.
func NewPeerTransport(conn net.PacketConn, addr net.Addr, inbox chan []byte, errc chan error) Transport {
	return &peerTransport{conn: conn, addr: addr, inbox: inbox, errc: errc}
}

func (t *peerTransport) TryRead() ([]byte, bool) {
	select {
	case d := <-t.inbox:
		return d, true
	default:
		return nil, false
	}
}

func (t *peerTransport) WriteTo(data []byte) error {
	_, err := t.conn.WriteTo(data, t.addr)
	return err
}

func (t *peerTransport) RemoteAddr() net.Addr { return t.addr }

func (t *peerTransport) Err() error {
	if t.fatal != nil {
		return t.fatal
	}
	select {
	case err := <-t.errc:
		t.fatal = err
		return err
	default:
		return nil
	}
}
