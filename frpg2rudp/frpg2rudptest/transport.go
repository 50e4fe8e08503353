package frpg2rudptest

import (
	"net"
	"sync"
)

// PipeAddr is the net.Addr reported by a PipeTransport's RemoteAddr.
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

// LossFunc decides, for a single datagram being delivered, whether it
// should be dropped. It is consulted once per WriteTo call on the sending
// side of a PipeTransport pair.
type LossFunc func(datagram []byte) (drop bool)

// PipeTransport is an in-memory frpg2rudp.Transport with no actual socket
// underneath: two PipeTransports built by NewPipe hand datagrams directly
// to each other's inbox, optionally dropped by a LossFunc, so the reliable
// stream's retransmit and ordering logic can be exercised
// deterministically.
type PipeTransport struct {
	mu    sync.Mutex
	peer  *PipeTransport
	inbox [][]byte
	addr  net.Addr
	loss  LossFunc
	err   error
}

// NewPipe returns two connected PipeTransports, named a and b.
func NewPipe() (a, b *PipeTransport) {
	a = &PipeTransport{addr: PipeAddr("a")}
	b = &PipeTransport{addr: PipeAddr("b")}
	a.peer = b
	b.peer = a
	return a, b
}

// SetLoss installs a LossFunc applied to every datagram this transport
// writes to its peer. A nil LossFunc (the default) drops nothing.
func (t *PipeTransport) SetLoss(f LossFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loss = f
}

// Fail makes Err report err from now on, as if the underlying socket had
// failed fatally.
func (t *PipeTransport) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}

func (t *PipeTransport) TryRead() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inbox) == 0 {
		return nil, false
	}
	d := t.inbox[0]
	t.inbox = t.inbox[1:]
	return d, true
}

func (t *PipeTransport) WriteTo(data []byte) error {
	t.mu.Lock()
	loss := t.loss
	peer := t.peer
	t.mu.Unlock()

	if loss != nil && loss(data) {
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	peer.mu.Lock()
	peer.inbox = append(peer.inbox, cp)
	peer.mu.Unlock()
	return nil
}

func (t *PipeTransport) RemoteAddr() net.Addr { return t.addr }

func (t *PipeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
