package supervisor

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/frpg2rudp"
	"github.com/ds3os-go/frpg2rudp/frpg2rudp/frpg2rudptest"
	"github.com/ds3os-go/frpg2rudp/internal/cwc"
	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("test", true)
}

type recordingHandler struct {
	pkts []frpg2rudp.ReliablePacket
}

func (h *recordingHandler) OnPacket(peer *Peer, pkt frpg2rudp.ReliablePacket) {
	h.pkts = append(h.pkts, pkt)
}

type countingAuth struct {
	refreshes int
}

func (a *countingAuth) RefreshAuthToken(token uint32) { a.refreshes++ }

type testHarness struct {
	sup     *Supervisor
	client  *frpg2rudp.Stream
	clock   *frpg2rudptest.FakeClock
	handler *recordingHandler
	auth    *countingAuth
}

// newTestHarness wires a Supervisor-owned server stream to a plain client
// stream over an in-memory pipe, no socket or Listener involved.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	key := bytes.Repeat([]byte{0x6}, 16)
	clientCipher, err := cwc.New(key)
	if err != nil {
		t.Fatalf("cwc.New: %v", err)
	}
	serverCipher, err := cwc.New(key)
	if err != nil {
		t.Fatalf("cwc.New: %v", err)
	}

	ct, st := frpg2rudptest.NewPipe()
	clock := frpg2rudptest.NewFakeClock()
	cfg := frpg2rudp.DefaultConfig()

	clientUDP := frpg2rudp.NewPacketStream(ct, clientCipher, 0xC0DE, false, testLogger())
	client := frpg2rudp.NewStream(clientUDP, cfg, clock, false, testLogger())

	serverUDP := frpg2rudp.NewPacketStream(st, serverCipher, 0xC0DE, true, testLogger())
	peer := &Peer{
		addr:      st.RemoteAddr(),
		transport: st,
		udp:       serverUDP,
		stream:    frpg2rudp.NewStream(serverUDP, cfg, clock, true, testLogger()),
	}

	handler := &recordingHandler{}
	auth := &countingAuth{}

	return &testHarness{
		sup:     NewSupervisor(peer, 0xC0DE, cfg.ClientTimeout, auth, handler, clock, testLogger()),
		client:  client,
		clock:   clock,
		handler: handler,
		auth:    auth,
	}
}

func (h *testHarness) establish(t *testing.T) {
	t.Helper()
	h.client.Connect("76561198000000020")
	for i := 0; i < 10; i++ {
		if h.client.Pump() {
			t.Fatal("client.Pump reported fatal")
		}
		if h.sup.Tick() {
			t.Fatal("supervisor disconnected mid-handshake")
		}
		if h.client.State() == frpg2rudp.Established {
			return
		}
	}
	t.Fatalf("handshake did not complete, client state %s", h.client.State())
}

func TestSupervisorDispatchesPackets(t *testing.T) {
	h := newTestHarness(t)
	h.establish(t)

	var hdr wire.Header
	if ok := h.client.Send(frpg2rudp.ReliablePacket{Header: hdr, Payload: []byte("dispatch me")}); !ok {
		t.Fatal("Send returned false")
	}

	for i := 0; i < 3; i++ {
		if h.client.Pump() {
			t.Fatal("client.Pump reported fatal")
		}
		if h.sup.Tick() {
			t.Fatal("supervisor disconnected unexpectedly")
		}
	}

	if len(h.handler.pkts) != 1 {
		t.Fatalf("handler received %d packets, want 1", len(h.handler.pkts))
	}
	if !bytes.Equal(h.handler.pkts[0].Payload, []byte("dispatch me")) {
		t.Fatalf("handler payload = %q", h.handler.pkts[0].Payload)
	}
	if h.auth.refreshes == 0 {
		t.Fatal("auth token was never refreshed on packet receipt")
	}
}

func TestSupervisorDisconnectsIdleClient(t *testing.T) {
	h := newTestHarness(t)
	h.establish(t)

	if h.sup.Tick() {
		t.Fatal("supervisor disconnected a fresh connection")
	}

	h.clock.Advance(frpg2rudp.DefaultConfig().ClientTimeout.Seconds() + 1)

	if !h.sup.Tick() {
		t.Fatal("supervisor did not disconnect an idle client after the timeout")
	}
}

func TestHeartbeatOnlyTrafficKeepsConnectionAlive(t *testing.T) {
	h := newTestHarness(t)
	h.establish(t)

	// One client heartbeat is enough: the server answers every HBT with
	// its own, so the exchange self-sustains as long as both sides pump.
	var hdr wire.Header
	hdr.OpCode = wire.HBT
	if ok := h.client.Send(frpg2rudp.ReliablePacket{Header: hdr}); !ok {
		t.Fatal("Send returned false")
	}

	timeout := frpg2rudp.DefaultConfig().ClientTimeout.Seconds()
	for elapsed := 0.0; elapsed < 2*timeout; elapsed += timeout / 4 {
		h.clock.Advance(timeout / 4)
		if h.client.Pump() {
			t.Fatal("client.Pump reported fatal")
		}
		if h.sup.Tick() {
			t.Fatalf("supervisor disconnected a heartbeating client at %.0fs", elapsed)
		}
	}

	if len(h.handler.pkts) != 0 {
		t.Fatalf("handler received %d packets from heartbeat traffic, want 0", len(h.handler.pkts))
	}

	// Once the client goes silent the timeout applies again.
	h.clock.Advance(timeout + 1)
	if !h.sup.Tick() {
		t.Fatal("supervisor did not disconnect after heartbeats stopped")
	}
}

func TestSupervisorDisconnectsOnTransportFailure(t *testing.T) {
	h := newTestHarness(t)
	h.establish(t)

	h.sup.peer.transport.(*frpg2rudptest.PipeTransport).Fail(io.ErrClosedPipe)

	if !h.sup.Tick() {
		t.Fatal("supervisor did not disconnect after the transport failed")
	}
}
