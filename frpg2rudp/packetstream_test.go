package frpg2rudp

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/frpg2rudp/frpg2rudptest"
	"github.com/ds3os-go/frpg2rudp/internal/cwc"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("test", true)
}

func newPacketStreamPair(t *testing.T) (client, server *PacketStream, ct, st *frpg2rudptest.PipeTransport) {
	t.Helper()

	key := bytes.Repeat([]byte{0x9}, 16)
	clientCipher, err := cwc.New(key)
	if err != nil {
		t.Fatalf("cwc.New: %v", err)
	}
	serverCipher, err := cwc.New(key)
	if err != nil {
		t.Fatalf("cwc.New: %v", err)
	}

	ct, st = frpg2rudptest.NewPipe()
	client = NewPacketStream(ct, clientCipher, 0xAAAA, false, testLogger())
	server = NewPacketStream(st, serverCipher, 0xAAAA, true, testLogger())
	return client, server, ct, st
}

func TestPacketStreamStripsAuthTokenOnFirstServerInbound(t *testing.T) {
	client, server, _, _ := newPacketStreamPair(t)

	payload := []byte("first datagram from client")
	if err := client.Send(Datagram{HasConnectionPrefix: true, Payload: payload}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fatal := server.Pump(); fatal {
		t.Fatal("server.Pump reported fatal")
	}

	d, ok := server.Receive()
	if !ok {
		t.Fatal("server did not receive a datagram")
	}
	if !bytes.Equal(d.Payload, payload) {
		t.Fatalf("payload = %q, want %q (auth token prefix should have been stripped)", d.Payload, payload)
	}
}

func TestPacketStreamOnlyStripsPrefixOnce(t *testing.T) {
	client, server, _, _ := newPacketStreamPair(t)

	first := []byte("with prefix")
	second := []byte("without prefix")

	if err := client.Send(Datagram{HasConnectionPrefix: true, Payload: first}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := client.Send(Datagram{Payload: second}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fatal := server.Pump(); fatal {
		t.Fatal("server.Pump reported fatal")
	}

	d1, ok := server.Receive()
	if !ok || !bytes.Equal(d1.Payload, first) {
		t.Fatalf("first datagram = %+v, ok=%v", d1, ok)
	}

	d2, ok := server.Receive()
	if !ok || !bytes.Equal(d2.Payload, second) {
		t.Fatalf("second datagram = %+v, ok=%v, want %q untouched", d2, ok, second)
	}
}

func TestPacketStreamDropsUndecryptableDatagram(t *testing.T) {
	client, server, ct, _ := newPacketStreamPair(t)

	wrongKeyCipher, err := cwc.New(bytes.Repeat([]byte{0xFF}, 16))
	if err != nil {
		t.Fatalf("cwc.New: %v", err)
	}
	corrupted, err := wrongKeyCipher.Encrypt([]byte("this will not authenticate"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := ct.WriteTo(corrupted); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	good := []byte("this one is fine")
	if err := client.Send(Datagram{HasConnectionPrefix: true, Payload: good}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if fatal := server.Pump(); fatal {
		t.Fatal("server.Pump reported fatal on a merely-undecryptable datagram")
	}

	d, ok := server.Receive()
	if !ok {
		t.Fatal("expected the valid datagram to still be delivered after a bad one was dropped")
	}
	if !bytes.Equal(d.Payload, good) {
		t.Fatalf("payload = %q, want %q", d.Payload, good)
	}
}

func TestPacketStreamPumpFatalOnTransportError(t *testing.T) {
	_, server, _, st := newPacketStreamPair(t)

	st.Fail(errTestTransport)

	if fatal := server.Pump(); !fatal {
		t.Fatal("Pump did not report fatal after transport failed")
	}
}

var errTestTransport = &transportTestError{"simulated socket failure"}

type transportTestError struct{ msg string }

func (e *transportTestError) Error() string { return e.msg }
