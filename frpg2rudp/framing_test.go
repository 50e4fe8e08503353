package frpg2rudp

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

func TestReliablePacketFramingRoundTrip(t *testing.T) {
	s := &Stream{peerSteamID: "76561198000000030"}

	tests := []struct {
		name string
		pkt  ReliablePacket
	}{
		{
			"dat with payload",
			ReliablePacket{
				Header:  wire.Header{LocalAck: 7, RemoteAck: 3, OpCode: wire.DAT},
				Payload: []byte("application bytes"),
			},
		},
		{
			"datack near wraparound",
			ReliablePacket{
				Header:  wire.Header{LocalAck: wire.MaxAckValue - 1, RemoteAck: wire.MaxAckValue - 2, OpCode: wire.DATACK},
				Payload: []byte{0x0, 0x1, 0x2},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := s.encodeReliablePacket(test.pkt)
			if d.HasConnectionPrefix {
				t.Fatal("non-SYN packet was flagged with a connection prefix")
			}

			got, err := decodeReliablePacket(d)
			if err != nil {
				t.Fatalf("decodeReliablePacket: %v", err)
			}
			if diff := cmp.Diff(test.pkt, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSYNFramingCarriesConnectionPrefix(t *testing.T) {
	s := &Stream{peerSteamID: "76561198000000031"}

	var hdr wire.Header
	hdr.OpCode = wire.SYN
	hdr.SetAckCounters(1, 0)

	d := s.encodeReliablePacket(ReliablePacket{Header: hdr})
	if !d.HasConnectionPrefix {
		t.Fatal("SYN was not flagged with a connection prefix")
	}
	if len(d.Payload) != wire.InitialDataSize+wire.HeaderSize {
		t.Fatalf("SYN payload = %d bytes, want %d", len(d.Payload), wire.InitialDataSize+wire.HeaderSize)
	}

	initial := wire.DecodeInitialData(d.Payload)
	if initial.SteamID != "76561198000000031" || initial.SteamIDCopy != "76561198000000031" {
		t.Fatalf("decoded prefix = %+v", initial)
	}

	got, err := decodeReliablePacket(d)
	if err != nil {
		t.Fatalf("decodeReliablePacket: %v", err)
	}
	if got.Header != hdr {
		t.Fatalf("header = %+v, want %+v", got.Header, hdr)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("SYN decoded with %d payload bytes, want 0", len(got.Payload))
	}
}
