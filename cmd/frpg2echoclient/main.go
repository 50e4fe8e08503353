/*
frpg2echoclient is a minimal FRPG2 reliable-datagram client, the
counterpart to frpg2echoserver. It connects, sends a handful of DAT
payloads, and logs whatever the server echoes back.

Usage:

	frpg2echoclient host:port session-key-hex steam-id
*/
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/frpg2rudp"
	"github.com/ds3os-go/frpg2rudp/internal/cwc"
	"github.com/ds3os-go/frpg2rudp/internal/wire"
)

func main() {
	log := logrus.New().WithField("component", "frpg2echoclient")

	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: frpg2echoclient host:port session-key-hex steam-id")
		os.Exit(1)
	}

	key, err := hex.DecodeString(os.Args[2])
	if err != nil {
		log.WithError(err).Fatal("decoding session key")
	}
	steamID := os.Args[3]

	conn, err := net.Dial("udp", os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("dialing server")
	}
	defer conn.Close()

	cipher, err := cwc.New(key)
	if err != nil {
		log.WithError(err).Fatal("building cwc cipher")
	}

	cfg := frpg2rudp.DefaultConfig()
	clock := frpg2rudp.NewSystemClock()

	transport := frpg2rudp.NewClientTransport(conn)
	udp := frpg2rudp.NewPacketStream(transport, cipher, 0, false, log)
	stream := frpg2rudp.NewStream(udp, cfg, clock, false, log)

	stream.Connect(steamID)

	messages := [][]byte{[]byte("hello"), []byte("world"), []byte("goodbye")}
	sent := 0
	received := 0

	for {
		if stream.Pump() {
			log.Info("stream closed")
			return
		}

		if stream.State() == frpg2rudp.Established && sent < len(messages) {
			var hdr wire.Header
			stream.Send(frpg2rudp.ReliablePacket{Header: hdr, Payload: messages[sent]})
			sent++
		}

		for {
			pkt, ok := stream.Receive()
			if !ok {
				break
			}
			received++
			log.Infof("echoed back: %q", pkt.Payload)
		}

		// Only hang up once every echo has come back.
		if received == len(messages) && stream.State() == frpg2rudp.Established {
			stream.Disconnect()
		}

		time.Sleep(10 * time.Millisecond)
	}
}
