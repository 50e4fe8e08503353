/*
frpg2echoserver is a minimal FRPG2 reliable-datagram server.

Usage:

	frpg2echoserver listen:port session-key-hex

It accepts connections on the given UDP address, echoes every DAT payload
it receives back to its sender, and logs connects/disconnects. It exists
to exercise the full stack end to end, not as a production server.
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
	"github.com/ds3os-go/frpg2rudp/frpg2rudp/supervisor"
	"github.com/ds3os-go/frpg2rudp/internal/cwc"
)

type echoHandler struct {
	log *logrus.Entry
}

func (h echoHandler) OnPacket(peer *supervisor.Peer, pkt frpg2rudp.ReliablePacket) {
	h.log.WithField("peer", peer.Addr()).Debugf("echoing %d bytes", len(pkt.Payload))
	peer.Stream().Send(pkt)
}

type staticAuth struct{ log *logrus.Entry }

func (a staticAuth) RefreshAuthToken(token uint32) {
	a.log.Debugf("auth token %08x refreshed", token)
}

func main() {
	log := logrus.New().WithField("component", "frpg2echoserver")

	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: frpg2echoserver listen:port session-key-hex")
		os.Exit(1)
	}

	key, err := hex.DecodeString(os.Args[2])
	if err != nil {
		log.WithError(err).Fatal("decoding session key")
	}

	conn, err := net.ListenPacket("udp", os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("listening")
	}
	defer conn.Close()

	cipher, err := cwc.New(key)
	if err != nil {
		log.WithError(err).Fatal("building cwc cipher")
	}

	cfg := frpg2rudp.DefaultConfig()
	clock := frpg2rudp.NewSystemClock()
	handler := echoHandler{log: log}
	auth := staticAuth{log: log}

	var l *supervisor.Listener
	l = supervisor.NewListener(conn, log, func(addr net.Addr) *supervisor.Peer {
		log.WithField("peer", addr).Info("accepted connection")
		return supervisor.NewPeer(conn, addr, cipher, 0, cfg, clock, log)
	})

	accepted := make(chan *supervisor.Supervisor, 16)
	go func() {
		for {
			peer, err := l.Accept()
			if err != nil {
				log.WithError(err).Error("listener failed")
				close(accepted)
				return
			}
			accepted <- supervisor.NewSupervisor(peer, 0, cfg.ClientTimeout, auth, handler, clock, log)
		}
	}()

	var supervisors []*supervisor.Supervisor
	for {
		select {
		case s, ok := <-accepted:
			if !ok {
				return
			}
			supervisors = append(supervisors, s)
		default:
		}

		for i := 0; i < len(supervisors); i++ {
			if supervisors[i].Tick() {
				log.WithField("peer", supervisors[i].Peer().Addr()).Info("disconnected")
				l.Forget(supervisors[i].Peer().Addr())
				supervisors = append(supervisors[:i], supervisors[i+1:]...)
				i--
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
}
