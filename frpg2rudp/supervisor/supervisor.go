package supervisor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ds3os-go/frpg2rudp/frpg2rudp"
)

// AuthService is the external collaborator that tracks auth-token expiry.
// RefreshAuthToken is called with the stream's own held token, not a value
// parsed off the wire: see Supervisor.Tick.
type AuthService interface {
	RefreshAuthToken(token uint32)
}

// MessageHandler is the external collaborator invoked for every packet a
// Supervisor drains from its Peer's stream.
type MessageHandler interface {
	OnPacket(peer *Peer, pkt frpg2rudp.ReliablePacket)
}

// Supervisor owns one Peer for the lifetime of a connection and is the
// sole point that turns lower-layer error flags into a disconnect
// decision.
type Supervisor struct {
	peer      *Peer
	authToken uint32

	auth    AuthService
	handler MessageHandler
	clock   frpg2rudp.Clock
	log     *logrus.Entry

	clientTimeout time.Duration
}

// NewSupervisor wraps peer with the idle-timeout and dispatch policy.
// authToken is the value refreshed on every drained packet.
func NewSupervisor(peer *Peer, authToken uint32, clientTimeout time.Duration, auth AuthService, handler MessageHandler, clock frpg2rudp.Clock, log *logrus.Entry) *Supervisor {
	return &Supervisor{
		peer:          peer,
		authToken:     authToken,
		auth:          auth,
		handler:       handler,
		clock:         clock,
		log:           log,
		clientTimeout: clientTimeout,
	}
}

// Peer returns the connection this supervisor owns.
func (s *Supervisor) Peer() *Peer { return s.peer }

// Tick runs one step of the per-client poll loop: check the idle timeout
// against the stream's last inbound activity (heartbeats count), pump the
// stream, then dispatch every newly-delivered packet. disconnect is true
// once the caller should drop this Supervisor and its Peer.
func (s *Supervisor) Tick() (disconnect bool) {
	if s.clock.Now()-s.peer.stream.LastActivityTime() >= s.clientTimeout.Seconds() {
		s.log.Debug("client timed out")
		return true
	}

	if s.peer.stream.Pump() {
		s.log.Debug("stream reported fatal error")
		return true
	}

	for {
		pkt, ok := s.peer.stream.Receive()
		if !ok {
			break
		}

		s.auth.RefreshAuthToken(s.authToken)
		s.handler.OnPacket(s.peer, pkt)
	}

	return false
}
