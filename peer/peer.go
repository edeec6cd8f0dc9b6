package peer

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
	"github.com/Matthew-VandenBoom/NetworkingProject/stats"
	"github.com/Matthew-VandenBoom/NetworkingProject/wire"
)

var log = logrus.StandardLogger()

var newWire = wire.NewWire

const outboundQueueSize = 64

// Peer is the connection manager for one remote peer: a listener goroutine
// reading framed packets (handling each inline) and a sender goroutine
// draining the bounded outbound queue.
type Peer interface {
	Start()
	Stop()
	RemoteID() int
	State() *ConnState
	Enqueue(pkt wire.Packet) bool
}

type peerConn struct {
	cfg       *config.Config
	wire      wire.Wire
	state     *ConnState
	pieces    piece.Manager
	stats     stats.Stats
	mgr       Manager
	expected  int // roster id we dialed, -1 for accepted sockets
	initiated bool

	out      chan wire.Packet
	quit     chan struct{}
	stopOnce sync.Once
}

func newPeer(
	cfg *config.Config,
	conn net.Conn,
	expected int,
	initiated bool,
	pieces piece.Manager,
	st stats.Stats,
	mgr Manager) *peerConn {

	return &peerConn{
		cfg:       cfg,
		wire:      newWire(conn),
		state:     NewConnState(cfg.NumberOfPieces()),
		pieces:    pieces,
		stats:     st,
		mgr:       mgr,
		expected:  expected,
		initiated: initiated,
		out:       make(chan wire.Packet, outboundQueueSize),
		quit:      make(chan struct{}),
	}
}

func (p *peerConn) RemoteID() int {
	return p.state.RemoteID()
}

func (p *peerConn) State() *ConnState {
	return p.state
}

// Enqueue puts a packet on the outbound queue, blocking while it is full.
// Returns false if the connection died instead.
func (p *peerConn) Enqueue(pkt wire.Packet) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.out <- pkt:
		return true
	case <-p.quit:
		return false
	}
}

// Stop tears the connection down exactly once. The sender flushes whatever
// is already queued, closes the socket (which unblocks the listener), and
// the peer unregisters itself.
func (p *peerConn) Stop() {
	p.stopOnce.Do(func() {
		p.state.MarkClosed()
		close(p.quit)
		go func() {
			p.mgr.RemovePeer(p)
			if id := p.state.RemoteID(); id != -1 {
				p.pieces.PeerStopped(id)
				p.stats.RemovePeer(id)
			}
		}()
	})
}

// Start runs the listener: handshake first, then framed packets until the
// connection goes inactive. The handler runs inline on this goroutine.
func (p *peerConn) Start() {
	go p.sender()

	if p.initiated {
		if err := p.wire.WriteHandshake(p.cfg.LocalID); err != nil {
			log.WithField("peer", p.expected).WithError(err).Error("sending handshake")
			p.Stop()
			return
		}
	}

	hs, err := p.wire.ReadHandshake()
	if err != nil {
		if p.state.Active() || !p.closedQuit() {
			log.WithField("peer", p.expected).WithError(err).Error("reading handshake")
		}
		p.Stop()
		return
	}
	p.handle(hs)

	if !p.state.WaitHandshake() {
		return
	}

	for p.state.Active() {
		pkt, err := p.wire.ReadMessage()
		if err != nil {
			if p.state.Active() {
				log.WithField("peer", p.RemoteID()).WithError(err).Error("connection lost")
			}
			p.Stop()
			return
		}
		p.handle(pkt)
	}
	p.Stop()
}

func (p *peerConn) closedQuit() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// sender drains the outbound queue, building and writing one packet at a
// time. A build error drops the packet; a write error kills the connection.
// On shutdown the queue is flushed before the socket closes.
func (p *peerConn) sender() {
	for {
		select {
		case pkt := <-p.out:
			if !p.writePacket(pkt) {
				p.Stop()
				p.wire.Close()
				return
			}
		case <-p.quit:
			for {
				select {
				case pkt := <-p.out:
					p.writePacket(pkt)
				default:
					p.wire.Close()
					return
				}
			}
		}
	}
}

// writePacket returns false only on a socket write error.
func (p *peerConn) writePacket(pkt wire.Packet) bool {
	data, err := pkt.Build()
	if err != nil {
		log.WithField("peer", p.RemoteID()).WithError(err).Warn("dropping unbuildable packet")
		return true
	}
	if err := p.wire.Write(data); err != nil {
		if p.state.Active() {
			log.WithField("peer", p.RemoteID()).WithError(err).Error("writing packet")
		}
		return false
	}
	return true
}

// handle reacts to one inbound packet. It runs on the listener goroutine, so
// per-connection handling is strictly sequential.
func (p *peerConn) handle(pkt wire.Packet) {
	switch pkt.ID {
	case wire.HANDSHAKE:
		p.handleHandshake(pkt)

	case wire.CHOKE:
		log.WithField("peer", p.RemoteID()).Info("choked by peer")
		p.state.SetRemoteChoke(true)
		p.pieces.PeerChoked(p.RemoteID())

	case wire.UNCHOKE:
		log.WithField("peer", p.RemoteID()).Info("unchoked by peer")
		p.state.SetRemoteChoke(false)
		p.requestNext()

	case wire.INTERESTED:
		log.WithField("peer", p.RemoteID()).Info("peer is interested")
		p.state.SetInterested(true)

	case wire.NOT_INTERESTED:
		log.WithField("peer", p.RemoteID()).Info("peer is not interested")
		p.state.SetInterested(false)

	case wire.BITFIELD:
		statuses := piece.BitfieldToStatuses(pkt.Bitfield, p.cfg.NumberOfPieces())
		p.state.SetRemotePieces(statuses)
		log.WithField("peer", p.RemoteID()).Info("received bitfield")
		p.replyInterest()

	case wire.HAVE:
		if !p.state.MarkRemoteHave(pkt.PieceIndex) {
			log.WithFields(logrus.Fields{
				"peer":  p.RemoteID(),
				"piece": pkt.PieceIndex,
			}).Warn("dropping HAVE with out-of-range index")
			return
		}
		log.WithFields(logrus.Fields{
			"peer":  p.RemoteID(),
			"piece": pkt.PieceIndex,
		}).Info("peer has piece")
		p.replyInterest()
		p.requestNext()
		p.mgr.AttemptTerminate()

	case wire.REQUEST:
		p.handleRequest(pkt)

	case wire.PIECE:
		p.handlePiece(pkt)

	default:
		log.WithField("peer", p.RemoteID()).Debug("dropping unknown packet")
	}
}

// handleHandshake validates the fixed record, cross-checks the peer id
// against the roster (and the dialed id, when we initiated), replies with
// our own handshake when we did not, sends our bitfield and releases the
// latch. The sentBitfield flag, the bitfield snapshot and its enqueue happen
// under the state lock so a concurrent HAVE broadcast can never slip in
// between them.
func (p *peerConn) handleHandshake(pkt wire.Packet) {
	remoteID, err := wire.ParseHandshake(pkt.Content)
	if err != nil {
		log.WithField("peer", p.expected).WithError(err).Error("handshake rejected")
		p.Stop()
		return
	}
	if p.expected != -1 && remoteID != p.expected {
		log.WithFields(logrus.Fields{
			"want": p.expected,
			"got":  remoteID,
		}).Error("handshake from wrong peer")
		p.Stop()
		return
	}
	if _, ok := p.cfg.Peer(remoteID); !ok || remoteID == p.cfg.LocalID {
		log.WithField("peer", remoteID).Error("handshake from peer not in roster")
		p.Stop()
		return
	}

	if !p.initiated {
		if err := p.wire.WriteHandshake(p.cfg.LocalID); err != nil {
			log.WithField("peer", remoteID).WithError(err).Error("replying handshake")
			p.Stop()
			return
		}
	}

	s := p.state
	s.Lock()
	s.remotePeerID = remoteID
	if p.pieces.HasAny() {
		if bf := p.pieces.Bitfield(); len(bf) > 0 {
			select {
			case p.out <- wire.NewBitfield(bf):
			default:
			}
		}
	}
	s.sentBitfield = true
	s.connectionActive = true
	s.handshaken = true
	s.cond.Broadcast()
	s.Unlock()

	if err := p.mgr.Register(p); err != nil {
		log.WithField("peer", remoteID).WithError(err).Error("registering connection")
		p.Stop()
		return
	}
	log.WithField("peer", remoteID).Info("handshake complete")
}

func (p *peerConn) handleRequest(pkt wire.Packet) {
	if p.state.LocalChoked() {
		log.WithFields(logrus.Fields{
			"peer":  p.RemoteID(),
			"piece": pkt.PieceIndex,
		}).Debug("dropping REQUEST from choked peer")
		return
	}
	content := p.pieces.PieceContent(pkt.PieceIndex)
	if content == nil {
		log.WithFields(logrus.Fields{
			"peer":  p.RemoteID(),
			"piece": pkt.PieceIndex,
		}).Warn("cannot serve piece we do not hold")
		return
	}
	p.Enqueue(wire.NewPiece(pkt.PieceIndex, content))
	p.stats.UpdatePeer(p.RemoteID(), len(content), 0)
}

func (p *peerConn) handlePiece(pkt wire.Packet) {
	if pkt.PieceIndex < 0 || pkt.PieceIndex >= p.cfg.NumberOfPieces() {
		log.WithFields(logrus.Fields{
			"peer":  p.RemoteID(),
			"piece": pkt.PieceIndex,
		}).Warn("dropping PIECE with out-of-range index")
		return
	}
	p.pieces.SetLocalPiece(pkt.PieceIndex, piece.Have, pkt.Content, true)
	p.state.AddDownloaded(len(pkt.Content))
	p.stats.UpdatePeer(p.RemoteID(), 0, len(pkt.Content))
	log.WithFields(logrus.Fields{
		"peer":  p.RemoteID(),
		"piece": pkt.PieceIndex,
		"count": p.pieces.Count(),
	}).Info("downloaded piece")

	p.requestNext()
	p.mgr.AttemptTerminate()
}

// requestNext asks the remote for another piece we want, provided it is not
// choking us and something remains to ask for.
func (p *peerConn) requestNext() {
	if p.state.RemoteChoked() {
		return
	}
	index := p.pieces.ChoosePieceToRequest(p.RemoteID(), p.state.RemotePieces())
	if index == -1 {
		return
	}
	p.Enqueue(wire.NewRequest(index))
}

// replyInterest answers the current interest verdict, refreshing the remote
// side's view even when it did not change.
func (p *peerConn) replyInterest() {
	if p.pieces.HasInterest(p.state.RemotePieces()) {
		p.Enqueue(wire.NewInterested())
	} else {
		p.Enqueue(wire.NewNotInterested())
	}
}

// enqueueHave sends HAVE only on connections whose bitfield already went
// out, checked under the state lock so it cannot overtake the bitfield.
func (p *peerConn) enqueueHave(index int) {
	s := p.state
	s.Lock()
	ok := s.sentBitfield && s.connectionActive && !s.closed
	s.Unlock()
	if ok {
		p.Enqueue(wire.NewHave(index))
	}
}
