package peer

import (
	"fmt"
	"net"
	"sync"

	mapset "github.com/deckarep/golang-set"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
	"github.com/Matthew-VandenBoom/NetworkingProject/stats"
	"github.com/Matthew-VandenBoom/NetworkingProject/wire"
)

// Manager is the registry of live connections. Every HAVE broadcast,
// termination check and choking iteration goes through it; its lock is held
// only for map snapshots and mutations, never while writing to a peer.
type Manager interface {
	AddPeer(conn net.Conn, expectedID int, initiated bool)
	Register(p Peer) error
	RemovePeer(p Peer)
	Peers() []Peer
	BroadcastHave(pieceIndex int)
	AttemptTerminate()
	StopAll()
	Done() <-chan struct{}
}

type peerManager struct {
	sync.RWMutex
	cfg        *config.Config
	pieces     piece.Manager
	stats      stats.Stats
	peers      map[int]Peer
	pending    []Peer
	everSeen   mapset.Set
	done       chan struct{}
	terminated bool
}

func NewManager(cfg *config.Config, pieces piece.Manager, st stats.Stats) Manager {
	return &peerManager{
		cfg:      cfg,
		pieces:   pieces,
		stats:    st,
		peers:    make(map[int]Peer),
		everSeen: mapset.NewSet(),
		done:     make(chan struct{}),
	}
}

// AddPeer wraps a fresh socket in a connection manager and starts its
// listener. The peer stays pending until its handshake validates.
func (pm *peerManager) AddPeer(conn net.Conn, expectedID int, initiated bool) {
	p := newPeer(pm.cfg, conn, expectedID, initiated, pm.pieces, pm.stats, pm)

	pm.Lock()
	if pm.terminated {
		pm.Unlock()
		conn.Close()
		return
	}
	pm.pending = append(pm.pending, p)
	pm.Unlock()

	go p.Start()
}

// Register moves a handshaken peer from pending into the id map. A second
// connection claiming an already-registered id is refused.
func (pm *peerManager) Register(p Peer) error {
	pm.Lock()
	defer pm.Unlock()

	if pm.terminated {
		return fmt.Errorf("swarm is shutting down")
	}
	id := p.RemoteID()
	if _, ok := pm.peers[id]; ok {
		return fmt.Errorf("peer %d is already connected", id)
	}
	pm.peers[id] = p
	pm.everSeen.Add(id)
	pm.dropPending(p)
	return nil
}

func (pm *peerManager) dropPending(p Peer) {
	for i, pending := range pm.pending {
		if pending == p {
			pm.pending = append(pm.pending[:i], pm.pending[i+1:]...)
			return
		}
	}
}

func (pm *peerManager) RemovePeer(p Peer) {
	pm.Lock()
	defer pm.Unlock()

	pm.dropPending(p)
	id := p.RemoteID()
	if registered, ok := pm.peers[id]; ok && registered == p {
		delete(pm.peers, id)
	}
}

func (pm *peerManager) Peers() []Peer {
	pm.RLock()
	defer pm.RUnlock()

	out := make([]Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		out = append(out, p)
	}
	return out
}

// BroadcastHave announces a freshly downloaded piece on every connection
// that already sent its bitfield, including the one it came from — the
// sender needs our HAVE to see our completion.
func (pm *peerManager) BroadcastHave(pieceIndex int) {
	for _, p := range pm.Peers() {
		if pc, ok := p.(*peerConn); ok {
			pc.enqueueHave(pieceIndex)
		} else {
			p.Enqueue(wire.NewHave(pieceIndex))
		}
	}
}

// AttemptTerminate fires the swarm shutdown once every local piece is held,
// every roster peer has been connected at least once, and every still-active
// remote view shows a complete peer.
func (pm *peerManager) AttemptTerminate() {
	if !pm.pieces.Complete() {
		return
	}

	pm.RLock()
	if pm.terminated {
		pm.RUnlock()
		return
	}
	for _, id := range pm.cfg.RemoteIDs() {
		if !pm.everSeen.Contains(id) {
			pm.RUnlock()
			return
		}
	}
	snapshot := make([]Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		snapshot = append(snapshot, p)
	}
	pm.RUnlock()

	for _, p := range snapshot {
		if p.State().Active() && !p.State().RemoteComplete() {
			return
		}
	}
	pm.terminate()
}

func (pm *peerManager) terminate() {
	pm.Lock()
	if pm.terminated {
		pm.Unlock()
		return
	}
	pm.terminated = true
	pm.Unlock()

	log.Info("swarm complete, shutting down connections")
	pm.StopAll()
	close(pm.done)
}

// StopAll stops every connection, registered or pending. Senders flush
// their queues before the sockets close.
func (pm *peerManager) StopAll() {
	pm.RLock()
	snapshot := make([]Peer, 0, len(pm.peers)+len(pm.pending))
	for _, p := range pm.peers {
		snapshot = append(snapshot, p)
	}
	snapshot = append(snapshot, pm.pending...)
	pm.RUnlock()

	for _, p := range snapshot {
		p.Stop()
	}
}

// Done is closed once the swarm has terminated.
func (pm *peerManager) Done() <-chan struct{} {
	return pm.done
}
