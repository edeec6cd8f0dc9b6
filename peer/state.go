package peer

import (
	"sync"

	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
)

// ConnState is the authoritative per-connection state, shared between the
// connection's listener, sender and the choking scheduler. One lock guards
// every field; the handshake latch is a condition variable on that lock.
type ConnState struct {
	sync.Mutex
	cond *sync.Cond

	remotePeerID     int
	remotePieces     []piece.Status
	handshaken       bool
	closed           bool
	connectionActive bool
	localChoke       bool
	remoteChoke      bool
	interested       bool
	sentBitfield     bool
	downloadedBytes  int
}

func NewConnState(numPieces int) *ConnState {
	s := &ConnState{
		remotePeerID: -1,
		remotePieces: make([]piece.Status, numPieces),
		localChoke:   true,
		remoteChoke:  true,
	}
	s.cond = sync.NewCond(&s.Mutex)
	return s
}

func (s *ConnState) RemoteID() int {
	s.Lock()
	defer s.Unlock()
	return s.remotePeerID
}

// WaitHandshake blocks until the handshake latch is released. Returns false
// if the connection died first.
func (s *ConnState) WaitHandshake() bool {
	s.Lock()
	defer s.Unlock()
	for !s.handshaken && !s.closed {
		s.cond.Wait()
	}
	return s.handshaken && !s.closed
}

func (s *ConnState) Handshaken() bool {
	s.Lock()
	defer s.Unlock()
	return s.handshaken
}

func (s *ConnState) Active() bool {
	s.Lock()
	defer s.Unlock()
	return s.connectionActive && !s.closed
}

// MarkClosed flips the connection inactive and frees any latch waiter.
func (s *ConnState) MarkClosed() {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	s.connectionActive = false
	s.cond.Broadcast()
}

func (s *ConnState) LocalChoked() bool {
	s.Lock()
	defer s.Unlock()
	return s.localChoke
}

func (s *ConnState) SetLocalChoke(v bool) {
	s.Lock()
	defer s.Unlock()
	s.localChoke = v
}

func (s *ConnState) RemoteChoked() bool {
	s.Lock()
	defer s.Unlock()
	return s.remoteChoke
}

func (s *ConnState) SetRemoteChoke(v bool) {
	s.Lock()
	defer s.Unlock()
	s.remoteChoke = v
}

func (s *ConnState) Interested() bool {
	s.Lock()
	defer s.Unlock()
	return s.interested
}

func (s *ConnState) SetInterested(v bool) {
	s.Lock()
	defer s.Unlock()
	s.interested = v
}

func (s *ConnState) SentBitfield() bool {
	s.Lock()
	defer s.Unlock()
	return s.sentBitfield
}

// RemotePieces returns a snapshot of the remote view.
func (s *ConnState) RemotePieces() []piece.Status {
	s.Lock()
	defer s.Unlock()
	out := make([]piece.Status, len(s.remotePieces))
	copy(out, s.remotePieces)
	return out
}

func (s *ConnState) SetRemotePieces(statuses []piece.Status) {
	s.Lock()
	defer s.Unlock()
	copy(s.remotePieces, statuses)
}

func (s *ConnState) MarkRemoteHave(index int) bool {
	s.Lock()
	defer s.Unlock()
	if index < 0 || index >= len(s.remotePieces) {
		return false
	}
	s.remotePieces[index] = piece.Have
	return true
}

// RemoteComplete reports whether the remote view shows every piece.
func (s *ConnState) RemoteComplete() bool {
	s.Lock()
	defer s.Unlock()
	return piece.AllHave(s.remotePieces)
}

func (s *ConnState) AddDownloaded(n int) {
	s.Lock()
	defer s.Unlock()
	s.downloadedBytes += n
}

// TakeDownloaded reads and resets the interval counter. Only the
// preferred-neighbor loop calls this.
func (s *ConnState) TakeDownloaded() int {
	s.Lock()
	defer s.Unlock()
	n := s.downloadedBytes
	s.downloadedBytes = 0
	return n
}
