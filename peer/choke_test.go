package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
	"github.com/Matthew-VandenBoom/NetworkingProject/stats"
	"github.com/Matthew-VandenBoom/NetworkingProject/wire"
)

type mockPeer struct {
	mock.Mock
	id    int
	state *ConnState
}

func (m *mockPeer) Start() {}
func (m *mockPeer) Stop()  {}

func (m *mockPeer) RemoteID() int {
	return m.id
}

func (m *mockPeer) State() *ConnState {
	return m.state
}

func (m *mockPeer) Enqueue(pkt wire.Packet) bool {
	args := m.Called(pkt)
	return args.Bool(0)
}

type mockManager struct {
	Manager
	mock.Mock
}

func (m *mockManager) Peers() []Peer {
	args := m.Called()
	return args.Get(0).([]Peer)
}

func (m *mockManager) AttemptTerminate() {}

func interestedPeer(id, downloaded int, choked bool) *mockPeer {
	s := NewConnState(4)
	s.Lock()
	s.remotePeerID = id
	s.handshaken = true
	s.connectionActive = true
	s.interested = true
	s.localChoke = choked
	s.Unlock()
	s.AddDownloaded(downloaded)
	return &mockPeer{id: id, state: s}
}

func newTestChoke(mgr Manager) *choke {
	cfg := testConfig(64, 16)
	return NewChoke(cfg, mgr, piece.NewManager(cfg), stats.NewStats()).(*choke)
}

func TestPreferredNeighborsByRate(t *testing.T) {
	fast := interestedPeer(1001, 300, true)
	medium := interestedPeer(1003, 200, true)
	slow := interestedPeer(1004, 100, false)

	fast.On("Enqueue", wire.NewUnchoke()).Return(true).Once()
	medium.On("Enqueue", wire.NewUnchoke()).Return(true).Once()
	slow.On("Enqueue", wire.NewChoke()).Return(true).Once()

	pm := &mockManager{}
	pm.On("Peers").Return([]Peer{slow, medium, fast})

	c := newTestChoke(pm)
	c.recomputePreferred()

	fast.AssertExpectations(t)
	medium.AssertExpectations(t)
	slow.AssertExpectations(t)
	assert.False(t, fast.state.LocalChoked())
	assert.False(t, medium.state.LocalChoked())
	assert.True(t, slow.state.LocalChoked())

	// every counter was reset, interested or not
	assert.Equal(t, 0, fast.state.TakeDownloaded())
	assert.Equal(t, 0, slow.state.TakeDownloaded())
}

func TestPreferredNeighborsKeepExistingUnchoke(t *testing.T) {
	// already unchoked and still a top neighbor: no duplicate UNCHOKE
	fast := interestedPeer(1001, 300, false)
	other := interestedPeer(1003, 200, true)

	other.On("Enqueue", wire.NewUnchoke()).Return(true).Once()

	pm := &mockManager{}
	pm.On("Peers").Return([]Peer{fast, other})

	c := newTestChoke(pm)
	c.recomputePreferred()

	fast.AssertNotCalled(t, "Enqueue", mock.Anything)
	other.AssertExpectations(t)
}

func TestPreferredNeighborsExemptOptimistic(t *testing.T) {
	fast := interestedPeer(1001, 300, true)
	second := interestedPeer(1003, 200, true)
	optimistic := interestedPeer(1004, 0, false)

	fast.On("Enqueue", wire.NewUnchoke()).Return(true).Once()
	second.On("Enqueue", wire.NewUnchoke()).Return(true).Once()

	pm := &mockManager{}
	pm.On("Peers").Return([]Peer{fast, second, optimistic})

	c := newTestChoke(pm)
	c.optimistic = 1004
	c.recomputePreferred()

	// the optimistic slot never gets choked by the preferred pass
	optimistic.AssertNotCalled(t, "Enqueue", mock.Anything)
	assert.False(t, optimistic.state.LocalChoked())
}

func TestPickOptimistic(t *testing.T) {
	choked := interestedPeer(1001, 0, true)
	unchoked := interestedPeer(1003, 0, false)

	choked.On("Enqueue", wire.NewUnchoke()).Return(true).Once()

	pm := &mockManager{}
	pm.On("Peers").Return([]Peer{choked, unchoked})

	c := newTestChoke(pm)
	c.pickOptimistic()

	choked.AssertExpectations(t)
	unchoked.AssertNotCalled(t, "Enqueue", mock.Anything)
	assert.Equal(t, 1001, c.optimistic)
	assert.False(t, choked.state.LocalChoked())
}

func TestPickOptimisticNoCandidates(t *testing.T) {
	unchoked := interestedPeer(1001, 0, false)

	pm := &mockManager{}
	pm.On("Peers").Return([]Peer{unchoked})

	c := newTestChoke(pm)
	c.pickOptimistic()

	unchoked.AssertNotCalled(t, "Enqueue", mock.Anything)
	assert.Equal(t, -1, c.optimistic)
}
