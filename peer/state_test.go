package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
)

func TestConnStateDefaults(t *testing.T) {
	s := NewConnState(4)
	assert.Equal(t, -1, s.RemoteID())
	assert.True(t, s.LocalChoked())
	assert.True(t, s.RemoteChoked())
	assert.False(t, s.Interested())
	assert.False(t, s.Active())
	assert.False(t, s.SentBitfield())
	assert.False(t, s.RemoteComplete())
}

func TestHandshakeLatch(t *testing.T) {
	s := NewConnState(4)

	released := make(chan bool, 1)
	go func() {
		released <- s.WaitHandshake()
	}()

	select {
	case <-released:
		t.Fatal("latch released before handshake")
	case <-time.After(50 * time.Millisecond):
	}

	s.Lock()
	s.handshaken = true
	s.connectionActive = true
	s.cond.Broadcast()
	s.Unlock()

	select {
	case ok := <-released:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("latch never released")
	}
}

func TestHandshakeLatchFreedOnClose(t *testing.T) {
	s := NewConnState(4)

	released := make(chan bool, 1)
	go func() {
		released <- s.WaitHandshake()
	}()

	s.MarkClosed()

	select {
	case ok := <-released:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("latch never released on close")
	}
}

func TestTakeDownloadedResets(t *testing.T) {
	s := NewConnState(4)
	s.AddDownloaded(100)
	s.AddDownloaded(50)
	assert.Equal(t, 150, s.TakeDownloaded())
	assert.Equal(t, 0, s.TakeDownloaded())
}

func TestRemoteView(t *testing.T) {
	s := NewConnState(3)
	assert.True(t, s.MarkRemoteHave(0))
	assert.False(t, s.MarkRemoteHave(3))
	assert.False(t, s.RemoteComplete())

	s.SetRemotePieces([]piece.Status{piece.Have, piece.Have, piece.Have})
	assert.True(t, s.RemoteComplete())

	view := s.RemotePieces()
	view[0] = piece.NotHave
	// snapshots do not alias internal state
	assert.True(t, s.RemoteComplete())
}
