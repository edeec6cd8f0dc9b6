package piece

import (
	"math/rand"
	"sync"

	bitmap "github.com/boljen/go-bitmap"
	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
)

var log = logrus.StandardLogger()

// Status of a single piece as this peer sees it. Remote views only ever hold
// NotHave or Have; Requested exists for local pieces with an outstanding
// REQUEST.
type Status int

const (
	NotHave Status = iota
	Have
	Requested
)

// Piece couples a status with its content. Content is non-nil iff the status
// is Have, and is immutable once written.
type Piece struct {
	Status  Status
	Content []byte
}

// Broadcaster is how the manager announces a freshly downloaded piece to
// the connected peers. Wired to the peer registry after construction.
type Broadcaster interface {
	BroadcastHave(pieceIndex int)
}

// Manager owns the local piece array. Every read and write goes through its
// lock; published piece contents may be read without it afterwards.
type Manager interface {
	NumPieces() int
	HasAny() bool
	Complete() bool
	Count() int
	PieceContent(index int) []byte
	Bitfield() []byte
	SetLocalPiece(index int, status Status, content []byte, fromRemote bool)
	ChoosePieceToRequest(peerID int, remote []Status) int
	HasInterest(remote []Status) bool
	PeerChoked(peerID int)
	PeerStopped(peerID int)
	Assemble() []byte
	SetBroadcaster(b Broadcaster)
}

type manager struct {
	sync.RWMutex
	cfg         *config.Config
	pieces      []Piece
	inflight    map[int]mapset.Set
	broadcaster Broadcaster
}

func NewManager(cfg *config.Config) Manager {
	return &manager{
		cfg:      cfg,
		pieces:   make([]Piece, cfg.NumberOfPieces()),
		inflight: make(map[int]mapset.Set),
	}
}

func (m *manager) SetBroadcaster(b Broadcaster) {
	m.Lock()
	defer m.Unlock()

	m.broadcaster = b
}

func (m *manager) NumPieces() int {
	return len(m.pieces)
}

func (m *manager) HasAny() bool {
	m.RLock()
	defer m.RUnlock()

	for i := range m.pieces {
		if m.pieces[i].Status == Have {
			return true
		}
	}
	return false
}

func (m *manager) Complete() bool {
	m.RLock()
	defer m.RUnlock()

	return m.countLocked() == len(m.pieces)
}

func (m *manager) Count() int {
	m.RLock()
	defer m.RUnlock()

	return m.countLocked()
}

func (m *manager) countLocked() int {
	count := 0
	for i := range m.pieces {
		if m.pieces[i].Status == Have {
			count++
		}
	}
	return count
}

func (m *manager) PieceContent(index int) []byte {
	m.RLock()
	defer m.RUnlock()

	if index < 0 || index >= len(m.pieces) {
		return nil
	}
	return m.pieces[index].Content
}

// Bitfield renders the local pieces as the wire bitset, MSB-first within
// each byte, trailing bits zero.
func (m *manager) Bitfield() []byte {
	m.RLock()
	defer m.RUnlock()

	statuses := make([]Status, len(m.pieces))
	for i := range m.pieces {
		statuses[i] = m.pieces[i].Status
	}
	return StatusesToBitfield(statuses)
}

// SetLocalPiece is the only mutator of the piece array. A piece that came
// from a remote peer is announced through the broadcaster; duplicate
// deliveries of a piece we already hold are dropped.
func (m *manager) SetLocalPiece(index int, status Status, content []byte, fromRemote bool) {
	m.Lock()
	if index < 0 || index >= len(m.pieces) {
		m.Unlock()
		log.WithField("piece", index).Warn("ignoring out-of-range piece write")
		return
	}
	if m.pieces[index].Status == Have {
		m.Unlock()
		return
	}
	m.pieces[index] = Piece{Status: status, Content: content}
	if status == Have {
		for _, requested := range m.inflight {
			requested.Remove(index)
		}
	}
	broadcaster := m.broadcaster
	m.Unlock()

	if fromRemote && status == Have && broadcaster != nil {
		broadcaster.BroadcastHave(index)
	}
}

// ChoosePieceToRequest picks uniformly at random among pieces the remote has
// and we lack, marks the winner Requested and records which peer the request
// is routed to. Returns -1 when there is nothing to ask for.
func (m *manager) ChoosePieceToRequest(peerID int, remote []Status) int {
	m.Lock()
	defer m.Unlock()

	candidates := make([]int, 0)
	for i := 0; i < len(m.pieces) && i < len(remote); i++ {
		if m.pieces[i].Status == NotHave && remote[i] == Have {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	index := candidates[rand.Intn(len(candidates))]
	m.pieces[index].Status = Requested

	requested, ok := m.inflight[peerID]
	if !ok {
		requested = mapset.NewSet()
		m.inflight[peerID] = requested
	}
	requested.Add(index)
	return index
}

// HasInterest reports whether the remote holds any piece we lack.
func (m *manager) HasInterest(remote []Status) bool {
	m.RLock()
	defer m.RUnlock()

	for i := 0; i < len(m.pieces) && i < len(remote); i++ {
		if m.pieces[i].Status == NotHave && remote[i] == Have {
			return true
		}
	}
	return false
}

// PeerChoked releases the Requested markers routed to a peer that just choked
// us, so the pieces become requestable from other neighbors.
func (m *manager) PeerChoked(peerID int) {
	m.releaseRequests(peerID)
}

// PeerStopped does the same for a connection that died.
func (m *manager) PeerStopped(peerID int) {
	m.releaseRequests(peerID)
}

func (m *manager) releaseRequests(peerID int) {
	m.Lock()
	defer m.Unlock()

	requested, ok := m.inflight[peerID]
	if !ok {
		return
	}
	requested.Each(func(v interface{}) bool {
		index := v.(int)
		if m.pieces[index].Status == Requested {
			m.pieces[index].Status = NotHave
		}
		return false
	})
	delete(m.inflight, peerID)
}

// Assemble concatenates the pieces in order, truncated to the file size.
func (m *manager) Assemble() []byte {
	m.RLock()
	defer m.RUnlock()

	out := make([]byte, 0, m.cfg.FileSize)
	for i := range m.pieces {
		out = append(out, m.pieces[i].Content...)
	}
	if int64(len(out)) > m.cfg.FileSize {
		out = out[:m.cfg.FileSize]
	}
	return out
}

// StatusesToBitfield packs statuses into the wire bitset, MSB-first within
// each byte. Only Have counts; Requested is local bookkeeping and is
// invisible on the wire. go-bitmap numbers bits LSB-first, so piece i is
// stored at the mirrored position within its byte.
func StatusesToBitfield(statuses []Status) []byte {
	b := bitmap.New(len(statuses))
	for i, s := range statuses {
		if s == Have {
			b.Set(i/8*8+7-i%8, true)
		}
	}
	return b.Data(false)
}

// BitfieldToStatuses unpacks a wire bitset into numPieces statuses, ignoring
// any trailing padding bits.
func BitfieldToStatuses(bitfield []byte, numPieces int) []Status {
	out := make([]Status, numPieces)
	for i := 0; i < numPieces && i/8 < len(bitfield); i++ {
		if bitmap.Get(bitfield, i/8*8+7-i%8) {
			out[i] = Have
		}
	}
	return out
}

// AllHave reports whether a remote view covers every piece.
func AllHave(statuses []Status) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if s != Have {
			return false
		}
	}
	return true
}
