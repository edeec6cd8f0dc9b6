package peer

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
	"github.com/Matthew-VandenBoom/NetworkingProject/stats"
	"github.com/Matthew-VandenBoom/NetworkingProject/wire"
)

// Choke runs the two periodic control loops deciding which remote peers may
// pull pieces: preferred neighbors by observed download rate, plus one
// optimistic unchoke chosen at random. These loops are the only writers of
// the localChoke flag.
type Choke interface {
	Start()
	Stop()
}

type choke struct {
	cfg    *config.Config
	mgr    Manager
	pieces piece.Manager
	stats  stats.Stats

	mu         sync.Mutex
	optimistic int
	preferred  mapset.Set
	quit       chan struct{}
}

func NewChoke(cfg *config.Config, mgr Manager, pieces piece.Manager, st stats.Stats) Choke {
	return &choke{
		cfg:        cfg,
		mgr:        mgr,
		pieces:     pieces,
		stats:      st,
		optimistic: -1,
		preferred:  mapset.NewSet(),
		quit:       make(chan struct{}),
	}
}

func (c *choke) Start() {
	go c.preferredLoop()
	go c.optimisticLoop()
}

func (c *choke) Stop() {
	close(c.quit)
}

func (c *choke) preferredLoop() {
	interval := time.Duration(c.cfg.UnchokingInterval) * time.Second
	for {
		select {
		case <-c.quit:
			return
		case <-time.After(interval):
			c.stats.GetPeerStats()
			c.recomputePreferred()
			c.logProgress()
			c.mgr.AttemptTerminate()
		}
	}
}

func (c *choke) optimisticLoop() {
	interval := time.Duration(c.cfg.OptimisticUnchokingInterval) * time.Second
	for {
		select {
		case <-c.quit:
			return
		case <-time.After(interval):
			c.pickOptimistic()
		}
	}
}

type neighbor struct {
	p     Peer
	bytes int
}

// recomputePreferred ranks the interested peers by bytes downloaded from
// them over the last interval — shuffled first so equal rates tie-break
// randomly — unchokes the top k and chokes the rest, leaving the optimistic
// slot alone. Every peer's interval counter is reset, interested or not.
func (c *choke) recomputePreferred() {
	peers := c.mgr.Peers()

	interested := make([]*neighbor, 0, len(peers))
	for _, p := range peers {
		st := p.State()
		bytes := st.TakeDownloaded()
		if st.Active() && st.Interested() {
			interested = append(interested, &neighbor{p: p, bytes: bytes})
		}
	}

	rand.Shuffle(len(interested), func(i, j int) {
		interested[i], interested[j] = interested[j], interested[i]
	})
	if !c.pieces.Complete() {
		sort.SliceStable(interested, func(i, j int) bool {
			return interested[i].bytes > interested[j].bytes
		})
	}

	c.mu.Lock()
	optimistic := c.optimistic
	c.mu.Unlock()

	k := c.cfg.NumberOfPreferredNeighbors
	preferred := mapset.NewSet()
	for i, n := range interested {
		st := n.p.State()
		if i < k {
			preferred.Add(n.p.RemoteID())
			if st.LocalChoked() {
				st.SetLocalChoke(false)
				n.p.Enqueue(wire.NewUnchoke())
				log.WithField("peer", n.p.RemoteID()).Info("unchoked preferred neighbor")
			}
		} else if n.p.RemoteID() != optimistic {
			if !st.LocalChoked() {
				st.SetLocalChoke(true)
				n.p.Enqueue(wire.NewChoke())
				log.WithField("peer", n.p.RemoteID()).Info("choked neighbor")
			}
		}
	}

	c.mu.Lock()
	if !preferred.Equal(c.preferred) {
		log.WithField("peers", preferred.ToSlice()).Info("preferred neighbors changed")
		c.preferred = preferred
	}
	c.mu.Unlock()
}

// pickOptimistic unchokes one randomly chosen interested peer that we are
// currently choking. The previous occupant keeps its unchoke until the next
// preferred pass re-evaluates it.
func (c *choke) pickOptimistic() {
	candidates := make([]Peer, 0)
	for _, p := range c.mgr.Peers() {
		st := p.State()
		if st.Active() && st.Interested() && st.LocalChoked() {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return
	}

	pick := candidates[rand.Intn(len(candidates))]
	c.mu.Lock()
	c.optimistic = pick.RemoteID()
	c.mu.Unlock()
	pick.State().SetLocalChoke(false)
	pick.Enqueue(wire.NewUnchoke())
	log.WithField("peer", pick.RemoteID()).Info("optimistically unchoked")
}

func (c *choke) logProgress() {
	count := c.pieces.Count()
	log.WithFields(logrus.Fields{
		"have":   count,
		"pieces": c.pieces.NumPieces(),
	}).Debug("download progress")
}
