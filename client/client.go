package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
	"github.com/Matthew-VandenBoom/NetworkingProject/peer"
	"github.com/Matthew-VandenBoom/NetworkingProject/piece"
	"github.com/Matthew-VandenBoom/NetworkingProject/server"
	"github.com/Matthew-VandenBoom/NetworkingProject/stats"
	"github.com/Matthew-VandenBoom/NetworkingProject/storage"
)

var log = logrus.StandardLogger()

const dialRetryDelay = 500 * time.Millisecond

var dial = net.DialTimeout

// Client is the composition root for one peer process: it seeds or starts
// empty, connects the static roster, runs the choking scheduler and blocks
// until the swarm completes.
type Client interface {
	Run() error
}

type client struct {
	cfg *config.Config
}

func NewClient(cfg *config.Config) Client {
	return &client{cfg: cfg}
}

func (c *client) Run() error {
	closer, err := c.setupLogging()
	if err != nil {
		return err
	}
	defer closer.Close()

	st := storage.NewStorage(c.cfg)
	pieces := piece.NewManager(c.cfg)
	if c.cfg.Local().HasFile {
		loaded, err := st.LoadPieces()
		if err != nil {
			return err
		}
		for i, content := range loaded {
			pieces.SetLocalPiece(i, piece.Have, content, false)
		}
	}

	transferStats := stats.NewStats()
	pm := peer.NewManager(c.cfg, pieces, transferStats)
	pieces.SetBroadcaster(pm)

	sv, err := server.NewServer(c.cfg.Local().Port, pm)
	if err != nil {
		return err
	}
	sv.Serve()
	log.WithFields(logrus.Fields{
		"peer": c.cfg.LocalID,
		"port": sv.Port(),
	}).Info("listening for peers")

	for _, target := range c.cfg.DialTargets() {
		go c.dialPeer(pm, target)
	}

	choker := peer.NewChoke(c.cfg, pm, pieces, transferStats)
	choker.Start()

	<-pm.Done()
	choker.Stop()
	sv.Stop()

	if err := st.Dump(pieces.Assemble()); err != nil {
		return err
	}
	log.WithField("peer", c.cfg.LocalID).Info("swarm complete, exiting")
	return nil
}

// dialPeer keeps trying an earlier-listed peer until the connection lands or
// the swarm finishes; peers start at different times.
func (c *client) dialPeer(pm peer.Manager, target config.PeerInfo) {
	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	for {
		select {
		case <-pm.Done():
			return
		default:
		}
		conn, err := dial("tcp4", addr, 2*time.Second)
		if err == nil {
			log.WithFields(logrus.Fields{
				"peer": target.ID,
				"addr": addr,
			}).Info("connected to peer")
			pm.AddPeer(conn, target.ID, true)
			return
		}
		time.Sleep(dialRetryDelay)
	}
}

// setupLogging tees the shared logger to stdout and log_peer_<id>.log.
func (c *client) setupLogging() (io.Closer, error) {
	path := filepath.Join(c.cfg.WorkDir, fmt.Sprintf("log_peer_%d.log", c.cfg.LocalID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}
