package server

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/peer"
)

var log = logrus.StandardLogger()

var listen = net.Listen

// Server accepts inbound connections from peers listed after us in the
// roster and hands each socket to the peer manager.
type Server interface {
	Serve()
	Stop()
	Port() int
}

type server struct {
	listener net.Listener
	pm       peer.Manager
	quit     chan struct{}
	port     int
}

func NewServer(port int, pm peer.Manager) (Server, error) {
	listener, err := listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listening on port %d: %w", port, err)
	}
	return &server{
		listener: listener,
		pm:       pm,
		quit:     make(chan struct{}),
		port:     listener.Addr().(*net.TCPAddr).Port,
	}, nil
}

func (sv *server) Serve() {
	go func() {
		for {
			conn, err := sv.listener.Accept()
			if err != nil {
				select {
				case <-sv.quit:
				default:
					log.WithError(err).Error("accept failed, stopping listener")
				}
				return
			}
			log.WithField("addr", conn.RemoteAddr().String()).Info("accepted connection")
			sv.pm.AddPeer(conn, -1, false)
		}
	}()
}

func (sv *server) Stop() {
	close(sv.quit)
	sv.listener.Close()
}

func (sv *server) Port() int {
	return sv.port
}
