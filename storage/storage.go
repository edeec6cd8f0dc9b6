package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Matthew-VandenBoom/NetworkingProject/config"
)

var appFS = afero.NewOsFs()

var log = logrus.StandardLogger()

// Storage moves the distributed file between disk and the in-memory piece
// array: a seeding peer loads and splits it at startup, every peer dumps the
// reassembled file into peer_<id>/ once the swarm completes.
type Storage interface {
	LoadPieces() ([][]byte, error)
	Dump(data []byte) error
	PeerDir() string
}

type storage struct {
	cfg *config.Config
}

func NewStorage(cfg *config.Config) Storage {
	return &storage{cfg: cfg}
}

func (s *storage) PeerDir() string {
	return filepath.Join(s.cfg.WorkDir, fmt.Sprintf("peer_%d", s.cfg.LocalID))
}

// LoadPieces reads the complete file and splits it into pieces, the last one
// possibly shorter. The file is looked up in peer_<id>/ first, then in the
// working directory.
func (s *storage) LoadPieces() ([][]byte, error) {
	path := filepath.Join(s.PeerDir(), s.cfg.FileName)
	if _, err := appFS.Stat(path); os.IsNotExist(err) {
		path = filepath.Join(s.cfg.WorkDir, s.cfg.FileName)
	}

	data, err := afero.ReadFile(appFS, path)
	if err != nil {
		return nil, fmt.Errorf("loading seed file: %w", err)
	}
	if int64(len(data)) != s.cfg.FileSize {
		return nil, fmt.Errorf("seed file %s is %d bytes, config says %d", path, len(data), s.cfg.FileSize)
	}

	numPieces := s.cfg.NumberOfPieces()
	pieces := make([][]byte, numPieces)
	for i := 0; i < numPieces; i++ {
		start := int64(i) * s.cfg.PieceSize
		end := start + s.cfg.PieceSize
		if end > s.cfg.FileSize {
			end = s.cfg.FileSize
		}
		pieces[i] = data[start:end]
	}
	log.WithFields(logrus.Fields{
		"file":   path,
		"pieces": numPieces,
	}).Info("loaded complete file")
	return pieces, nil
}

// Dump writes the reassembled file to peer_<id>/<FileName>.
func (s *storage) Dump(data []byte) error {
	if err := appFS.MkdirAll(s.PeerDir(), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", s.PeerDir(), err)
	}
	path := filepath.Join(s.PeerDir(), s.cfg.FileName)
	if err := afero.WriteFile(appFS, path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	log.WithFields(logrus.Fields{
		"file":  path,
		"bytes": len(data),
	}).Info("dumped complete file")
	return nil
}
