package stats

import (
	"sync"

	underscore "github.com/ahl5esoft/golang-underscore"
	"github.com/sirupsen/logrus"
)

var log = logrus.StandardLogger()

// Stats keeps rolling per-peer transfer-rate windows for progress logging.
// The choking decisions themselves read the authoritative interval counters
// on the connection states; this is observability only.
type Stats interface {
	UpdatePeer(id int, uploaded int, downloaded int)
	RemovePeer(id int)
	GetPeerStats() map[int]*PeerStat
}

const (
	PONDERATION_TIME = 10
)

type stats struct {
	sync.Mutex

	clientStats *ClientStats
	peerStats   map[int]*PeerStat
}

type ClientStats struct {
	UploadRate       int
	DownloadRate     int
	uploadActivity   [PONDERATION_TIME]int
	downloadActivity [PONDERATION_TIME]int
	i                int
}

type PeerStat struct {
	UploadRate       int
	DownloadRate     int
	currentUpload    int
	currentDownload  int
	uploadActivity   [PONDERATION_TIME]int
	downloadActivity [PONDERATION_TIME]int
	i                int
}

func NewStats() Stats {
	return &stats{
		clientStats: &ClientStats{},
		peerStats:   make(map[int]*PeerStat),
	}
}

func (s *stats) UpdatePeer(id int, uploaded int, downloaded int) {
	s.Lock()
	defer s.Unlock()

	peerStat, ok := s.peerStats[id]
	if !ok {
		peerStat = &PeerStat{}
		s.peerStats[id] = peerStat
	}
	peerStat.currentUpload += uploaded
	peerStat.currentDownload += downloaded
}

func (s *stats) RemovePeer(id int) {
	s.Lock()
	defer s.Unlock()

	delete(s.peerStats, id)
}

func sumReduce(acc int, x, _ int) int {
	return acc + x
}

// GetPeerStats rolls every activity window forward one slot and returns the
// smoothed rates. Called once per choking tick.
func (s *stats) GetPeerStats() map[int]*PeerStat {
	s.Lock()
	defer s.Unlock()

	clientCurrentUpload := 0
	clientCurrentDownload := 0
	for _, peerStat := range s.peerStats {
		peerStat.uploadActivity[peerStat.i] = peerStat.currentUpload
		peerStat.downloadActivity[peerStat.i] = peerStat.currentDownload
		underscore.Chain(peerStat.uploadActivity).Reduce(sumReduce, 0).Value(&peerStat.UploadRate)
		peerStat.UploadRate /= PONDERATION_TIME
		underscore.Chain(peerStat.downloadActivity).Reduce(sumReduce, 0).Value(&peerStat.DownloadRate)
		peerStat.DownloadRate /= PONDERATION_TIME
		peerStat.i = (peerStat.i + 1) % PONDERATION_TIME

		clientCurrentUpload += peerStat.currentUpload
		clientCurrentDownload += peerStat.currentDownload
		peerStat.currentUpload = 0
		peerStat.currentDownload = 0
	}

	s.clientStats.uploadActivity[s.clientStats.i] = clientCurrentUpload
	s.clientStats.downloadActivity[s.clientStats.i] = clientCurrentDownload
	underscore.Chain(s.clientStats.uploadActivity).Reduce(sumReduce, 0).Value(&s.clientStats.UploadRate)
	s.clientStats.UploadRate /= PONDERATION_TIME
	underscore.Chain(s.clientStats.downloadActivity).Reduce(sumReduce, 0).Value(&s.clientStats.DownloadRate)
	s.clientStats.DownloadRate /= PONDERATION_TIME
	s.clientStats.i = (s.clientStats.i + 1) % PONDERATION_TIME

	log.WithFields(logrus.Fields{
		"download_Bps": s.clientStats.DownloadRate,
		"upload_Bps":   s.clientStats.UploadRate,
	}).Debug("transfer rates")
	return s.peerStats
}
