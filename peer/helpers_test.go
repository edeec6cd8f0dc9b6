package peer

import (
	"github.com/Matthew-VandenBoom/NetworkingProject/config"
)

func testConfig(fileSize, pieceSize int64) *config.Config {
	return &config.Config{
		Common: config.Common{
			NumberOfPreferredNeighbors:  2,
			UnchokingInterval:           5,
			OptimisticUnchokingInterval: 15,
			FileName:                    "TheFile.dat",
			FileSize:                    fileSize,
			PieceSize:                   pieceSize,
		},
		Peers: []config.PeerInfo{
			{ID: 1001, Host: "localhost", Port: 6001, HasFile: true},
			{ID: 1002, Host: "localhost", Port: 6002},
			{ID: 1003, Host: "localhost", Port: 6003},
			{ID: 1004, Host: "localhost", Port: 6004},
		},
		LocalID: 1002,
		WorkDir: ".",
	}
}
