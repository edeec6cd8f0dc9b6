package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Common holds the swarm-wide parameters from Common.cfg.
type Common struct {
	NumberOfPreferredNeighbors  int
	UnchokingInterval           int
	OptimisticUnchokingInterval int
	FileName                    string
	FileSize                    int64
	PieceSize                   int64
}

// PeerInfo is one row of PeerInfo.cfg. Row order matters: a peer dials every
// peer listed before it and accepts connections from peers listed after it.
type PeerInfo struct {
	ID      int
	Host    string
	Port    int
	HasFile bool
}

// Config is everything a single peer process needs to join the swarm.
type Config struct {
	Common
	Peers   []PeerInfo
	LocalID int

	// WorkDir is where peer_<id> directories live. Defaults to ".".
	WorkDir string
}

func (c *Common) NumberOfPieces() int {
	return int((c.FileSize + c.PieceSize - 1) / c.PieceSize)
}

// PieceLength returns the byte length of piece index, the last piece being
// whatever remains of the file.
func (c *Common) PieceLength(index int) int {
	if index == c.NumberOfPieces()-1 {
		return int(c.FileSize - int64(c.NumberOfPieces()-1)*c.PieceSize)
	}
	return int(c.PieceSize)
}

// LoadCommon parses Common.cfg. The file is whitespace-separated key/value
// lines, which is valid java-properties input.
func LoadCommon(path string) (*Common, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	c := &Common{
		NumberOfPreferredNeighbors:  v.GetInt("NumberOfPreferredNeighbors"),
		UnchokingInterval:           v.GetInt("UnchokingInterval"),
		OptimisticUnchokingInterval: v.GetInt("OptimisticUnchokingInterval"),
		FileName:                    v.GetString("FileName"),
		FileSize:                    v.GetInt64("FileSize"),
		PieceSize:                   v.GetInt64("PieceSize"),
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c *Common) validate() error {
	if c.NumberOfPreferredNeighbors < 1 {
		return fmt.Errorf("NumberOfPreferredNeighbors must be positive")
	}
	if c.UnchokingInterval < 1 || c.OptimisticUnchokingInterval < 1 {
		return fmt.Errorf("unchoking intervals must be positive")
	}
	if c.FileName == "" {
		return fmt.Errorf("FileName is missing")
	}
	if c.FileSize < 1 || c.PieceSize < 1 {
		return fmt.Errorf("FileSize and PieceSize must be positive")
	}
	return nil
}

// LoadPeers parses PeerInfo.cfg: "<peerId> <hostname> <port> <hasFile>" rows.
func LoadPeers(path string) ([]PeerInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	var peers []PeerInfo
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 4 {
			return nil, fmt.Errorf("%s line %d: want 4 fields, got %d", path, line, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad peer id %q", path, line, fields[0])
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad port %q", path, line, fields[2])
		}
		hasFile, err := strconv.Atoi(fields[3])
		if err != nil || (hasFile != 0 && hasFile != 1) {
			return nil, fmt.Errorf("%s line %d: hasFile must be 0 or 1", path, line)
		}
		peers = append(peers, PeerInfo{
			ID:      id,
			Host:    fields[1],
			Port:    port,
			HasFile: hasFile == 1,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("%s: no peers listed", path)
	}
	return peers, nil
}

// Load reads both configuration files and binds them to the local peer id.
func Load(commonPath, peerInfoPath string, localID int) (*Config, error) {
	common, err := LoadCommon(commonPath)
	if err != nil {
		return nil, err
	}
	peers, err := LoadPeers(peerInfoPath)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Common:  *common,
		Peers:   peers,
		LocalID: localID,
		WorkDir: ".",
	}
	if _, ok := cfg.Peer(localID); !ok {
		return nil, fmt.Errorf("local peer %d is not listed in %s", localID, peerInfoPath)
	}
	return cfg, nil
}

// Peer looks a roster entry up by id.
func (c *Config) Peer(id int) (PeerInfo, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return PeerInfo{}, false
}

// Local returns the roster entry of this process.
func (c *Config) Local() PeerInfo {
	p, _ := c.Peer(c.LocalID)
	return p
}

// DialTargets returns the peers listed before the local peer, in order.
// These are the connections this process initiates.
func (c *Config) DialTargets() []PeerInfo {
	var out []PeerInfo
	for _, p := range c.Peers {
		if p.ID == c.LocalID {
			break
		}
		out = append(out, p)
	}
	return out
}

// RemoteIDs returns every roster id except the local one.
func (c *Config) RemoteIDs() []int {
	var out []int
	for _, p := range c.Peers {
		if p.ID != c.LocalID {
			out = append(out, p.ID)
		}
	}
	return out
}
