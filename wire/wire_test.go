package wire

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	packets := []Packet{
		NewChoke(),
		NewUnchoke(),
		NewInterested(),
		NewNotInterested(),
		NewHave(7),
		NewBitfield([]byte{0xA5, 0x80}),
		NewRequest(3),
		NewPiece(2, []byte("piece content bytes")),
	}

	for _, pkt := range packets {
		data, err := pkt.Build()
		require.NoError(t, err, TypeString(pkt.ID))
		require.True(t, len(data) >= 5, TypeString(pkt.ID))

		decoded := Decode(data[4:])
		assert.Equal(t, pkt, decoded, TypeString(pkt.ID))
	}
}

func TestBuildRefusesUnsetIndex(t *testing.T) {
	_, err := Packet{ID: HAVE, PieceIndex: -1}.Build()
	assert.Error(t, err)

	_, err = Packet{ID: REQUEST, PieceIndex: -1}.Build()
	assert.Error(t, err)
}

func TestDecodeUnknown(t *testing.T) {
	assert.Equal(t, byte(UNKNOWN), Decode(nil).ID)
	assert.Equal(t, byte(UNKNOWN), Decode([]byte{42}).ID)
	// HAVE with a truncated index
	assert.Equal(t, byte(UNKNOWN), Decode([]byte{HAVE, 0, 0}).ID)
	// PIECE without an index
	assert.Equal(t, byte(UNKNOWN), Decode([]byte{PIECE, 1}).ID)
}

func TestHandshakeRoundTrip(t *testing.T) {
	record := BuildHandshake(1007)
	require.Len(t, record, HandshakeLength)
	assert.Equal(t, HandshakeHeader, string(record[:18]))
	for _, b := range record[18:28] {
		assert.Equal(t, byte(0), b)
	}

	id, err := ParseHandshake(record)
	require.NoError(t, err)
	assert.Equal(t, 1007, id)
}

func TestParseHandshakeRejectsBadHeader(t *testing.T) {
	record := BuildHandshake(1)
	record[0] = 'X'
	_, err := ParseHandshake(record)
	assert.Error(t, err)

	_, err = ParseHandshake(record[:31])
	assert.Error(t, err)
}

func TestWireReadMessage(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	w := NewWire(local)

	go func() {
		data, _ := NewPiece(1, []byte{9, 8, 7}).Build()
		remote.Write(data)
	}()

	pkt, err := w.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(PIECE), pkt.ID)
	assert.Equal(t, 1, pkt.PieceIndex)
	assert.Equal(t, []byte{9, 8, 7}, pkt.Content)
}

func TestWireReadMessageShortLength(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	w := NewWire(local)

	go func() {
		// zero length header, then a valid frame
		remote.Write([]byte{0, 0, 0, 0})
		data, _ := NewInterested().Build()
		remote.Write(data)
	}()

	pkt, err := w.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(UNKNOWN), pkt.ID)

	pkt, err = w.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, byte(INTERESTED), pkt.ID)
}

func TestWireReadHandshake(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	w := NewWire(local)

	go func() {
		record := BuildHandshake(1002)
		// split the write to exercise the short-read loop
		remote.Write(record[:10])
		remote.Write(record[10:])
	}()

	pkt, err := w.ReadHandshake()
	require.NoError(t, err)
	assert.Equal(t, byte(HANDSHAKE), pkt.ID)

	id, err := ParseHandshake(pkt.Content)
	require.NoError(t, err)
	assert.Equal(t, 1002, id)
}
