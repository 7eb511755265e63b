package img

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/zellyn/diskii/disk"
)

func TestNewNibShape(t *testing.T) {
	n := NewNib(254)
	assert.Equal(t, 35*TrackCapacityNib, len(n.Bytes()))
	assert.Equal(t, 35, n.Tracks())
	assert.Equal(t, TrackCapacityNib, n.TrackCapacity())
}

func TestNibFromBytesSizes(t *testing.T) {
	_, err := NibFromBytes(make([]byte, 35*TrackCapacityNib))
	require.NoError(t, err)
	_, err = NibFromBytes(make([]byte, 35*TrackCapacityNB2))
	require.NoError(t, err)
	_, err = NibFromBytes(make([]byte, 1000))
	assert.Error(t, err)
}

func TestNibSectorRoundTrip(t *testing.T) {
	n := NewNib(254)

	got, err := n.ReadSector(3, 5)
	require.NoError(t, err)
	assert.Equal(t, [256]byte{}, got, "freshly formatted sector should be zero")

	var want [256]byte
	for i := range want {
		want[i] = byte(i * 7)
	}
	require.NoError(t, n.WriteSector(3, 5, want))
	got, err = n.ReadSector(3, 5)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// neighboring sector untouched
	got, err = n.ReadSector(3, 6)
	require.NoError(t, err)
	assert.Equal(t, [256]byte{}, got)
}

func TestNibDORoundTrip(t *testing.T) {
	doImg := make([]byte, 35*16*256)
	for i := range doImg {
		doImg[i] = byte(i % 251)
	}
	physical := func(logical byte) byte { return byte(disk.Dos33LogicalToPhysicalSectorMap[logical]) }

	n, err := NibFromDO(doImg, physical)
	require.NoError(t, err)
	back, err := n.ToDO(physical)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(doImg, back))
}

func TestDecompressPassThrough(t *testing.T) {
	plain := []byte("IMD 1.18: not actually compressed")
	got, err := Decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestDecompressXz(t *testing.T) {
	payload := make([]byte, 35*TrackCapacityNB2)
	for i := range payload {
		payload[i] = byte(i)
	}
	var compressed bytes.Buffer
	w, err := xz.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	n, err := NibFromBytes(compressed.Bytes())
	require.NoError(t, err)
	assert.Equal(t, payload, n.Bytes())
}
