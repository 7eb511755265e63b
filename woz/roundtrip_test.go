package woz_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/data"
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/dos3"
	"github.com/zellyn/diskii/woz"
)

func physicalSector(logical byte) byte {
	return byte(disk.Dos33LogicalToPhysicalSectorMap[logical])
}

func TestFromDORoundTrip(t *testing.T) {
	doImg, err := dos3.CreateDiskBytes(254)
	require.NoError(t, err)
	// Scribble a recognizable pattern over a few data tracks.
	for i := 0; i < 4096; i++ {
		doImg[5*4096+i] = byte(i % 253)
	}

	w, err := woz.FromDO(doImg, physicalSector)
	require.NoError(t, err)

	// Whole tracks are mapped at quarter-track positions 4T-1..4T+1.
	assert.Equal(t, uint8(0), w.TMap[0])
	assert.Equal(t, uint8(0), w.TMap[1])
	assert.Equal(t, uint8(0xff), w.TMap[2])
	assert.Equal(t, uint8(1), w.TMap[3])
	assert.Equal(t, uint8(1), w.TMap[4])
	assert.Equal(t, uint8(1), w.TMap[5])
	assert.Equal(t, uint8(34), w.TMap[136])

	// Encoding and re-decoding must satisfy the CRC check.
	raw, err := w.Encode()
	require.NoError(t, err)
	back, err := woz.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), back.Info.Version)

	// Restricting comparison to nibble-decoded sector contents gives
	// exact equality with the source image.
	got, err := back.ToDO(physicalSector)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(doImg, got))
}

func TestDecodeRejectsBadCRC(t *testing.T) {
	doImg, err := dos3.CreateDiskBytes(1)
	require.NoError(t, err)
	w, err := woz.FromDO(doImg, physicalSector)
	require.NoError(t, err)
	raw, err := w.Encode()
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0xff
	_, err = woz.Decode(bytes.NewReader(raw))
	var crcErr woz.CRCError
	require.ErrorAs(t, err, &crcErr)
	assert.NotEqual(t, crcErr.Declared, crcErr.Computed)
}

func TestV1EncodeDecodeRoundTrip(t *testing.T) {
	wz, err := woz.Decode(bytes.NewReader(data.DOS33masterWOZ))
	require.NoError(t, err)

	raw, err := wz.Encode()
	require.NoError(t, err)
	back, err := woz.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, wz.Info, back.Info)
	assert.Equal(t, wz.TMap, back.TMap)
	assert.Equal(t, len(wz.TRKS), len(back.TRKS))
	for i := range wz.TRKS {
		if !bytes.Equal(wz.TRKS[i].BitStream[:], back.TRKS[i].BitStream[:]) {
			t.Fatalf("track %d bitstream mismatch after re-encode", i)
		}
	}
	assert.Equal(t, wz.Metadata, back.Metadata)
}
