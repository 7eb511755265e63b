package img

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildImd assembles a one-track IMD stream by hand: 4 sectors of 256
// bytes with sector map {1,3,2,4}, sector 3 stored compressed.
func buildImd() []byte {
	var out bytes.Buffer
	out.WriteString("IMD 1.18: 01-01-2020 12:00:00") // exactly 29 bytes
	out.WriteString("test comment")
	out.WriteByte(0x1a)
	out.Write([]byte{5, 0, 0, 4, 1}) // mode, cyl, head, sectors, shift (256 bytes)
	out.Write([]byte{1, 3, 2, 4})    // sector map
	// sector 1: normal
	out.WriteByte(1)
	sec1 := bytes.Repeat([]byte{0xaa, 0x55}, 128)
	out.Write(sec1)
	// sector 3: compressed uniform 0x42
	out.Write([]byte{2, 0x42})
	// sector 2: normal
	out.WriteByte(1)
	sec2 := make([]byte, 256)
	for i := range sec2 {
		sec2[i] = byte(i)
	}
	out.Write(sec2)
	// sector 4: unreadable
	out.WriteByte(0)
	return out.Bytes()
}

func TestImdParse(t *testing.T) {
	im, err := ParseImd(buildImd())
	require.NoError(t, err)
	assert.Equal(t, "test comment", im.Comment)
	require.Len(t, im.Tracks, 1)
	trk := &im.Tracks[0]
	assert.Equal(t, 256, trk.SectorSize())
	assert.Equal(t, []byte{1, 3, 2, 4}, trk.SectorMap)

	got, err := im.ReadSector(0, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 256), got, "compressed sector expands to its fill byte")

	got, err = im.ReadSector(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xaa, 0x55}, 128), got)

	_, err = im.ReadSector(0, 0, 4)
	assert.Error(t, err, "unreadable sector")
}

func TestImdEmitRoundTrip(t *testing.T) {
	src := buildImd()
	im, err := ParseImd(src)
	require.NoError(t, err)
	assert.Equal(t, src, im.Bytes(), "parse-emit should be byte identical, including re-compression")
}

func TestImdWriteSector(t *testing.T) {
	im, err := ParseImd(buildImd())
	require.NoError(t, err)

	require.NoError(t, im.WriteSector(0, 0, 4, []byte{9, 9, 9}))
	got, err := im.ReadSector(0, 0, 4)
	require.NoError(t, err)
	want := make([]byte, 256)
	want[0], want[1], want[2] = 9, 9, 9
	assert.Equal(t, want, got, "short writes are zero padded, unreadable flag cleared")

	assert.Error(t, im.WriteSector(0, 0, 1, make([]byte, 257)))
	assert.Error(t, im.WriteSector(0, 0, 9, nil))
	assert.Error(t, im.WriteSector(1, 0, 1, nil))
}

func TestImdToLogical(t *testing.T) {
	im, err := ParseImd(buildImd())
	require.NoError(t, err)
	flat := im.ToLogical()
	require.Equal(t, 4*256, len(flat))
	// ascending sector-id order: 1, 2, 3, 4
	assert.Equal(t, bytes.Repeat([]byte{0xaa, 0x55}, 128), flat[0:256])
	assert.Equal(t, byte(5), flat[256+5])
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 256), flat[512:768])
	assert.Equal(t, make([]byte, 256), flat[768:1024], "unreadable sector flattens to zeros")
}

func TestImdRejects(t *testing.T) {
	_, err := ParseImd([]byte("XYZ"))
	assert.Error(t, err)
	_, err = ParseImd([]byte("IMD 9.99: 01-01-2020 12:00:00 comment\x1a"))
	assert.Error(t, err)
}
