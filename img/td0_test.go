package img

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTd0(t *testing.T) *Td0 {
	t.Helper()
	td := &Td0{
		Version:  0x15,
		DataRate: 0,
		Stepping: td0CommentMask,
		Sides:    1,
		Comment:  "two line\ncomment",
	}
	trk := Td0Track{Cylinder: 0, Head: 0}
	for id := byte(1); id <= 3; id++ {
		sec := Td0Sector{Cylinder: 0, Head: 0, ID: id, SectorShift: 2} // 512 bytes
		var dat []byte
		switch id {
		case 1:
			dat = bytes.Repeat([]byte{0xe5}, 512)
		case 2:
			dat = make([]byte, 512)
			for i := range dat {
				dat[i] = byte(i * 3)
			}
		case 3:
			sec.Flags = 0x20 // no data captured
		}
		if dat != nil {
			require.NoError(t, sec.Pack(dat))
		}
		trk.Sectors = append(trk.Sectors, sec)
	}
	td.Tracks = append(td.Tracks, trk)
	return td
}

func TestTd0RoundTrip(t *testing.T) {
	td := buildTd0(t)
	raw := td.Bytes()

	back, err := ParseTd0(raw)
	require.NoError(t, err)
	assert.Equal(t, "two line\ncomment", back.Comment)
	require.Len(t, back.Tracks, 1)
	require.Len(t, back.Tracks[0].Sectors, 3)

	got, err := back.ReadSector(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xe5}, 512), got)

	got, err = back.ReadSector(0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(9), got[3])

	_, err = back.ReadSector(0, 0, 3)
	assert.Error(t, err, "no-data sector")

	assert.Equal(t, raw, back.Bytes())
}

func TestTd0UniformSectorCompresses(t *testing.T) {
	var sec Td0Sector
	sec.SectorShift = 1 // 256 bytes
	require.NoError(t, sec.Pack(bytes.Repeat([]byte{7}, 256)))
	assert.Equal(t, 7, len(sec.packed), "uniform sector packs to the 5-byte Repeated form plus length prefix")
	got, err := sec.Unpack()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 256), got)
}

func TestTd0RunLengthDecode(t *testing.T) {
	// Hand-built RLE block for a 128-byte sector: a 2-byte pattern
	// repeated 62 times, then 4 literal bytes.
	var block bytes.Buffer
	block.Write([]byte{0, 0}) // length prefix, patched below
	block.WriteByte(td0EncRunLength)
	block.Write([]byte{1, 62, 0xab, 0xcd}) // read_count=2, repeat=62, pattern
	block.Write([]byte{0, 4, 1, 2, 3, 4})  // literal run of 4
	packed := block.Bytes()
	binary.LittleEndian.PutUint16(packed[0:2], uint16(len(packed)-2))

	sec := Td0Sector{SectorShift: 0, packed: packed}
	got, err := sec.Unpack()
	require.NoError(t, err)
	want := append(bytes.Repeat([]byte{0xab, 0xcd}, 62), 1, 2, 3, 4)
	assert.Equal(t, want, got)
}

func TestTd0WriteSector(t *testing.T) {
	td := buildTd0(t)
	dat := make([]byte, 512)
	dat[100] = 0x77
	require.NoError(t, td.WriteSector(0, 0, 3, dat), "writing clears the no-data flag")
	got, err := td.ReadSector(0, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, dat, got)
}

func TestTd0Rejects(t *testing.T) {
	_, err := ParseTd0([]byte("xx too short"))
	assert.Error(t, err)

	advanced := buildTd0(t).Bytes()
	advanced[0], advanced[1] = 't', 'd'
	_, err = ParseTd0(advanced)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "advanced compression")

	corrupt := buildTd0(t).Bytes()
	corrupt[5] ^= 0xff // header byte covered by the CRC
	_, err = ParseTd0(corrupt)
	assert.Error(t, err)
}

func TestTd0ToLogical(t *testing.T) {
	td := buildTd0(t)
	flat, err := td.ToLogical()
	require.NoError(t, err)
	require.Equal(t, 3*512, len(flat))
	assert.Equal(t, byte(0xe5), flat[0])
	assert.Equal(t, byte(9), flat[512+3])
	assert.Equal(t, make([]byte, 512), flat[1024:], "no-data sector flattens to zeros")
}
