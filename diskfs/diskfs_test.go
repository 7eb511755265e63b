package diskfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/dos3"
	"github.com/zellyn/diskii/prodos"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

func dos3FS(t *testing.T) *FS {
	t.Helper()
	data, err := dos3.CreateDiskBytes(254)
	require.NoError(t, err)
	op, err := dos3.OperatorFactory{}.Operator(data, false)
	require.NoError(t, err)
	return New(op)
}

func prodosFS(t *testing.T) *FS {
	t.Helper()
	data, err := prodos.CreateVolumeBytes("TEST", 280)
	require.NoError(t, err)
	op, err := prodos.OperatorFactory{}.Operator(data, false)
	require.NoError(t, err)
	return New(op)
}

func TestBSaveBLoad(t *testing.T) {
	fs := dos3FS(t)
	require.NoError(t, fs.BSave("HELLO", []byte{1, 2, 3, 4}, 0x0803))

	addr, data, err := fs.BLoad("HELLO")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0803), addr)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)

	cat, err := fs.Catalog("")
	require.NoError(t, err)
	require.Len(t, cat, 1)
	assert.Equal(t, "HELLO", cat[0].Name)
	assert.Equal(t, types.FiletypeBinary, cat[0].Type)
}

func TestBLoadTypeMismatch(t *testing.T) {
	fs := dos3FS(t)
	require.NoError(t, fs.WriteText("NOTES", "HELLO\n"))
	_, _, err := fs.BLoad("NOTES")
	assert.True(t, diskerr.Is(err, diskerr.FileTypeMismatch))
}

// tokenize a minimal two-line Applesoft program as it would sit in
// memory at addr: each line is link, line number, tokens, NUL; the
// listing ends with a zero link.
func applesoftBlob(addr uint16) []byte {
	line1 := []byte{0xba, 0x22, 0x48, 0x49, 0x22} // PRINT "HI"
	line2 := []byte{0x80}                         // END
	l1 := addr + uint16(4+len(line1)+1)
	l2 := l1 + uint16(4+len(line2)+1)
	var out []byte
	out = append(out, byte(l1), byte(l1>>8), 10, 0)
	out = append(out, line1...)
	out = append(out, 0)
	out = append(out, byte(l2), byte(l2>>8), 20, 0)
	out = append(out, line2...)
	out = append(out, 0, 0, 0)
	return out
}

func TestSaveLoadApplesoft(t *testing.T) {
	fs := dos3FS(t)
	blob := applesoftBlob(0x0801)
	require.NoError(t, fs.Save("PROG", blob, types.FiletypeApplesoftBASIC))

	addr, tokens, err := fs.Load("PROG")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0801), addr)
	assert.Equal(t, blob, tokens)
}

func TestDeduceApplesoftAddress(t *testing.T) {
	assert.Equal(t, uint16(0x0801), deduceApplesoftAddress(applesoftBlob(0x0801)))
	assert.Equal(t, uint16(0x4000), deduceApplesoftAddress(applesoftBlob(0x4000)))
	assert.Equal(t, uint16(0x0801), deduceApplesoftAddress(nil), "degenerate input falls back to the default")
}

func TestReadWriteText(t *testing.T) {
	for _, mk := range []func(*testing.T) *FS{dos3FS, prodosFS} {
		fs := mk(t)
		text := "HELLO\nWORLD\n"
		require.NoError(t, fs.WriteText("GREETS", text), fs.Name())
		got, err := fs.ReadText("GREETS")
		require.NoError(t, err, fs.Name())
		assert.Equal(t, text, got, fs.Name())
	}
}

func TestReadWriteAnyPreservesHoles(t *testing.T) {
	for _, mk := range []func(*testing.T) *FS{dos3FS, prodosFS} {
		fs := mk(t)
		sf := sparse.New(fs.chunkLen())
		sf.Chunks[0] = []byte{0x11}
		sf.Chunks[3] = []byte{0x33}
		require.NoError(t, fs.WriteAny("SPARSE", sf), fs.Name())
		got, err := fs.ReadAny("SPARSE")
		require.NoError(t, err, fs.Name())
		assert.Equal(t, []int{0, 3}, got.OrderedIndices(), fs.Name())
	}
}

func TestReadWriteRecords(t *testing.T) {
	fs := prodosFS(t)
	recs := sparse.NewRecords(127)
	recs.AddRecord(1, "FIRST")
	recs.AddRecord(9, "NINTH")
	require.NoError(t, fs.WriteRecords("RANDOM", recs))

	got, err := fs.ReadRecords("RANDOM", 127)
	require.NoError(t, err)
	assert.Equal(t, recs.Map, got.Map)
}

func TestBlockAccess(t *testing.T) {
	fs := prodosFS(t)
	blk := make([]byte, 512)
	blk[0] = 0xab
	require.NoError(t, fs.WriteBlock(100, blk))
	got, err := fs.ReadBlock(100)
	require.NoError(t, err)
	assert.Equal(t, blk, got)

	assert.Error(t, fs.WriteBlock(100, blk[:10]))
}

func TestCompareWithMasking(t *testing.T) {
	a := dos3FS(t)
	b := dos3FS(t)
	require.NoError(t, a.Compare(b))

	// A difference in a masked (allocation-hint) byte is tolerated...
	a.GetImg()[a.Standardize()[0]] ^= 0xff
	require.NoError(t, a.Compare(b))

	// ...but a difference in file data is not.
	require.NoError(t, a.BSave("X", []byte{1}, 0))
	assert.Error(t, a.Compare(b))
}

func TestMutationsThroughFacade(t *testing.T) {
	fs := dos3FS(t)
	require.NoError(t, fs.BSave("A", []byte{1}, 0))
	require.NoError(t, fs.Lock("A"))
	require.NoError(t, fs.Unlock("A"))
	require.NoError(t, fs.Rename("A", "B"))
	require.NoError(t, fs.Retype("B", types.FiletypeASCIIText))
	existed, err := fs.Delete("B")
	require.NoError(t, err)
	assert.True(t, existed)

	assert.True(t, diskerr.Is(fs.Create("SUB"), diskerr.UnsupportedItemType))
}
