package sparse

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesequenceSequenceRoundtrip(t *testing.T) {
	cases := []struct {
		name     string
		chunkLen int
		size     int
	}{
		{"exact multiple", 4, 16},
		{"short last chunk", 5, 17},
		{"single byte chunks", 1, 9},
		{"chunk bigger than data", 256, 10},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data := make([]byte, c.size)
			_, err := rand.Read(data)
			require.NoError(t, err)

			sf := Desequence(c.chunkLen, data)
			assert.Equal(t, data, sf.Sequence())

			idx := sf.OrderedIndices()
			for i := 1; i < len(idx); i++ {
				assert.Less(t, idx[i-1], idx[i], "ordered indices must be strictly increasing")
			}
		})
	}
}

func TestDesequenceLastChunkNotPadded(t *testing.T) {
	sf := Desequence(4, []byte{1, 2, 3, 4, 5, 6})
	require.Len(t, sf.Chunks, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, sf.Chunks[0])
	assert.Equal(t, []byte{5, 6}, sf.Chunks[1])
}

func TestEndEmpty(t *testing.T) {
	sf := New(256)
	assert.Equal(t, 0, sf.End())
	sf.Chunks[3] = []byte{1}
	sf.Chunks[0] = []byte{1}
	assert.Equal(t, 4, sf.End())
}

func TestSequenceSkipsHoles(t *testing.T) {
	sf := New(2)
	sf.Chunks[0] = []byte{1, 2}
	sf.Chunks[2] = []byte{5, 6}
	assert.Equal(t, []byte{1, 2, 5, 6}, sf.Sequence())
	assert.Equal(t, []int{0, 2}, sf.OrderedIndices())
}

func TestSparseFileJSONRoundtrip(t *testing.T) {
	sf := New(256).WithType("bin").WithAux("2051")
	sf.Chunks[0] = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	sf.Chunks[5] = []byte{0x01}

	js, err := sf.ToJSON(0)
	require.NoError(t, err)

	back, err := FromJSON([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, sf.ChunkLen, back.ChunkLen)
	assert.Equal(t, sf.FSType, back.FSType)
	assert.Equal(t, sf.Aux, back.Aux)
	assert.Equal(t, sf.Chunks, back.Chunks)
}

func TestSparseFileFromJSONRejectsBadTag(t *testing.T) {
	_, err := FromJSON([]byte(`{"a2kit_type":"rec","fs_type":"bin","aux":"0","chunk_length":1,"chunks":{"0":"00"}}`))
	require.Error(t, err)
}

func TestSparseFileFromJSONRejectsBadHex(t *testing.T) {
	_, err := FromJSON([]byte(`{"a2kit_type":"any","fs_type":"bin","aux":"0","chunk_length":1,"chunks":{"0":"zz"}}`))
	require.Error(t, err)
}

func TestSparseFileFromJSONRejectsNonNumericKey(t *testing.T) {
	_, err := FromJSON([]byte(`{"a2kit_type":"any","fs_type":"bin","aux":"0","chunk_length":1,"chunks":{"x":"00"}}`))
	require.Error(t, err)
}
