package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asciiEncoder is a plain passthrough TextEncoder used only to
// exercise the record<->chunk geometry math in isolation from any
// particular file system's byte encoding.
type asciiEncoder struct{}

func (asciiEncoder) Encode(txt string) ([]byte, bool) { return []byte(txt), true }
func (asciiEncoder) Decode(raw []byte) (string, bool) { return string(raw), true }

func TestRecordsToFromSparseDataRoundtrip(t *testing.T) {
	r := NewRecords(8)
	r.AddRecord(0, "hello")
	r.AddRecord(1, "world!!")
	r.AddRecord(3, "gap rec")

	sf, err := ToSparseData(r, 4, false, asciiEncoder{})
	require.NoError(t, err)

	back, err := FromSparseData(sf, 8, asciiEncoder{})
	require.NoError(t, err)

	assert.Equal(t, "hello", back.Map[0])
	assert.Equal(t, "world!!", back.Map[1])
	assert.Equal(t, "gap rec", back.Map[3])
	_, hasTwo := back.Map[2]
	assert.False(t, hasTwo, "record 2 was never written and should not appear")
}

func TestRecordsToSparseDataRequiresFirstChunk(t *testing.T) {
	r := NewRecords(8)
	sf, err := ToSparseData(r, 4, true, asciiEncoder{})
	require.NoError(t, err)
	_, ok := sf.Chunks[0]
	assert.True(t, ok, "requireFirst must force chunk 0 to exist")
}

func TestFromSparseDataZeroRecordLengthIsOutOfRange(t *testing.T) {
	sf := New(4)
	_, err := FromSparseData(sf, 0, asciiEncoder{})
	require.Error(t, err)
}

func TestRecordsJSONRoundtrip(t *testing.T) {
	r := NewRecords(128)
	r.AddRecord(0, "ten chars\nsecond field\n")
	r.AddRecord(7, "lone field\n")

	js, err := r.ToJSON(0)
	require.NoError(t, err)

	back, err := RecordsFromJSON([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, r.RecordLen, back.RecordLen)
	assert.Equal(t, r.Map, back.Map)
}

func TestRecordsFromJSONRejectsBadTag(t *testing.T) {
	_, err := RecordsFromJSON([]byte(`{"a2kit_type":"any","record_length":1,"records":{"0":["x"]}}`))
	require.Error(t, err)
}

func TestRecordsString(t *testing.T) {
	r := NewRecords(8)
	r.AddRecord(0, "hi")
	s := r.String()
	assert.Contains(t, s, "Record 0")
	assert.Contains(t, s, "hi")
	assert.Contains(t, s, "Record Count = 1")
}
