// Package sparse implements the ordered-chunk intermediate
// representation that every file system package in diskii reads and
// writes through: an ordered map of chunk-index to byte-vector that
// preserves holes, round-trips through JSON, and underlies the
// Records random-access text overlay (records.go).
//
// A "chunk" is whatever quantum the owning file system addresses a
// file in: a 256-byte DOS 3.3 sector, a 512-byte ProDOS block, a
// CP/M logical extent record, or a FAT cluster. SparseFile itself
// knows nothing about any of that; it is pure bookkeeping.
package sparse

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/zellyn/diskii/diskerr"
)

// SparseFile is an ordered map of chunk-index to byte-vector. All
// chunks but (optionally) the last are expected to be chunkLen
// bytes; the type itself does not enforce this.
type SparseFile struct {
	ChunkLen int
	FSType   string
	Aux      string
	Chunks   map[int][]byte
}

// New returns an empty SparseFile with the conventional defaults
// ("bin" type, "0" aux) a freshly-`bsave`d file would carry.
func New(chunkLen int) *SparseFile {
	return &SparseFile{
		ChunkLen: chunkLen,
		FSType:   "bin",
		Aux:      "0",
		Chunks:   map[int][]byte{},
	}
}

// WithType sets the file-system-specific type tag and returns the
// receiver, so callers can chain it onto New/Desequence.
func (s *SparseFile) WithType(fsType string) *SparseFile {
	s.FSType = fsType
	return s
}

// WithAux sets the file-system-specific auxiliary string and returns
// the receiver.
func (s *SparseFile) WithAux(aux string) *SparseFile {
	s.Aux = aux
	return s
}

// OrderedIndices returns the chunk indices present, sorted
// ascending.
func (s *SparseFile) OrderedIndices() []int {
	idx := make([]int, 0, len(s.Chunks))
	for i := range s.Chunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// End returns one past the highest present chunk index, or zero if
// the file has no chunks at all.
func (s *SparseFile) End() int {
	idx := s.OrderedIndices()
	if len(idx) == 0 {
		return 0
	}
	return idx[len(idx)-1] + 1
}

// Sequence concatenates the present chunks in index order. Holes
// are skipped entirely (not zero-filled); callers that need a
// contiguous byte stream with holes materialized should walk
// 0..End() themselves and substitute zero chunks.
func (s *SparseFile) Sequence() []byte {
	var buf bytes.Buffer
	for _, i := range s.OrderedIndices() {
		buf.Write(s.Chunks[i])
	}
	return buf.Bytes()
}

// Desequence slices data into chunkLen-byte chunks starting at index
// 0. The final chunk is not padded out to chunkLen. If data is
// empty, the returned SparseFile has no chunks at all (callers that
// need a first chunk placeholder, e.g. ProDOS text files, insert it
// themselves).
func Desequence(chunkLen int, data []byte) *SparseFile {
	s := New(chunkLen)
	mark := 0
	idx := 0
	for mark < len(data) {
		end := mark + chunkLen
		if end > len(data) {
			end = len(data)
		}
		chunk := make([]byte, end-mark)
		copy(chunk, data[mark:end])
		s.Chunks[idx] = chunk
		mark = end
		idx++
	}
	return s
}

// jsonForm is the on-the-wire shape of a SparseFile: a2kit_type is a
// fixed tag, chunk keys are decimal strings, chunk values are
// uppercase hex.
type jsonForm struct {
	A2KitType string            `json:"a2kit_type"`
	FSType    string            `json:"fs_type"`
	Aux       string            `json:"aux"`
	ChunkLen  int               `json:"chunk_length"`
	Chunks    map[string]string `json:"chunks"`
}

// ToJSON renders the SparseFile to its wire form. indent <= 0
// produces compact JSON; indent > 0 produces that many spaces of
// indentation per nesting level.
func (s *SparseFile) ToJSON(indent int) (string, error) {
	jf := jsonForm{
		A2KitType: "any",
		FSType:    s.FSType,
		Aux:       s.Aux,
		ChunkLen:  s.ChunkLen,
		Chunks:    make(map[string]string, len(s.Chunks)),
	}
	for i, chunk := range s.Chunks {
		jf.Chunks[strconv.Itoa(i)] = hex.EncodeToString(chunk)
	}
	// encoding/json lower-cases hex from %x but the wire format wants
	// upper; EncodeToString is always lowercase, so upper-case it here
	// rather than hand-rolling a second hex table.
	for k, v := range jf.Chunks {
		jf.Chunks[k] = toUpperHex(v)
	}
	var (
		raw []byte
		err error
	)
	if indent > 0 {
		raw, err = json.MarshalIndent(jf, "", spaces(indent))
	} else {
		raw, err = json.Marshal(jf)
	}
	if err != nil {
		return "", diskerr.Wrap(diskerr.BadFormat, err, "marshaling sparse file")
	}
	return string(raw), nil
}

// FromJSON parses the wire form produced by ToJSON. It rejects a
// type-tag mismatch, non-numeric chunk keys, and bad hex, matching
// the source's from_json contract.
func FromJSON(data []byte) (*SparseFile, error) {
	var jf jsonForm
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, diskerr.Wrap(diskerr.InputFormatBad, err, "parsing sparse file JSON")
	}
	if jf.A2KitType != "any" {
		return nil, diskerr.InputFormatBadf("sparse file JSON metadata type mismatch: %q", jf.A2KitType)
	}
	if len(jf.Chunks) == 0 {
		return nil, diskerr.InputFormatBadf("no chunk entries in sparse file JSON")
	}
	s := &SparseFile{
		ChunkLen: jf.ChunkLen,
		FSType:   jf.FSType,
		Aux:      jf.Aux,
		Chunks:   make(map[int][]byte, len(jf.Chunks)),
	}
	for key, hexStr := range jf.Chunks {
		num, err := strconv.Atoi(key)
		if err != nil {
			return nil, diskerr.InputFormatBadf("non-numeric chunk key %q", key)
		}
		dat, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, diskerr.Wrap(diskerr.InputFormatBad, err, "bad hex in chunk %d", num)
		}
		s.Chunks[num] = dat
	}
	return s, nil
}

func toUpperHex(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func spaces(n int) string {
	return fmt.Sprintf("%*s", n, "")
}
