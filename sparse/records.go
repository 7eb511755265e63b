package sparse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/zellyn/diskii/diskerr"
)

// TextEncoder converts between a UTF-8 string (LF or CRLF separated
// fields) and whatever byte encoding a file system's text files use
// on disk (e.g. DOS 3.3's negative-ASCII, ProDOS's high-bit-clear
// ASCII). Implementations live alongside each file system package;
// sparse only depends on the interface.
type TextEncoder interface {
	// Encode returns the on-disk bytes for txt, or false if txt
	// contains a character the encoding cannot represent.
	Encode(txt string) ([]byte, bool)
	// Decode returns the UTF-8 string for raw, or false if raw
	// contains a byte the encoding cannot represent.
	Decode(raw []byte) (string, bool)
}

// Records is a random-access text file: every record is RecordLen
// bytes on disk, and Map holds the subset of record numbers that are
// actually populated, keyed by record index.
type Records struct {
	RecordLen int
	Map       map[int]string
}

// NewRecords returns an empty Records collection with the given
// fixed record length.
func NewRecords(recordLen int) *Records {
	return &Records{RecordLen: recordLen, Map: map[int]string{}}
}

// AddRecord sets record number num to fields (LF-separated field
// values).
func (r *Records) AddRecord(num int, fields string) {
	r.Map[num] = fields
}

// FromSparseData reconstructs records from chunked on-disk data. For
// every chunk present, it computes which record numbers start inside
// that chunk, then for each such candidate record requires every
// chunk the record spans to be present before decoding it. Decoded
// text is truncated at the first NUL. This can find spurious records
// when a file's random-access write pattern left chunks allocated
// out of the order a record scan would expect; that is inherent to
// the storage scheme, not a bug in the scan.
func FromSparseData(dat *SparseFile, recordLength int, enc TextEncoder) (*Records, error) {
	if recordLength == 0 {
		return nil, diskerr.OutOfRangef("record length must be nonzero")
	}
	ans := NewRecords(recordLength)

	var candidates []int
	for c := range dat.Chunks {
		startRec := c*dat.ChunkLen/recordLength + ceilRemainder(c*dat.ChunkLen, recordLength)
		endRec := (c+1)*dat.ChunkLen/recordLength + ceilRemainder((c+1)*dat.ChunkLen, recordLength)
		for r := startRec; r < endRec; r++ {
			candidates = append(candidates, r)
		}
	}
	sort.Ints(candidates)

	for _, r := range candidates {
		startChunk := r * recordLength / dat.ChunkLen
		endChunk := 1 + ((r+1)*recordLength-1)/dat.ChunkLen
		startOffset := r * recordLength % dat.ChunkLen

		var raw []byte
		complete := true
		for chunkNum := startChunk; chunkNum < endChunk; chunkNum++ {
			chunk, ok := dat.Chunks[chunkNum]
			if !ok {
				complete = false
				continue
			}
			padded := make([]byte, dat.ChunkLen)
			copy(padded, chunk)
			raw = append(raw, padded...)
		}
		if !complete || startOffset >= len(raw) {
			continue
		}
		actualEnd := startOffset + recordLength
		if actualEnd > len(raw) {
			actualEnd = len(raw)
		}
		longStr, ok := enc.Decode(raw[startOffset:actualEnd])
		if !ok {
			continue
		}
		partial := longStr
		if i := strings.IndexByte(longStr, 0); i >= 0 {
			partial = longStr[:i]
		}
		if len(partial) > 0 {
			ans.Map[r] = partial
		}
	}
	return ans, nil
}

// ceilRemainder returns 1 when a%b > 0, else 0 — the fractional-chunk
// rounding used throughout the record<->chunk geometry math.
func ceilRemainder(a, b int) int {
	if a%b > 0 {
		return 1
	}
	return 0
}

// ToSparseData lays the records out into chunkLen-sized chunks,
// tagging the result as a "txt" sparse file with aux = RecordLen. If
// requireFirst is set, chunk 0 is always present (ProDOS text files
// must reference a first block even when record 0 is empty).
func ToSparseData(r *Records, chunkLen int, requireFirst bool, enc TextEncoder) (*SparseFile, error) {
	ans := New(chunkLen).WithType("txt")
	ans.Aux = strconv.Itoa(r.RecordLen)

	if requireFirst {
		ans.Chunks[0] = make([]byte, chunkLen)
	}

	for recNum, fields := range r.Map {
		dataBytes, ok := enc.Encode(fields)
		if !ok {
			return nil, diskerr.InputFormatBadf("record %d could not be encoded", recNum)
		}
		logicalChunk := r.RecordLen * recNum / chunkLen
		endLogicalChunk := 1 + (r.RecordLen*(recNum+1)-1)/chunkLen
		fwdOffset := r.RecordLen * recNum % chunkLen

		for lb := logicalChunk; lb < endLogicalChunk; lb++ {
			startByte := 0
			if lb == logicalChunk {
				startByte = fwdOffset
			}
			endByte := chunkLen
			if lb == endLogicalChunk-1 {
				endByte = fwdOffset + len(dataBytes) - chunkLen*(endLogicalChunk-logicalChunk-1)
			}
			buf := ans.Chunks[lb]
			for len(buf) < endByte {
				buf = append(buf, 0)
			}
			for i := startByte; i < endByte; i++ {
				buf[i] = dataBytes[chunkLen*(lb-logicalChunk)+i-fwdOffset]
			}
			ans.Chunks[lb] = buf
		}
	}
	return ans, nil
}

// recordsJSONForm is the on-the-wire shape of a Records collection:
// a2kit_type is a fixed tag, record keys are decimal strings, each
// value is the record's fields split into one string per line.
type recordsJSONForm struct {
	A2KitType string              `json:"a2kit_type"`
	RecordLen int                 `json:"record_length"`
	Records   map[string][]string `json:"records"`
}

// ToJSON renders the Records collection to its wire form. indent <=
// 0 produces compact JSON.
func (r *Records) ToJSON(indent int) (string, error) {
	jf := recordsJSONForm{
		A2KitType: "rec",
		RecordLen: r.RecordLen,
		Records:   make(map[string][]string, len(r.Map)),
	}
	for num, fields := range r.Map {
		lines := strings.Split(fields, "\n")
		// Trim a single trailing empty element left by a terminal "\n",
		// matching the source's line-oriented to_json.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		jf.Records[strconv.Itoa(num)] = lines
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
		return "", diskerr.Wrap(diskerr.BadFormat, err, "marshaling records")
	}
	return string(raw), nil
}

// RecordsFromJSON parses the wire form produced by Records.ToJSON.
func RecordsFromJSON(data []byte) (*Records, error) {
	var jf recordsJSONForm
	if err := json.Unmarshal(data, &jf); err != nil {
		return nil, diskerr.Wrap(diskerr.InputFormatBad, err, "parsing records JSON")
	}
	if jf.A2KitType != "rec" {
		return nil, diskerr.InputFormatBadf("records JSON metadata type mismatch: %q", jf.A2KitType)
	}
	if len(jf.Records) == 0 {
		return nil, diskerr.InputFormatBadf("no record entries in records JSON")
	}
	ans := NewRecords(jf.RecordLen)
	for key, lines := range jf.Records {
		num, err := strconv.Atoi(key)
		if err != nil {
			return nil, diskerr.InputFormatBadf("non-numeric record key %q", key)
		}
		var b strings.Builder
		for _, line := range lines {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		ans.Map[num] = b.String()
	}
	return ans, nil
}

// String implements fmt.Stringer, listing each record and a trailing
// count, mirroring the source's Display impl.
func (r *Records) String() string {
	var b strings.Builder
	idx := make([]int, 0, len(r.Map))
	for i := range r.Map {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(&b, "Record %d\n", i)
		for _, field := range strings.Split(r.Map[i], "\n") {
			if field == "" {
				continue
			}
			fmt.Fprintf(&b, "    %s\n", field)
		}
	}
	fmt.Fprintf(&b, "Record Count = %d\n", len(r.Map))
	return b.String()
}

