// Package diskfs is the uniform BASIC-flavored facade over the
// per-file-system operators: CATALOG, BLOAD/BSAVE, LOAD/SAVE,
// sequential and random-access text, raw SparseFile and block access,
// and masked image comparison.
//
// The facade itself is file-system agnostic. Typed operations build
// on the core Operator interface; richer behavior (sparse files,
// entry mutation, text encodings, comparison masks) is discovered by
// probing the operator for the optional capability interfaces in
// package types. An operator that lacks a capability gets a
// taxonomy-level "unsupported" error rather than a wrong answer.
package diskfs

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

// FS wraps a types.Operator with the uniform typed file operations.
type FS struct {
	op types.Operator
}

// New wraps op in the facade.
func New(op types.Operator) *FS {
	return &FS{op: op}
}

// Operator returns the underlying operator.
func (f *FS) Operator() types.Operator { return f.op }

// Name returns the underlying file system's name.
func (f *FS) Name() string { return f.op.Name() }

// chunkLen returns the file system's chunk quantum: DOS 3.3 files are
// addressed in 256-byte sectors, everything else in 512-byte blocks.
func (f *FS) chunkLen() int {
	if f.op.Name() == "dos3" {
		return 256
	}
	return 512
}

func (f *FS) encoder() sparse.TextEncoder {
	if p, ok := f.op.(types.TextEncoderProvider); ok {
		return p.TextEncoder()
	}
	return plainEncoder{}
}

// plainEncoder is the fallback text encoding: 7-bit ASCII, LF
// newlines unchanged.
type plainEncoder struct{}

func (plainEncoder) Encode(txt string) ([]byte, bool) {
	for i := 0; i < len(txt); i++ {
		if txt[i] >= 0x80 {
			return nil, false
		}
	}
	return []byte(txt), true
}

func (plainEncoder) Decode(raw []byte) (string, bool) {
	for _, c := range raw {
		if c >= 0x80 {
			return "", false
		}
	}
	return string(raw), true
}

// Catalog lists the files in subdir ("" for the top level).
func (f *FS) Catalog(subdir string) ([]types.Descriptor, error) {
	return f.op.Catalog(subdir)
}

// Create makes a subdirectory on file systems that support them.
func (f *FS) Create(subdir string) error {
	if !f.op.HasSubdirs() {
		return diskerr.UnsupportedItemTypef("%s does not support directories", f.op.Name())
	}
	return diskerr.UnsupportedItemTypef("%s does not implement directory creation", f.op.Name())
}

// Delete removes a file. It reports whether the file existed.
func (f *FS) Delete(filename string) (bool, error) {
	return f.op.Delete(filename)
}

func (f *FS) mutator() (types.EntryMutator, error) {
	if m, ok := f.op.(types.EntryMutator); ok {
		return m, nil
	}
	return nil, diskerr.UnsupportedItemTypef("%s does not support in-place entry changes", f.op.Name())
}

// Rename changes a file's name.
func (f *FS) Rename(oldName, newName string) error {
	m, err := f.mutator()
	if err != nil {
		return err
	}
	return m.Rename(oldName, newName)
}

// Retype changes a file's type code.
func (f *FS) Retype(filename string, newType types.Filetype) error {
	m, err := f.mutator()
	if err != nil {
		return err
	}
	return m.Retype(filename, newType)
}

// Lock write-protects a file.
func (f *FS) Lock(filename string) error {
	m, err := f.mutator()
	if err != nil {
		return err
	}
	return m.Lock(filename)
}

// Unlock removes a file's write protection.
func (f *FS) Unlock(filename string) error {
	m, err := f.mutator()
	if err != nil {
		return err
	}
	return m.Unlock(filename)
}

// BLoad retrieves a binary file and its start address.
func (f *FS) BLoad(filename string) (addr uint16, data []byte, err error) {
	fi, err := f.op.GetFile(filename)
	if err != nil {
		return 0, nil, err
	}
	if fi.Descriptor.Type != types.FiletypeBinary {
		return 0, nil, diskerr.FileTypeMismatchf("%q is type %s, not binary", filename, fi.Descriptor.Type)
	}
	return fi.StartAddress, fi.Data, nil
}

// BSave writes a binary file with the given start address.
func (f *FS) BSave(filename string, data []byte, addr uint16) error {
	_, err := f.op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{
			Name:   filename,
			Type:   types.FiletypeBinary,
			Length: len(data),
		},
		Data:         data,
		StartAddress: addr,
	}, true)
	return err
}

// deduceApplesoftAddress recovers the load address of a tokenized
// Applesoft program: the first line's link field holds the absolute
// address of the second line, and the second line starts right after
// the first line's terminating NUL.
func deduceApplesoftAddress(tokens []byte) uint16 {
	const defaultAddr = 0x0801
	if len(tokens) < 5 {
		return defaultAddr
	}
	link := binary.LittleEndian.Uint16(tokens[0:2])
	if link == 0 {
		return defaultAddr
	}
	for i := 4; i < len(tokens); i++ {
		if tokens[i] == 0 {
			offset := uint16(i + 1)
			if link > offset {
				return link - offset
			}
			return defaultAddr
		}
	}
	return defaultAddr
}

// Load retrieves a tokenized BASIC program and its load address. The
// token stream is treated as opaque bytes.
func (f *FS) Load(filename string) (addr uint16, tokens []byte, err error) {
	fi, err := f.op.GetFile(filename)
	if err != nil {
		return 0, nil, err
	}
	switch fi.Descriptor.Type {
	case types.FiletypeApplesoftBASIC:
		return deduceApplesoftAddress(fi.Data), fi.Data, nil
	case types.FiletypeIntegerBASIC:
		return fi.StartAddress, fi.Data, nil
	default:
		return 0, nil, diskerr.FileTypeMismatchf("%q is type %s, not BASIC", filename, fi.Descriptor.Type)
	}
}

// Save writes a tokenized BASIC program. For Applesoft, the load
// address is deduced from the token stream's first line link.
func (f *FS) Save(filename string, tokens []byte, filetype types.Filetype) error {
	var addr uint16
	switch filetype {
	case types.FiletypeApplesoftBASIC:
		addr = deduceApplesoftAddress(tokens)
	case types.FiletypeIntegerBASIC:
		// no deducible address
	default:
		return diskerr.FileTypeMismatchf("cannot SAVE filetype %s", filetype)
	}
	_, err := f.op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{
			Name:   filename,
			Type:   filetype,
			Length: len(tokens),
		},
		Data:         tokens,
		StartAddress: addr,
	}, true)
	return err
}

// ReadText retrieves a sequential text file as UTF-8 with LF
// newlines, decoded from the file system's native text encoding.
func (f *FS) ReadText(filename string) (string, error) {
	fi, err := f.op.GetFile(filename)
	if err != nil {
		return "", err
	}
	data := fi.Data
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	txt, ok := f.encoder().Decode(data)
	if !ok {
		return "", diskerr.InputFormatBadf("%q contains bytes outside the %s text encoding", filename, f.op.Name())
	}
	return txt, nil
}

// WriteText writes a sequential text file in the file system's native
// text encoding.
func (f *FS) WriteText(filename string, text string) error {
	raw, ok := f.encoder().Encode(text)
	if !ok {
		return diskerr.InputFormatBadf("text for %q contains characters the %s encoding cannot represent", filename, f.op.Name())
	}
	_, err := f.op.PutFile(types.FileInfo{
		Descriptor: types.Descriptor{
			Name:   filename,
			Type:   types.FiletypeASCIIText,
			Length: len(raw),
		},
		Data: raw,
	}, true)
	return err
}

// ReadRecords retrieves a random-access text file. recordLen of zero
// means "use the record length stored in the file's aux field", where
// the file system records one.
func (f *FS) ReadRecords(filename string, recordLen int) (*sparse.Records, error) {
	sf, err := f.ReadAny(filename)
	if err != nil {
		return nil, err
	}
	if recordLen == 0 {
		if n, err := strconv.Atoi(sf.Aux); err == nil {
			recordLen = n
		}
	}
	return sparse.FromSparseData(sf, recordLen, f.encoder())
}

// WriteRecords writes a random-access text file.
func (f *FS) WriteRecords(filename string, recs *sparse.Records) error {
	sf, err := sparse.ToSparseData(recs, f.chunkLen(), true, f.encoder())
	if err != nil {
		return err
	}
	return f.WriteAny(filename, sf)
}

// ReadAny retrieves a file as a SparseFile. File systems that can
// represent holes preserve them; for the rest the file arrives as
// contiguous chunks.
func (f *FS) ReadAny(filename string) (*sparse.SparseFile, error) {
	if sp, ok := f.op.(types.SparseOperator); ok {
		return sp.GetAny(filename)
	}
	fi, err := f.op.GetFile(filename)
	if err != nil {
		return nil, err
	}
	return sparse.Desequence(f.chunkLen(), fi.Data), nil
}

// WriteAny writes a file from a SparseFile, overwriting any existing
// file of the same name.
func (f *FS) WriteAny(filename string, sf *sparse.SparseFile) error {
	ftype := types.FiletypeBinary
	switch sf.FSType {
	case "txt":
		ftype = types.FiletypeASCIIText
	case "atok":
		ftype = types.FiletypeApplesoftBASIC
	case "itok":
		ftype = types.FiletypeIntegerBASIC
	case "sys":
		ftype = types.FiletypeSystem
	}
	fi := types.FileInfo{
		Descriptor: types.Descriptor{
			Name: filename,
			Type: ftype,
		},
	}
	if sp, ok := f.op.(types.SparseOperator); ok {
		_, err := sp.PutAny(fi, sf, true)
		return err
	}
	fi.Data = sf.Sequence()
	fi.Descriptor.Length = len(fi.Data)
	_, err := f.op.PutFile(fi, true)
	return err
}

// ReadBlock returns 512-byte block n of the underlying image.
func (f *FS) ReadBlock(n uint16) ([]byte, error) {
	b, err := disk.ReadBlock(f.op.GetBytes(), n)
	if err != nil {
		return nil, err
	}
	return b[:], nil
}

// WriteBlock replaces 512-byte block n of the underlying image.
func (f *FS) WriteBlock(n uint16, data []byte) error {
	if len(data) != 512 {
		return diskerr.OutOfRangef("block writes must be exactly 512 bytes; got %d", len(data))
	}
	return disk.WriteBlock(f.op.GetBytes(), n, 0, data)
}

// GetImg returns the image bytes in the operator's logical order.
func (f *FS) GetImg() []byte {
	return f.op.GetBytes()
}

// Standardize returns the byte offsets that should be masked before
// comparing this image against another: bytes two logically identical
// images may legitimately disagree on (allocation hints, timestamps).
func (f *FS) Standardize() []int {
	if s, ok := f.op.(types.Standardizer); ok {
		return s.Standardize()
	}
	return nil
}

// Compare checks that two images hold identical bytes after masking
// both sides' Standardize offsets. It reports the first differing
// offset on failure.
func (f *FS) Compare(other *FS) error {
	a := append([]byte(nil), f.GetImg()...)
	b := append([]byte(nil), other.GetImg()...)
	if len(a) != len(b) {
		return diskerr.OutOfRangef("images differ in size: %d vs %d bytes", len(a), len(b))
	}
	for _, off := range append(f.Standardize(), other.Standardize()...) {
		if off >= 0 && off < len(a) {
			a[off] = 0
			b[off] = 0
		}
	}
	for i := range a {
		if a[i] != b[i] {
			return diskerr.Newf(diskerr.BadFormat, "images differ at offset %d: %02x vs %02x", i, a[i], b[i])
		}
	}
	return nil
}
