// sparse.go implements the hole-preserving SparseFile read/write path
// and the in-place directory entry mutations (rename, retype, lock,
// unlock) for ProDOS volumes.

package prodos

import (
	"strconv"

	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

var _ types.SparseOperator = operator{}
var _ types.EntryMutator = operator{}
var _ types.Standardizer = operator{}

// prodosFSType maps a ProDOS filetype byte to the fs_type tag used in
// SparseFile JSON.
func prodosFSType(t byte) string {
	switch types.Filetype(t) {
	case types.FiletypeASCIIText:
		return "txt"
	case types.FiletypeIntegerBASIC:
		return "itok"
	case types.FiletypeApplesoftBASIC:
		return "atok"
	case types.FiletypeSystem:
		return "sys"
	default:
		return "bin"
	}
}

// GetAny retrieves a file as raw 512-byte chunks, preserving holes: a
// zero pointer in a sapling or tree index block becomes a missing
// chunk index. The final present chunk is trimmed to the file's EOF.
func (o operator) GetAny(filename string) (*sparse.SparseFile, error) {
	_, desc, found, err := findTopLevelEntry(o.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == filename
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, diskerr.FileNotFoundf("file %q not found", filename)
	}

	sf := sparse.New(512).WithType(prodosFSType(desc.FileType)).WithAux(strconv.Itoa(int(desc.AuxType)))
	addChunk := func(index int, block uint16) error {
		b, err := disk.ReadBlock(o.data, block)
		if err != nil {
			return err
		}
		sf.Chunks[index] = append([]byte(nil), b[:]...)
		return nil
	}

	switch desc.Type() {
	case TypeSeedling:
		if err := addChunk(0, desc.KeyPointer); err != nil {
			return nil, err
		}
	case TypeSapling:
		idx, err := readIndexBlock(o.data, desc.KeyPointer)
		if err != nil {
			return nil, err
		}
		for i := 0; i < 256; i++ {
			if b := idx.Get(byte(i)); b != 0 {
				if err := addChunk(i, b); err != nil {
					return nil, err
				}
			}
		}
	case TypeTree:
		master, err := readIndexBlock(o.data, desc.KeyPointer)
		if err != nil {
			return nil, err
		}
		for s := 0; s < 256; s++ {
			sub := master.Get(byte(s))
			if sub == 0 {
				continue
			}
			subIdx, err := readIndexBlock(o.data, sub)
			if err != nil {
				return nil, err
			}
			for i := 0; i < 256; i++ {
				if b := subIdx.Get(byte(i)); b != 0 {
					if err := addChunk(s*256+i, b); err != nil {
						return nil, err
					}
				}
			}
		}
	default:
		return nil, diskerr.UnsupportedItemTypef("cannot read prodos storage type %d", desc.Type())
	}

	// Trim the last chunk to EOF.
	eof := int(desc.EOF[0]) + int(desc.EOF[1])<<8 + int(desc.EOF[2])<<16
	if end := sf.End(); end > 0 {
		last := end - 1
		if rem := eof - last*512; rem > 0 && rem < 512 {
			sf.Chunks[last] = sf.Chunks[last][:rem]
		}
	}
	return sf, nil
}

// sparseLayout works out the storage type and index-block count for a
// sparse file: the type is driven by the chunk-index span (holes
// included), while only present chunks consume data blocks; a tree
// file needs a sub-index block only for each 256-chunk span that
// holds at least one present chunk.
func sparseLayout(f *sparse.SparseFile) (storageType byte, dataBlocks, indexBlocks int) {
	end := f.End()
	dataBlocks = len(f.Chunks)
	if dataBlocks == 0 {
		dataBlocks = 1
	}
	switch {
	case end <= 1:
		return TypeSeedling, dataBlocks, 0
	case end <= 256:
		return TypeSapling, dataBlocks, 1
	default:
		subs := map[int]bool{}
		for i := range f.Chunks {
			subs[i/256] = true
		}
		return TypeTree, dataBlocks, 1 + len(subs)
	}
}

// PutAny writes a file from raw chunks. A missing chunk index becomes
// a zero index-block pointer, so sparseness survives a round-trip.
// The same pre-check-then-commit contract as PutFile applies.
func (o operator) PutAny(fileInfo types.FileInfo, f *sparse.SparseFile, overwrite bool) (existed bool, err error) {
	name := fileInfo.Descriptor.Name
	nameBytes, nameLen, err := encodeProDOSName(name)
	if err != nil {
		return false, err
	}
	for i, chunk := range f.Chunks {
		if len(chunk) > 512 {
			return false, diskerr.OutOfRangef("chunk %d is %d bytes; ProDOS blocks hold 512", i, len(chunk))
		}
	}

	existingLoc, existingDesc, found, err := findTopLevelEntry(o.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == name
	})
	if err != nil {
		return false, err
	}
	if found {
		if existingDesc.Access&AccessDestroyable == 0 {
			return false, diskerr.FileLockedf("file %q is locked", name)
		}
		if !overwrite {
			return false, diskerr.FileExistsf("file %q already exists", name)
		}
	}

	kb, err := readKeyBlock(o.data)
	if err != nil {
		return false, err
	}
	bitmap, err := readVolumeBitMap(o.data, kb.Header.BitMapPointer)
	if err != nil {
		return false, err
	}

	storageType, dataBlocks, indexBlocks := sparseLayout(f)
	needed := dataBlocks + indexBlocks
	free := bitmap.freeCount(kb.Header.TotalBlocks)
	if found {
		free += int(existingDesc.BlocksUsed)
	}
	if needed > free {
		return false, diskerr.DiskFullf("file %q needs %d blocks; only %d free", name, needed, free)
	}

	loc := existingLoc
	if !found {
		loc, err = allocDirSlot(o.data, bitmap, kb.Header.TotalBlocks)
		if err != nil {
			return false, err
		}
	}
	if found {
		if err := freeFileBlocks(o.data, bitmap, existingDesc); err != nil {
			return false, err
		}
	}

	alloc := func() (uint16, error) {
		b, ok := bitmap.allocBlock(kb.Header.TotalBlocks)
		if !ok {
			return 0, diskerr.DiskFullf("no free block available for %q", name)
		}
		return b, nil
	}
	writeChunk := func(chunk []byte) (uint16, error) {
		b, err := alloc()
		if err != nil {
			return 0, err
		}
		padded := make([]byte, 512)
		copy(padded, chunk)
		return b, disk.WriteBlock(o.data, b, 0, padded)
	}

	blockFor := map[int]uint16{}
	for _, i := range f.OrderedIndices() {
		b, err := writeChunk(f.Chunks[i])
		if err != nil {
			return false, err
		}
		blockFor[i] = b
	}

	var keyBlockNum uint16
	switch storageType {
	case TypeSeedling:
		if len(blockFor) == 0 {
			b, err := writeChunk(nil)
			if err != nil {
				return false, err
			}
			blockFor[0] = b
		}
		keyBlockNum = blockFor[0]
	case TypeSapling:
		var idx IndexBlock
		for i, b := range blockFor {
			idx.Set(byte(i), b)
		}
		keyBlockNum, err = alloc()
		if err != nil {
			return false, err
		}
		if err := disk.WriteBlock(o.data, keyBlockNum, 0, idx[:]); err != nil {
			return false, err
		}
	case TypeTree:
		var master IndexBlock
		subIdxs := map[int]*IndexBlock{}
		for i, b := range blockFor {
			s := i / 256
			if subIdxs[s] == nil {
				subIdxs[s] = &IndexBlock{}
			}
			subIdxs[s].Set(byte(i%256), b)
		}
		for s, subIdx := range subIdxs {
			subBlockNum, err := alloc()
			if err != nil {
				return false, err
			}
			if err := disk.WriteBlock(o.data, subBlockNum, 0, subIdx[:]); err != nil {
				return false, err
			}
			master.Set(byte(s), subBlockNum)
		}
		keyBlockNum, err = alloc()
		if err != nil {
			return false, err
		}
		if err := disk.WriteBlock(o.data, keyBlockNum, 0, master[:]); err != nil {
			return false, err
		}
	}

	eof := 0
	if end := f.End(); end > 0 {
		eof = (end-1)*512 + len(f.Chunks[end-1])
	}
	access := AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable
	if fileInfo.Descriptor.Locked {
		access = AccessReadable
	}
	aux := fileInfo.StartAddress
	if aux == 0 && f.Aux != "" {
		if v, err := strconv.Atoi(f.Aux); err == nil {
			aux = uint16(v)
		}
	}
	desc := FileDescriptor{
		TypeAndNameLength: storageType<<4 | nameLen,
		FileName:          nameBytes,
		FileType:          byte(fileInfo.Descriptor.Type),
		KeyPointer:        keyBlockNum,
		BlocksUsed:        uint16(needed),
		EOF:               [3]byte{byte(eof), byte(eof >> 8), byte(eof >> 16)},
		Access:            access,
		AuxType:           aux,
		HeaderPointer:     VolumeDirectoryKeyBlockNumber,
	}
	if err := writeDirEntry(o.data, loc, desc); err != nil {
		return false, err
	}
	if err := bitmap.Write(o.data); err != nil {
		return false, err
	}
	if !found {
		kb2, err := readKeyBlock(o.data)
		if err != nil {
			return false, err
		}
		kb2.Header.FileCount++
		if err := disk.MarshalBlock(o.data, kb2); err != nil {
			return false, err
		}
	}
	return found, nil
}

// findLiveEntry finds a non-deleted, non-subdirectory entry by name.
func findLiveEntry(devicebytes []byte, filename string) (prodosLocator, FileDescriptor, error) {
	loc, desc, found, err := findTopLevelEntry(devicebytes, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == filename
	})
	if err != nil {
		return loc, desc, err
	}
	if !found {
		return loc, desc, diskerr.FileNotFoundf("file %q not found", filename)
	}
	return loc, desc, nil
}

// Rename changes a file's name in its directory entry.
func (o operator) Rename(oldName, newName string) error {
	nameBytes, nameLen, err := encodeProDOSName(newName)
	if err != nil {
		return err
	}
	loc, desc, err := findLiveEntry(o.data, oldName)
	if err != nil {
		return err
	}
	if desc.Access&AccessRenamable == 0 {
		return diskerr.FileLockedf("file %q is locked", oldName)
	}
	if _, _, found, err := findTopLevelEntry(o.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == newName
	}); err != nil {
		return err
	} else if found {
		return diskerr.DuplicateFilenamef("file %q already exists", newName)
	}
	desc.TypeAndNameLength = desc.Type()<<4 | nameLen
	desc.FileName = nameBytes
	return writeDirEntry(o.data, loc, desc)
}

// Retype changes a file's ProDOS filetype byte.
func (o operator) Retype(filename string, newType types.Filetype) error {
	if newType < 0 || newType > 0xff {
		return diskerr.FileTypeMismatchf("prodos cannot represent filetype %s", newType)
	}
	loc, desc, err := findLiveEntry(o.data, filename)
	if err != nil {
		return err
	}
	desc.FileType = byte(newType)
	return writeDirEntry(o.data, loc, desc)
}

// Lock reduces a file's access byte to read-only.
func (o operator) Lock(filename string) error {
	loc, desc, err := findLiveEntry(o.data, filename)
	if err != nil {
		return err
	}
	desc.Access = AccessReadable
	return writeDirEntry(o.data, loc, desc)
}

// Unlock restores a file's full access bits.
func (o operator) Unlock(filename string) error {
	loc, desc, err := findLiveEntry(o.data, filename)
	if err != nil {
		return err
	}
	desc.Access = AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable
	return writeDirEntry(o.data, loc, desc)
}

// Standardize reports the offsets of every timestamp in the volume
// directory chain (the header's creation time and each entry's
// creation and last-mod times), which two logically identical volumes
// may legitimately disagree on.
func (o operator) Standardize() []int {
	var offsets []int
	maskRange := func(start, n int) {
		for i := 0; i < n; i++ {
			offsets = append(offsets, start+i)
		}
	}
	block := uint16(VolumeDirectoryKeyBlockNumber)
	for rep := 0; block != 0 && rep < MaxDirectoryReps; rep++ {
		base := int(block) * 512
		entryStart := 0x04
		numEntries := 13
		if block == VolumeDirectoryKeyBlockNumber {
			maskRange(base+0x04+0x18, 4) // header creation time
			entryStart = 0x2b
			numEntries = 12
		}
		for i := 0; i < numEntries; i++ {
			e := base + entryStart + i*0x27
			maskRange(e+0x18, 4) // creation
			maskRange(e+0x21, 4) // last mod
		}
		b, err := disk.ReadBlock(o.data, block)
		if err != nil {
			break
		}
		block = uint16(b[2]) | uint16(b[3])<<8
	}
	return offsets
}
