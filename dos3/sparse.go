// sparse.go implements the hole-preserving SparseFile read/write path
// and the in-place catalog entry mutations (rename, retype, lock,
// unlock) for DOS 3.3 disks.

package dos3

import (
	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/sparse"
	"github.com/zellyn/diskii/types"
)

var _ types.SparseOperator = operator{}
var _ types.EntryMutator = operator{}
var _ types.Standardizer = operator{}

// fsTypeString maps a DOS 3.3 filetype byte to the fs_type tag used
// in SparseFile JSON.
func fsTypeString(t Filetype) string {
	switch t & 0x7f {
	case FiletypeText:
		return "txt"
	case FiletypeInteger:
		return "itok"
	case FiletypeApplesoft:
		return "atok"
	default:
		return "bin"
	}
}

// GetAny retrieves a file as raw 256-byte chunks, preserving holes:
// a zero (track, sector) pair in the track/sector list becomes a
// missing chunk index rather than a run of zeros.
func (o operator) GetAny(filename string) (*sparse.SparseFile, error) {
	_, fd, found, err := findInCatalog(o.data, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == filename
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, diskerr.FileNotFoundf("file %q not found", filename)
	}

	sf := sparse.New(256).WithType(fsTypeString(fd.Filetype))
	nextTrack, nextSector := fd.TrackSectorListTrack, fd.TrackSectorListSector
	seen := map[disk.TrackSector]bool{}
	chunkIndex := 0
	for i := 0; (nextTrack != 0 || nextSector != 0) && i < MaxTSListReps; i++ {
		ts := disk.TrackSector{Track: nextTrack, Sector: nextSector}
		if seen[ts] {
			return nil, diskerr.BadFormatf("track/sector list for %q loops at track %d sector %d", filename, nextTrack, nextSector)
		}
		seen[ts] = true
		tsl := TrackSectorList{}
		if err := disk.UnmarshalLogicalSector(o.data, &tsl, nextTrack, nextSector); err != nil {
			return nil, err
		}
		last := -1
		if tsl.NextTrack == 0 && tsl.NextSector == 0 {
			for j, dts := range tsl.TrackSectors {
				if dts.Track != 0 || dts.Sector != 0 {
					last = j
				}
			}
		} else {
			last = len(tsl.TrackSectors) - 1
		}
		for j := 0; j <= last; j++ {
			dts := tsl.TrackSectors[j]
			if dts.Track != 0 || dts.Sector != 0 {
				contents, err := disk.ReadSector(o.data, dts.Track, dts.Sector)
				if err != nil {
					return nil, err
				}
				sf.Chunks[chunkIndex] = contents
			}
			chunkIndex++
		}
		nextTrack, nextSector = tsl.NextTrack, tsl.NextSector
	}
	return sf, nil
}

// PutAny writes a file from raw chunks. A missing chunk index becomes
// a zero (track, sector) pair in the track/sector list, so sparseness
// survives a round-trip. The same atomicity contract as PutFile
// applies: space and slot are verified before any mutation.
func (o operator) PutAny(fileInfo types.FileInfo, f *sparse.SparseFile, overwrite bool) (existed bool, err error) {
	name := fileInfo.Descriptor.Name
	filenameBytes, err := encodeDOS3Filename(name)
	if err != nil {
		return false, err
	}
	dosType, err := filetypeToDOS3(fileInfo.Descriptor.Type)
	if err != nil {
		return false, err
	}
	statusByte := dosType
	if fileInfo.Descriptor.Locked {
		statusByte |= FiletypeLocked
	}
	for i, chunk := range f.Chunks {
		if len(chunk) > 256 {
			return false, diskerr.OutOfRangef("chunk %d is %d bytes; DOS 3.3 sectors hold 256", i, len(chunk))
		}
	}

	existingLoc, existingFD, found, err := findInCatalog(o.data, func(fd FileDesc) bool {
		return fd.Status() == FileDescStatusNormal && fd.FilenameString() == name
	})
	if err != nil {
		return false, err
	}
	if found {
		if existingFD.Filetype&FiletypeLocked != 0 {
			return false, diskerr.FileLockedf("file %q is locked", name)
		}
		if !overwrite {
			return false, diskerr.FileExistsf("file %q already exists", name)
		}
	}

	end := f.End()
	if end == 0 {
		end = 1 // DOS 3.3 always allocates at least one data sector.
	}
	dataSectors := len(f.Chunks)
	if dataSectors == 0 {
		dataSectors = 1
	}

	v := &VTOC{}
	if err := disk.UnmarshalLogicalSector(o.data, v, VTOCTrack, VTOCSector); err != nil {
		return false, err
	}
	maxPairs := int(v.TrackSectorListMaxSize)
	tslSectors := 1 + (end-1)/maxPairs

	needed := dataSectors + tslSectors
	free := v.freeSectorCount()
	if found {
		free += int(existingFD.SectorCount)
	} else {
		if _, _, slotFound, err := findInCatalog(o.data, func(fd FileDesc) bool {
			return fd.Status() != FileDescStatusNormal
		}); err != nil {
			return false, err
		} else if !slotFound {
			return false, diskerr.DirectoryFullf("no free catalog slot for %q", name)
		}
	}
	if needed > free {
		return false, diskerr.DiskFullf("file %q needs %d sectors; only %d free", name, needed, free)
	}

	if found {
		if err := deleteChain(o.data, v, existingFD); err != nil {
			return false, err
		}
	}

	tsls := make([]*TrackSectorList, 0, tslSectors)
	newTSL := func(offset int) (*TrackSectorList, error) {
		t, s, ok := v.allocSector()
		if !ok {
			return nil, diskerr.DiskFullf("ran out of sectors allocating track/sector list for %q", name)
		}
		tsl := &TrackSectorList{SectorOffset: uint16(offset)}
		tsl.SetTrack(t)
		tsl.SetSector(s)
		return tsl, nil
	}
	first, err := newTSL(0)
	if err != nil {
		return false, err
	}
	tsls = append(tsls, first)

	pairIndex := 0
	for i := 0; i < end; i++ {
		if pairIndex == maxPairs {
			next, err := newTSL(i)
			if err != nil {
				return false, err
			}
			tsls[len(tsls)-1].NextTrack = next.GetTrack()
			tsls[len(tsls)-1].NextSector = next.GetSector()
			tsls = append(tsls, next)
			pairIndex = 0
		}
		chunk, present := f.Chunks[i]
		if !present && !(i == 0 && len(f.Chunks) == 0) {
			pairIndex++ // hole: leave the (0,0) pair in place
			continue
		}
		dt, ds, ok := v.allocSector()
		if !ok {
			return false, diskerr.DiskFullf("ran out of sectors allocating data for %q", name)
		}
		tsls[len(tsls)-1].TrackSectors[pairIndex] = disk.TrackSector{Track: dt, Sector: ds}
		pairIndex++

		padded := make([]byte, 256)
		copy(padded, chunk)
		if err := disk.WriteSector(o.data, dt, ds, padded); err != nil {
			return false, err
		}
	}

	for _, tsl := range tsls {
		if err := disk.MarshalLogicalSector(o.data, tsl); err != nil {
			return false, err
		}
	}
	if err := disk.MarshalLogicalSector(o.data, v); err != nil {
		return false, err
	}

	newFD := FileDesc{
		TrackSectorListTrack:  first.GetTrack(),
		TrackSectorListSector: first.GetSector(),
		Filetype:              statusByte,
		Filename:              filenameBytes,
		SectorCount:           uint16(needed),
	}
	if found {
		return true, writeCatalogEntry(o.data, existingLoc, newFD)
	}
	slotLoc, _, _, err := findInCatalog(o.data, func(fd FileDesc) bool {
		return fd.Status() != FileDescStatusNormal
	})
	if err != nil {
		return false, err
	}
	return false, writeCatalogEntry(o.data, slotLoc, newFD)
}

// findNormal finds a live catalog entry by name.
func findNormal(diskbytes []byte, filename string) (catalogLocator, FileDesc, error) {
	loc, fd, found, err := findInCatalog(diskbytes, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == filename
	})
	if err != nil {
		return loc, fd, err
	}
	if !found {
		return loc, fd, diskerr.FileNotFoundf("file %q not found", filename)
	}
	return loc, fd, nil
}

// Rename changes a file's name in its catalog entry.
func (o operator) Rename(oldName, newName string) error {
	newNameBytes, err := encodeDOS3Filename(newName)
	if err != nil {
		return err
	}
	loc, fd, err := findNormal(o.data, oldName)
	if err != nil {
		return err
	}
	if fd.Filetype&FiletypeLocked != 0 {
		return diskerr.FileLockedf("file %q is locked", oldName)
	}
	if _, _, found, err := findInCatalog(o.data, func(f FileDesc) bool {
		return f.Status() == FileDescStatusNormal && f.FilenameString() == newName
	}); err != nil {
		return err
	} else if found {
		return diskerr.DuplicateFilenamef("file %q already exists", newName)
	}
	fd.Filename = newNameBytes
	return writeCatalogEntry(o.data, loc, fd)
}

// Retype changes a file's type byte, preserving its lock bit.
func (o operator) Retype(filename string, newType types.Filetype) error {
	dosType, err := filetypeToDOS3(newType)
	if err != nil {
		return err
	}
	loc, fd, err := findNormal(o.data, filename)
	if err != nil {
		return err
	}
	fd.Filetype = dosType | (fd.Filetype & FiletypeLocked)
	return writeCatalogEntry(o.data, loc, fd)
}

// Lock sets a file's locked bit.
func (o operator) Lock(filename string) error {
	loc, fd, err := findNormal(o.data, filename)
	if err != nil {
		return err
	}
	fd.Filetype |= FiletypeLocked
	return writeCatalogEntry(o.data, loc, fd)
}

// Unlock clears a file's locked bit.
func (o operator) Unlock(filename string) error {
	loc, fd, err := findNormal(o.data, filename)
	if err != nil {
		return err
	}
	fd.Filetype &^= FiletypeLocked
	return writeCatalogEntry(o.data, loc, fd)
}

// Standardize reports the VTOC's last-allocated-track and direction
// bytes: allocation-order hints that two logically identical disks
// may legitimately disagree on.
func (o operator) Standardize() []int {
	base := VTOCTrack*disk.FloppyTrackBytes + VTOCSector*256
	return []int{base + 0x30, base + 0x31}
}
