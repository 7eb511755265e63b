// Copyright © 2017 Zellyn Hunter <zellyn@gmail.com>

// Package prodos contains routines for working with the on-device
// structures of Apple ProDOS.
package prodos

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/zellyn/diskii/disk"
	"github.com/zellyn/diskii/diskerr"
	"github.com/zellyn/diskii/types"
)

// Storage types.
const (
	TypeDeleted               = 0
	TypeSeedling              = 0x1
	TypeSapling               = 0x2
	TypeTree                  = 0x3
	TypeSubdirectory          = 0xD
	TypeSubdirectoryHeader    = 0xE
	TypeVolumeDirectoryHeader = 0xF
)

// blockBase represents a 512-byte block of data.
type blockBase struct {
	block uint16 // Block index this data was loaded from.
}

// GetBlock gets the block index from a blockBase.
func (bb blockBase) GetBlock() uint16 {
	return bb.block
}

// SetBlock sets the block index of a blockBase.
func (bb *blockBase) SetBlock(block uint16) {
	bb.block = block
}

// A bitmapPart is a single block of a volumeBitMap.
type bitmapPart struct {
	blockBase
	data disk.Block
}

// Ensure that bitmapPart is valid BlockSource and BlockSink.
var _ disk.BlockSource = (*bitmapPart)(nil)
var _ disk.BlockSink = (*bitmapPart)(nil)

// FromBlock unmarshals a bitmapPart from a Block.
func (bp *bitmapPart) FromBlock(block disk.Block) error {
	bp.data = block
	return nil
}

// ToBlock marshals a bitmapPart struct to a block.
func (bp bitmapPart) ToBlock() (disk.Block, error) {
	return bp.data, nil
}

type VolumeBitMap []bitmapPart

func NewVolumeBitMap(startBlock uint16, blocks uint16) VolumeBitMap {
	vbm := VolumeBitMap(make([]bitmapPart, (blocks+(512*8)-1)/(512*8)))
	for i := range vbm {
		vbm[i].SetBlock(startBlock + uint16(i))
	}
	for b := 0; b < int(blocks); b++ {
		vbm.MarkUnused(uint16(b))
	}
	return vbm
}

func (vbm VolumeBitMap) MarkUsed(block uint16) {
	vbm.mark(block, false)
}

func (vbm VolumeBitMap) MarkUnused(block uint16) {
	vbm.mark(block, true)
}

func (vbm VolumeBitMap) mark(block uint16, set bool) {
	byteIndex := block >> 3
	blockIndex := byteIndex / 512
	blockByteIndex := byteIndex % 512
	bit := byte(1 << (7 - (block & 7)))
	if set {
		vbm[blockIndex].data[blockByteIndex] |= bit
	} else {
		vbm[blockIndex].data[blockByteIndex] &^= bit
	}
}

// IsFree returns true if the given block on the device is free,
// according to the VolumeBitMap.
func (vbm VolumeBitMap) IsFree(block uint16) bool {
	byteIndex := block >> 3
	blockIndex := byteIndex / 512
	blockByteIndex := byteIndex % 512
	bit := byte(1 << (7 - (block & 7)))
	return vbm[blockIndex].data[blockByteIndex]&bit > 0
}

// readVolumeBitMap reads the entire volume bitmap from a block
// device.
func readVolumeBitMap(devicebytes []byte, startBlock uint16) (VolumeBitMap, error) {
	nblocks := len(devicebytes) / 512
	if nblocks > 0xFFFF {
		nblocks = 0xFFFF
	}
	blocks := uint16(nblocks)
	vbm := NewVolumeBitMap(startBlock, blocks)
	for i := 0; i < len(vbm); i++ {
		if err := disk.UnmarshalBlock(devicebytes, &vbm[i], vbm[i].GetBlock()); err != nil {
			return nil, fmt.Errorf("cannot read block %d (device block %d) of Volume Bit Map: %v", i, vbm[i].GetBlock(), err)
		}
	}
	return vbm, nil
}

// Write writes the Volume Bit Map to a block device.
func (vbm VolumeBitMap) Write(devicebytes []byte) error {
	for i, bp := range vbm {
		if err := disk.MarshalBlock(devicebytes, bp); err != nil {
			return fmt.Errorf("cannot write block %d (device block %d) of Volume Bit Map: %v", i, bp.GetBlock(), err)
		}
	}
	return nil
}

// DateTime represents the 4-byte ProDOS y/m/d h/m timestamp.
type DateTime struct {
	YMD [2]byte
	HM  [2]byte
}

// toBytes returns a four-byte slice representing a DateTime.
func (dt DateTime) toBytes() []byte {
	return []byte{dt.YMD[0], dt.YMD[1], dt.HM[0], dt.HM[1]}
}

// fromBytes turns a slice of four bytes back into a DateTime.
func (dt *DateTime) fromBytes(b []byte) {
	if len(b) != 4 {
		panic(fmt.Sprintf("DateTime expects 4 bytes; got %d", len(b)))
	}
	dt.YMD[0] = b[0]
	dt.YMD[1] = b[1]
	dt.HM[0] = b[2]
	dt.HM[1] = b[3]
}

// Validate checks a DateTime for problems, returning a slice of errors.
func (dt DateTime) Validate(fieldDescription string) (errors []error) {
	if dt.HM[0] >= 24 {
		errors = append(errors, fmt.Errorf("%s expects hour<24; got %d", fieldDescription, dt.HM[0]))
	}
	if dt.HM[1] >= 60 {
		errors = append(errors, fmt.Errorf("%s expects minute<60; got %x", fieldDescription, dt.HM[1]))
	}
	return errors
}

// VolumeDirectoryKeyBlock is the struct used to hold the ProDOS Volume Directory Key
// Block structure.  See page 4-4 of Beneath Apple ProDOS.
type VolumeDirectoryKeyBlock struct {
	blockBase
	Prev        uint16 // Pointer to previous block (always zero: the KeyBlock is the first Volume Directory block
	Next        uint16 // Pointer to next block in the Volume Directory
	Header      VolumeDirectoryHeader
	Descriptors [12]FileDescriptor
	Extra       byte // Trailing byte (so we don't lose it)
}

// Ensure that VolumeDirectoryKeyBlock is valid BlockSource and BlockSink.
var _ disk.BlockSource = (*VolumeDirectoryKeyBlock)(nil)
var _ disk.BlockSink = (*VolumeDirectoryKeyBlock)(nil)

// ToBlock marshals the VolumeDirectoryKeyBlock to a Block of bytes.
func (vdkb VolumeDirectoryKeyBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], vdkb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], vdkb.Next)
	copyBytes(block[0x04:0x02b], vdkb.Header.toBytes())
	for i, desc := range vdkb.Descriptors {
		copyBytes(block[0x2b+i*0x27:0x2b+(i+1)*0x27], desc.toBytes())
	}
	block[511] = vdkb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a VolumeDirectoryKeyBlock.
func (vdkb *VolumeDirectoryKeyBlock) FromBlock(block disk.Block) error {
	vdkb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	vdkb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	vdkb.Header.fromBytes(block[0x04:0x2b])
	for i := range vdkb.Descriptors {
		vdkb.Descriptors[i].fromBytes(block[0x2b+i*0x27 : 0x2b+(i+1)*0x27])
	}
	vdkb.Extra = block[511]
	return nil
}

// Validate validates a VolumeDirectoryKeyBlock for valid values.
func (vdkb VolumeDirectoryKeyBlock) Validate() (errors []error) {
	if vdkb.Prev != 0 {
		errors = append(errors, fmt.Errorf("Volume Directory Key Block should have a `Previous` block of 0, got $%04x", vdkb.Prev))
	}
	errors = append(errors, vdkb.Header.Validate()...)
	for _, desc := range vdkb.Descriptors {
		errors = append(errors, desc.Validate()...)
	}
	if vdkb.Extra != 0 {
		errors = append(errors, fmt.Errorf("expected last byte of Volume Directory Key Block == 0x0; got 0x%02x", vdkb.Extra))
	}
	return errors
}

// VolumeDirectoryBlock is a normal (non-key) segment in the Volume Directory Header.
type VolumeDirectoryBlock struct {
	blockBase
	Prev        uint16 // Pointer to previous block in the Volume Directory.
	Next        uint16 // Pointer to next block in the Volume Directory.
	Descriptors [13]FileDescriptor
	Extra       byte // Trailing byte (so we don't lose it)
}

// Ensure that VolumeDirectoryBlock is valid BlockSource and BlockSink.
var _ disk.BlockSource = (*VolumeDirectoryBlock)(nil)
var _ disk.BlockSink = (*VolumeDirectoryBlock)(nil)

// ToBlock marshals a VolumeDirectoryBlock to a Block of bytes.
func (vdb VolumeDirectoryBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], vdb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], vdb.Next)
	for i, desc := range vdb.Descriptors {
		copyBytes(block[0x04+i*0x27:0x04+(i+1)*0x27], desc.toBytes())
	}
	block[511] = vdb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a VolumeDirectoryBlock.
func (vdb *VolumeDirectoryBlock) FromBlock(block disk.Block) error {
	vdb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	vdb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	for i := range vdb.Descriptors {
		vdb.Descriptors[i].fromBytes(block[0x4+i*0x27 : 0x4+(i+1)*0x27])
	}
	vdb.Extra = block[511]
	return nil
}

// Validate validates a VolumeDirectoryBlock for valid values.
func (vdb VolumeDirectoryBlock) Validate() (errors []error) {
	for _, desc := range vdb.Descriptors {
		errors = append(errors, desc.Validate()...)
	}
	if vdb.Extra != 0 {
		errors = append(errors, fmt.Errorf("expected last byte of Volume Directory Block == 0x0; got 0x%02x", vdb.Extra))
	}
	return errors
}

type VolumeDirectoryHeader struct {
	TypeAndNameLength byte     // Storage type (top four bits) and volume name length (lower four).
	VolumeName        [15]byte // Volume name (actual length defined in TypeAndNameLength)
	Unused1           [8]byte
	Creation          DateTime // Date and time volume was formatted
	Version           byte
	MinVersion        byte
	Access            Access
	EntryLength       byte   // Length of each entry in the Volume Directory: usually $27
	EntriesPerBlock   byte   // Usually $0D
	FileCount         uint16 // Number of active entries in the Volume Directory, not counting the Volume Directory Header
	BitMapPointer     uint16 // Block number of start of VolumeBitMap. Usually 6
	TotalBlocks       uint16 // Total number of blocks on the device. $118 (280) for a 35-track diskette.
}

// toBytes converts a VolumeDirectoryHeader to a slice of bytes.
func (vdh VolumeDirectoryHeader) toBytes() []byte {
	buf := make([]byte, 0x27)
	buf[0] = vdh.TypeAndNameLength
	copyBytes(buf[1:0x10], vdh.VolumeName[:])
	copyBytes(buf[0x10:0x18], vdh.Unused1[:])
	copyBytes(buf[0x18:0x1c], vdh.Creation.toBytes())
	buf[0x1c] = vdh.Version
	buf[0x1d] = vdh.MinVersion
	buf[0x1e] = byte(vdh.Access)
	buf[0x1f] = vdh.EntryLength
	buf[0x20] = vdh.EntriesPerBlock
	binary.LittleEndian.PutUint16(buf[0x21:0x23], vdh.FileCount)
	binary.LittleEndian.PutUint16(buf[0x23:0x25], vdh.BitMapPointer)
	binary.LittleEndian.PutUint16(buf[0x25:0x27], vdh.TotalBlocks)
	return buf
}

// fromBytes unmarshals a slice of bytes into a VolumeDirectoryHeader.
func (vdh *VolumeDirectoryHeader) fromBytes(buf []byte) {
	if len(buf) != 0x27 {
		panic(fmt.Sprintf("VolumeDirectoryHeader should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	vdh.TypeAndNameLength = buf[0]
	copyBytes(vdh.VolumeName[:], buf[1:0x10])
	copyBytes(vdh.Unused1[:], buf[0x10:0x18])
	vdh.Creation.fromBytes(buf[0x18:0x1c])
	vdh.Version = buf[0x1c]
	vdh.MinVersion = buf[0x1d]
	vdh.Access = Access(buf[0x1e])
	vdh.EntryLength = buf[0x1f]
	vdh.EntriesPerBlock = buf[0x20]
	vdh.FileCount = binary.LittleEndian.Uint16(buf[0x21:0x23])
	vdh.BitMapPointer = binary.LittleEndian.Uint16(buf[0x23:0x25])
	vdh.TotalBlocks = binary.LittleEndian.Uint16(buf[0x25:0x27])
}

// Validate validates a VolumeDirectoryHeader for valid values.
func (vdh VolumeDirectoryHeader) Validate() (errors []error) {
	errors = append(errors, vdh.Creation.Validate("creation date/time of VolumeDirectoryHeader")...)
	return errors
}

type Access byte

const (
	AccessReadable           Access = 0x01
	AccessWritable           Access = 0x02
	AccessChangedSinceBackup Access = 0x20
	AccessRenamable          Access = 0x40
	AccessDestroyable        Access = 0x80
)

// FileDescriptor is the entry in the volume directory for a file or
// subdirectory.
type FileDescriptor struct {
	TypeAndNameLength byte     // Storage type (top four bits) and volume name length (lower four)
	FileName          [15]byte // Filename (actual length defined in TypeAndNameLength)
	FileType          byte     // ProDOS / SOS filetype
	KeyPointer        uint16   // block number of key block for file
	BlocksUsed        uint16   // Total number of blocks used including index blocks and data blocks. For a subdirectory, the number of directory blocks
	EOF               [3]byte  // 3-byte offset of EOF from first byte. For sequential files, just the length
	Creation          DateTime // Date and time of of file creation
	Version           byte
	MinVersion        byte
	Access            Access
	// For TXT files, random access record length (L from OPEN)
	// For BIN files, load address for binary image (A from BSAVE)
	// For BAS files, load address for program image (when SAVEd)
	// For VAR files, address of compressed variables image (when STOREd)
	//  For SYS files, load address for system program (usually $2000)
	AuxType       uint16
	LastMod       DateTime
	HeaderPointer uint16 // Block  number of the key block for the directory which describes this file.
}

// descriptor returns a types.Descriptor for a FileDescriptor.
func (fd FileDescriptor) descriptor() types.Descriptor {
	desc := types.Descriptor{
		Name:   fd.Name(),
		Blocks: int(fd.BlocksUsed),
		Length: int(fd.EOF[0]) + int(fd.EOF[1])<<8 + int(fd.EOF[2])<<16,
		Locked: false, // TODO(zellyn): use prodos-style access in types.Descriptor
		Type:   types.Filetype(fd.FileType),
	}
	return desc
}

// Name returns the string filename of a file descriptor.
func (fd FileDescriptor) Name() string {
	return string(fd.FileName[0 : fd.TypeAndNameLength&0xf])
}

// Type returns the type of a file descriptor.
func (fd FileDescriptor) Type() byte {
	return fd.TypeAndNameLength >> 4
}

// toBytes converts a FileDescriptor to a slice of bytes.
func (fd FileDescriptor) toBytes() []byte {
	buf := make([]byte, 0x27)
	buf[0] = fd.TypeAndNameLength
	copyBytes(buf[1:0x10], fd.FileName[:])
	buf[0x10] = fd.FileType
	binary.LittleEndian.PutUint16(buf[0x11:0x13], fd.KeyPointer)
	binary.LittleEndian.PutUint16(buf[0x13:0x15], fd.BlocksUsed)
	copyBytes(buf[0x15:0x18], fd.EOF[:])
	copyBytes(buf[0x18:0x1c], fd.Creation.toBytes())
	buf[0x1c] = fd.Version
	buf[0x1d] = fd.MinVersion
	buf[0x1e] = byte(fd.Access)
	binary.LittleEndian.PutUint16(buf[0x1f:0x21], fd.AuxType)
	copyBytes(buf[0x21:0x25], fd.LastMod.toBytes())
	binary.LittleEndian.PutUint16(buf[0x25:0x27], fd.HeaderPointer)
	return buf
}

// fromBytes unmarshals a slice of bytes into a FileDescriptor.
func (fd *FileDescriptor) fromBytes(buf []byte) {
	if len(buf) != 0x27 {
		panic(fmt.Sprintf("FileDescriptor should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	fd.TypeAndNameLength = buf[0]
	copyBytes(fd.FileName[:], buf[1:0x10])
	fd.FileType = buf[0x10]
	fd.KeyPointer = binary.LittleEndian.Uint16(buf[0x11:0x13])
	fd.BlocksUsed = binary.LittleEndian.Uint16(buf[0x13:0x15])
	copyBytes(fd.EOF[:], buf[0x15:0x18])
	fd.Creation.fromBytes(buf[0x18:0x1c])
	fd.Version = buf[0x1c]
	fd.MinVersion = buf[0x1d]
	fd.Access = Access(buf[0x1e])
	fd.AuxType = binary.LittleEndian.Uint16(buf[0x1f:0x21])
	fd.LastMod.fromBytes(buf[0x21:0x25])
	fd.HeaderPointer = binary.LittleEndian.Uint16(buf[0x25:0x27])
}

// Validate validates a FileDescriptor for valid values.
func (fd FileDescriptor) Validate() (errors []error) {
	errors = append(errors, fd.Creation.Validate(fmt.Sprintf("creation date/time of FileDescriptor %q", fd.Name()))...)
	errors = append(errors, fd.LastMod.Validate(fmt.Sprintf("last modification date/time of FileDescriptor %q", fd.Name()))...)
	return errors
}

// An index block contains 256 16-bit block numbers, pointing to other
// blocks. The LSBs are stored in the first half, MSBs in the second.
type IndexBlock disk.Block

// Get the blockNum'th block number from an index block.
func (i IndexBlock) Get(blockNum byte) uint16 {
	return uint16(i[blockNum]) + uint16(i[256+int(blockNum)])<<8
}

// Set the blockNum'th block number in an index block.
func (i *IndexBlock) Set(blockNum byte, block uint16) {
	i[blockNum] = byte(block)
	i[256+int(blockNum)] = byte(block >> 8)
}

// SubdirectoryKeyBlock is the struct used to hold the first entry in
// a subdirectory structure.
type SubdirectoryKeyBlock struct {
	blockBase
	Prev        uint16 // Pointer to previous block (always zero: the KeyBlock is the first Volume Directory block
	Next        uint16 // Pointer to next block in the Volume Directory
	Header      SubdirectoryHeader
	Descriptors [12]FileDescriptor
	Extra       byte // Trailing byte (so we don't lose it)
}

// Ensure that SubdirectoryKeyBlock is valid BlockSource and BlockSink.
var _ disk.BlockSource = (*SubdirectoryKeyBlock)(nil)
var _ disk.BlockSink = (*SubdirectoryKeyBlock)(nil)

// ToBlock marshals the SubdirectoryKeyBlock to a Block of bytes.
func (skb SubdirectoryKeyBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], skb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], skb.Next)
	copyBytes(block[0x04:0x02b], skb.Header.toBytes())
	for i, desc := range skb.Descriptors {
		copyBytes(block[0x2b+i*0x27:0x2b+(i+1)*0x27], desc.toBytes())
	}
	block[511] = skb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a SubdirectoryKeyBlock.
func (skb *SubdirectoryKeyBlock) FromBlock(block disk.Block) error {
	skb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	skb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	skb.Header.fromBytes(block[0x04:0x2b])
	for i := range skb.Descriptors {
		skb.Descriptors[i].fromBytes(block[0x2b+i*0x27 : 0x2b+(i+1)*0x27])
	}
	skb.Extra = block[511]
	return nil
}

// Validate validates a SubdirectoryKeyBlock for valid values.
func (skb SubdirectoryKeyBlock) Validate() (errors []error) {
	if skb.Prev != 0 {
		errors = append(errors, fmt.Errorf("Subdirectory Key Block should have a `Previous` block of 0, got $%04x", skb.Prev))
	}
	errors = append(errors, skb.Header.Validate()...)
	for _, desc := range skb.Descriptors {
		errors = append(errors, desc.Validate()...)
	}
	if skb.Extra != 0 {
		errors = append(errors, fmt.Errorf("expected last byte of Subdirectory Key Block == 0x0; got 0x%02x", skb.Extra))
	}
	return errors
}

// SubdirectoryBlock is a normal (non-key) segment in a Subdirectory.
type SubdirectoryBlock struct {
	blockBase
	Prev        uint16 // Pointer to previous block in the Volume Directory.
	Next        uint16 // Pointer to next block in the Volume Directory.
	Descriptors [13]FileDescriptor
	Extra       byte // Trailing byte (so we don't lose it)
}

// Ensure that SubdirectoryBlock is valid BlockSource and BlockSink.
var _ disk.BlockSource = (*SubdirectoryBlock)(nil)
var _ disk.BlockSink = (*SubdirectoryBlock)(nil)

// ToBlock marshals a SubdirectoryBlock to a Block of bytes.
func (sb SubdirectoryBlock) ToBlock() (disk.Block, error) {
	var block disk.Block
	binary.LittleEndian.PutUint16(block[0x0:0x2], sb.Prev)
	binary.LittleEndian.PutUint16(block[0x2:0x4], sb.Next)
	for i, desc := range sb.Descriptors {
		copyBytes(block[0x04+i*0x27:0x04+(i+1)*0x27], desc.toBytes())
	}
	block[511] = sb.Extra
	return block, nil
}

// FromBlock unmarshals a Block of bytes into a SubdirectoryBlock.
func (sb *SubdirectoryBlock) FromBlock(block disk.Block) error {
	sb.Prev = binary.LittleEndian.Uint16(block[0x0:0x2])
	sb.Next = binary.LittleEndian.Uint16(block[0x2:0x4])
	for i := range sb.Descriptors {
		sb.Descriptors[i].fromBytes(block[0x4+i*0x27 : 0x4+(i+1)*0x27])
	}
	sb.Extra = block[511]
	return nil
}

// Validate validates a SubdirectoryBlock for valid values.
func (sb SubdirectoryBlock) Validate() (errors []error) {
	for _, desc := range sb.Descriptors {
		errors = append(errors, desc.Validate()...)
	}
	if sb.Extra != 0 {
		errors = append(errors, fmt.Errorf("expected last byte of Subdirectory Block == 0x0; got 0x%02x", sb.Extra))
	}
	return errors
}

type SubdirectoryHeader struct {
	TypeAndNameLength byte     // Storage type (top four bits) and subdirectory name length (lower four).
	SubdirectoryName  [15]byte // Subdirectory name (actual length defined in TypeAndNameLength)
	SeventyFive       byte     // Must contain $75 (!?)
	Unused1           [7]byte
	Creation          DateTime // Date and time volume was formatted
	Version           byte
	MinVersion        byte
	Access            Access
	EntryLength       byte   // Length of each entry in the Subdirectory: usually $27
	EntriesPerBlock   byte   // Usually $0D
	FileCount         uint16 // Number of active entries in the Subdirectory, not counting the Subdirectory Header
	ParentPointer     uint16 // The block number of the key (first) block of the directory that contains the entry that describes this subdirectory
	ParentEntry       byte   // Index in the parent directory for this subdirectory's entry (counting from parent header = 0)
	ParentEntryLength byte   // Usually $27
}

// toBytes converts a SubdirectoryHeader to a slice of bytes.
func (sh SubdirectoryHeader) toBytes() []byte {
	buf := make([]byte, 0x27)
	buf[0] = sh.TypeAndNameLength
	copyBytes(buf[1:0x10], sh.SubdirectoryName[:])
	buf[0x10] = sh.SeventyFive
	copyBytes(buf[0x11:0x18], sh.Unused1[:])
	copyBytes(buf[0x18:0x1c], sh.Creation.toBytes())
	buf[0x1c] = sh.Version
	buf[0x1d] = sh.MinVersion
	buf[0x1e] = byte(sh.Access)
	buf[0x1f] = sh.EntryLength
	buf[0x20] = sh.EntriesPerBlock
	binary.LittleEndian.PutUint16(buf[0x21:0x23], sh.FileCount)
	binary.LittleEndian.PutUint16(buf[0x23:0x25], sh.ParentPointer)
	buf[0x25] = sh.ParentEntry
	buf[0x26] = sh.ParentEntryLength
	return buf
}

// fromBytes unmarshals a slice of bytes into a SubdirectoryHeader.
func (sh *SubdirectoryHeader) fromBytes(buf []byte) {
	if len(buf) != 0x27 {
		panic(fmt.Sprintf("VolumeDirectoryHeader should be 0x27 bytes long; got 0x%02x", len(buf)))
	}
	sh.TypeAndNameLength = buf[0]
	copyBytes(sh.SubdirectoryName[:], buf[1:0x10])
	sh.SeventyFive = buf[0x10]
	copyBytes(sh.Unused1[:], buf[0x11:0x18])
	sh.Creation.fromBytes(buf[0x18:0x1c])
	sh.Version = buf[0x1c]
	sh.MinVersion = buf[0x1d]
	sh.Access = Access(buf[0x1e])
	sh.EntryLength = buf[0x1f]
	sh.EntriesPerBlock = buf[0x20]
	sh.FileCount = binary.LittleEndian.Uint16(buf[0x21:0x23])
	sh.ParentPointer = binary.LittleEndian.Uint16(buf[0x23:0x25])
	sh.ParentEntry = buf[0x25]
	sh.ParentEntryLength = buf[0x26]
}

// Validate validates a SubdirectoryHeader for valid values.
func (sh SubdirectoryHeader) Validate() (errors []error) {
	if sh.SeventyFive != 0x75 {
		errors = append(errors, fmt.Errorf("byte after subdirectory name %q should be 0x75; got 0x%02x", sh.Name(), sh.SeventyFive))
	}
	errors = append(errors, sh.Creation.Validate(fmt.Sprintf("subdirectory %q header creation date/time", sh.Name()))...)
	return errors
}

// Name returns the string filename of a subdirectory header.
func (sh SubdirectoryHeader) Name() string {
	return string(sh.SubdirectoryName[0 : sh.TypeAndNameLength&0xf])
}

// Volume is the in-memory representation of a device's volume
// information.
type Volume struct {
	keyBlock          *VolumeDirectoryKeyBlock // The key block describing the entire volume
	blocks            []*VolumeDirectoryBlock  // The blocks in the top-level volume
	bitmap            *VolumeBitMap            // Bitmap of which blocks are free
	subdirsByBlock    map[uint16]*Subdirectory // A mapping of block number to subdirectory object
	subdirsByName     map[string]*Subdirectory // a mapping of string to subdirectory object
	firstSubdirBlocks map[uint16]uint16        // A mapping of later dir/subdir blocks to the first one in the chain
}

// Subdirectory is the in-memory representation of a single
// subdirectory's information.
type Subdirectory struct {
	keyBlock *SubdirectoryKeyBlock
	blocks   []*SubdirectoryBlock
}

// descriptors returns a slice of all top-level file descriptors in a
// volume, deleted or not.
func (v Volume) descriptors() []FileDescriptor {
	var descs []FileDescriptor

	descs = append(descs, v.keyBlock.Descriptors[:]...)
	for _, block := range v.blocks {
		descs = append(descs, block.Descriptors[:]...)
	}
	return descs
}

// subdirDescriptors returns a slice of all top-level file descriptors
// in a volume that are subdirectories.
func (v Volume) subdirDescriptors() []FileDescriptor {
	var descs []FileDescriptor

	for _, desc := range v.descriptors() {
		if desc.Type() == TypeSubdirectory {
			descs = append(descs, desc)
		}
	}
	return descs
}

// readVolume reads the entire volume and subdirectories from a device
// into memory.
func readVolume(devicebytes []byte, keyBlock uint16, debug bool) (Volume, error) {
	v := Volume{
		keyBlock:          &VolumeDirectoryKeyBlock{},
		subdirsByBlock:    make(map[uint16]*Subdirectory),
		subdirsByName:     make(map[string]*Subdirectory),
		firstSubdirBlocks: make(map[uint16]uint16),
	}

	if err := disk.UnmarshalBlock(devicebytes, v.keyBlock, keyBlock); err != nil {
		return v, fmt.Errorf("cannot read first block of volume directory (block %d): %v", keyBlock, err)
	}
	// if debug {
	// 	fmt.Fprintf(os.Stderr, "keyblock: %#v\n", v.keyBlock)
	// }

	vbm, err := readVolumeBitMap(devicebytes, v.keyBlock.Header.BitMapPointer)
	if err != nil {
		return v, err
	}

	v.bitmap = &vbm

	// if debug {
	// 	fmt.Fprintf(os.Stderr, "volume bitmap: %#v\n", v.bitmap)
	// }

	for block := v.keyBlock.Next; block != 0; block = v.blocks[len(v.blocks)-1].Next {
		vdb := VolumeDirectoryBlock{}
		if err := disk.UnmarshalBlock(devicebytes, &vdb, block); err != nil {
			return v, err
		}
		v.blocks = append(v.blocks, &vdb)
		v.firstSubdirBlocks[block] = keyBlock
		if debug {
			fmt.Fprintf(os.Stderr, "  firstSubdirBlocks[%d] → %d\n", block, keyBlock)
		}
		// if debug {
		// 	fmt.Fprintf(os.Stderr, "block: %#v\n", vdb)
		// }
	}

	sdds := v.subdirDescriptors()
	if debug {
		fmt.Fprintf(os.Stderr, "got %d top-level subdir descriptors\n", len(sdds))
	}

	for i := 0; i < len(sdds); i++ {
		sdd := sdds[i]
		sub, err := readSubdirectory(devicebytes, sdd)
		if err != nil {
			return v, err
		}
		v.subdirsByBlock[sdd.KeyPointer] = &sub
		if debug {
			fmt.Fprintf(os.Stderr, " subdirsByBlock[%d] → %q\n", sdd.KeyPointer, sub.keyBlock.Header.Name())
		}
		sdds = append(sdds, sub.subdirDescriptors()...)
		for _, block := range sub.blocks {
			v.firstSubdirBlocks[block.block] = sdd.KeyPointer
			if debug {
				fmt.Fprintf(os.Stderr, "  firstSubdirBlocks[%d] → %d\n", block.block, sdd.KeyPointer)
			}
		}
	}
	if debug {
		fmt.Fprintf(os.Stderr, "got %d total subdir descriptors\n", len(sdds))
	}

	for _, sd := range v.subdirsByBlock {
		name := sd.keyBlock.Header.Name()
		if debug {
			fmt.Fprintf(os.Stderr, "processing subdir %q\n", name)
		}
		parentName, err := parentDirName(sd.keyBlock.Header.ParentPointer, keyBlock, v.subdirsByBlock, v.firstSubdirBlocks)
		if err != nil {
			return v, err
		}
		if parentName != "" {
			name = parentName + "/" + name
		}

		v.subdirsByName[name] = sd
	}
	if debug {
		fmt.Fprintf(os.Stderr, "HERE2\n")
	}
	return v, nil
}

// descriptors returns a slice of all top-level file descriptors in a
// subdirectory, deleted or not.
func (s Subdirectory) descriptors() []FileDescriptor {
	var descs []FileDescriptor

	descs = append(descs, s.keyBlock.Descriptors[:]...)
	for _, block := range s.blocks {
		descs = append(descs, block.Descriptors[:]...)
	}
	return descs
}

// subdirDescriptors returns a slice of all top-level file descriptors
// in a subdirectory that are subdirectories.
func (s Subdirectory) subdirDescriptors() []FileDescriptor {
	var descs []FileDescriptor

	for _, desc := range s.descriptors() {
		if desc.Type() == TypeSubdirectory {
			descs = append(descs, desc)
		}
	}
	return descs
}

// parentDirName returns the full recursive directory name of the given parent directory.
func parentDirName(parentDirectoryBlock uint16, keyBlock uint16, subdirMap map[uint16]*Subdirectory, firstSubdirBlockMap map[uint16]uint16) (string, error) {
	if parentDirectoryBlock == keyBlock || firstSubdirBlockMap[parentDirectoryBlock] == keyBlock {
		return "", nil
	}
	sd := subdirMap[parentDirectoryBlock]
	if sd == nil {
		parentFirstBlock, ok := firstSubdirBlockMap[parentDirectoryBlock]
		if ok {
			sd = subdirMap[parentFirstBlock]
		}
	}
	if sd == nil {
		return "", fmt.Errorf("unable to find subdirectory for block %d", parentDirectoryBlock)
	}

	parentName, err := parentDirName(sd.keyBlock.Header.ParentPointer, keyBlock, subdirMap, firstSubdirBlockMap)
	if err != nil {
		return "", err
	}
	if parentName == "" {
		return sd.keyBlock.Header.Name(), nil
	}

	return parentName + "/" + sd.keyBlock.Header.Name(), nil
}

// readSubdirectory reads a single subdirectory from a device into
// memory.
func readSubdirectory(devicebytes []byte, fd FileDescriptor) (Subdirectory, error) {
	s := Subdirectory{
		keyBlock: &SubdirectoryKeyBlock{},
	}

	if err := disk.UnmarshalBlock(devicebytes, s.keyBlock, fd.KeyPointer); err != nil {
		return s, fmt.Errorf("cannot read first block of subdirectory %q (block %d): %v", fd.Name(), fd.KeyPointer, err)
	}

	for block := s.keyBlock.Next; block != 0; block = s.blocks[len(s.blocks)-1].Next {
		sdb := SubdirectoryBlock{}
		if err := disk.UnmarshalBlock(devicebytes, &sdb, block); err != nil {
			return s, err
		}
		s.blocks = append(s.blocks, &sdb)
	}

	return s, nil
}

// copyBytes is just like the builtin copy, but just for byte slices,
// and it checks that dst and src have the same length.
func copyBytes(dst, src []byte) int {
	if len(dst) != len(src) {
		panic(fmt.Sprintf("copyBytes called with differing lengths %d and %d", len(dst), len(src)))
	}
	return copy(dst, src)
}

// operator is a disk.Operator - an interface for performing
// high-level operations on files and directories.
type operator struct {
	data  []byte
	debug bool
}

var _ types.Operator = operator{}

// operatorName is the keyword name for the operator that undestands
// prodos disks/devices.
const operatorName = "prodos"

// Name returns the name of the operator.
func (o operator) Name() string {
	return operatorName
}

// HasSubdirs returns true if the underlying operating system on the
// disk allows subdirectories.
func (o operator) HasSubdirs() bool {
	return true
}

// Catalog returns a catalog of disk entries. subdir should be empty
// for operating systems that do not support subdirectories.
func (o operator) Catalog(subdir string) ([]types.Descriptor, error) {
	if o.debug {
		fmt.Fprintf(os.Stderr, "Catalog of %q\n", subdir)
	}
	vol, err := readVolume(o.data, 2, o.debug)
	if err != nil {
		return nil, fmt.Errorf("error reading volume: %w", err)
	}

	var result []types.Descriptor

	if subdir == "" {
		for _, desc := range vol.descriptors() {
			if desc.Type() != TypeDeleted {
				result = append(result, desc.descriptor())
			}
		}
		return result, nil
	}

	sd, ok := vol.subdirsByName[subdir]
	if !ok {
		return nil, fmt.Errorf("subdirectory %q not found", subdir)
	}

	for _, desc := range sd.descriptors() {
		if desc.Type() != TypeDeleted {
			result = append(result, desc.descriptor())
		}
	}
	return result, nil
}

// VolumeDirectoryKeyBlockNumber is the fixed block number of the
// volume directory's key block: block 2, right after the boot
// loader blocks.
const VolumeDirectoryKeyBlockNumber uint16 = 2

// MaxDirectoryReps bounds the number of blocks walked when following
// a directory chain, guarding against a corrupt or cyclic Next
// pointer turning a read into an infinite loop.
const MaxDirectoryReps = 200

// prodosLocator identifies the on-device position of a single
// FileDescriptor within a directory chain, so it can be read,
// mutated, and written back without re-walking the chain.
type prodosLocator struct {
	block uint16
	index int
}

// readKeyBlock reads the volume directory key block.
func readKeyBlock(devicebytes []byte) (*VolumeDirectoryKeyBlock, error) {
	kb := &VolumeDirectoryKeyBlock{}
	if err := disk.UnmarshalBlock(devicebytes, kb, VolumeDirectoryKeyBlockNumber); err != nil {
		return nil, fmt.Errorf("cannot read volume directory key block: %w", err)
	}
	return kb, nil
}

// findTopLevelEntry walks the volume directory chain looking for the
// first FileDescriptor matching pred, returning its locator alongside
// the descriptor itself.
func findTopLevelEntry(devicebytes []byte, pred func(FileDescriptor) bool) (prodosLocator, FileDescriptor, bool, error) {
	kb, err := readKeyBlock(devicebytes)
	if err != nil {
		return prodosLocator{}, FileDescriptor{}, false, err
	}
	for i, d := range kb.Descriptors {
		if pred(d) {
			return prodosLocator{VolumeDirectoryKeyBlockNumber, i}, d, true, nil
		}
	}
	block := kb.Next
	for reps := 0; block != 0; reps++ {
		if reps >= MaxDirectoryReps {
			return prodosLocator{}, FileDescriptor{}, false, diskerr.BadFormatf("volume directory chain exceeds %d blocks; probable corruption", MaxDirectoryReps)
		}
		vb := &VolumeDirectoryBlock{}
		if err := disk.UnmarshalBlock(devicebytes, vb, block); err != nil {
			return prodosLocator{}, FileDescriptor{}, false, err
		}
		for i, d := range vb.Descriptors {
			if pred(d) {
				return prodosLocator{block, i}, d, true, nil
			}
		}
		block = vb.Next
	}
	return prodosLocator{}, FileDescriptor{}, false, nil
}

// writeDirEntry writes desc back to the slot identified by loc.
func writeDirEntry(devicebytes []byte, loc prodosLocator, desc FileDescriptor) error {
	if loc.block == VolumeDirectoryKeyBlockNumber {
		kb, err := readKeyBlock(devicebytes)
		if err != nil {
			return err
		}
		kb.Descriptors[loc.index] = desc
		return disk.MarshalBlock(devicebytes, kb)
	}
	vb := &VolumeDirectoryBlock{}
	if err := disk.UnmarshalBlock(devicebytes, vb, loc.block); err != nil {
		return err
	}
	vb.Descriptors[loc.index] = desc
	return disk.MarshalBlock(devicebytes, vb)
}

// allocBlock finds the lowest-numbered free block (linear search, as
// real ProDOS does) and marks it used.
func (vbm VolumeBitMap) allocBlock(totalBlocks uint16) (uint16, bool) {
	for b := uint16(0); b < totalBlocks; b++ {
		if vbm.IsFree(b) {
			vbm.MarkUsed(b)
			return b, true
		}
	}
	return 0, false
}

// freeCount returns the number of blocks still marked free, out of
// the device's totalBlocks.
func (vbm VolumeBitMap) freeCount(totalBlocks uint16) int {
	count := 0
	for b := uint16(0); b < totalBlocks; b++ {
		if vbm.IsFree(b) {
			count++
		}
	}
	return count
}

// growDirectory appends a new VolumeDirectoryBlock to the end of the
// volume directory chain, allocating a block for it. It does not bump
// any owning directory entry's EOF: the volume directory itself has
// no parent FileDescriptor (unlike subdirectories, which diskii does
// not yet grow on write).
func growDirectory(devicebytes []byte, bitmap VolumeBitMap, totalBlocks uint16) (uint16, error) {
	kb, err := readKeyBlock(devicebytes)
	if err != nil {
		return 0, err
	}
	tailBlock := VolumeDirectoryKeyBlockNumber
	var lastBlock *VolumeDirectoryBlock
	for next := kb.Next; next != 0; {
		vb := &VolumeDirectoryBlock{}
		if err := disk.UnmarshalBlock(devicebytes, vb, next); err != nil {
			return 0, err
		}
		tailBlock = next
		lastBlock = vb
		next = vb.Next
	}
	newBlockNum, ok := bitmap.allocBlock(totalBlocks)
	if !ok {
		return 0, diskerr.DiskFullf("no free block available to grow volume directory")
	}
	newBlock := &VolumeDirectoryBlock{Prev: uint16(tailBlock)}
	newBlock.SetBlock(newBlockNum)
	if err := disk.MarshalBlock(devicebytes, newBlock); err != nil {
		return 0, err
	}
	if lastBlock == nil {
		kb.Next = newBlockNum
		if err := disk.MarshalBlock(devicebytes, kb); err != nil {
			return 0, err
		}
	} else {
		lastBlock.Next = newBlockNum
		if err := disk.MarshalBlock(devicebytes, lastBlock); err != nil {
			return 0, err
		}
	}
	return newBlockNum, nil
}

// allocDirSlot finds a deleted (empty) slot in the volume directory,
// growing the directory by one block if none is free.
func allocDirSlot(devicebytes []byte, bitmap VolumeBitMap, totalBlocks uint16) (prodosLocator, error) {
	if loc, _, found, err := findTopLevelEntry(devicebytes, func(d FileDescriptor) bool {
		return d.Type() == TypeDeleted
	}); err != nil {
		return prodosLocator{}, err
	} else if found {
		return loc, nil
	}
	block, err := growDirectory(devicebytes, bitmap, totalBlocks)
	if err != nil {
		return prodosLocator{}, err
	}
	return prodosLocator{block: block, index: 0}, nil
}

// readIndexBlock reads a block and reinterprets it as an IndexBlock.
func readIndexBlock(devicebytes []byte, block uint16) (IndexBlock, error) {
	b, err := disk.ReadBlock(devicebytes, block)
	if err != nil {
		return IndexBlock{}, err
	}
	return IndexBlock(b), nil
}

// readBlocksFromIndex reads up to eof bytes of data pointed to by a
// single index block (sapling-level fan-out), treating holes (a
// zero block pointer) as runs of zero bytes.
func readBlocksFromIndex(devicebytes []byte, idx IndexBlock, eof int) ([]byte, error) {
	var data []byte
	for i := 0; len(data) < eof && i < 256; i++ {
		b := idx.Get(byte(i))
		if b == 0 {
			data = append(data, make([]byte, 512)...)
			continue
		}
		block, err := disk.ReadBlock(devicebytes, b)
		if err != nil {
			return nil, err
		}
		data = append(data, block[:]...)
	}
	if len(data) > eof {
		data = data[:eof]
	}
	return data, nil
}

// readFileData reads the full contents of a file, dispatching on its
// storage type.
func readFileData(devicebytes []byte, desc FileDescriptor) ([]byte, error) {
	eof := int(desc.EOF[0]) + int(desc.EOF[1])<<8 + int(desc.EOF[2])<<16
	switch desc.Type() {
	case TypeSeedling:
		block, err := disk.ReadBlock(devicebytes, desc.KeyPointer)
		if err != nil {
			return nil, err
		}
		data := append([]byte(nil), block[:]...)
		if eof < len(data) {
			data = data[:eof]
		}
		return data, nil
	case TypeSapling:
		idx, err := readIndexBlock(devicebytes, desc.KeyPointer)
		if err != nil {
			return nil, err
		}
		return readBlocksFromIndex(devicebytes, idx, eof)
	case TypeTree:
		master, err := readIndexBlock(devicebytes, desc.KeyPointer)
		if err != nil {
			return nil, err
		}
		var data []byte
		remaining := eof
		for i := 0; i < 256 && remaining > 0; i++ {
			chunkEOF := remaining
			if chunkEOF > 256*512 {
				chunkEOF = 256 * 512
			}
			sub := master.Get(byte(i))
			if sub == 0 {
				data = append(data, make([]byte, chunkEOF)...)
			} else {
				subIdx, err := readIndexBlock(devicebytes, sub)
				if err != nil {
					return nil, err
				}
				chunk, err := readBlocksFromIndex(devicebytes, subIdx, chunkEOF)
				if err != nil {
					return nil, err
				}
				data = append(data, chunk...)
			}
			remaining -= chunkEOF
		}
		return data, nil
	default:
		return nil, diskerr.UnsupportedItemTypef("cannot read prodos storage type %d", desc.Type())
	}
}

// proDOSLayout works out the storage type and block counts a file of
// the given length will need: one data block per 512 bytes (minimum
// one, even for a zero-length file), with index blocks added once the
// data crosses the seedling/sapling/tree thresholds.
func proDOSLayout(dataLen int) (storageType byte, dataBlocks, indexBlocks int) {
	dataBlocks = (dataLen + 511) / 512
	if dataBlocks == 0 {
		dataBlocks = 1
	}
	switch {
	case dataBlocks <= 1:
		return TypeSeedling, dataBlocks, 0
	case dataBlocks <= 256:
		return TypeSapling, dataBlocks, 1
	default:
		subIndexBlocks := (dataBlocks + 255) / 256
		return TypeTree, dataBlocks, 1 + subIndexBlocks
	}
}

// freeFileBlocks marks every block (data and index) owned by desc as
// free again.
func freeFileBlocks(devicebytes []byte, bitmap VolumeBitMap, desc FileDescriptor) error {
	switch desc.Type() {
	case TypeSeedling:
		bitmap.MarkUnused(desc.KeyPointer)
	case TypeSapling:
		idx, err := readIndexBlock(devicebytes, desc.KeyPointer)
		if err != nil {
			return err
		}
		for i := 0; i < 256; i++ {
			if b := idx.Get(byte(i)); b != 0 {
				bitmap.MarkUnused(b)
			}
		}
		bitmap.MarkUnused(desc.KeyPointer)
	case TypeTree:
		master, err := readIndexBlock(devicebytes, desc.KeyPointer)
		if err != nil {
			return err
		}
		for i := 0; i < 256; i++ {
			sub := master.Get(byte(i))
			if sub == 0 {
				continue
			}
			subIdx, err := readIndexBlock(devicebytes, sub)
			if err != nil {
				return err
			}
			for j := 0; j < 256; j++ {
				if b := subIdx.Get(byte(j)); b != 0 {
					bitmap.MarkUnused(b)
				}
			}
			bitmap.MarkUnused(sub)
		}
		bitmap.MarkUnused(desc.KeyPointer)
	}
	return nil
}

// writeFileData allocates and writes the data blocks (and, for
// saplings and trees, the index blocks) needed to hold data, and
// returns the resulting storage type, key-block number, and total
// blocks used.
func writeFileData(devicebytes []byte, bitmap VolumeBitMap, totalBlocks uint16, data []byte) (storageType byte, keyBlock uint16, blocksUsed int, err error) {
	dataBlockCount := (len(data) + 511) / 512
	if dataBlockCount == 0 {
		dataBlockCount = 1
	}
	blocks := make([]uint16, dataBlockCount)
	for i := range blocks {
		b, ok := bitmap.allocBlock(totalBlocks)
		if !ok {
			return 0, 0, 0, diskerr.DiskFullf("no free block available for file data")
		}
		blocks[i] = b
		start := i * 512
		chunk := make([]byte, 512)
		if start < len(data) {
			end := start + 512
			if end > len(data) {
				end = len(data)
			}
			copy(chunk, data[start:end])
		}
		if err := disk.WriteBlock(devicebytes, b, 0, chunk); err != nil {
			return 0, 0, 0, err
		}
	}

	if dataBlockCount <= 1 {
		return TypeSeedling, blocks[0], 1, nil
	}

	if dataBlockCount <= 256 {
		idxBlockNum, ok := bitmap.allocBlock(totalBlocks)
		if !ok {
			return 0, 0, 0, diskerr.DiskFullf("no free block available for index block")
		}
		var idx IndexBlock
		for i, b := range blocks {
			idx.Set(byte(i), b)
		}
		if err := disk.WriteBlock(devicebytes, idxBlockNum, 0, idx[:]); err != nil {
			return 0, 0, 0, err
		}
		return TypeSapling, idxBlockNum, dataBlockCount + 1, nil
	}

	masterBlockNum, ok := bitmap.allocBlock(totalBlocks)
	if !ok {
		return 0, 0, 0, diskerr.DiskFullf("no free block available for master index block")
	}
	var master IndexBlock
	subCount := (dataBlockCount + 255) / 256
	used := dataBlockCount + 1
	for s := 0; s < subCount; s++ {
		subIdxBlockNum, ok := bitmap.allocBlock(totalBlocks)
		if !ok {
			return 0, 0, 0, diskerr.DiskFullf("no free block available for index block")
		}
		var subIdx IndexBlock
		for i := 0; i < 256; i++ {
			gi := s*256 + i
			if gi >= dataBlockCount {
				break
			}
			subIdx.Set(byte(i), blocks[gi])
		}
		if err := disk.WriteBlock(devicebytes, subIdxBlockNum, 0, subIdx[:]); err != nil {
			return 0, 0, 0, err
		}
		master.Set(byte(s), subIdxBlockNum)
		used++
	}
	if err := disk.WriteBlock(devicebytes, masterBlockNum, 0, master[:]); err != nil {
		return 0, 0, 0, err
	}
	return TypeTree, masterBlockNum, used, nil
}

// encodeProDOSName validates and pads a filename into ProDOS's
// 15-byte fixed-width form.
func encodeProDOSName(name string) ([15]byte, byte, error) {
	var out [15]byte
	if len(name) == 0 || len(name) > 15 {
		return out, 0, diskerr.SyntaxErrorf("ProDOS filenames must be 1-15 characters long; got %q", name)
	}
	copy(out[:], name)
	return out, byte(len(name)), nil
}

// GetFile retrieves a file by name.
func (o operator) GetFile(filename string) (types.FileInfo, error) {
	_, desc, found, err := findTopLevelEntry(o.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == filename
	})
	if err != nil {
		return types.FileInfo{}, err
	}
	if !found {
		return types.FileInfo{}, diskerr.FileNotFoundf("file %q not found", filename)
	}
	data, err := readFileData(o.data, desc)
	if err != nil {
		return types.FileInfo{}, fmt.Errorf("error reading file %q: %w", filename, err)
	}
	return types.FileInfo{
		Descriptor:   desc.descriptor(),
		Data:         data,
		StartAddress: desc.AuxType,
	}, nil
}

// Delete deletes a file by name. It returns true if the file was
// deleted, false if it didn't exist.
func (o operator) Delete(filename string) (bool, error) {
	loc, desc, found, err := findTopLevelEntry(o.data, func(d FileDescriptor) bool {
		return d.Type() != TypeDeleted && d.Type() != TypeSubdirectory && d.Name() == filename
	})
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if desc.Access&AccessDestroyable == 0 {
		return false, diskerr.FileLockedf("file %q is locked", filename)
	}

	kb, err := readKeyBlock(o.data)
	if err != nil {
		return false, err
	}
	bitmap, err := readVolumeBitMap(o.data, kb.Header.BitMapPointer)
	if err != nil {
		return false, err
	}
	if err := freeFileBlocks(o.data, bitmap, desc); err != nil {
		return false, err
	}
	if err := bitmap.Write(o.data); err != nil {
		return false, err
	}

	if err := writeDirEntry(o.data, loc, FileDescriptor{}); err != nil {
		return false, err
	}

	kb.Header.FileCount--
	if err := disk.MarshalBlock(o.data, kb); err != nil {
		return false, err
	}
	return true, nil
}

// PutFile writes a file by name. If the file exists and overwrite
// is false, it returns with an error. Otherwise it returns true if
// an existing file was overwritten.
//
// Free space and a directory slot are checked before any block is
// written or freed, so a DiskFull error leaves the volume bitmap and
// directory untouched. The one exception is directory growth: if the
// directory has no free slot, diskii allocates one extra block for it
// up front, even if the write subsequently fails for some other
// reason (lack of data-block space is already accounted for in that
// check, so this can only bite on truly pathological near-full
// volumes).
func (o operator) PutFile(fileInfo types.FileInfo, overwrite bool) (existed bool, err error) {
	name := fileInfo.Descriptor.Name
	nameBytes, nameLen, err := encodeProDOSName(name)
	if err != nil {
		return false, err
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

	_, dataBlocks, indexBlocks := proDOSLayout(len(fileInfo.Data))
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

	storageType, keyBlockNum, blocksUsed, err := writeFileData(o.data, bitmap, kb.Header.TotalBlocks, fileInfo.Data)
	if err != nil {
		return false, err
	}

	access := AccessReadable | AccessWritable | AccessRenamable | AccessDestroyable
	if fileInfo.Descriptor.Locked {
		access = AccessReadable
	}
	length := len(fileInfo.Data)
	desc := FileDescriptor{
		TypeAndNameLength: storageType<<4 | nameLen,
		FileName:          nameBytes,
		FileType:          byte(fileInfo.Descriptor.Type),
		KeyPointer:        keyBlockNum,
		BlocksUsed:        uint16(blocksUsed),
		EOF:               [3]byte{byte(length), byte(length >> 8), byte(length >> 16)},
		Access:            access,
		AuxType:           fileInfo.StartAddress,
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

// DiskOrder returns the Physical-to-Logical mapping order.
func (o operator) DiskOrder() types.DiskOrder {
	return types.DiskOrderPO
}

// GetBytes returns the disk image bytes, in logical order.
func (o operator) GetBytes() []byte {
	return o.data
}

// OperatorFactory is a types.OperatorFactory for ProDos disks.
type OperatorFactory struct {
}

// Name returns the name of the operator.
func (of OperatorFactory) Name() string {
	return operatorName
}

// SeemsToMatch returns true if the []byte disk image seems to match the
// system of this operator.
func (of OperatorFactory) SeemsToMatch(devicebytes []byte, debug bool) bool {
	// For now, just return true if we can run Catalog successfully.
	_, err := readVolume(devicebytes, 2, debug)
	return err == nil
}

// Operator returns an Operator for the []byte disk image.
func (of OperatorFactory) Operator(devicebytes []byte, debug bool) (types.Operator, error) {
	return operator{data: devicebytes, debug: debug}, nil
}

// DiskOrder returns the Physical-to-Logical mapping order.
func (of OperatorFactory) DiskOrder() types.DiskOrder {
	return operator{}.DiskOrder()
}
