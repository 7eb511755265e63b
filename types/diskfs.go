// diskfs.go contains the optional capability interfaces layered on
// top of Operator. The diskfs facade probes for these with type
// assertions; an operator that doesn't implement one gets a
// taxonomy-level "unsupported" error from the facade instead.

package types

import "github.com/zellyn/diskii/sparse"

// SparseOperator is implemented by operators whose file systems can
// represent holes (DOS 3.3 zero T/S pairs, ProDOS zero index-block
// entries), so file contents can cross the facade as a SparseFile
// without losing sparseness.
type SparseOperator interface {
	// GetAny retrieves a file's raw chunks, holes preserved, without
	// any filetype-specific header stripping.
	GetAny(filename string) (*sparse.SparseFile, error)
	// PutAny writes a file from raw chunks, holes preserved. The
	// FileInfo supplies the name, type, and lock state; its Data field
	// is ignored.
	PutAny(fileInfo FileInfo, f *sparse.SparseFile, overwrite bool) (existed bool, err error)
}

// EntryMutator is implemented by operators that can rewrite a
// directory entry in place without touching the file's data.
type EntryMutator interface {
	// Rename changes a file's name. It fails if the file is locked or
	// the new name is already taken.
	Rename(oldName, newName string) error
	// Retype changes a file's type code, preserving its lock state.
	Retype(filename string, newType Filetype) error
	// Lock write-protects a file.
	Lock(filename string) error
	// Unlock removes a file's write protection.
	Unlock(filename string) error
}

// TextEncoderProvider is implemented by operators whose file systems
// use a text encoding other than plain ASCII with LF newlines.
type TextEncoderProvider interface {
	TextEncoder() sparse.TextEncoder
}

// Standardizer is implemented by operators whose file systems carry
// bytes that legitimately differ between two images of identical
// logical content (allocation heuristics, timestamps). Standardize
// reports the absolute image offsets of those bytes so comparisons
// can mask them.
type Standardizer interface {
	Standardize() []int
}
