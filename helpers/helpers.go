// Copyright © 2016 Zellyn Hunter <zellyn@gmail.com>

// Package helpers contains helper routines for reading and writing files,
// allowing `-` to mean stdin/stdout.
package helpers

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Fs is the filesystem all image reads and writes go through. Tests
// (and embedders) can swap in an afero.MemMapFs to run without
// touching the real disk.
var Fs afero.Fs = afero.NewOsFs()

// FileContentsOrStdIn returns the contents of a file, unless the file
// is "-", in which case it reads from stdin.
func FileContentsOrStdIn(s string) ([]byte, error) {
	if s == "-" {
		return io.ReadAll(os.Stdin)
	}
	return afero.ReadFile(Fs, s)
}

func WriteOutput(filename string, contents []byte, force bool) error {
	if filename == "-" {
		_, err := os.Stdout.Write(contents)
		return err
	}
	if !force {
		if exists, err := afero.Exists(Fs, filename); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("cannot overwrite file %q without --force (-f)", filename)
		}
	}
	return afero.WriteFile(Fs, filename, contents, 0666)
}
