package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/riftchanger/skintools/pkg/hashdict"
	"github.com/riftchanger/skintools/pkg/hashing"
)

// runHash prints both hashes of every argument. Arguments that parse as a
// hash are looked up instead when --input names a dictionary directory.
func runHash(opts *options, w io.Writer) error {
	if w == nil {
		w = os.Stdout
	}
	if len(opts.args) == 0 {
		return errors.New("hash mode requires at least one path argument")
	}

	var dicts map[int]*hashdict.Dictionary
	if opts.input != "" {
		dicts = make(map[int]*hashdict.Dictionary, 2)
		for width, name := range map[int]string{64: hashdict.GameFile, 32: hashdict.BinEntriesFile} {
			d, err := hashdict.LoadFile(filepath.Join(opts.input, name), width)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			dicts[width] = d
		}
	}

	for _, arg := range opts.args {
		if dicts != nil {
			if h, width, err := hashing.Parse(arg); err == nil {
				path, ok := dicts[width].Lookup(h)
				if !ok {
					path = "(unknown)"
				}
				fmt.Fprintf(w, "%s  %s\n", arg, path)
				continue
			}
		}
		fmt.Fprintf(w, "%s  %s  %s\n", hashing.Format32(hashing.Hash32(arg)), hashing.Format64(hashing.Hash64(arg)), arg)
	}
	return nil
}
