package trajectory

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrStop may be returned from a ReadFile callback to end iteration early.
var ErrStop = errors.New("stop")

// Files lists the trajectory files in dir in chronological order.
func Files(dir string) ([]string, error) {
	var out []string
	for _, c := range []Codec{CodecZstd, CodecLZ4, CodecNone} {
		m, err := filepath.Glob(filepath.Join(dir, "trajectory-*"+c.Ext()))
		if err != nil {
			return nil, err
		}
		out = append(out, m...)
	}
	sort.Strings(out)
	return out, nil
}

// ReadFile decodes every record of one trajectory file in order.
func ReadFile(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch CodecForPath(path) {
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case CodecLZ4:
		r = lz4.NewReader(r)
	}

	dec := json.NewDecoder(r)
	for n := 1; ; n++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: record %d: %w", filepath.Base(path), n, err)
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// ReadDir runs ReadFile over every file Files returns. ErrStop ends the
// whole walk, not just the current file.
func ReadDir(dir string, fn func(Record) error) error {
	files, err := Files(dir)
	if err != nil {
		return err
	}
	stopped := false
	for _, p := range files {
		err := ReadFile(p, func(rec Record) error {
			err := fn(rec)
			if errors.Is(err, ErrStop) {
				stopped = true
			}
			return err
		})
		if err != nil || stopped {
			return err
		}
	}
	return nil
}
