// Package trajectory records bridge episodes as compressed JSONL so runs can
// be replayed, summarized and exported offline.
package trajectory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
	CodecNone Codec = "none"
)

func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CodecZstd:
		return CodecZstd, nil
	case CodecLZ4:
		return CodecLZ4, nil
	case CodecNone:
		return CodecNone, nil
	}
	return "", fmt.Errorf("unknown codec %q", s)
}

// Ext is the file suffix for the codec.
func (c Codec) Ext() string {
	switch c {
	case CodecLZ4:
		return ".jsonl.lz4"
	case CodecNone:
		return ".jsonl"
	default:
		return ".jsonl.zst"
	}
}

// CodecForPath guesses the codec from a file name.
func CodecForPath(path string) Codec {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return CodecZstd
	case strings.HasSuffix(path, ".lz4"):
		return CodecLZ4
	default:
		return CodecNone
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// JSONLWriter appends one JSON document per line and rotates to a new file
// every UTC hour. A file is never reopened for append; a restart within the
// same hour starts a numbered sibling so every file holds a single stream.
type JSONLWriter struct {
	baseDir string
	prefix  string
	codec   Codec

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     io.WriteCloser
	w       *bufio.Writer

	now     func() time.Time
	onClose func(path string)
}

func NewJSONLWriter(baseDir, prefix string, codec Codec) *JSONLWriter {
	return &JSONLWriter{
		baseDir: baseDir,
		prefix:  prefix,
		codec:   codec,
		now:     time.Now,
	}
}

// OnClose registers fn to run with the path of every file the writer
// finishes, whether by rotation or Close. It runs under the writer's lock.
func (w *JSONLWriter) OnClose(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = fn
}

func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Path returns the file currently being written, or "" before the first write.
func (w *JSONLWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curPath
}

func (w *JSONLWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Flush pushes buffered lines through the compressor to disk.
func (w *JSONLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	switch enc := w.enc.(type) {
	case *zstd.Encoder:
		return enc.Flush()
	case *lz4.Writer:
		return enc.Flush()
	}
	return nil
}

func (w *JSONLWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	var (
		f    *os.File
		path string
		err  error
	)
	for seq := 0; ; seq++ {
		path = w.pathFor(hour, seq)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return err
		}
	}
	enc, err := w.newEncoder(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = path
	return nil
}

func (w *JSONLWriter) newEncoder(f *os.File) (io.WriteCloser, error) {
	switch w.codec {
	case CodecLZ4:
		return lz4.NewWriter(f), nil
	case CodecNone:
		return nopWriteCloser{f}, nil
	default:
		return zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	}
}

func (w *JSONLWriter) closeLocked() error {
	var closed string
	if w.f != nil {
		closed = w.curPath
	}
	var err1 error
	if w.w != nil {
		if err := w.w.Flush(); err != nil {
			err1 = err
		}
	}
	if w.enc != nil {
		if err := w.enc.Close(); err != nil && err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err != nil && err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if closed != "" && err1 == nil && w.onClose != nil {
		w.onClose(closed)
	}
	return err1
}

func (w *JSONLWriter) pathFor(hour string, seq int) string {
	name := fmt.Sprintf("%s-%s", w.prefix, hour)
	if seq > 0 {
		name = fmt.Sprintf("%s.%d", name, seq)
	}
	return filepath.Join(w.baseDir, name+w.codec.Ext())
}
