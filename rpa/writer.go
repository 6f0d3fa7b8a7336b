package rpa

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zlib"
)

// Writer creates an RPA-3.0 archive. Content is appended sequentially after
// a reserved 40-byte header; Finish serializes the index and backpatches
// the header. Close finishes the archive; Abort discards a writer abandoned
// after an error and removes the partial output, so a failed build that
// calls Abort never leaves a half-written archive behind.
type Writer struct {
	path     string
	file     *os.File
	buf      *bufio.Writer
	key      uint32
	offset   int64
	records  []indexRecord
	seen     map[string]struct{}
	finished bool
}

// NewWriter opens path for writing, creating parent directories as needed,
// and reserves the header. A random key is chosen.
func NewWriter(path string) (*Writer, error) {
	return NewWriterKey(path, rand.Uint32())
}

// NewWriterKey opens path for writing with an explicit obfuscation key.
func NewWriterKey(path string, key uint32) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	w := &Writer{
		path: path,
		file: f,
		buf:  bufio.NewWriterSize(f, 1<<20),
		key:  key,
		seen: make(map[string]struct{}),
	}
	if _, err := w.buf.Write(make([]byte, HeaderSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to reserve header: %w", err)
	}
	w.offset = HeaderSize
	return w, nil
}

// Key returns the obfuscation key the index will be written with.
func (w *Writer) Key() uint32 { return w.key }

// AddFile appends content under name. Duplicate names are rejected.
func (w *Writer) AddFile(name string, data []byte) error {
	if w.finished {
		return fmt.Errorf("%s: archive already finished", w.path)
	}
	if _, dup := w.seen[name]; dup {
		return fmt.Errorf("%s: duplicate entry %q", w.path, name)
	}
	if _, err := w.buf.Write(data); err != nil {
		return fmt.Errorf("%s: write failed: %w", w.path, err)
	}
	w.seen[name] = struct{}{}
	w.records = append(w.records, indexRecord{
		name:   name,
		offset: w.offset,
		length: int64(len(data)),
	})
	w.offset += int64(len(data))
	return nil
}

// Finish writes the index, backpatches the header, and closes the file.
// Calling Finish more than once is a no-op.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	w.finished = true

	indexOffset := w.offset
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(pickleIndex(w.records, w.key)); err != nil {
		w.abort()
		return fmt.Errorf("%s: index compression failed: %w", w.path, err)
	}
	if err := zw.Close(); err != nil {
		w.abort()
		return fmt.Errorf("%s: index compression failed: %w", w.path, err)
	}
	if _, err := w.buf.Write(compressed.Bytes()); err != nil {
		w.abort()
		return fmt.Errorf("%s: index write failed: %w", w.path, err)
	}
	if err := w.buf.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("%s: flush failed: %w", w.path, err)
	}

	header := make([]byte, HeaderSize)
	copy(header, fmt.Sprintf("RPA-3.0 %016x %08x\n", indexOffset, w.key))
	if _, err := w.file.WriteAt(header, 0); err != nil {
		w.abort()
		return fmt.Errorf("%s: header write failed: %w", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.path)
		return fmt.Errorf("%s: close failed: %w", w.path, err)
	}
	return nil
}

// Close finishes the archive if Finish has not run yet; if the writer is
// being abandoned after an error, call Abort instead.
func (w *Writer) Close() error {
	return w.Finish()
}

// Abort discards the archive, removing the partial output file.
func (w *Writer) Abort() {
	w.finished = true
	w.abort()
}

func (w *Writer) abort() {
	w.file.Close()
	os.Remove(w.path)
}
