// Package rpa reads and writes RPA-3.0 archives, the indexed blob store
// used by Ren'Py games. The index is a zlib-compressed Python pickle whose
// offset and length fields are obfuscated by XOR with a key stored in the
// archive header.
package rpa

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// HeaderSize is the fixed size of the RPA-3.0 header.
const HeaderSize = 40

// MaxIndexSize limits the index data size to prevent memory exhaustion.
// Most RPA indexes are under 10MB even for large archives.
const MaxIndexSize = 50 * 1024 * 1024 // 50 MB

const headerMagic = "RPA-3.0 "

// ErrShortRead is reported when an entry's content ends before its
// recorded length.
var ErrShortRead = errors.New("short read")

// HeaderError is reported when the archive header is missing or malformed.
type HeaderError struct {
	Path   string
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%s: not an RPA-3.0 archive: %s", e.Path, e.Reason)
}

// IndexError is reported when the archive index cannot be decoded.
type IndexError struct {
	Path   string
	Reason string
	Err    error
}

func (e *IndexError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: corrupt index: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: corrupt index: %s", e.Path, e.Reason)
}

func (e *IndexError) Unwrap() error { return e.Err }

// Entry is a single file entry in an archive index. Offset and Length are
// the deobfuscated values; Prefix holds bytes that must be prepended to the
// stored content to reconstruct the original file.
type Entry struct {
	Name   string
	Offset int64
	Length int64
	Prefix []byte
}

// Index maps logical names to entries. Name lookups are case-insensitive;
// original casing is preserved.
type Index struct {
	names   []string
	entries map[string]*Entry
	folded  map[string]string // lowercase -> original casing
}

func newIndex() *Index {
	return &Index{
		entries: make(map[string]*Entry),
		folded:  make(map[string]string),
	}
}

// add records an entry, keeping the first occurrence of a duplicate name.
func (ix *Index) add(e *Entry) {
	if _, ok := ix.entries[e.Name]; ok {
		return
	}
	ix.entries[e.Name] = e
	ix.names = append(ix.names, e.Name)
	lower := strings.ToLower(e.Name)
	if _, ok := ix.folded[lower]; !ok {
		ix.folded[lower] = e.Name
	}
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.names) }

// Names returns all entry names in sorted order.
func (ix *Index) Names() []string {
	out := make([]string, len(ix.names))
	copy(out, ix.names)
	sort.Strings(out)
	return out
}

// Get returns the entry with the exact name.
func (ix *Index) Get(name string) (*Entry, bool) {
	e, ok := ix.entries[name]
	return e, ok
}

// Lookup returns the entry for a name, compared case-insensitively.
func (ix *Index) Lookup(name string) (*Entry, bool) {
	if e, ok := ix.entries[name]; ok {
		return e, true
	}
	original, ok := ix.folded[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return ix.entries[original], true
}

// Reader reads an RPA-3.0 archive.
type Reader struct {
	path        string
	file        *os.File
	size        int64
	indexOffset int64
	key         uint32
}

// Open opens an archive and parses its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	r := &Reader{path: path, file: f, size: stat.Size()}
	if err := r.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// parseHeader reads the fixed 40-byte header: the "RPA-3.0 " magic, a
// 16-hex-digit index offset, a space, and an 8-hex-digit key.
func (r *Reader) parseHeader() error {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r.file, header); err != nil {
		return &HeaderError{Path: r.path, Reason: "file shorter than header"}
	}
	if !bytes.HasPrefix(header, []byte(headerMagic)) {
		return &HeaderError{Path: r.path, Reason: fmt.Sprintf("bad magic %q", header[:8])}
	}

	offset, err := strconv.ParseInt(string(header[8:24]), 16, 64)
	if err != nil {
		return &HeaderError{Path: r.path, Reason: "unparseable index offset"}
	}
	if header[24] != ' ' {
		return &HeaderError{Path: r.path, Reason: "missing separator after index offset"}
	}
	key, err := strconv.ParseUint(string(header[25:33]), 16, 32)
	if err != nil {
		return &HeaderError{Path: r.path, Reason: "unparseable key"}
	}

	r.indexOffset = offset
	r.key = uint32(key)
	return nil
}

// Key returns the archive's obfuscation key.
func (r *Reader) Key() uint32 { return r.key }

// IndexOffset returns the byte offset of the serialized index.
func (r *Reader) IndexOffset() int64 { return r.indexOffset }

// Path returns the archive file path.
func (r *Reader) Path() string { return r.path }

// ReadIndex reads, decompresses and deobfuscates the archive index.
func (r *Reader) ReadIndex() (*Index, error) {
	indexSize := r.size - r.indexOffset
	if indexSize <= 0 {
		return nil, &IndexError{Path: r.path, Reason: "index offset beyond end of file"}
	}
	if indexSize > MaxIndexSize {
		return nil, &IndexError{Path: r.path, Reason: fmt.Sprintf("index too large (%d bytes > %d max)", indexSize, MaxIndexSize)}
	}

	if _, err := r.file.Seek(r.indexOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to index: %w", err)
	}
	compressed := make([]byte, indexSize)
	if _, err := io.ReadFull(r.file, compressed); err != nil {
		return nil, &IndexError{Path: r.path, Reason: "truncated index data", Err: err}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &IndexError{Path: r.path, Reason: "not zlib data", Err: err}
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, MaxIndexSize))
	if err != nil {
		return nil, &IndexError{Path: r.path, Reason: "zlib decompression failed", Err: err}
	}

	records, err := decodeIndex(raw, r.key)
	if err != nil {
		return nil, &IndexError{Path: r.path, Reason: "unpickling failed", Err: err}
	}

	ix := newIndex()
	for _, e := range records {
		if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > r.indexOffset {
			return nil, &IndexError{Path: r.path, Reason: fmt.Sprintf("entry %q extends beyond content area", e.Name)}
		}
		ix.add(e)
	}
	return ix, nil
}

// ReadFile returns the full content of an entry, with the read-time prefix
// prepended when present.
func (r *Reader) ReadFile(e *Entry) ([]byte, error) {
	if _, err := r.file.Seek(e.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%s: seek error: %w", e.Name, err)
	}
	data := make([]byte, e.Length)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", e.Name, ErrShortRead, err)
	}
	if len(e.Prefix) > 0 {
		full := make([]byte, 0, len(e.Prefix)+len(data))
		full = append(full, e.Prefix...)
		full = append(full, data...)
		return full, nil
	}
	return data, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
