package rpa

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchive(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	w, err := NewWriter(path)
	require.NoError(t, err)
	for _, name := range sortedKeys(files) {
		require.NoError(t, w.AddFile(name, files[name]))
	}
	require.NoError(t, w.Finish())
}

func sortedKeys(m map[string][]byte) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func TestRoundtripBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.rpa")
	files := map[string][]byte{
		"images/test.png":  []byte("fake png data here"),
		"scripts/main.rpy": []byte("label start:\n    pass\n"),
		"audio/bgm.ogg":    bytes.Repeat([]byte{0}, 100),
	}
	writeArchive(t, path, files)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ix, err := r.ReadIndex()
	require.NoError(t, err)
	require.Equal(t, len(files), ix.Len())
	for name, want := range files {
		e, ok := ix.Get(name)
		require.True(t, ok, "missing entry %s", name)
		got, err := r.ReadFile(e)
		require.NoError(t, err)
		assert.Equal(t, want, got, "data mismatch for %s", name)
	}
}

func TestRoundtripBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binary.rpa")
	rng := rand.New(rand.NewSource(7))
	files := make(map[string][]byte)
	for i := 0; i < 5; i++ {
		data := make([]byte, 1024*(i+1))
		rng.Read(data)
		files["file_"+string(rune('a'+i))+".bin"] = data
	}
	writeArchive(t, path, files)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ix, err := r.ReadIndex()
	require.NoError(t, err)
	for name, want := range files {
		e, ok := ix.Get(name)
		require.True(t, ok)
		got, err := r.ReadFile(e)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRoundtripManyFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "many.rpa")
	w, err := NewWriter(path)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		name := filepath.ToSlash(filepath.Join("dir/subdir", fileName(i)))
		require.NoError(t, w.AddFile(name, []byte(fileName(i))))
	}
	require.NoError(t, w.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ix, err := r.ReadIndex()
	require.NoError(t, err)
	require.Equal(t, 200, ix.Len())
	for _, i := range []int{0, 100, 199} {
		e, ok := ix.Get("dir/subdir/" + fileName(i))
		require.True(t, ok)
		got, err := r.ReadFile(e)
		require.NoError(t, err)
		assert.Equal(t, []byte(fileName(i)), got)
	}
}

func fileName(i int) string {
	return "file_" + string([]byte{byte('0' + i/100), byte('0' + i/10%10), byte('0' + i%10)}) + ".txt"
}

func TestRoundtripEmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.rpa")
	writeArchive(t, path, map[string][]byte{
		"empty.txt":    {},
		"notempty.txt": []byte("hello"),
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	ix, err := r.ReadIndex()
	require.NoError(t, err)
	e, _ := ix.Get("empty.txt")
	got, err := r.ReadFile(e)
	require.NoError(t, err)
	assert.Empty(t, got)
	e, _ = ix.Get("notempty.txt")
	got, err = r.ReadFile(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestHeaderFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "header.rpa")
	w, err := NewWriterKey(path, 0x42424242)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("test.txt", []byte("hello")))
	require.NoError(t, w.Finish())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), HeaderSize)

	header := raw[:HeaderSize]
	assert.Equal(t, []byte("RPA-3.0 "), header[:8])
	assert.Equal(t, byte(' '), header[24])

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(0x42424242), r.Key())
	// The declared index offset is the file length minus the index size;
	// here that means header + the 5 content bytes.
	assert.Equal(t, int64(HeaderSize+5), r.IndexOffset())
}

func TestWriterExplicitKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyed.rpa")
	w, err := NewWriterKey(path, 0xDEADBEEF)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("test.txt", []byte("data")))
	require.NoError(t, w.Finish())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, uint32(0xDEADBEEF), r.Key())

	ix, err := r.ReadIndex()
	require.NoError(t, err)
	e, ok := ix.Get("test.txt")
	require.True(t, ok)
	got, err := r.ReadFile(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
}

func TestInvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rpa")
	require.NoError(t, os.WriteFile(path, append([]byte("NOT-AN-RPA-FILE"), make([]byte, 40)...), 0644))

	_, err := Open(path)
	require.Error(t, err)
	var hdrErr *HeaderError
	require.ErrorAs(t, err, &hdrErr)
	assert.Contains(t, err.Error(), "RPA-3.0")
}

func TestDuplicateNameRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.rpa")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("a.txt", []byte("one")))
	err = w.AddFile("a.txt", []byte("two"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
	require.NoError(t, w.Finish())
}

func TestCaseInsensitiveLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "case.rpa")
	writeArchive(t, path, map[string][]byte{"Images/Bg.PNG": []byte("x")})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ix, err := r.ReadIndex()
	require.NoError(t, err)

	e, ok := ix.Lookup("images/bg.png")
	require.True(t, ok)
	assert.Equal(t, "Images/Bg.PNG", e.Name)
	_, ok = ix.Get("images/bg.png")
	assert.False(t, ok)
}

// rawArchive assembles an archive by hand so the reader can be exercised
// against index shapes the writer never produces (2-tuples, prefixes).
func rawArchive(t *testing.T, path string, key uint32, content []byte, pickled []byte) {
	t.Helper()
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(pickled)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var f bytes.Buffer
	header := make([]byte, HeaderSize)
	copy(header, []byte("RPA-3.0 "))
	indexOffset := HeaderSize + len(content)
	copy(header[8:], []byte(hex16(uint64(indexOffset))))
	header[24] = ' '
	copy(header[25:], []byte(hex8(key)))
	header[33] = '\n'
	f.Write(header)
	f.Write(content)
	f.Write(compressed.Bytes())
	require.NoError(t, os.WriteFile(path, f.Bytes(), 0644))
}

func hex16(v uint64) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = digits[v&0xf]
		v >>= 4
	}
	return string(out)
}

func hex8(v uint32) string {
	return hex16(uint64(v))[8:]
}

func TestReadFilePrependsPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefix.rpa")
	const key = uint32(0x00001111)
	content := []byte("ade goes here")
	pickled := pickleIndex([]indexRecord{
		{name: "lemonade.txt", offset: HeaderSize, length: int64(len(content)), prefix: "lemon"},
	}, key)
	rawArchive(t, path, key, content, pickled)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ix, err := r.ReadIndex()
	require.NoError(t, err)

	e, ok := ix.Get("lemonade.txt")
	require.True(t, ok)
	assert.Equal(t, []byte("lemon"), e.Prefix)
	got, err := r.ReadFile(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("lemonade goes here"), got)
}

func TestReadTwoFieldTuple(t *testing.T) {
	// A legacy index may store (offset, length) without a prefix field.
	path := filepath.Join(t.TempDir(), "two.rpa")
	const key = uint32(0xA5A5A5A5)
	content := []byte("hi")

	var b bytes.Buffer
	b.Write([]byte{0x80, 0x02, '}', '('})
	pickleUnicode(&b, "greeting.txt")
	b.WriteByte(']')
	b.WriteByte('(')
	pickleInt(&b, int64(uint64(HeaderSize)^uint64(key)))
	pickleInt(&b, int64(uint64(len(content))^uint64(key)))
	b.WriteByte(0x86) // TUPLE2
	b.WriteByte('e')
	b.Write([]byte{'u', '.'})
	rawArchive(t, path, key, content, b.Bytes())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ix, err := r.ReadIndex()
	require.NoError(t, err)

	e, ok := ix.Get("greeting.txt")
	require.True(t, ok)
	assert.Empty(t, e.Prefix)
	got, err := r.ReadFile(e)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestIndexEntryBeyondContentRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oob.rpa")
	const key = uint32(0x22222222)
	content := []byte("tiny")
	pickled := pickleIndex([]indexRecord{
		{name: "huge.bin", offset: HeaderSize, length: 1 << 20},
	}, key)
	rawArchive(t, path, key, content, pickled)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.ReadIndex()
	var ixErr *IndexError
	require.ErrorAs(t, err, &ixErr)
}

func TestShortRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.rpa")
	writeArchive(t, path, map[string][]byte{"a.txt": []byte("abcdef")})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	ix, err := r.ReadIndex()
	require.NoError(t, err)
	e, _ := ix.Get("a.txt")

	// Force a read past EOF.
	bad := *e
	bad.Offset = r.IndexOffset() - 2
	bad.Length = 1 << 16
	_, err = r.ReadFile(&bad)
	require.ErrorIs(t, err, ErrShortRead)
}

func TestFinishIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.rpa")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("a", []byte("a")))
	require.NoError(t, w.Finish())
	require.NoError(t, w.Finish())
	require.NoError(t, w.Close())
}

func TestAbortRemovesPartialOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aborted.rpa")
	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.AddFile("a", []byte("a")))
	w.Abort()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
