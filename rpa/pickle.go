package rpa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/hydrogen18/stalecucumber"
)

// The legacy index is a pickled dict mapping name -> list of tuples. Each
// tuple is (offset, length) or (offset, length, prefix); only the first
// tuple per name carries meaning. Offsets and lengths are XOR-obfuscated
// with the archive key.

// decodeIndex unpickles raw index data and normalizes every record to the
// three-field form with the obfuscation removed.
func decodeIndex(raw []byte, key uint32) ([]*Entry, error) {
	dict, err := stalecucumber.Dict(stalecucumber.Unpickle(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(dict))
	for k, v := range dict {
		name, ok := asString(k)
		if !ok {
			return nil, fmt.Errorf("non-string index key %T", k)
		}
		tuples, ok := asSlice(v)
		if !ok || len(tuples) == 0 {
			return nil, fmt.Errorf("entry %q has no location tuple", name)
		}
		t, ok := asSlice(tuples[0])
		if !ok || len(t) < 2 {
			return nil, fmt.Errorf("entry %q has a malformed location tuple", name)
		}

		offset, ok := asInt(t[0])
		if !ok {
			return nil, fmt.Errorf("entry %q has a non-integer offset", name)
		}
		length, ok := asInt(t[1])
		if !ok {
			return nil, fmt.Errorf("entry %q has a non-integer length", name)
		}

		var prefix []byte
		if len(t) >= 3 && t[2] != nil {
			s, ok := asString(t[2])
			if !ok {
				return nil, fmt.Errorf("entry %q has a non-string prefix", name)
			}
			if s != "" {
				prefix = []byte(s)
			}
		}

		entries = append(entries, &Entry{
			Name:   name,
			Offset: int64(uint64(offset) ^ uint64(key)),
			Length: int64(uint64(length) ^ uint64(key)),
			Prefix: prefix,
		})
	}
	return entries, nil
}

func asString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case *big.Int:
		if n.IsInt64() {
			return n.Int64(), true
		}
	}
	return 0, false
}

// indexRecord is one entry of an index about to be serialized.
type indexRecord struct {
	name   string
	offset int64
	length int64
	prefix string
}

// pickleIndex serializes records as a protocol-2 pickle in the given order.
// The emitter is hand-rolled because the index must preserve insertion
// order for reproducible output, and pickling a Go map cannot. Values are
// emitted as single-tuple lists with the key applied, the only shape the
// writer ever produces.
func pickleIndex(records []indexRecord, key uint32) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x80, 0x02}) // PROTO 2
	b.WriteByte('}')            // EMPTY_DICT
	b.WriteByte('(')            // MARK
	for _, rec := range records {
		pickleUnicode(&b, rec.name)
		b.WriteByte(']') // EMPTY_LIST
		b.WriteByte('(') // MARK
		pickleInt(&b, int64(uint64(rec.offset)^uint64(key)))
		pickleInt(&b, int64(uint64(rec.length)^uint64(key)))
		pickleBytes(&b, rec.prefix)
		b.WriteByte(0x87) // TUPLE3
		b.WriteByte('e')  // APPENDS
	}
	b.WriteByte('u') // SETITEMS
	b.WriteByte('.') // STOP
	return b.Bytes()
}

// pickleInt emits BININT for values that fit, LONG1 otherwise. Values are
// always non-negative.
func pickleInt(b *bytes.Buffer, v int64) {
	if v < 1<<31 {
		b.WriteByte('J')
		var le [4]byte
		binary.LittleEndian.PutUint32(le[:], uint32(v))
		b.Write(le[:])
		return
	}
	var buf []byte
	u := uint64(v)
	for u != 0 {
		buf = append(buf, byte(u))
		u >>= 8
	}
	if buf[len(buf)-1]&0x80 != 0 {
		buf = append(buf, 0)
	}
	b.WriteByte(0x8a) // LONG1
	b.WriteByte(byte(len(buf)))
	b.Write(buf)
}

// pickleUnicode emits BINUNICODE.
func pickleUnicode(b *bytes.Buffer, s string) {
	b.WriteByte('X')
	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], uint32(len(s)))
	b.Write(le[:])
	b.WriteString(s)
}

// pickleBytes emits SHORT_BINSTRING; prefixes are at most 64 bytes.
func pickleBytes(b *bytes.Buffer, s string) {
	b.WriteByte('U')
	b.WriteByte(byte(len(s)))
	b.WriteString(s)
}
