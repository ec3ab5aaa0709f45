package directory

import (
	"encoding/binary"
	"math"
)

// entrySize is the fixed on-heap record size for one directory entry:
// 128 bytes name, 1 byte type, 7 bytes padding (alignment), 8 bytes value,
// 8 bytes index, 4+4 bytes index1/index2, 8 bytes data offset.
const entrySize = 168

const (
	fldName       = 0
	fldType       = 128
	fldValue      = 136
	fldIndex      = 144
	fldIndex1     = 152
	fldIndex2     = 156
	fldDataOffset = 160
)

func encodeEntry(buf []byte, e Entry) {
	_ = buf[entrySize-1] // bounds check hint

	for i := 0; i < MaxNameLen; i++ {
		buf[fldName+i] = 0
	}
	n := len(e.Name)
	if n > MaxNameLen-1 {
		n = MaxNameLen - 1
	}
	copy(buf[fldName:fldName+n], e.Name[:n])

	buf[fldType] = byte(e.Type)
	binary.LittleEndian.PutUint64(buf[fldValue:], math.Float64bits(e.Value))
	binary.LittleEndian.PutUint64(buf[fldIndex:], e.Index)
	binary.LittleEndian.PutUint32(buf[fldIndex1:], e.Index1)
	binary.LittleEndian.PutUint32(buf[fldIndex2:], e.Index2)
	binary.LittleEndian.PutUint64(buf[fldDataOffset:], e.DataOffset)
}

func decodeEntry(buf []byte) Entry {
	_ = buf[entrySize-1]

	nameEnd := fldName
	for nameEnd < fldName+MaxNameLen && buf[nameEnd] != 0 {
		nameEnd++
	}

	return Entry{
		Name:       string(buf[fldName:nameEnd]),
		Type:       EntryType(buf[fldType]),
		Value:      math.Float64frombits(binary.LittleEndian.Uint64(buf[fldValue:])),
		Index:      binary.LittleEndian.Uint64(buf[fldIndex:]),
		Index1:     binary.LittleEndian.Uint32(buf[fldIndex1:]),
		Index2:     binary.LittleEndian.Uint32(buf[fldIndex2:]),
		DataOffset: binary.LittleEndian.Uint64(buf[fldDataOffset:]),
	}
}
