package nbt

import (
	"encoding/binary"
	"io"
	"math"
)

// NBT tag type IDs.
const (
	TagEnd       byte = 0
	TagByte      byte = 1
	TagShort     byte = 2
	TagInt       byte = 3
	TagLong      byte = 4
	TagFloat     byte = 5
	TagDouble    byte = 6
	TagByteArray byte = 7
	TagString    byte = 8
	TagList      byte = 9
	TagCompound  byte = 10
	TagIntArray  byte = 11
)

// Writer streams big-endian NBT to an io.Writer. Errors are sticky: after the
// first failure every call is a no-op, so callers check Err once at the end.
//
// Elements of a list are bare payloads. For a list of compounds, write each
// element's fields directly and close it with EndCompound; do not call
// BeginCompound for the element.
type Writer struct {
	w   io.Writer
	err error
	buf [8]byte
}

// NewWriter creates a new NBT Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered during writing.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(data []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(data)
}

func (w *Writer) u8(v byte) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

func (w *Writer) u16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *Writer) u32(v uint32) {
	binary.BigEndian.PutUint32(w.buf[:4], v)
	w.write(w.buf[:4])
}

func (w *Writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[:8], v)
	w.write(w.buf[:8])
}

func (w *Writer) str(s string) {
	w.u16(uint16(len(s)))
	if len(s) > 0 {
		w.write([]byte(s))
	}
}

func (w *Writer) header(tagType byte, name string) {
	w.u8(tagType)
	w.str(name)
}

// BeginCompound writes a named compound tag header.
func (w *Writer) BeginCompound(name string) {
	w.header(TagCompound, name)
}

// EndCompound closes the innermost compound.
func (w *Writer) EndCompound() {
	w.u8(TagEnd)
}

// BeginList writes a named list header for count elements of elemType.
func (w *Writer) BeginList(name string, elemType byte, count int) {
	w.header(TagList, name)
	w.u8(elemType)
	w.u32(uint32(count))
}

// WriteTagByte writes a named byte tag.
func (w *Writer) WriteTagByte(name string, v byte) {
	w.header(TagByte, name)
	w.u8(v)
}

// WriteShort writes a named short tag.
func (w *Writer) WriteShort(name string, v int16) {
	w.header(TagShort, name)
	w.u16(uint16(v))
}

// WriteInt writes a named int tag.
func (w *Writer) WriteInt(name string, v int32) {
	w.header(TagInt, name)
	w.u32(uint32(v))
}

// WriteLong writes a named long tag.
func (w *Writer) WriteLong(name string, v int64) {
	w.header(TagLong, name)
	w.u64(uint64(v))
}

// WriteFloat writes a named float tag.
func (w *Writer) WriteFloat(name string, v float32) {
	w.header(TagFloat, name)
	w.u32(math.Float32bits(v))
}

// WriteDouble writes a named double tag.
func (w *Writer) WriteDouble(name string, v float64) {
	w.header(TagDouble, name)
	w.u64(math.Float64bits(v))
}

// WriteByteArray writes a named byte array tag.
func (w *Writer) WriteByteArray(name string, v []byte) {
	w.header(TagByteArray, name)
	w.u32(uint32(len(v)))
	w.write(v)
}

// WriteString writes a named string tag.
func (w *Writer) WriteString(name string, v string) {
	w.header(TagString, name)
	w.str(v)
}

// WriteIntArray writes a named int array tag.
func (w *Writer) WriteIntArray(name string, v []int32) {
	w.header(TagIntArray, name)
	w.u32(uint32(len(v)))
	for _, x := range v {
		w.u32(uint32(x))
	}
}
