package nbt

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrMalformed reports NBT data that cannot be decoded.
var ErrMalformed = errors.New("malformed nbt")

const (
	maxDepth     = 64
	maxArrayLen  = 1 << 24
	maxListCount = 1 << 20
)

// Compound is a decoded compound tag. Values are byte, int16, int32, int64,
// float32, float64, []byte, string, []any (lists), Compound or []int32.
type Compound map[string]any

// Read decodes one named root tag, which must be a compound.
func Read(r io.Reader) (string, Compound, error) {
	d := decoder{r: bufio.NewReader(r)}
	tagType, err := d.u8()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", nil, fmt.Errorf("%w: empty input", ErrMalformed)
		}
		return "", nil, err
	}
	if tagType != TagCompound {
		return "", nil, fmt.Errorf("%w: root tag type %d, want compound", ErrMalformed, tagType)
	}
	name, err := d.str()
	if err != nil {
		return "", nil, err
	}
	c, err := d.compound(0)
	if err != nil {
		return "", nil, err
	}
	return name, c, nil
}

type decoder struct {
	r   *bufio.Reader
	buf [8]byte
}

// full reads exactly len(p) bytes; a short read is malformed input.
func (d *decoder) full(p []byte) error {
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: truncated", ErrMalformed)
		}
		return err
	}
	return nil
}

func (d *decoder) u8() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) u16() (uint16, error) {
	if err := d.full(d.buf[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(d.buf[:2]), nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.full(d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(d.buf[:4]), nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.full(d.buf[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(d.buf[:8]), nil
}

func (d *decoder) str() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if err := d.full(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) length(limit int) (int, error) {
	n, err := d.u32()
	if err != nil {
		return 0, err
	}
	if int32(n) < 0 || int(n) > limit {
		return 0, fmt.Errorf("%w: length %d", ErrMalformed, int32(n))
	}
	return int(n), nil
}

func (d *decoder) compound(depth int) (Compound, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrMalformed)
	}
	c := Compound{}
	for {
		tagType, err := d.u8()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: unterminated compound", ErrMalformed)
			}
			return nil, err
		}
		if tagType == TagEnd {
			return c, nil
		}
		name, err := d.str()
		if err != nil {
			return nil, err
		}
		v, err := d.payload(tagType, depth+1)
		if err != nil {
			return nil, fmt.Errorf("tag %q: %w", name, err)
		}
		c[name] = v
	}
}

func (d *decoder) payload(tagType byte, depth int) (any, error) {
	switch tagType {
	case TagByte:
		v, err := d.u8()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: truncated", ErrMalformed)
		}
		return v, err
	case TagShort:
		v, err := d.u16()
		return int16(v), err
	case TagInt:
		v, err := d.u32()
		return int32(v), err
	case TagLong:
		v, err := d.u64()
		return int64(v), err
	case TagFloat:
		v, err := d.u32()
		return math.Float32frombits(v), err
	case TagDouble:
		v, err := d.u64()
		return math.Float64frombits(v), err
	case TagByteArray:
		n, err := d.length(maxArrayLen)
		if err != nil {
			return nil, err
		}
		b := make([]byte, n)
		if err := d.full(b); err != nil {
			return nil, err
		}
		return b, nil
	case TagString:
		return d.str()
	case TagList:
		return d.list(depth)
	case TagCompound:
		return d.compound(depth)
	case TagIntArray:
		n, err := d.length(maxArrayLen)
		if err != nil {
			return nil, err
		}
		out := make([]int32, n)
		for i := range out {
			v, err := d.u32()
			if err != nil {
				return nil, err
			}
			out[i] = int32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag type %d", ErrMalformed, tagType)
	}
}

func (d *decoder) list(depth int) ([]any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting too deep", ErrMalformed)
	}
	elemType, err := d.u8()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	n, err := d.length(maxListCount)
	if err != nil {
		return nil, err
	}
	if elemType == TagEnd && n > 0 {
		return nil, fmt.Errorf("%w: list of end tags", ErrMalformed)
	}
	out := make([]any, 0, n)
	for range n {
		v, err := d.payload(elemType, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Int returns the int tag called name.
func (c Compound) Int(name string) (int32, error) {
	v, ok := c[name].(int32)
	if !ok {
		return 0, fmt.Errorf("%w: missing int %q", ErrMalformed, name)
	}
	return v, nil
}

// Long returns the long tag called name.
func (c Compound) Long(name string) (int64, error) {
	v, ok := c[name].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: missing long %q", ErrMalformed, name)
	}
	return v, nil
}

// ByteArray returns the byte array tag called name.
func (c Compound) ByteArray(name string) ([]byte, error) {
	v, ok := c[name].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: missing byte array %q", ErrMalformed, name)
	}
	return v, nil
}

// Compounds returns the list tag called name as compounds. An empty list of
// any element type is accepted.
func (c Compound) Compounds(name string) ([]Compound, error) {
	raw, ok := c[name].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing list %q", ErrMalformed, name)
	}
	out := make([]Compound, len(raw))
	for i, e := range raw {
		ec, ok := e.(Compound)
		if !ok {
			return nil, fmt.Errorf("%w: %q element %d is not a compound", ErrMalformed, name, i)
		}
		out[i] = ec
	}
	return out, nil
}
