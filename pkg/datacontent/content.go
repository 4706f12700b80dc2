// Package datacontent holds a numeric value of one of a closed set of kinds,
// either as a scalar or as an array, with checked accessors and a byte codec.
package datacontent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	U8 Kind = iota
	S8
	U16
	S16
	U32
	S32
	U64
	S64
	F32
	F64
)

var ErrKindMismatch = errors.New("datacontent: kind mismatch")
var ErrOutOfRange = errors.New("datacontent: out of range")

func (k Kind) String() string {
	switch k {
	case U8:
		return "uint8"
	case S8:
		return "sint8"
	case U16:
		return "uint16"
	case S16:
		return "sint16"
	case U32:
		return "uint32"
	case S32:
		return "sint32"
	case U64:
		return "uint64"
	case S64:
		return "sint64"
	case F32:
		return "float32"
	case F64:
		return "float64"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ParseKind accepts the String form of a kind or its short form (u8, s16,
// f32 ...).
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k := U8; k <= F64; k++ {
		if s == k.String() || s == k.short() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown kind %q", ErrOutOfRange, s)
}

func (k Kind) short() string {
	switch {
	case k.float():
		return "f" + strconv.Itoa(k.Size()*8)
	case k.signed():
		return "s" + strconv.Itoa(k.Size()*8)
	default:
		return "u" + strconv.Itoa(k.Size()*8)
	}
}

// Size is the number of bytes of one element of kind k.
func (k Kind) Size() int {
	switch k {
	case U8, S8:
		return 1
	case U16, S16:
		return 2
	case U32, S32, F32:
		return 4
	case U64, S64, F64:
		return 8
	default:
		return 0
	}
}

func (k Kind) valid() bool {
	return k <= F64
}

func (k Kind) signed() bool {
	return k == S8 || k == S16 || k == S32 || k == S64
}

func (k Kind) float() bool {
	return k == F32 || k == F64
}

// Content is a tagged numeric value. Signed kinds are kept in ints, F64 in
// floats, unsigned kinds and the raw bits of F32 in uints; only the slice
// matching the kind is populated. F32 never passes through float64 so every
// bit pattern survives a decode and encode.
type Content struct {
	kind   Kind
	array  bool
	ints   []int64
	uints  []uint64
	floats []float64
}

// New returns a zero valued scalar of kind k.
func New(k Kind) (*Content, error) {
	return NewArray(k, 1, false)
}

// NewArray returns a zero valued content with n elements.
func NewArray(k Kind, n int, array bool) (*Content, error) {
	if !k.valid() {
		return nil, fmt.Errorf("%w: invalid kind %d", ErrOutOfRange, k)
	}
	if n < 1 || !array && n != 1 {
		return nil, fmt.Errorf("%w: %d elements", ErrOutOfRange, n)
	}
	c := &Content{kind: k, array: array}
	switch {
	case k == F64:
		c.floats = make([]float64, n)
	case k.signed():
		c.ints = make([]int64, n)
	default:
		c.uints = make([]uint64, n)
	}
	return c, nil
}

func (c *Content) Kind() Kind    { return c.kind }
func (c *Content) IsArray() bool { return c.array }

func (c *Content) Len() int {
	switch {
	case c.kind == F64:
		return len(c.floats)
	case c.kind.signed():
		return len(c.ints)
	default:
		return len(c.uints)
	}
}

// Size is the encoded size in bytes.
func (c *Content) Size() int {
	return c.Len() * c.kind.Size()
}

func (c *Content) check(k Kind, i int, array bool) error {
	if c.kind != k {
		return fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, c.kind, k)
	}
	if c.array != array {
		return fmt.Errorf("%w: array=%v", ErrKindMismatch, c.array)
	}
	if i < 0 || i >= c.Len() {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, c.Len())
	}
	return nil
}

func (c *Content) uintAt(k Kind, i int, array bool) (uint64, error) {
	if err := c.check(k, i, array); err != nil {
		return 0, err
	}
	return c.uints[i], nil
}

func (c *Content) intAt(k Kind, i int, array bool) (int64, error) {
	if err := c.check(k, i, array); err != nil {
		return 0, err
	}
	return c.ints[i], nil
}

func (c *Content) floatAt(i int, array bool) (float64, error) {
	if err := c.check(F64, i, array); err != nil {
		return 0, err
	}
	return c.floats[i], nil
}

func (c *Content) float32At(i int, array bool) (float32, error) {
	if err := c.check(F32, i, array); err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(c.uints[i])), nil
}

func (c *Content) Uint8() (uint8, error) {
	v, err := c.uintAt(U8, 0, false)
	return uint8(v), err
}

func (c *Content) Int8() (int8, error) {
	v, err := c.intAt(S8, 0, false)
	return int8(v), err
}

func (c *Content) Uint16() (uint16, error) {
	v, err := c.uintAt(U16, 0, false)
	return uint16(v), err
}

func (c *Content) Int16() (int16, error) {
	v, err := c.intAt(S16, 0, false)
	return int16(v), err
}

func (c *Content) Uint32() (uint32, error) {
	v, err := c.uintAt(U32, 0, false)
	return uint32(v), err
}

func (c *Content) Int32() (int32, error) {
	v, err := c.intAt(S32, 0, false)
	return int32(v), err
}

func (c *Content) Uint64() (uint64, error) {
	return c.uintAt(U64, 0, false)
}

func (c *Content) Int64() (int64, error) {
	return c.intAt(S64, 0, false)
}

func (c *Content) Float32() (float32, error) {
	return c.float32At(0, false)
}

func (c *Content) Float64() (float64, error) {
	return c.floatAt(0, false)
}

func (c *Content) Uint8At(i int) (uint8, error) {
	v, err := c.uintAt(U8, i, true)
	return uint8(v), err
}

func (c *Content) Int8At(i int) (int8, error) {
	v, err := c.intAt(S8, i, true)
	return int8(v), err
}

func (c *Content) Uint16At(i int) (uint16, error) {
	v, err := c.uintAt(U16, i, true)
	return uint16(v), err
}

func (c *Content) Int16At(i int) (int16, error) {
	v, err := c.intAt(S16, i, true)
	return int16(v), err
}

func (c *Content) Uint32At(i int) (uint32, error) {
	v, err := c.uintAt(U32, i, true)
	return uint32(v), err
}

func (c *Content) Int32At(i int) (int32, error) {
	v, err := c.intAt(S32, i, true)
	return int32(v), err
}

func (c *Content) Uint64At(i int) (uint64, error) {
	return c.uintAt(U64, i, true)
}

func (c *Content) Int64At(i int) (int64, error) {
	return c.intAt(S64, i, true)
}

func (c *Content) Float32At(i int) (float32, error) {
	return c.float32At(i, true)
}

func (c *Content) Float64At(i int) (float64, error) {
	return c.floatAt(i, true)
}

// SetUint stores v at index i of an unsigned content, v must fit the kind.
func (c *Content) SetUint(i int, v uint64) error {
	if c.kind.signed() || c.kind.float() {
		return fmt.Errorf("%w: %s is not unsigned", ErrKindMismatch, c.kind)
	}
	if i < 0 || i >= c.Len() {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, c.Len())
	}
	if bitsOf(c.kind) < 64 && v>>bitsOf(c.kind) != 0 {
		return fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, v, c.kind)
	}
	c.uints[i] = v
	return nil
}

// SetInt stores v at index i of a signed content, v must fit the kind.
func (c *Content) SetInt(i int, v int64) error {
	if !c.kind.signed() {
		return fmt.Errorf("%w: %s is not signed", ErrKindMismatch, c.kind)
	}
	if i < 0 || i >= c.Len() {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, c.Len())
	}
	if n := bitsOf(c.kind); n < 64 {
		lim := int64(1) << (n - 1)
		if v < -lim || v >= lim {
			return fmt.Errorf("%w: %d does not fit %s", ErrOutOfRange, v, c.kind)
		}
	}
	c.ints[i] = v
	return nil
}

// SetFloat stores v at index i of a float content. Float32 values are
// rounded to single precision.
func (c *Content) SetFloat(i int, v float64) error {
	if !c.kind.float() {
		return fmt.Errorf("%w: %s is not a float", ErrKindMismatch, c.kind)
	}
	if i < 0 || i >= c.Len() {
		return fmt.Errorf("%w: index %d of %d", ErrOutOfRange, i, c.Len())
	}
	if c.kind == F32 {
		c.uints[i] = uint64(math.Float32bits(float32(v)))
		return nil
	}
	c.floats[i] = v
	return nil
}

func bitsOf(k Kind) uint {
	return uint(k.Size() * 8)
}

// Bytes encodes every element in the given byte order.
func (c *Content) Bytes(order binary.ByteOrder) []byte {
	size := c.kind.Size()
	out := make([]byte, c.Size())
	for i := 0; i < c.Len(); i++ {
		b := out[i*size : (i+1)*size]
		var raw uint64
		switch {
		case c.kind == F64:
			raw = math.Float64bits(c.floats[i])
		case c.kind.signed():
			raw = uint64(c.ints[i])
		default:
			raw = c.uints[i]
		}
		putRaw(order, b, raw)
	}
	return out
}

// SetBytes decodes blob into the content, blob must be exactly Size() bytes.
func (c *Content) SetBytes(order binary.ByteOrder, blob []byte) error {
	if len(blob) != c.Size() {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrOutOfRange, len(blob), c.Size())
	}
	size := c.kind.Size()
	for i := 0; i < c.Len(); i++ {
		raw := getRaw(order, blob[i*size:(i+1)*size])
		switch c.kind {
		case F64:
			c.floats[i] = math.Float64frombits(raw)
		case S8:
			c.ints[i] = int64(int8(raw))
		case S16:
			c.ints[i] = int64(int16(raw))
		case S32:
			c.ints[i] = int64(int32(raw))
		case S64:
			c.ints[i] = int64(raw)
		default:
			c.uints[i] = raw
		}
	}
	return nil
}

func putRaw(order binary.ByteOrder, b []byte, raw uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(raw)
	case 2:
		order.PutUint16(b, uint16(raw))
	case 4:
		order.PutUint32(b, uint32(raw))
	case 8:
		order.PutUint64(b, raw)
	}
}

func getRaw(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	default:
		return order.Uint64(b)
	}
}

func (c *Content) String() string {
	var vals any
	switch {
	case c.kind == F32:
		fs := make([]float32, len(c.uints))
		for i, raw := range c.uints {
			fs[i] = math.Float32frombits(uint32(raw))
		}
		vals = fs
	case c.kind == F64:
		vals = c.floats
	case c.kind.signed():
		vals = c.ints
	default:
		vals = c.uints
	}
	if !c.array {
		switch v := vals.(type) {
		case []float32:
			return fmt.Sprintf("%s(%v)", c.kind, v[0])
		case []float64:
			return fmt.Sprintf("%s(%v)", c.kind, v[0])
		case []int64:
			return fmt.Sprintf("%s(%d)", c.kind, v[0])
		case []uint64:
			return fmt.Sprintf("%s(%d)", c.kind, v[0])
		}
	}
	return fmt.Sprintf("%s%v", c.kind, vals)
}

// Parse builds a content of kind k from decimal or 0x prefixed values, more
// than one value makes an array.
func Parse(k Kind, values []string) (*Content, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrOutOfRange)
	}
	c, err := NewArray(k, len(values), len(values) > 1)
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if err := c.parseAt(i, v); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Content) parseAt(i int, s string) error {
	bits := int(bitsOf(c.kind))
	switch {
	case c.kind.float():
		v, err := strconv.ParseFloat(s, bits)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrOutOfRange, c.kind, s, err)
		}
		return c.SetFloat(i, v)
	case c.kind.signed():
		v, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrOutOfRange, c.kind, s, err)
		}
		return c.SetInt(i, v)
	default:
		v, err := strconv.ParseUint(s, 0, bits)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrOutOfRange, c.kind, s, err)
		}
		return c.SetUint(i, v)
	}
}

// Decode splits blob into as many elements of kind k as it holds.
func Decode(k Kind, order binary.ByteOrder, blob []byte) (*Content, error) {
	if !k.valid() {
		return nil, fmt.Errorf("%w: invalid kind %d", ErrOutOfRange, k)
	}
	if len(blob) == 0 || len(blob)%k.Size() != 0 {
		return nil, fmt.Errorf("%w: %d bytes do not hold whole %s values", ErrOutOfRange, len(blob), k)
	}
	n := len(blob) / k.Size()
	c, err := NewArray(k, n, n > 1)
	if err != nil {
		return nil, err
	}
	if err := c.SetBytes(order, blob); err != nil {
		return nil, err
	}
	return c, nil
}
