package array

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Dtype describes the element type stored in a dataset using the NumPy
// array protocol type string format: byte order, basic type, byte size.
//
//	"<u2"  little-endian uint16
//	">f4"  big-endian float32
//	"|u1"  uint8, byte order not relevant
//
// Only fixed-size integer and floating point types are supported; the
// engine does not process strings, complex numbers or structured types.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Common dtypes.
var (
	Uint8   = Dtype{BONotRelevant, BTUnsigned, 1}
	Uint16  = Dtype{BOLittleEndian, BTUnsigned, 2}
	Uint32  = Dtype{BOLittleEndian, BTUnsigned, 4}
	Uint64  = Dtype{BOLittleEndian, BTUnsigned, 8}
	Int8    = Dtype{BONotRelevant, BTInteger, 1}
	Int16   = Dtype{BOLittleEndian, BTInteger, 2}
	Int32   = Dtype{BOLittleEndian, BTInteger, 4}
	Int64   = Dtype{BOLittleEndian, BTInteger, 8}
	Float32 = Dtype{BOLittleEndian, BTFloatingPoint, 4}
	Float64 = Dtype{BOLittleEndian, BTFloatingPoint, 8}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	dt.ByteOrder, err = ParseByteOrder(rune(s[0]))
	if err != nil {
		return dt, err
	}
	dt.BasicType, err = ParseBasicType(rune(s[1]))
	if err != nil {
		return dt, err
	}

	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return dt, fmt.Errorf("invalid Dtype size in %q: %w", s, err)
	}
	dt.ByteSize = size

	return dt, dt.Validate()
}

// Validate checks that the size is one the codecs understand.
func (dt Dtype) Validate() error {
	switch dt.BasicType {
	case BTUnsigned, BTInteger:
		switch dt.ByteSize {
		case 1, 2, 4, 8:
			return nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4, 8:
			return nil
		}
	}
	return fmt.Errorf("unsupported dtype %s", dt)
}

// Order returns the binary byte order; "not relevant" maps to big-endian,
// which is what single-byte and N5 data use.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOLittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// IsFloat reports whether values can hold NaN or Inf.
func (dt Dtype) IsFloat() bool {
	return dt.BasicType == BTFloatingPoint
}

// WithByteOrder returns a copy using the given byte order. Single-byte
// types always report "not relevant".
func (dt Dtype) WithByteOrder(bo ByteOrder) Dtype {
	if dt.ByteSize == 1 {
		bo = BONotRelevant
	}
	dt.ByteOrder = bo
	return dt
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// N5Name returns the N5 "dataType" attribute for the dtype.
func (dt Dtype) N5Name() string {
	return fmt.Sprintf("%s%d", dt.BasicType.Human(), dt.ByteSize*8)
}

// ParseN5Dtype interprets an N5 "dataType" attribute ("uint16", "float32").
// N5 data is always big-endian.
func ParseN5Dtype(s string) (Dtype, error) {
	var dt Dtype
	var bits string
	switch {
	case strings.HasPrefix(s, "uint"):
		dt.BasicType, bits = BTUnsigned, s[4:]
	case strings.HasPrefix(s, "int"):
		dt.BasicType, bits = BTInteger, s[3:]
	case strings.HasPrefix(s, "float"):
		dt.BasicType, bits = BTFloatingPoint, s[5:]
	default:
		return dt, fmt.Errorf("unsupported N5 dataType %q", s)
	}
	n, err := strconv.Atoi(bits)
	if err != nil || n%8 != 0 {
		return dt, fmt.Errorf("unsupported N5 dataType %q", s)
	}
	dt.ByteSize = n / 8
	dt = dt.WithByteOrder(BOBigEndian)
	return dt, dt.Validate()
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
)

var supportedBasicTypes = map[BasicType]string{
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
}
