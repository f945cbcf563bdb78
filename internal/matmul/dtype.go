package matmul

import (
	"fmt"
	"strings"
)

type DataType int

const (
	F32 DataType = iota
	F16
	QASYMM8
	QASYMM8Signed
	U8
	S8
)

var dataTypeNames = [...]string{
	F32:           "f32",
	F16:           "f16",
	QASYMM8:       "qasymm8",
	QASYMM8Signed: "qasymm8_signed",
	U8:            "u8",
	S8:            "s8",
}

func (d DataType) String() string {
	if d >= 0 && int(d) < len(dataTypeNames) {
		return dataTypeNames[d]
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

func ParseDataType(s string) (DataType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "float32", "fp32":
		return F32, nil
	case "float16", "fp16", "half":
		return F16, nil
	}
	for i, n := range dataTypeNames {
		if n == name {
			return DataType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

func (d DataType) IsFloat() bool {
	return d == F32 || d == F16
}

// Is8Bit covers the signed and unsigned 8-bit integer variants.
func (d DataType) Is8Bit() bool {
	switch d {
	case QASYMM8, QASYMM8Signed, U8, S8:
		return true
	default:
		return false
	}
}

// Size is the element size in bytes.
func (d DataType) Size() int {
	switch d {
	case F32:
		return 4
	case F16:
		return 2
	default:
		return 1
	}
}

func (d DataType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DataType) UnmarshalText(b []byte) error {
	v, err := ParseDataType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
