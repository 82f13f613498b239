// Package modbuscomm reads and writes typed holding registers on a Modbus TCP
// target.
package modbuscomm

import "errors"

// ModbusComm is implemented by Poller
type ModbusComm interface {
	Read([]Register) (map[string]float64, error)
	Write([]Register, map[string]float64) error
}

// DataType defines the register encoding
type DataType string

// Supported data types. 32 bit types span two registers.
const (
	U16 DataType = "u16"
	I16 DataType = "i16"
	U32 DataType = "u32"
	I32 DataType = "i32"
	F32 DataType = "f32"
)

// Access is the register read/write type
type Access string

// Access types
const (
	ReadOnly  Access = "read-only"
	WriteOnly Access = "write-only"
	ReadWrite Access = "read-write"
)

// Endian is the byte order of a register value
type Endian string

// Byte orders
const (
	LittleEndian Endian = "little"
	BigEndian    Endian = "big"
)

// ErrRegister is returned for a register name not in the map
var ErrRegister = errors.New("modbuscomm: register not found")

// ErrDataType is returned for an unsupported register data type
var ErrDataType = errors.New("modbuscomm: unsupported data type")

// Register describes one value in the target's register map. Decoded values
// are multiplied by Scale; a zero Scale reads as 1.
type Register struct {
	Name       string   `json:"Name"`
	Address    uint16   `json:"Address"`
	DataType   DataType `json:"DataType"`
	AccessType Access   `json:"Access"`
	Endianness Endian   `json:"Endianness"`
	Scale      float64  `json:"Scale"`
}

func (r Register) scale() float64 {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}

// FilterRegisters returns registers with matching access type. Read-write
// registers always match.
func FilterRegisters(r []Register, a Access) []Register {
	filtered := make([]Register, 0)
	for _, reg := range r {
		if reg.AccessType == a || reg.AccessType == ReadWrite {
			filtered = append(filtered, reg)
		}
	}
	return filtered
}

// findIndexByName returns the index of the named register, or -1 and
// ErrRegister.
func findIndexByName(registers []Register, name string) (int, error) {
	for index, register := range registers {
		if register.Name == name {
			return index, nil
		}
	}
	return -1, ErrRegister
}
