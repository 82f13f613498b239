package modbuscomm

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/goburrow/modbus"
)

// Poller reads a Modbus TCP target, one connection per call.
type Poller struct {
	handler  *modbus.TCPClientHandler
	pollRate time.Duration
}

// PollerConfig is the configuration format for Poller. Timeout and PollRate
// are in milliseconds.
type PollerConfig struct {
	IPAddr       string `json:"IPAddr"`
	Port         string `json:"Port"`
	SlaveID      byte   `json:"SlaveID"`
	Timeout      int    `json:"Timeout"`
	PollRate     int    `json:"PollRate"`
	EnableLogger bool   `json:"EnableLogger"`
}

// NewPoller is a factory for the Poller struct
func NewPoller(cfg PollerConfig) Poller {
	handler := modbus.NewTCPClientHandler(cfg.IPAddr + ":" + cfg.Port)
	handler.Timeout = time.Millisecond * time.Duration(cfg.Timeout)
	handler.SlaveId = cfg.SlaveID

	if cfg.EnableLogger {
		handler.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}

	return Poller{
		handler:  handler,
		pollRate: time.Millisecond * time.Duration(cfg.PollRate),
	}
}

// PollRate is the configured interval between reads
func (m Poller) PollRate() time.Duration {
	return m.pollRate
}

// Read decodes every register. Registers that fail to read are left out of
// the result and the last failure is returned with the values that did read.
func (m Poller) Read(registers []Register) (map[string]float64, error) {
	if err := m.handler.Connect(); err != nil {
		return nil, err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	values := make(map[string]float64)
	var err error
	for _, register := range registers {
		size, sizeErr := sizeOf(register.DataType)
		if sizeErr != nil {
			err = sizeErr
			continue
		}
		resp, readErr := client.ReadHoldingRegisters(register.Address, size)
		if readErr != nil {
			err = fmt.Errorf("%s: %w", register.Name, readErr)
			continue
		}
		v, decodeErr := decode(resp, register)
		if decodeErr != nil {
			err = decodeErr
			continue
		}
		values[register.Name] = v
	}
	return values, err
}

// Write encodes and writes each named value to its register.
func (m Poller) Write(registers []Register, writeValues map[string]float64) error {
	if err := m.handler.Connect(); err != nil {
		return err
	}
	defer m.handler.Close()

	client := modbus.NewClient(m.handler)
	var err error
	for name, val := range writeValues {
		i, findErr := findIndexByName(registers, name)
		if findErr != nil {
			err = fmt.Errorf("%s: %w", name, findErr)
			continue
		}
		size, sizeErr := sizeOf(registers[i].DataType)
		if sizeErr != nil {
			err = sizeErr
			continue
		}
		b, encodeErr := encode(val, registers[i])
		if encodeErr != nil {
			err = encodeErr
			continue
		}
		if _, writeErr := client.WriteMultipleRegisters(registers[i].Address, size, b); writeErr != nil {
			err = fmt.Errorf("%s: %w", name, writeErr)
		}
	}
	return err
}

// encode converts an engineering value into register bytes
func encode(val float64, register Register) ([]byte, error) {
	endian := getByteOrder(register.Endianness)
	raw := val / register.scale()
	switch register.DataType {
	case U16:
		b := make([]byte, 2)
		endian.PutUint16(b, uint16(raw))
		return b, nil
	case I16:
		b := make([]byte, 2)
		endian.PutUint16(b, uint16(int16(math.Round(raw))))
		return b, nil
	case U32:
		b := make([]byte, 4)
		endian.PutUint32(b, uint32(raw))
		return b, nil
	case I32:
		b := make([]byte, 4)
		endian.PutUint32(b, uint32(int32(math.Round(raw))))
		return b, nil
	case F32:
		b := make([]byte, 4)
		endian.PutUint32(b, math.Float32bits(float32(raw)))
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrDataType, register.DataType)
}

// decode converts register bytes into an engineering value
func decode(b []byte, register Register) (float64, error) {
	size, err := sizeOf(register.DataType)
	if err != nil {
		return 0, err
	}
	if len(b) < int(2*size) {
		return 0, fmt.Errorf("modbuscomm: %s: short response of %d bytes", register.Name, len(b))
	}
	endian := getByteOrder(register.Endianness)
	var n float64
	switch register.DataType {
	case U16:
		n = float64(endian.Uint16(b))
	case I16:
		n = float64(int16(endian.Uint16(b)))
	case U32:
		n = float64(endian.Uint32(b))
	case I32:
		n = float64(int32(endian.Uint32(b)))
	case F32:
		n = float64(math.Float32frombits(endian.Uint32(b)))
	}
	return n * register.scale(), nil
}

// getByteOrder returns the binary.ByteOrder for the register
func getByteOrder(e Endian) binary.ByteOrder {
	if e == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// sizeOf returns the number of 16 bit registers for the data type
func sizeOf(t DataType) (uint16, error) {
	switch t {
	case U16, I16:
		return 1, nil
	case U32, I32, F32:
		return 2, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrDataType, t)
}
