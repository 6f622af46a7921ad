// Package swd provides byte-granular SWD memory access over an ST-Link
// probe session, decomposing arbitrary transfers into the legal 8-bit
// and 32-bit probe primitives.
package swd

import "io"

// Driver is the primitive set a probe session exposes. It is satisfied
// by *probe.Probe; tests substitute a recording fake.
type Driver interface {
	VersionString() string
	GetTargetVoltage() (float64, bool, error)
	GetIDCode() (uint32, error)

	GetReg(reg uint8) (uint32, error)
	SetReg(reg uint8, value uint32) error

	GetMem32(addr uint32) (uint32, error)
	SetMem32(addr uint32, value uint32) error

	// 8-bit bulk access: at most 64 bytes per call, any alignment.
	ReadMem8(addr uint32, size uint32) ([]byte, error)
	WriteMem8(addr uint32, data []byte) error

	// 32-bit bulk access: at most 1024 bytes per call, address and
	// length both multiples of 4.
	ReadMem32(addr uint32, size uint32) ([]byte, error)
	WriteMem32(addr uint32, data []byte) error
}

// Planner limits, matching the driver primitives.
const (
	max8BitChunk  = 64
	max32BitChunk = 1024
)

// SWD is the public driver surface.
type SWD struct {
	drv Driver
}

func New(drv Driver) *SWD {
	return &SWD{drv: drv}
}

// Version returns the canonical probe identity string.
func (s *SWD) Version() string {
	return s.drv.VersionString()
}

// TargetVoltage measures the target supply. ok is false when the probe
// cannot derive a voltage.
func (s *SWD) TargetVoltage() (voltage float64, ok bool, err error) {
	return s.drv.GetTargetVoltage()
}

// IDCode reads the target's debug port identifier.
func (s *SWD) IDCode() (uint32, error) {
	return s.drv.GetIDCode()
}

// Reg reads a CPU core register; the core must be halted.
func (s *SWD) Reg(reg uint8) (uint32, error) {
	return s.drv.GetReg(reg)
}

// SetReg writes a CPU core register; the core must be halted.
func (s *SWD) SetReg(reg uint8, value uint32) error {
	return s.drv.SetReg(reg, value)
}

// Mem32 reads one word at a 4-byte-aligned address.
func (s *SWD) Mem32(addr uint32) (uint32, error) {
	return s.drv.GetMem32(addr)
}

// SetMem32 writes one word at a 4-byte-aligned address.
func (s *SWD) SetMem32(addr uint32, value uint32) error {
	return s.drv.SetMem32(addr, value)
}

// ReadMem streams size bytes of target memory starting at addr. The
// returned reader issues one probe primitive per refill and never holds
// more than a single primitive's payload, so arbitrarily large regions
// can be read without buffering them.
func (s *SWD) ReadMem(addr uint32, size uint32) io.Reader {
	return &memReader{drv: s.drv, addr: addr, left: size}
}
