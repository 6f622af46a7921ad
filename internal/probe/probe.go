// Package probe implements the ST-Link/V2 command set: session setup,
// mode management, frequency negotiation and the register/memory access
// primitives.
package probe

import (
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"swdprobe/internal/transport"
)

// Transfer limits enforced before any bytes hit the wire.
const (
	Max8BitData  = 64   // bytes per 8-bit memory primitive
	Max32BitData = 1024 // bytes per 32-bit memory primitive
)

// Programmable SWD frequency exists from firmware J22.
const minJtagSetFreq = 22

// Probe is an open Debug/SWD session on an ST-Link/V2.
//
// A Probe owns its Transport exclusively and keeps at most one command
// in flight. Concurrent calls are not synchronized here; the caller
// serializes. No probe state is cached between primitives.
type Probe struct {
	tr      transport.Transport
	version Version
	freqHz  uint32
	api     debugAPI
}

// Open queries the probe version, leaves whatever mode the probe was
// found in, negotiates the SWD frequency when the firmware supports it,
// and enters Debug/SWD state.
func Open(tr transport.Transport, requestedHz uint32) (*Probe, error) {
	p := &Probe{tr: tr, api: apiV2{}}

	ver, err := p.queryVersion()
	if err != nil {
		return nil, err
	}
	p.version = ver
	if ver.API() != 2 {
		return nil, NewError(ErrCodeFirmware, "firmware does not implement debug api-v2", ver.String())
	}
	log.Infof("connected to %s", ver)

	if err := p.leaveState(); err != nil {
		return nil, err
	}
	if ver.Jtag >= minJtagSetFreq {
		if err := p.setSWDFrequency(requestedHz); err != nil {
			return nil, err
		}
	}
	if err := p.enterDebugSWD(); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the underlying transport and with it the session.
func (p *Probe) Close() error {
	return p.tr.Close()
}

// GetVersion returns the firmware version captured at open.
func (p *Probe) GetVersion() Version {
	return p.version
}

// VersionString renders the canonical probe identity string.
func (p *Probe) VersionString() string {
	return p.version.String()
}

// Frequency returns the negotiated SWD clock in Hz; zero when the
// firmware predates programmable frequency and runs at its default.
func (p *Probe) Frequency() uint32 {
	return p.freqHz
}

func (p *Probe) queryVersion() (Version, error) {
	res, err := p.tr.Xfer([]byte{cmdGetVersion, 0x80}, nil, 6)
	if err != nil {
		return Version{}, err
	}
	word := binary.BigEndian.Uint16(res[:2])
	return parseVersion(word, p.tr.Variant()), nil
}

// leaveState exits whatever mode the probe was left in by a previous
// user. Bootloader and mass-storage modes are left as found.
func (p *Probe) leaveState() error {
	res, err := p.tr.Xfer([]byte{cmdGetCurrentMode}, nil, 2)
	if err != nil {
		return err
	}
	var exit []byte
	switch res[0] {
	case ModeDFU:
		exit = []byte{cmdDfu, dfuExit}
	case ModeDebug:
		exit = []byte{cmdDebug, debugExit}
	case ModeSwim:
		exit = []byte{cmdSwim, swimExit}
	default:
		return nil
	}
	log.Debugf("leaving probe mode 0x%02x", res[0])
	_, err = p.tr.Xfer(exit, nil, 0)
	return err
}

func (p *Probe) setSWDFrequency(hz uint32) error {
	f, ok := pickSWDDivisor(hz)
	if !ok {
		return NewError(ErrCodeFrequency, "requested frequency too low", fmt.Sprintf("%d Hz", hz))
	}
	res, err := p.tr.Xfer(p.api.swdSetFreq(f.divisor).bytes(), nil, 2)
	if err != nil {
		return err
	}
	if res[0] != 0x80 {
		return NewError(ErrCodeFrequency, "frequency switch refused", fmt.Sprintf("status 0x%02x", res[0]))
	}
	p.freqHz = f.hz
	log.Debugf("SWD clock set to %d Hz (divisor %d)", f.hz, f.divisor)
	return nil
}

func (p *Probe) enterDebugSWD() error {
	_, err := p.tr.Xfer(p.api.enter().bytes(), nil, 2)
	return err
}

// GetTargetVoltage measures the target supply voltage. ok is false when
// the reference channel reads zero and no voltage can be derived.
func (p *Probe) GetTargetVoltage() (voltage float64, ok bool, err error) {
	res, err := p.tr.Xfer([]byte{cmdGetTargetVoltage}, nil, 8)
	if err != nil {
		return 0, false, err
	}
	an0 := binary.LittleEndian.Uint32(res[0:4])
	an1 := binary.LittleEndian.Uint32(res[4:8])
	if an0 == 0 {
		return 0, false, nil
	}
	v := 2 * float64(an1) * 1.2 / float64(an0)
	return math.Round(v*100) / 100, true, nil
}

// GetIDCode reads the target's debug port identification word.
func (p *Probe) GetIDCode() (uint32, error) {
	res, err := p.tr.Xfer(p.api.readIDCodes().bytes(), nil, 12)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(res[4:8]), nil
}

// GetReg reads a 32-bit CPU core register. The register ID depends on
// the target architecture, and the core must be halted.
func (p *Probe) GetReg(reg uint8) (uint32, error) {
	res, err := p.tr.Xfer(p.api.readReg(reg).bytes(), nil, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(res[4:8]), nil
}

// SetReg writes a 32-bit CPU core register.
func (p *Probe) SetReg(reg uint8, value uint32) error {
	_, err := p.tr.Xfer(p.api.writeReg(reg, value).bytes(), nil, 2)
	return err
}

// GetMem32 reads one word with 32-bit access. addr must be word aligned.
func (p *Probe) GetMem32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, NewError(ErrCodeAlignment, "address is not aligned to 4 bytes", fmt.Sprintf("0x%08x", addr))
	}
	res, err := p.tr.Xfer(p.api.readDebugReg(addr).bytes(), nil, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(res[4:8]), nil
}

// SetMem32 writes one word with 32-bit access. addr must be word aligned.
func (p *Probe) SetMem32(addr uint32, value uint32) error {
	if addr%4 != 0 {
		return NewError(ErrCodeAlignment, "address is not aligned to 4 bytes", fmt.Sprintf("0x%08x", addr))
	}
	_, err := p.tr.Xfer(p.api.writeDebugReg(addr, value).bytes(), nil, 2)
	return err
}

// ReadMem8 reads up to Max8BitData bytes with 8-bit access. No
// alignment requirement.
func (p *Probe) ReadMem8(addr uint32, size uint32) ([]byte, error) {
	if size > Max8BitData {
		return nil, NewError(ErrCodeSize, "too many bytes to read with 8-bit access",
			fmt.Sprintf("%d (maximum is %d)", size, Max8BitData))
	}
	log.Tracef("read_mem8 0x%08x %d", addr, size)
	return p.tr.Xfer(newCommand(cmdDebug, debugReadMem8).u32(addr).u32(size).bytes(), nil, int(size))
}

// WriteMem8 writes up to Max8BitData bytes with 8-bit access. No
// alignment requirement.
func (p *Probe) WriteMem8(addr uint32, data []byte) error {
	if len(data) > Max8BitData {
		return NewError(ErrCodeSize, "too many bytes to write with 8-bit access",
			fmt.Sprintf("%d (maximum is %d)", len(data), Max8BitData))
	}
	log.Tracef("write_mem8 0x%08x %d", addr, len(data))
	_, err := p.tr.Xfer(newCommand(cmdDebug, debugWriteMem8).u32(addr).u32(uint32(len(data))).bytes(), data, 0)
	return err
}

// ReadMem32 reads up to Max32BitData bytes with 32-bit access. addr and
// size must be multiples of 4.
func (p *Probe) ReadMem32(addr uint32, size uint32) ([]byte, error) {
	if addr%4 != 0 {
		return nil, NewError(ErrCodeAlignment, "address is not aligned to 4 bytes", fmt.Sprintf("0x%08x", addr))
	}
	if size%4 != 0 {
		return nil, NewError(ErrCodeAlignment, "size is not aligned to 4 bytes", fmt.Sprintf("%d", size))
	}
	if size > Max32BitData {
		return nil, NewError(ErrCodeSize, "too many bytes to read with 32-bit access",
			fmt.Sprintf("%d (maximum is %d)", size, Max32BitData))
	}
	log.Tracef("read_mem32 0x%08x %d", addr, size)
	return p.tr.Xfer(newCommand(cmdDebug, debugReadMem32).u32(addr).u32(size).bytes(), nil, int(size))
}

// WriteMem32 writes up to Max32BitData bytes with 32-bit access. addr
// and length must be multiples of 4.
func (p *Probe) WriteMem32(addr uint32, data []byte) error {
	if addr%4 != 0 {
		return NewError(ErrCodeAlignment, "address is not aligned to 4 bytes", fmt.Sprintf("0x%08x", addr))
	}
	if len(data)%4 != 0 {
		return NewError(ErrCodeAlignment, "size is not aligned to 4 bytes", fmt.Sprintf("%d", len(data)))
	}
	if len(data) > Max32BitData {
		return NewError(ErrCodeSize, "too many bytes to write with 32-bit access",
			fmt.Sprintf("%d (maximum is %d)", len(data), Max32BitData))
	}
	log.Tracef("write_mem32 0x%08x %d", addr, len(data))
	_, err := p.tr.Xfer(newCommand(cmdDebug, debugWriteMem32).u32(addr).u32(uint32(len(data))).bytes(), data, 0)
	return err
}
