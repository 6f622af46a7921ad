package probe

import "encoding/binary"

// Top-level ST-Link command opcodes.
const (
	cmdGetVersion       = 0xf1
	cmdDebug            = 0xf2
	cmdDfu              = 0xf3
	cmdSwim             = 0xf4
	cmdGetCurrentMode   = 0xf5
	cmdGetTargetVoltage = 0xf7
)

// Probe modes reported by cmdGetCurrentMode.
const (
	ModeDFU        = 0x00
	ModeMass       = 0x01
	ModeDebug      = 0x02
	ModeSwim       = 0x03
	ModeBootloader = 0x04
)

// DFU sub-commands.
const dfuExit = 0x07

// SWIM sub-commands.
const (
	swimEnter = 0x00
	swimExit  = 0x01
)

// Debug sub-commands shared by both API generations.
const (
	debugStatus     = 0x01
	debugForce      = 0x02
	debugReadMem32  = 0x07
	debugWriteMem32 = 0x08
	debugRunCore    = 0x09
	debugStepCore   = 0x0a
	debugReadMem8   = 0x0c
	debugWriteMem8  = 0x0d
	debugExit       = 0x21
	debugReadCoreID = 0x22
	debugSync       = 0x3e
)

// Transport selector for the debug-enter command.
const enterSWD = 0x00

// api-v1 debug sub-commands (firmware with jtag <= 11). Declared only;
// no v1 capability implements them and the v2 session never issues them.
const (
	apiV1ResetSys      = 0x03
	apiV1ReadAllRegs   = 0x04
	apiV1ReadReg       = 0x05
	apiV1WriteReg      = 0x06
	apiV1SetFP         = 0x0b
	apiV1ClearFP       = 0x0e
	apiV1WriteDebugReg = 0x0f
	apiV1SetWatchpoint = 0x10
	apiV1Enter         = 0x20
)

// api-v2 debug sub-commands.
const (
	apiV2Enter         = 0x30
	apiV2ReadIDCodes   = 0x31
	apiV2ResetSys      = 0x32
	apiV2ReadReg       = 0x33
	apiV2WriteReg      = 0x34
	apiV2WriteDebugReg = 0x35
	apiV2ReadDebugReg  = 0x36
	apiV2ReadAllRegs   = 0x3a
	apiV2GetLastRWStat = 0x3b
	apiV2DriveNrst     = 0x3c
	apiV2StartTraceRx  = 0x40
	apiV2StopTraceRx   = 0x41
	apiV2GetTraceNB    = 0x42
	apiV2SwdSetFreq    = 0x43
)

// nRST drive levels for apiV2DriveNrst.
const (
	nrstLow   = 0x00
	nrstHigh  = 0x01
	nrstPulse = 0x02
)

// command accumulates a fixed-schema probe command: an opcode prefix
// followed by single-byte and little-endian u32 fields.
type command struct {
	buf []byte
}

func newCommand(opcodes ...byte) *command {
	c := &command{buf: make([]byte, 0, 16)}
	c.buf = append(c.buf, opcodes...)
	return c
}

func (c *command) byte(b byte) *command {
	c.buf = append(c.buf, b)
	return c
}

func (c *command) u32(v uint32) *command {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	c.buf = append(c.buf, w[:]...)
	return c
}

func (c *command) bytes() []byte {
	return c.buf
}
