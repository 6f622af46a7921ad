package probe

// debugAPI is the opcode capability selected at session open. The two
// firmware generations use different register-access sub-commands, so
// each generation gets its own implementation instead of conditionals
// on the command path. Only api-v2 is implemented; Open rejects older
// firmware.
type debugAPI interface {
	enter() *command
	readIDCodes() *command
	readReg(reg uint8) *command
	writeReg(reg uint8, value uint32) *command
	readDebugReg(addr uint32) *command
	writeDebugReg(addr uint32, value uint32) *command
	swdSetFreq(divisor byte) *command
}

type apiV2 struct{}

func (apiV2) enter() *command {
	return newCommand(cmdDebug, apiV2Enter, enterSWD)
}

func (apiV2) readIDCodes() *command {
	return newCommand(cmdDebug, apiV2ReadIDCodes)
}

func (apiV2) readReg(reg uint8) *command {
	return newCommand(cmdDebug, apiV2ReadReg).byte(reg)
}

func (apiV2) writeReg(reg uint8, value uint32) *command {
	return newCommand(cmdDebug, apiV2WriteReg).byte(reg).u32(value)
}

func (apiV2) readDebugReg(addr uint32) *command {
	return newCommand(cmdDebug, apiV2ReadDebugReg).u32(addr)
}

func (apiV2) writeDebugReg(addr uint32, value uint32) *command {
	return newCommand(cmdDebug, apiV2WriteDebugReg).u32(addr).u32(value)
}

func (apiV2) swdSetFreq(divisor byte) *command {
	return newCommand(cmdDebug, apiV2SwdSetFreq).byte(divisor)
}
