// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import "fmt"

// InstructionKind classifies a decoded packet
type InstructionKind int

// Instruction kinds
const (
	KindUnknown InstructionKind = iota
	KindIdle
	KindReset
	KindSpeed128
	KindEmergencyStop
	KindFunction
	KindOpsCV
	KindDirectCV
)

// Instruction is the decoded meaning of a packet
type Instruction struct {
	Kind    InstructionKind
	Address Address

	// KindSpeed128
	SpeedCode byte
	Forward   bool

	// KindFunction
	Group     FunctionGroup
	Functions uint32

	// KindOpsCV, KindDirectCV
	Op       CVOp
	CV       int
	Value    byte
	Bit      int
	BitValue bool
	BitWrite bool
}

// Speed returns the signed magnitude carried by a speed instruction
func (i Instruction) Speed() int {
	m := int(i.SpeedCode)
	if m == int(emergencyCode) {
		m = 0
	}
	if !i.Forward {
		return -m
	}
	return m
}

// ParsePacket decodes the instruction carried by p.
// service selects the service mode interpretation of 0111xxxx packets,
// which otherwise collide with short addresses 112-127.
func ParsePacket(p Packet, service bool) (Instruction, error) {
	if !p.Valid() {
		return Instruction{}, fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrChecksum, Checksum(p.Body()), p.Checksum())
	}
	body := p.Body()

	switch {
	case p.IsIdle():
		return Instruction{Kind: KindIdle}, nil
	case p.IsReset():
		return Instruction{Kind: KindReset}, nil
	case service && len(body) == 3 && body[0]&0xF0 == instrDirectMode:
		return parseCV(Instruction{Kind: KindDirectCV}, body)
	}

	addr, ok := p.Address()
	if !ok {
		return Instruction{}, fmt.Errorf("unsupported address partition 0x%02X", body[0])
	}
	instr := body[1:]
	if body[0] >= 0xC0 {
		instr = body[2:]
	}
	if len(instr) == 0 {
		return Instruction{}, fmt.Errorf("packet for address %d has no instruction", addr)
	}
	ins := Instruction{Address: addr}

	b := instr[0]
	switch {
	case b == instrAdvancedOps && len(instr) == 2:
		ins.SpeedCode = instr[1] & 0x7F
		ins.Forward = instr[1]&0x80 != 0
		ins.Kind = KindSpeed128
		if ins.SpeedCode == emergencyCode {
			ins.Kind = KindEmergencyStop
		}
		return ins, nil

	case b&0xE0 == instrFuncGroupOne:
		return parseFunction(ins, GroupF0F4, instr)
	case b&0xF0 == instrFuncGroupTwo|0x10:
		return parseFunction(ins, GroupF5F8, instr)
	case b&0xF0 == instrFuncGroupTwo:
		return parseFunction(ins, GroupF9F12, instr)
	case b == instrF13F20 && len(instr) == 2:
		return parseFunction(ins, GroupF13F20, instr)
	case b == instrF21F28 && len(instr) == 2:
		return parseFunction(ins, GroupF21F28, instr)

	case b&0xF0 == instrCVLong && len(instr) == 3:
		ins.Kind = KindOpsCV
		return parseCV(ins, instr)
	}

	return Instruction{}, fmt.Errorf("unsupported instruction 0x%02X for address %d", b, addr)
}

func parseFunction(ins Instruction, g FunctionGroup, instr []byte) (Instruction, error) {
	ins.Kind = KindFunction
	ins.Group = g
	ins.Functions = functionGroups[g].decode(instr)
	return ins, nil
}

// parseCV decodes the three CV access bytes: xxxxCCAA AAAAAAAA DDDDDDDD
func parseCV(ins Instruction, instr []byte) (Instruction, error) {
	ins.Op = CVOp(instr[0]>>2) & cvOpFieldMask
	ins.CV = (int(instr[0]&0x03)<<8 | int(instr[1])) + 1
	ins.Value = instr[2]
	switch ins.Op {
	case CVOpBit:
		if instr[2]&bitManipulation != bitManipulation {
			return Instruction{}, fmt.Errorf("malformed bit manipulation data 0x%02X", instr[2])
		}
		ins.Bit = int(instr[2] & 0x07)
		ins.BitValue = instr[2]&0x08 != 0
		ins.BitWrite = instr[2]&0x10 != 0
	case CVOpReserved:
		return Instruction{}, fmt.Errorf("reserved CV access operation for CV %d", ins.CV)
	}
	return ins, nil
}
