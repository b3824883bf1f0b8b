// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dcc

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p Packet, service bool) string {
	result := fmt.Sprintf("%s preamble=%d [% X]\n", FormatClass(p.Class()), p.Preamble(), p.Bytes())

	ins, err := ParsePacket(p, service)
	if err != nil {
		return result + fmt.Sprintf("  Error: %v\n", err)
	}
	return result + FormatInstruction(ins)
}

// FormatClass returns the human-readable name for a packet class
func FormatClass(c Class) string {
	switch c {
	case ClassIdle:
		return "IDLE"
	case ClassPeriodic:
		return "PERIODIC"
	case ClassProgramming:
		return "PROGRAMMING"
	default:
		return "UNKNOWN"
	}
}

// FormatKind returns the human-readable name for an instruction kind
func FormatKind(k InstructionKind) string {
	switch k {
	case KindIdle:
		return "IDLE"
	case KindReset:
		return "RESET"
	case KindSpeed128:
		return "SPEED_128"
	case KindEmergencyStop:
		return "EMERGENCY_STOP"
	case KindFunction:
		return "FUNCTION"
	case KindOpsCV:
		return "OPS_CV"
	case KindDirectCV:
		return "DIRECT_CV"
	default:
		return "UNKNOWN"
	}
}

// FormatInstruction formats the decoded instruction
func FormatInstruction(ins Instruction) string {
	switch ins.Kind {
	case KindIdle, KindReset:
		return fmt.Sprintf("  %s\n", FormatKind(ins.Kind))

	case KindSpeed128:
		return fmt.Sprintf("  %s Address: %d, Direction: %s, Step: %d\n",
			FormatKind(ins.Kind), ins.Address, formatDirection(ins.Forward), ins.SpeedCode)

	case KindEmergencyStop:
		if ins.Address == AddressBroadcast {
			return fmt.Sprintf("  %s Address: ALL\n", FormatKind(ins.Kind))
		}
		return fmt.Sprintf("  %s Address: %d\n", FormatKind(ins.Kind), ins.Address)

	case KindFunction:
		return fmt.Sprintf("  %s Address: %d, Group: %s, On: %s\n",
			FormatKind(ins.Kind), ins.Address, FormatFunctionGroup(ins.Group), formatFunctions(ins.Group, ins.Functions))

	case KindOpsCV:
		return fmt.Sprintf("  %s Address: %d, %s\n", FormatKind(ins.Kind), ins.Address, formatCVAccess(ins))

	case KindDirectCV:
		return fmt.Sprintf("  %s %s\n", FormatKind(ins.Kind), formatCVAccess(ins))

	default:
		return "  (unknown instruction)\n"
	}
}

// FormatFunctionGroup returns the function range of a group, e.g. "F5-F8"
func FormatFunctionGroup(g FunctionGroup) string {
	if g < 0 || g >= NumFunctionGroups {
		return "UNKNOWN"
	}
	return fmt.Sprintf("F%d-F%d", functionGroups[g].first, functionGroups[g].last)
}

// FormatBits renders the wire bits of p, grouping preamble, separators,
// bytes and the end bit: "11111111111111 0 11111111 0 00000000 0 11111111 1"
func FormatBits(p Packet) string {
	var s strings.Builder
	s.WriteString(strings.Repeat("1", p.Preamble()))
	for _, b := range p.Bytes() {
		fmt.Fprintf(&s, " 0 %08b", b)
	}
	s.WriteString(" 1")
	return s.String()
}

func formatDirection(forward bool) string {
	if forward {
		return "FWD"
	}
	return "REV"
}

func formatFunctions(g FunctionGroup, fns uint32) string {
	spec := functionGroups[g]
	var on []string
	for i := spec.first; i <= spec.last; i++ {
		if fns&(1<<i) != 0 {
			on = append(on, fmt.Sprintf("F%d", i))
		}
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, " ")
}

func formatCVAccess(ins Instruction) string {
	switch ins.Op {
	case CVOpVerify:
		return fmt.Sprintf("VERIFY CV%d = %d", ins.CV, ins.Value)
	case CVOpWrite:
		return fmt.Sprintf("WRITE CV%d = %d", ins.CV, ins.Value)
	case CVOpBit:
		op := "VERIFY"
		if ins.BitWrite {
			op = "WRITE"
		}
		value := 0
		if ins.BitValue {
			value = 1
		}
		return fmt.Sprintf("BIT_%s CV%d bit %d = %d", op, ins.CV, ins.Bit, value)
	default:
		return fmt.Sprintf("RESERVED CV%d", ins.CV)
	}
}
