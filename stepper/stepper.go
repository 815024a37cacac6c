/*
 * zkvm - RV32IM instruction decode.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package stepper decodes the next RV32IM instruction (component C,
// spec §3/§4.C). It never mutates state and never charges cycles: given
// the current PC and a read-only View over registers and RAM, it
// returns a pending.Op describing the instruction's effect. The
// Executor owns turning that effect into committed state.
package stepper

import (
	"errors"
	"fmt"

	"github.com/rcornwell/zkvm/executor/pending"
)

// ErrIllegalInstruction is returned for any bit pattern the decoder
// does not recognize.
var ErrIllegalInstruction = errors.New("illegal instruction")

// View is the read-only register/RAM surface the stepper decodes
// operands through. Neither method may be used to observe or cause a
// side effect — they are peeks, same as the syscall context in §4.D.
type View interface {
	LoadRAM(addr uint32) uint32
	LoadReg(reg uint8) uint32
}

// RV32 major opcodes (instr[6:0]).
const (
	opLoad   = 0x03
	opMiscMM = 0x0F
	opImm    = 0x13
	opAUIPC  = 0x17
	opStore  = 0x23
	opOP     = 0x33
	opLUI    = 0x37
	opBranch = 0x63
	opJALR   = 0x67
	opJAL    = 0x6F
	opSystem = 0x73
)

// Step decodes the instruction at pc and returns the pending op it
// produces. pc must be word-aligned.
func Step(pc uint32, view View) (pending.Op, error) {
	instr := view.LoadRAM(pc)
	opcode := instr & 0x7f

	switch opcode {
	case opLUI:
		rd := rd(instr)
		return regSet(rd, immU(instr), pc+4), nil

	case opAUIPC:
		rd := rd(instr)
		return regSet(rd, pc+immU(instr), pc+4), nil

	case opJAL:
		rd := rd(instr)
		target := pc + immJ(instr)
		return regSet(rd, pc+4, target), nil

	case opJALR:
		rd, rs1, imm := rd(instr), rs1(instr), immI(instr)
		target := (view.LoadReg(rs1) + imm) &^ 1
		return regSet(rd, pc+4, target), nil

	case opBranch:
		return decodeBranch(pc, instr, view)

	case opLoad:
		return decodeLoad(pc, instr, view)

	case opStore:
		return decodeStore(pc, instr, view)

	case opImm:
		return decodeOpImm(pc, instr, view)

	case opOP:
		return decodeOp(pc, instr, view)

	case opMiscMM:
		// FENCE: no architectural effect in a single-hart in-order
		// model; consumes the baseline instruction cycle.
		return regSet(0, 0, pc+4), nil

	case opSystem:
		funct3 := (instr >> 12) & 0x7
		imm12 := instr >> 20
		if funct3 == 0 && imm12 == 0 {
			return pending.Op{Kind: pending.ECall}, nil
		}
		return pending.Op{}, fmt.Errorf("%w: system imm=%#x funct3=%d at pc=%#x", ErrIllegalInstruction, imm12, funct3, pc)

	default:
		return pending.Op{}, fmt.Errorf("%w: opcode %#x at pc=%#x", ErrIllegalInstruction, opcode, pc)
	}
}

func rd(instr uint32) uint8  { return uint8((instr >> 7) & 0x1f) }
func rs1(instr uint32) uint8 { return uint8((instr >> 15) & 0x1f) }
func rs2(instr uint32) uint8 { return uint8((instr >> 20) & 0x1f) }

func immI(instr uint32) uint32 {
	return signExtend(instr>>20, 12)
}

func immS(instr uint32) uint32 {
	raw := ((instr >> 25) << 5) | ((instr >> 7) & 0x1f)
	return signExtend(raw, 12)
}

func immB(instr uint32) uint32 {
	raw := (((instr >> 31) & 1) << 12) |
		(((instr >> 7) & 1) << 11) |
		(((instr >> 25) & 0x3f) << 5) |
		(((instr >> 8) & 0xf) << 1)
	return signExtend(raw, 13)
}

func immU(instr uint32) uint32 {
	return instr &^ 0xfff
}

func immJ(instr uint32) uint32 {
	raw := (((instr >> 31) & 1) << 20) |
		(((instr >> 12) & 0xff) << 12) |
		(((instr >> 20) & 1) << 11) |
		(((instr >> 21) & 0x3ff) << 1)
	return signExtend(raw, 21)
}

// signExtend sign-extends the low bits-wide field of raw to 32 bits.
func signExtend(raw uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(raw<<shift) >> shift)
}

func regSet(reg uint8, val, newPC uint32) pending.Op {
	return pending.Op{Kind: pending.RegSet, Reg: reg, Val: val, NewPC: newPC, Cycles: 1}
}

func decodeBranch(pc, instr uint32, view View) (pending.Op, error) {
	funct3 := (instr >> 12) & 0x7
	a, b := view.LoadReg(rs1(instr)), view.LoadReg(rs2(instr))
	var taken bool
	switch funct3 {
	case 0x0: // BEQ
		taken = a == b
	case 0x1: // BNE
		taken = a != b
	case 0x4: // BLT
		taken = int32(a) < int32(b)
	case 0x5: // BGE
		taken = int32(a) >= int32(b)
	case 0x6: // BLTU
		taken = a < b
	case 0x7: // BGEU
		taken = a >= b
	default:
		return pending.Op{}, fmt.Errorf("%w: branch funct3=%d at pc=%#x", ErrIllegalInstruction, funct3, pc)
	}
	next := pc + 4
	if taken {
		next = pc + immB(instr)
	}
	return regSet(0, 0, next), nil
}

// wordAndShift returns the word-aligned address containing addr and
// the bit shift of addr's byte within that word.
func wordAndShift(addr uint32) (aligned uint32, shift uint32) {
	aligned = addr &^ 0x3
	shift = (addr & 0x3) * 8
	return
}

func decodeLoad(pc, instr uint32, view View) (pending.Op, error) {
	funct3 := (instr >> 12) & 0x7
	addr := view.LoadReg(rs1(instr)) + immI(instr)
	aligned, shift := wordAndShift(addr)
	word := view.LoadRAM(aligned)

	var val uint32
	switch funct3 {
	case 0x0: // LB
		val = signExtend((word>>shift)&0xff, 8)
	case 0x1: // LH
		val = signExtend((word>>shift)&0xffff, 16)
	case 0x2: // LW
		val = word
	case 0x4: // LBU
		val = (word >> shift) & 0xff
	case 0x5: // LHU
		val = (word >> shift) & 0xffff
	default:
		return pending.Op{}, fmt.Errorf("%w: load funct3=%d at pc=%#x", ErrIllegalInstruction, funct3, pc)
	}
	return pending.Op{Kind: pending.Load, Addr: aligned, Val: val, Reg: rd(instr)}, nil
}

func decodeStore(pc, instr uint32, view View) (pending.Op, error) {
	funct3 := (instr >> 12) & 0x7
	addr := view.LoadReg(rs1(instr)) + immS(instr)
	aligned, shift := wordAndShift(addr)
	src := view.LoadReg(rs2(instr))

	var val uint32
	switch funct3 {
	case 0x0: // SB
		mask := uint32(0xff) << shift
		val = (view.LoadRAM(aligned) &^ mask) | ((src << shift) & mask)
	case 0x1: // SH
		mask := uint32(0xffff) << shift
		val = (view.LoadRAM(aligned) &^ mask) | ((src << shift) & mask)
	case 0x2: // SW
		val = src
	default:
		return pending.Op{}, fmt.Errorf("%w: store funct3=%d at pc=%#x", ErrIllegalInstruction, funct3, pc)
	}
	return pending.Op{Kind: pending.Store, Addr: aligned, Val: val}, nil
}

func decodeOpImm(pc, instr uint32, view View) (pending.Op, error) {
	funct3 := (instr >> 12) & 0x7
	a := view.LoadReg(rs1(instr))
	imm := immI(instr)
	shamt := imm & 0x1f

	var val uint32
	switch funct3 {
	case 0x0: // ADDI
		val = a + imm
	case 0x1: // SLLI
		val = a << shamt
	case 0x2: // SLTI
		val = boolToWord(int32(a) < int32(imm))
	case 0x3: // SLTIU
		val = boolToWord(a < imm)
	case 0x4: // XORI
		val = a ^ imm
	case 0x5: // SRLI / SRAI
		if (instr>>30)&1 == 1 {
			val = uint32(int32(a) >> shamt)
		} else {
			val = a >> shamt
		}
	case 0x6: // ORI
		val = a | imm
	case 0x7: // ANDI
		val = a & imm
	default:
		return pending.Op{}, fmt.Errorf("%w: op-imm funct3=%d at pc=%#x", ErrIllegalInstruction, funct3, pc)
	}
	return regSet(rd(instr), val, pc+4), nil
}

func decodeOp(pc, instr uint32, view View) (pending.Op, error) {
	funct3 := (instr >> 12) & 0x7
	funct7 := (instr >> 25) & 0x7f
	a, b := view.LoadReg(rs1(instr)), view.LoadReg(rs2(instr))

	var val uint32
	switch {
	case funct7 == 0x01: // RV32M
		val = mulDiv(funct3, a, b)
	case funct3 == 0x0 && funct7 == 0x00: // ADD
		val = a + b
	case funct3 == 0x0 && funct7 == 0x20: // SUB
		val = a - b
	case funct3 == 0x1: // SLL
		val = a << (b & 0x1f)
	case funct3 == 0x2: // SLT
		val = boolToWord(int32(a) < int32(b))
	case funct3 == 0x3: // SLTU
		val = boolToWord(a < b)
	case funct3 == 0x4: // XOR
		val = a ^ b
	case funct3 == 0x5 && funct7 == 0x00: // SRL
		val = a >> (b & 0x1f)
	case funct3 == 0x5 && funct7 == 0x20: // SRA
		val = uint32(int32(a) >> (b & 0x1f))
	case funct3 == 0x6: // OR
		val = a | b
	case funct3 == 0x7: // AND
		val = a & b
	default:
		return pending.Op{}, fmt.Errorf("%w: op funct3=%d funct7=%#x at pc=%#x", ErrIllegalInstruction, funct3, funct7, pc)
	}
	return regSet(rd(instr), val, pc+4), nil
}

func mulDiv(funct3 uint32, a, b uint32) uint32 {
	sa, sb := int32(a), int32(b)
	switch funct3 {
	case 0x0: // MUL
		return uint32(sa * sb)
	case 0x1: // MULH
		return uint32((int64(sa) * int64(sb)) >> 32)
	case 0x2: // MULHSU
		return uint32((int64(sa) * int64(uint64(b))) >> 32)
	case 0x3: // MULHU
		return uint32((uint64(a) * uint64(b)) >> 32)
	case 0x4: // DIV
		if b == 0 {
			return ^uint32(0)
		}
		if a == 0x80000000 && b == 0xffffffff {
			return a
		}
		return uint32(sa / sb)
	case 0x5: // DIVU
		if b == 0 {
			return ^uint32(0)
		}
		return a / b
	case 0x6: // REM
		if b == 0 {
			return a
		}
		if a == 0x80000000 && b == 0xffffffff {
			return 0
		}
		return uint32(sa % sb)
	case 0x7: // REMU
		if b == 0 {
			return a
		}
		return a % b
	}
	return 0
}

func boolToWord(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
