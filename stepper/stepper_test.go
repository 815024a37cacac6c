package stepper

/*
 * zkvm - RV32IM decoder tests.
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

import (
	"errors"
	"testing"

	"github.com/rcornwell/zkvm/executor/pending"
)

type fakeView struct {
	ram  map[uint32]uint32
	regs [32]uint32
}

func newFakeView() *fakeView { return &fakeView{ram: map[uint32]uint32{}} }

func (v *fakeView) LoadRAM(addr uint32) uint32 { return v.ram[addr] }
func (v *fakeView) LoadReg(reg uint8) uint32   { return v.regs[reg] }

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return (funct7 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeI(opcode, rd, funct3, rs1, imm uint32) uint32 {
	return ((imm & 0xfff) << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func TestAddiAndLui(t *testing.T) {
	v := newFakeView()
	v.ram[0] = encodeI(opImm, 5, 0x0, 0, 10) // addi x5, x0, 10
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Kind != pending.RegSet || op.Reg != 5 || op.Val != 10 || op.NewPC != 4 {
		t.Fatalf("unexpected op: %+v", op)
	}

	v.ram[4] = (0x12345 << 12) | (7 << 7) | opLUI // lui x7, 0x12345
	op, err = Step(4, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Kind != pending.RegSet || op.Reg != 7 || op.Val != 0x12345000 || op.NewPC != 8 {
		t.Fatalf("unexpected lui op: %+v", op)
	}
}

func TestLoadWordReadsAlignedAddress(t *testing.T) {
	v := newFakeView()
	v.regs[1] = 100
	v.ram[0] = encodeI(opLoad, 2, 0x2, 1, 0) // lw x2, 0(x1)
	v.ram[100] = 0xCAFEBABE
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Kind != pending.Load || op.Addr != 100 || op.Val != 0xCAFEBABE || op.Reg != 2 {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestStoreByteMergesIntoWord(t *testing.T) {
	v := newFakeView()
	v.regs[1] = 1 // base addr
	v.regs[2] = 0xAB
	// sb x2, 1(x1) -> byte at addr 2, word-aligned addr 0, shift 16
	v.ram[0x40] = encodeS(opStore, 0x0, 1, 2, 1) // instruction kept clear of the target word
	v.ram[0x0] = 0x11223344
	op, err := Step(0x40, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Kind != pending.Store || op.Addr != 0 {
		t.Fatalf("expected word-aligned store at 0: %+v", op)
	}
	want := uint32(0x11AB3344)
	if op.Val != want {
		t.Fatalf("merged store word = %#x, want %#x", op.Val, want)
	}
}

func encodeS(opcode, funct3, rs1, rs2, imm uint32) uint32 {
	imm11_5 := (imm >> 5) & 0x7f
	imm4_0 := imm & 0x1f
	return (imm11_5 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (imm4_0 << 7) | opcode
}

func TestDivideByZero(t *testing.T) {
	v := newFakeView()
	v.regs[1] = 42
	v.regs[2] = 0
	v.ram[0] = encodeR(opOP, 3, 0x4, 1, 2, 0x01) // div x3, x1, x2
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Val != 0xFFFFFFFF {
		t.Fatalf("div by zero = %#x, want all-ones", op.Val)
	}
}

func TestDivideOverflow(t *testing.T) {
	v := newFakeView()
	v.regs[1] = 0x80000000
	v.regs[2] = 0xFFFFFFFF
	v.ram[0] = encodeR(opOP, 3, 0x4, 1, 2, 0x01) // div x3, x1, x2 == INT_MIN / -1
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Val != 0x80000000 {
		t.Fatalf("div overflow = %#x, want INT_MIN", op.Val)
	}
}

func TestEcallProducesMarker(t *testing.T) {
	v := newFakeView()
	v.ram[0] = opSystem // ecall: all fields zero except opcode
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.Kind != pending.ECall {
		t.Fatalf("expected ECall marker, got %+v", op)
	}
}

func TestIllegalOpcode(t *testing.T) {
	v := newFakeView()
	v.ram[0] = 0x7f // opcode bits all set, not a valid RV32 major opcode
	_, err := Step(0, v)
	if !errors.Is(err, ErrIllegalInstruction) {
		t.Fatalf("expected ErrIllegalInstruction, got %v", err)
	}
}

func TestBranchTaken(t *testing.T) {
	v := newFakeView()
	v.regs[1] = 5
	v.regs[2] = 5
	v.ram[0] = encodeB(0x0, 1, 2, 16) // beq x1, x2, +16
	op, err := Step(0, v)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if op.NewPC != 16 {
		t.Fatalf("branch not taken: NewPC=%d", op.NewPC)
	}
}

func encodeB(funct3, rs1, rs2, imm uint32) uint32 {
	b12 := (imm >> 12) & 1
	b11 := (imm >> 11) & 1
	b10_5 := (imm >> 5) & 0x3f
	b4_1 := (imm >> 1) & 0xf
	return (b12 << 31) | (b10_5 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (b4_1 << 8) | (b11 << 7) | opBranch
}
