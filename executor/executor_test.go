/*
 * zkvm - Executor integration tests.
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

package executor

import (
	"encoding/binary"
	"testing"

	"github.com/rcornwell/zkvm/executor/pending"
	"github.com/rcornwell/zkvm/image"
	"github.com/rcornwell/zkvm/internal/constants"
	"github.com/rcornwell/zkvm/segment"
	"github.com/rcornwell/zkvm/syscall"
	"github.com/stretchr/testify/require"
)

// RV32 major opcodes, duplicated from the stepper's unexported table:
// the test builds raw instruction words rather than importing the
// decoder's internals.
const (
	opImm    = 0x13
	opBranch = 0x63
	opSystem = 0x73
)

func encodeI(opcode, rd, funct3, rs1, imm uint32) uint32 {
	return ((imm & 0xfff) << 20) | (rs1 << 15) | (funct3 << 12) | (rd << 7) | opcode
}

func encodeB(funct3, rs1, rs2, imm uint32) uint32 {
	b12 := (imm >> 12) & 1
	b11 := (imm >> 11) & 1
	b10_5 := (imm >> 5) & 0x3f
	b4_1 := (imm >> 1) & 0xf
	return (b12 << 31) | (b10_5 << 25) | (rs2 << 20) | (rs1 << 15) | (funct3 << 12) | (b4_1 << 8) | (b11 << 7) | opBranch
}

func addi(rd, rs1 uint32, imm int32) uint32 {
	return encodeI(opImm, rd, 0x0, rs1, uint32(imm))
}

func ecallInstr() uint32 { return opSystem }

func writeProgram(t *testing.T, img *image.Image, words []uint32) {
	t.Helper()
	for i, w := range words {
		addr := uint32(i) * constants.WordSize
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], w)
		img.StoreRegionInPage(addr, buf[:])
	}
	img.HashPages()
}

func newTestEnvironment(t *testing.T, po2 uint32, sessionLimit uint64, registry *syscall.Registry) *Environment {
	t.Helper()
	if registry == nil {
		registry = syscall.NewRegistry()
	}
	env, err := NewEnvironment(po2, sessionLimit, registry)
	require.NoError(t, err)
	return env
}

// TestTinyHaltWritesJournalThenExits runs an 8-instruction write-then-halt
// program and checks both the captured journal bytes and the halted
// exit code.
func TestTinyHaltWritesJournalThenExits(t *testing.T) {
	img := image.New()

	msgAddr := uint32(0x200)
	msg := []byte{0xEF, 0xBE, 0xAD, 0xDE} // little-endian 0xDEADBEEF
	img.StoreRegionInPage(msgAddr, msg)

	writeProgram(t, img, []uint32{
		addi(syscall.RegA0, 0, int32(msgAddr)), // a0 = msgAddr
		addi(syscall.RegA1, 0, 4),              // a1 = length
		addi(syscall.RegA2, 0, int32(constants.JournalFD)),
		addi(syscall.RegA7, 0, 2), // a7 = write
		ecallInstr(),
		addi(syscall.RegA0, 0, 0), // a0 = exit code
		addi(syscall.RegA7, 0, 0), // a7 = halt
		ecallInstr(),
	})

	env := newTestEnvironment(t, constants.MinCyclesPo2, 1_000_000, nil)
	ex, err := New(env, img, 0)
	require.NoError(t, err)

	sink := segment.NewMemorySink()
	sess, err := ex.RunWithCallback(sink.Sink)
	require.NoError(t, err)
	require.Equal(t, pending.ExitHalted, sess.ExitCode.Kind)
	require.Equal(t, uint32(0), sess.ExitCode.Code)
	require.Equal(t, msg, sess.Journal)
}

// TestForcedSplitAccountsForEveryInstruction runs enough arithmetic
// instructions that the low MinCyclesPo2 budget forces several
// segments, then checks the sum of every segment's InsnCycles exactly
// covers every instruction committed — the cycle-accounting invariant
// §4.E rests on, independent of where the splits land.
func TestForcedSplitAccountsForEveryInstruction(t *testing.T) {
	img := image.New()

	const n = 20000
	words := make([]uint32, 0, n+3)
	for i := 0; i < n; i++ {
		words = append(words, addi(syscall.RegA1, syscall.RegA1, 1))
	}
	words = append(words,
		addi(syscall.RegA0, 0, 0),
		addi(syscall.RegA7, 0, 0),
		ecallInstr(),
	)
	writeProgram(t, img, words)

	env := newTestEnvironment(t, constants.MinCyclesPo2, 1_000_000_000, nil)
	ex, err := New(env, img, 0)
	require.NoError(t, err)

	sink := segment.NewMemorySink()
	sess, err := ex.RunWithCallback(sink.Sink)
	require.NoError(t, err)
	require.Equal(t, pending.ExitHalted, sess.ExitCode.Kind)

	require.Greater(t, len(sink.Segments), 2, "expected the low segment limit to force multiple segments")

	var total uint64
	for _, seg := range sink.Segments {
		require.GreaterOrEqual(t, seg.Po2, constants.MinCyclesPo2)
		require.LessOrEqual(t, seg.Po2, env.SegmentLimit)
		total += seg.InsnCycles
	}
	require.Equal(t, uint64(n+3), total)
}

// TestEcallWithRAMWritesSpanningTwoPages registers a custom syscall
// that writes 256 consecutive words straddling two pages and checks
// both the page-fault set and the committed write count.
func TestEcallWithRAMWritesSpanningTwoPages(t *testing.T) {
	const baseAddr = 512 // offset within page 0, 128 words from the page boundary
	const wordCount = 256

	r := syscall.NewRegistry()
	r.Register("memset", syscall.HandlerFunc(func(_ string, ctx syscall.Context, into *syscall.GuestBuffer) (uint32, uint32) {
		for i := uint32(0); i < wordCount; i++ {
			into.WriteWord(baseAddr+i*constants.WordSize, 0x11111111)
		}
		return 0, 0
	}))

	img := image.New()
	writeProgram(t, img, []uint32{
		addi(syscall.RegA7, 0, 3), // a7 = memset (custom code)
		ecallInstr(),
		addi(syscall.RegA0, 0, 0),
		addi(syscall.RegA7, 0, 0),
		ecallInstr(),
	})

	env := newTestEnvironment(t, constants.MaxCyclesPo2, 1_000_000_000, r)
	env.SyscallNames[3] = "memset"

	var memSets int
	env.Trace = func(ev segment.TraceEvent) {
		if ev.Kind == segment.MemorySet {
			memSets++
		}
	}

	ex, err := New(env, img, 0)
	require.NoError(t, err)

	sink := segment.NewMemorySink()
	sess, err := ex.RunWithCallback(sink.Sink)
	require.NoError(t, err)
	require.Equal(t, pending.ExitHalted, sess.ExitCode.Kind)
	require.Equal(t, wordCount, memSets)

	var writes []uint32
	for _, seg := range sink.Segments {
		writes = append(writes, seg.Faults.Writes...)
	}
	require.ElementsMatch(t, []uint32{0, 1}, writes)
}

// TestRegisterZeroWritesAreSuppressed confirms a write targeting x0
// never lands in the register file: a later instruction reading x0
// must still observe zero.
func TestRegisterZeroWritesAreSuppressed(t *testing.T) {
	img := image.New()
	writeProgram(t, img, []uint32{
		addi(0, 0, 1234),          // attempted write to x0, must be dropped
		addi(syscall.RegA0, 0, 0), // a0 = x0 + 0
		addi(syscall.RegA7, 0, 0), // a7 = halt
		ecallInstr(),
	})

	env := newTestEnvironment(t, constants.MinCyclesPo2, 1_000_000, nil)
	ex, err := New(env, img, 0)
	require.NoError(t, err)

	sink := segment.NewMemorySink()
	sess, err := ex.RunWithCallback(sink.Sink)
	require.NoError(t, err)
	require.Equal(t, uint32(0), sess.ExitCode.Code)
}

// TestSessionLimitBreachReturnsNoSession confirms a session whose
// cumulative cycle budget is exhausted returns ErrSessionLimitExceeded
// and no partial Session.
func TestSessionLimitBreachReturnsNoSession(t *testing.T) {
	img := image.New()
	writeProgram(t, img, []uint32{
		addi(syscall.RegA0, 0, 1),
		addi(syscall.RegA0, 0, 2),
		addi(syscall.RegA0, 0, 3),
	})

	env := newTestEnvironment(t, constants.MinCyclesPo2, 50, nil) // far below InitCycles alone
	ex, err := New(env, img, 0)
	require.NoError(t, err)

	sink := segment.NewMemorySink()
	sess, err := ex.RunWithCallback(sink.Sink)
	require.ErrorIs(t, err, ErrSessionLimitExceeded)
	require.Nil(t, sess)
}
