/*
 * zkvm - Executor environment: the caller-supplied configuration and
 * I/O bindings the core is driven with.
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
	"fmt"
	"io"
	"strconv"

	"github.com/rcornwell/zkvm/internal/constants"
	"github.com/rcornwell/zkvm/segment"
	"github.com/rcornwell/zkvm/syscall"
)

// Environment is the configuration and I/O surface an Executor is
// constructed against (spec §6).
type Environment struct {
	// SegmentLimit is the upper bound on a segment's po2, in
	// [constants.MinCyclesPo2, constants.MaxCyclesPo2].
	SegmentLimit uint32

	// SessionLimit is the upper bound on cumulative committed cycles
	// across the whole run.
	SessionLimit uint64

	// InitCycles is the fixed head cost the loader charges before any
	// guest instruction executes, used at the start of every segment.
	InitCycles uint32

	// LoaderFini is the loader's own finalization cost, folded into
	// every segment's fini_cycles alongside the fixed SHA/ZK tail.
	LoaderFini uint32

	// Trace, if set, is invoked synchronously for every trace event
	// committed by the Executor, in addition to whatever is captured
	// per-segment (see CaptureTrace).
	Trace segment.TraceSink

	// CaptureTrace, if true, retains each segment's trace events in
	// its DebugTrace field. Off by default since a long run's full
	// trace rarely needs to travel with every segment.
	CaptureTrace bool

	// InputDigest and Assumptions are carried through to the Session
	// unchanged; the core never inspects their contents.
	InputDigest [32]byte
	Assumptions [][32]byte

	// SyscallNames maps the numeric code a guest places in a7 at an
	// ecall to the name the syscall registry looks handlers up by.
	// Codes with no entry fall back to their decimal string, so a
	// registry keyed directly by numeric strings still works.
	SyscallNames map[uint32]string

	Syscalls *syscall.Registry

	writers map[uint32]io.Writer
}

// NewEnvironment validates and returns an Environment. segmentLimit is
// the po2 cap (not the raw cycle count); sessionLimit is the raw
// cumulative cycle cap.
func NewEnvironment(segmentLimit uint32, sessionLimit uint64, syscalls *syscall.Registry) (*Environment, error) {
	if segmentLimit < constants.MinCyclesPo2 || segmentLimit > constants.MaxCyclesPo2 {
		return nil, fmt.Errorf("segment limit po2 %d out of range [%d, %d]", segmentLimit, constants.MinCyclesPo2, constants.MaxCyclesPo2)
	}
	if sessionLimit == 0 {
		return nil, fmt.Errorf("session limit must be positive")
	}
	return &Environment{
		SegmentLimit: segmentLimit,
		SessionLimit: sessionLimit,
		InitCycles:   constants.DefaultInitCycles,
		SyscallNames: map[uint32]string{0: "halt", 1: "pause", 2: "write"},
		Syscalls:     syscalls,
		writers:      make(map[uint32]io.Writer),
	}, nil
}

// WithWriteFD binds guest file descriptor fd to w: a sys_write syscall
// targeting fd streams its bytes into w rather than failing.
func (e *Environment) WithWriteFD(fd uint32, w io.Writer) {
	if e.writers == nil {
		e.writers = make(map[uint32]io.Writer)
	}
	e.writers[fd] = w
}

// Writer returns the writer bound to fd, if any.
func (e *Environment) Writer(fd uint32) (io.Writer, bool) {
	w, ok := e.writers[fd]
	return w, ok
}

// SyscallName resolves the numeric code carried in a7 at an ecall to a
// syscall registry lookup name.
func (e *Environment) SyscallName(code uint32) string {
	if name, ok := e.SyscallNames[code]; ok {
		return name
	}
	return strconv.FormatUint(uint64(code), 10)
}
