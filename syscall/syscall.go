/*
 * zkvm - Pluggable syscall layer.
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

// Package syscall resolves named guest syscalls to Handlers and
// bridges their execution into a pending.Op (component D, spec
// §3/§4.D). Handlers only ever observe guest state through a Context;
// any effect they want committed is expressed by populating a
// GuestBuffer, never by mutating state directly.
package syscall

import (
	"errors"
	"fmt"
	"io"

	"github.com/rcornwell/zkvm/executor/pending"
	"github.com/rcornwell/zkvm/internal/constants"
)

// ErrUnknownSyscall is returned by Get (and surfaced by Invoke) when
// no handler is registered under the requested name.
var ErrUnknownSyscall = errors.New("unknown syscall")

// Argument registers, by RISC-V calling convention: a7 names the
// syscall, a0-a2 carry its arguments, a0/a1 carry its two result
// words.
const (
	RegA0 uint8 = 10
	RegA1 uint8 = 11
	RegA2 uint8 = 12
	RegA7 uint8 = 17
)

// Context is the read-only peek surface presented to a Handler (§6).
// Every method observes state as of the start of the current
// instruction; none of them charge cycles or mutate anything.
type Context interface {
	PC() uint32
	Cycle() uint64
	PeekRegister(reg uint8) uint32
	PeekU8(addr uint32) uint8
	PeekU32(addr uint32) uint32
	PeekRegion(addr, length uint32) []byte
	PeekPage(idx uint32) []byte
	// Writer returns the io.Writer the environment has bound to guest
	// file descriptor fd (see Environment.WithWriteFD), if any. This
	// lets a handler like sys_write stream bytes into the captured
	// journal without expressing the write as a RAM mutation.
	Writer(fd uint32) (io.Writer, bool)
}

// GuestBuffer accumulates the effects a Handler wants committed. The
// Executor applies it only after the call has been estimated and
// found to fit in the current segment.
type GuestBuffer struct {
	ramWrites []pending.RAMWrite
	pageLoads map[uint32]struct{}
	exit      *pending.Exit
}

func newGuestBuffer() *GuestBuffer {
	return &GuestBuffer{pageLoads: make(map[uint32]struct{})}
}

// WriteWord requests that word val be written to addr when this call
// commits. addr must be word-aligned.
func (b *GuestBuffer) WriteWord(addr, val uint32) {
	b.ramWrites = append(b.ramWrites, pending.RAMWrite{Addr: addr, Val: val})
}

// RequestPage records that page idx must be resident for this call,
// even if the handler never reads or writes through it — the spec
// leaves over-declaring to the caller's discretion but charges for
// whatever is declared.
func (b *GuestBuffer) RequestPage(idx uint32) {
	b.pageLoads[idx] = struct{}{}
}

// Halt requests that the segment (and session) terminate with code.
func (b *GuestBuffer) Halt(code uint32) {
	b.exit = &pending.Exit{Kind: pending.ExitHalted, Code: code}
}

// Pause requests a voluntary segment boundary, resumable from the
// next segment's pre-image.
func (b *GuestBuffer) Pause(code uint32) {
	b.exit = &pending.Exit{Kind: pending.ExitPaused, Code: code}
}

// Handler executes one syscall. It may read guest state through ctx
// and request writes through into, and returns the pair of register
// result words placed in RegA0/RegA1.
type Handler interface {
	Invoke(name string, ctx Context, into *GuestBuffer) (a0, a1 uint32)
}

// HandlerFunc adapts a plain function to a Handler.
type HandlerFunc func(name string, ctx Context, into *GuestBuffer) (a0, a1 uint32)

func (f HandlerFunc) Invoke(name string, ctx Context, into *GuestBuffer) (uint32, uint32) {
	return f(name, ctx, into)
}

// Registry resolves syscall names to Handlers. Build one with
// NewRegistry: the zero value has no handler map, so Register on it
// panics, and it holds no built-in syscalls.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a Registry with the built-in halt/pause/write
// syscalls registered.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	registerBuiltins(r)
	return r
}

// Register installs h under name, overwriting any prior handler.
// Intended to be called from an init function, mirroring the
// teacher's config.RegisterModel pattern for pluggable device models.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Get resolves name to a Handler, or ErrUnknownSyscall.
func (r *Registry) Get(name string) (Handler, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSyscall, name)
	}
	return h, nil
}

// Invoke resolves name, runs its handler, and assembles the result
// into a pending.PendingECall op. The op's Cycles is
// constants.SyscallBaseCycles, the per-call dispatch overhead charged
// regardless of what the handler does.
func Invoke(r *Registry, name string, ctx Context) (pending.Op, error) {
	h, err := r.Get(name)
	if err != nil {
		return pending.Op{}, err
	}

	buf := newGuestBuffer()
	a0, a1 := h.Invoke(name, ctx, buf)

	op := pending.Op{
		Kind:      pending.PendingECall,
		RAMWrites: buf.ramWrites,
		RegWrites: []pending.RegWrite{{Reg: RegA0, Val: a0}, {Reg: RegA1, Val: a1}},
		Cycles:    constants.SyscallBaseCycles,
		SyscallRecord: &pending.SyscallRecord{
			Name:  name,
			Cycle: ctx.Cycle(),
			PC:    ctx.PC(),
			A0:    a0,
			A1:    a1,
		},
	}
	for idx := range buf.pageLoads {
		op.PageLoads = append(op.PageLoads, idx)
	}
	if buf.exit != nil {
		op.HasExit = true
		op.ExitCode = *buf.exit
	}
	return op, nil
}
