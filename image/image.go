/*
 * zkvm - Page-addressable guest memory snapshot.
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

// Package image holds the persistent view of guest memory: an ordered
// sequence of fixed-size pages with per-page digests and a Merkle root
// (component A, spec §3/§4.A). Concrete page hashing is a narrow,
// swappable seam (digestPage) — the spec treats the hash function
// itself as an external collaborator.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/rcornwell/zkvm/internal/constants"
)

// PageCount is the number of pages covered by one Image.
var PageCount = constants.MemSize / constants.PageSize

type page struct {
	data   [constants.PageSize]byte
	digest [32]byte
	dirty  bool // digest out of date since last HashPages
}

// Image is a page-addressable snapshot of guest memory plus the
// program counter that travels with it across segment boundaries.
type Image struct {
	pages []page
	pc    uint32
	root  [32]byte
}

// New returns an all-zero image with PageCount pages, already hashed.
func New() *Image {
	img := &Image{pages: make([]page, PageCount)}
	for i := range img.pages {
		img.pages[i].digest = digestPage(img.pages[i].data[:])
	}
	img.root = merkleRoot(img.pages)
	return img
}

// LoadRaw builds an Image from a flat little-endian memory dump,
// loading at most MemSize bytes starting at guest address 0 and
// leaving the remainder zeroed. ELF loading and relocation are out of
// scope for the driver (spec §1); this is the trivial raw-binary
// loader a test fixture or a separate offline ELF-to-raw step hands
// to the driver.
func LoadRaw(r io.Reader) (*Image, error) {
	img := New()
	buf := make([]byte, constants.PageSize)
	for p := uint32(0); p < PageCount; p++ {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			img.StoreRegionInPage(p*constants.PageSize, buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("image: load raw: %w", err)
		}
	}
	img.HashPages()
	return img, nil
}

// PC returns the program counter embedded in the image.
func (img *Image) PC() uint32 { return img.pc }

// SetPC sets the program counter embedded in the image.
func (img *Image) SetPC(pc uint32) { img.pc = pc }

func pageIndex(addr uint32) uint32 { return addr / constants.PageSize }

// LoadRegionInPage copies len(buf) bytes starting at addr into buf.
// addr..addr+len(buf) must lie within a single page.
func (img *Image) LoadRegionInPage(addr uint32, buf []byte) {
	idx := pageIndex(addr)
	off := addr % constants.PageSize
	copy(buf, img.pages[idx].data[off:])
}

// StoreRegionInPage copies buf into the page at addr and marks that
// page dirty so the next HashPages call re-digests it.
// addr..addr+len(buf) must lie within a single page.
func (img *Image) StoreRegionInPage(addr uint32, buf []byte) {
	idx := pageIndex(addr)
	off := addr % constants.PageSize
	copy(img.pages[idx].data[off:], buf)
	img.pages[idx].dirty = true
}

// PageDigest returns the page's current digest without re-hashing it.
func (img *Image) PageDigest(idx uint32) [32]byte {
	return img.pages[idx].digest
}

// HashPages re-digests only pages marked dirty since the last call and
// recomputes the root. Called at segment construction time so the
// root always reflects whatever writes have been folded back in.
func (img *Image) HashPages() {
	dirty := false
	for i := range img.pages {
		if !img.pages[i].dirty {
			continue
		}
		img.pages[i].digest = digestPage(img.pages[i].data[:])
		img.pages[i].dirty = false
		dirty = true
	}
	if dirty {
		img.root = merkleRoot(img.pages)
	}
}

// ComputeID returns the Merkle root (image_id) as of the last HashPages
// call.
func (img *Image) ComputeID() [32]byte {
	return img.root
}

// Clone returns a deep copy of the image, used when folding dirty RAM
// back into the next segment's pre-image so the just-finalized
// segment's pre-image remains untouched.
func (img *Image) Clone() *Image {
	out := &Image{pages: make([]page, len(img.pages)), pc: img.pc, root: img.root}
	copy(out.pages, img.pages)
	return out
}

// gobPage and gobImage mirror page/Image with exported fields so gob
// can see them: both types hold only unexported fields, which gob
// otherwise silently encodes as empty.
type gobPage struct {
	Data   [constants.PageSize]byte
	Digest [32]byte
	Dirty  bool
}

type gobImage struct {
	Pages []gobPage
	PC    uint32
	Root  [32]byte
}

// GobEncode implements gob.GobEncoder.
func (img *Image) GobEncode() ([]byte, error) {
	g := gobImage{Pages: make([]gobPage, len(img.pages)), PC: img.pc, Root: img.root}
	for i := range img.pages {
		g.Pages[i] = gobPage{Data: img.pages[i].data, Digest: img.pages[i].digest, Dirty: img.pages[i].dirty}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (img *Image) GobDecode(data []byte) error {
	var g gobImage
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	img.pages = make([]page, len(g.Pages))
	for i := range g.Pages {
		img.pages[i] = page{data: g.Pages[i].Data, digest: g.Pages[i].Digest, dirty: g.Pages[i].Dirty}
	}
	img.pc = g.PC
	img.root = g.Root
	return nil
}

func digestPage(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// merkleRoot combines leaf digests pairwise bottom-up. len(pages) must
// be a power of two (guaranteed by constants.MemSize/PageSize).
func merkleRoot(pages []page) [32]byte {
	level := make([][32]byte, len(pages))
	for i := range pages {
		level[i] = pages[i].digest
	}
	for len(level) > 1 {
		next := make([][32]byte, len(level)/2)
		for i := range next {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = sha256.Sum256(buf[:])
		}
		level = next
	}
	return level[0]
}
