package image

/*
 * zkvm - Memory image tests.
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
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/rcornwell/zkvm/internal/constants"
)

func TestNewIsDeterministic(t *testing.T) {
	a := New()
	b := New()
	if a.ComputeID() != b.ComputeID() {
		t.Fatalf("two fresh images have different roots")
	}
}

func TestStoreDirtiesOnlyTouchedPage(t *testing.T) {
	img := New()
	root0 := img.ComputeID()

	img.StoreRegionInPage(0, []byte{1, 2, 3, 4})
	img.HashPages()
	root1 := img.ComputeID()
	if root1 == root0 {
		t.Fatalf("root did not change after a store")
	}

	digestOther := img.PageDigest(1)
	img.HashPages() // idempotent: nothing dirty now
	if img.PageDigest(1) != digestOther {
		t.Fatalf("untouched page digest changed")
	}
}

func TestRoundTripRootUnchangedAcrossIdenticalWrites(t *testing.T) {
	a := New()
	b := New()
	a.StoreRegionInPage(0, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	b.StoreRegionInPage(0, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	a.HashPages()
	b.HashPages()
	if a.ComputeID() != b.ComputeID() {
		t.Fatalf("identical writes produced different roots")
	}
}

func TestClonePreservesRootAndIsIndependent(t *testing.T) {
	img := New()
	img.StoreRegionInPage(0, []byte{1, 2, 3, 4})
	img.HashPages()
	root := img.ComputeID()

	clone := img.Clone()
	if clone.ComputeID() != root {
		t.Fatalf("clone root mismatch")
	}

	clone.StoreRegionInPage(constants.PageSize, []byte{9, 9, 9, 9})
	clone.HashPages()
	if clone.ComputeID() == img.ComputeID() {
		t.Fatalf("mutating the clone affected the original")
	}
}

func TestLoadRawFillsPagesAndLeavesRestZero(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, int(constants.PageSize)+10)
	img, err := LoadRaw(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("LoadRaw: %v", err)
	}
	var buf [4]byte
	img.LoadRegionInPage(0, buf[:])
	if buf != [4]byte{0xAB, 0xAB, 0xAB, 0xAB} {
		t.Fatalf("first page not loaded: %v", buf)
	}
	img.LoadRegionInPage(constants.PageSize, buf[:])
	if buf != [4]byte{0xAB, 0xAB, 0xAB, 0xAB} {
		t.Fatalf("second page's leading bytes not loaded: %v", buf)
	}
	img.LoadRegionInPage(constants.PageSize+20, buf[:])
	if buf != [4]byte{0, 0, 0, 0} {
		t.Fatalf("tail of second page should be zero: %v", buf)
	}
}

func TestGobRoundTrip(t *testing.T) {
	img := New()
	img.StoreRegionInPage(0, []byte{1, 2, 3, 4})
	img.SetPC(0x1000)
	img.HashPages()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	var out Image
	if err := gob.NewDecoder(&buf).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ComputeID() != img.ComputeID() {
		t.Fatalf("root mismatch after gob round trip")
	}
	if out.PC() != img.PC() {
		t.Fatalf("pc mismatch after gob round trip")
	}
}
