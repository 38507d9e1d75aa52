// Copyright 2025 The Home Automation Firmwares authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package digest provides the SHA-256 digest engine used to bind firmware
// payloads to their signed headers.
//
// A State is an immutable value: Update returns a new State and leaves its
// receiver untouched, so partial digests can be forked and compared freely.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding"
	"fmt"
	"hash"
	"io"
	"os"
)

// Size is the length in bytes of a digest.
const Size = sha256.Size

// bufferSize matches the chunk size used when hashing files.
const bufferSize = 4096

// State is the running state of a digest computation.
// The zero value is equivalent to Init().
type State struct {
	// snapshot is the marshalled state of a sha256 hash.
	snapshot []byte
	// n is the number of bytes hashed so far.
	n uint64
}

// Init returns the initial digest state.
func Init() State {
	return State{snapshot: marshal(sha256.New())}
}

// Update returns the state obtained by feeding b into s.
// Chunks may be of any size, including zero, and Update may be called any
// number of times: the final digest only depends on the concatenation of
// all chunks.
func (s State) Update(b []byte) State {
	h := s.restore()
	h.Write(b)
	return State{snapshot: marshal(h), n: s.n + uint64(len(b))}
}

// Final returns the digest of all the bytes fed into s.
func (s State) Final() [Size]byte {
	var r [Size]byte
	copy(r[:], s.restore().Sum(nil))
	return r
}

// Len returns the number of bytes fed into s.
func (s State) Len() uint64 {
	return s.n
}

func (s State) restore() hash.Hash {
	h := sha256.New()
	if s.snapshot == nil {
		return h
	}
	if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(s.snapshot); err != nil {
		panic(fmt.Sprintf("digest: corrupt state: %v", err))
	}
	return h
}

func marshal(h hash.Hash) []byte {
	b, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("digest: failed to snapshot sha256: %v", err))
	}
	return b
}

// Sum returns the digest of b.
func Sum(b []byte) [Size]byte {
	return sha256.Sum256(b)
}

// HashReader returns the digest of everything read from r, along with the
// number of bytes read.
func HashReader(r io.Reader) ([Size]byte, int64, error) {
	h := sha256.New()
	n, err := io.CopyBuffer(h, r, make([]byte, bufferSize))
	if err != nil {
		return [Size]byte{}, n, err
	}
	var d [Size]byte
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// HashFile returns the digest of the file at path, along with its length.
// The file is streamed, so memory use is independent of its size.
func HashFile(path string) ([Size]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [Size]byte{}, 0, err
	}
	defer f.Close()

	d, n, err := HashReader(f)
	if err != nil {
		return [Size]byte{}, 0, fmt.Errorf("hashing %s: %w", path, err)
	}
	return d, n, nil
}

// Equal reports whether two digests are identical, in constant time.
func Equal(a, b [Size]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
