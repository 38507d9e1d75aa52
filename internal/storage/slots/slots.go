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

// Package slots divides a region of block storage into fixed-size slots.
package slots

import (
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// BlockReaderWriter is the block device interface used by partitions.
type BlockReaderWriter interface {
	// BlockSize returns the block size of the underlying storage system.
	BlockSize() uint

	// ReadBlocks reads len(b) bytes into b from contiguous storage blocks starting
	// at the given block address.
	// b must be an integer multiple of the device's block size.
	ReadBlocks(lba uint, b []byte) error

	// WriteBlocks writes len(b) bytes from b to contiguous storage blocks starting
	// at the given block address.
	// If len(b) is not a multiple of the block size the final block is padded
	// with zeroes.
	//
	// Returns the number of blocks written, or an error.
	WriteBlocks(lba uint, b []byte) (uint, error)
}

// Geometry describes the physical layout of a Partition and its slots on the
// underlying storage.
type Geometry struct {
	// Start identifies the address of first block which is part of a partition.
	Start uint
	// Length is the number of blocks covered by this partition.
	// i.e. [Start, Start+Length) is the range of blocks covered by this partition.
	Length uint
	// SlotLengths is an ordered list containing the lengths of the slot(s)
	// allocated within this partition.
	// Changing these once data has been written will make the existing slot
	// contents unreadable.
	SlotLengths []uint
}

// Validate checks that the geometry is self-consistent.
func (g Geometry) Validate() error {
	t := uint(0)
	for _, l := range g.SlotLengths {
		if l == 0 {
			return errors.New("invalid geometry: zero length slot")
		}
		t += l
	}
	if t > g.Length {
		return fmt.Errorf("invalid geometry: total slot length (%d blocks) exceeds overall length (%d blocks)", t, g.Length)
	}
	return nil
}

// Partition describes the extent and layout of a single contiguous region of
// underlying block storage.
type Partition struct {
	// dev provides the device-specific read/write functionality.
	dev BlockReaderWriter

	// slots describes the layout of the slot(s) stored within this partition.
	slots []Slot
}

// OpenPartition returns a partition struct for accessing the slots described by the given
// geometry using the provided read/write methods.
func OpenPartition(rw BlockReaderWriter, geo Geometry) (*Partition, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if rw.BlockSize() == 0 {
		return nil, errors.New("device reports zero block size")
	}

	ret := &Partition{
		dev: rw,
	}

	b := geo.Start
	for _, l := range geo.SlotLengths {
		ret.slots = append(ret.slots, Slot{
			dev:    rw,
			start:  b,
			length: l,
		})
		b += l
	}

	return ret, nil
}

// Erase destroys the data stored in all slots configured in this partition.
// WARNING: Data Loss!
func (p *Partition) Erase() error {
	klog.Info("Erasing partition")
	borked := false
	for i := range p.slots {
		if err := p.slots[i].Erase(); err != nil {
			klog.Warningf("Failed to erase slot %d: %v", i, err)
			borked = true
		}
	}
	if borked {
		return errors.New("failed to erase one or more slots in partition")
	}
	return nil
}

// Open returns the specified slot, or an error if the slot is out of bounds.
func (p *Partition) Open(slot uint) (*Slot, error) {
	if l := uint(len(p.slots)); slot >= l {
		return nil, fmt.Errorf("invalid slot %d (partition has %d slots)", slot, l)
	}
	klog.V(2).Infof("Opening slot %d", slot)
	return &p.slots[slot], nil
}

// NumSlots returns the number of slots configured in this partition.
func (p *Partition) NumSlots() int {
	return len(p.slots)
}

// BlockSize returns the block size of the underlying device.
func (p *Partition) BlockSize() uint {
	return p.dev.BlockSize()
}

// Slot is a contiguous run of blocks within a partition.
//
// Offsets passed to Slot methods are in blocks relative to the start of the
// slot.
type Slot struct {
	// mu guards access to this Slot.
	mu sync.RWMutex

	dev BlockReaderWriter

	// start and length define the on-storage blocks assigned to this slot:
	// [start, start+length).
	start, length uint
}

// Blocks returns the number of blocks in the slot.
func (s *Slot) Blocks() uint {
	return s.length
}

// Capacity returns the size of the slot in bytes.
func (s *Slot) Capacity() uint64 {
	return uint64(s.length) * uint64(s.dev.BlockSize())
}

func (s *Slot) check(off uint, n int) (uint, error) {
	bs := int(s.dev.BlockSize())
	blocks := uint((n + bs - 1) / bs)
	if off+blocks > s.length {
		return 0, fmt.Errorf("access to blocks [%d, %d) outside slot of %d blocks", off, off+blocks, s.length)
	}
	return blocks, nil
}

// ReadBlocks fills b from the slot starting at block off.
// b must be an integer multiple of the device's block size.
func (s *Slot) ReadBlocks(off uint, b []byte) error {
	if len(b)%int(s.dev.BlockSize()) != 0 {
		return fmt.Errorf("read of %d bytes is not a multiple of block size %d", len(b), s.dev.BlockSize())
	}
	if _, err := s.check(off, len(b)); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dev.ReadBlocks(s.start+off, b)
}

// WriteBlocks writes b to the slot starting at block off, padding the final
// block with zeroes.
func (s *Slot) WriteBlocks(off uint, b []byte) error {
	want, err := s.check(off, len(b))
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.dev.WriteBlocks(s.start+off, b)
	if err != nil {
		return err
	}
	if n != want {
		return fmt.Errorf("short write: %d of %d blocks", n, want)
	}
	return nil
}

// Erase zeroes every block in the slot.
func (s *Slot) Erase() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	klog.Infof("Erasing slot @ block %d len %d blocks", s.start, s.length)
	b := make([]byte, s.length*s.dev.BlockSize())
	if _, err := s.dev.WriteBlocks(s.start, b); err != nil {
		return fmt.Errorf("slot occupying blocks [%d, %d): %v", s.start, s.start+s.length, err)
	}
	return nil
}
