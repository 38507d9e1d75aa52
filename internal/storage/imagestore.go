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

package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sebmalissard/home-automation-firmwares/internal/digest"
	"github.com/sebmalissard/home-automation-firmwares/internal/storage/slots"
	"k8s.io/klog/v2"
)

// Slot indices within the image store partition.
const (
	recordSlot = 0
	imageSlot0 = 1
)

// Layout describes where an ImageStore lives on its device.
type Layout struct {
	// Start is the first block of the store.
	Start uint
	// RecordBlocks is the number of blocks reserved for the boot record.
	RecordBlocks uint
	// ImageBlocks is the number of blocks in each of the two image slots.
	ImageBlocks uint
}

// Geometry returns the partition geometry for the layout.
func (l Layout) Geometry() slots.Geometry {
	return slots.Geometry{
		Start:       l.Start,
		Length:      l.RecordBlocks + 2*l.ImageBlocks,
		SlotLengths: []uint{l.RecordBlocks, l.ImageBlocks, l.ImageBlocks},
	}
}

// ImageStore keeps two firmware image slots and a boot record naming the
// active one. New images are always written to the inactive slot, so the
// running image is untouched until Commit switches the record.
type ImageStore struct {
	mu   sync.Mutex
	dev  BlockDevice
	part *slots.Partition
	bs   uint

	// rec is the current boot record, nil if no image has been committed.
	rec *BootRecord
	tx  *txn
}

// txn is an in-progress image write.
type txn struct {
	slot    *slots.Slot
	index   int
	size    uint32
	written uint64
	// lba is the next slot block to be written.
	lba uint
	// buf holds bytes not yet flushed to storage.
	buf  []byte
	hash digest.State
}

// OpenImageStore opens the image store described by l on dev.
func OpenImageStore(dev BlockDevice, l Layout) (*ImageStore, error) {
	if l.RecordBlocks == 0 || l.ImageBlocks == 0 {
		return nil, errors.New("record and image slots must be non-empty")
	}
	p, err := slots.OpenPartition(dev, l.Geometry())
	if err != nil {
		return nil, err
	}
	s := &ImageStore{dev: dev, part: p, bs: dev.BlockSize()}
	rec, err := s.readRecord()
	switch {
	case errors.Is(err, errNoRecord):
		klog.Info("No boot record found, store is empty")
	case err != nil:
		return nil, fmt.Errorf("failed to read boot record: %v", err)
	default:
		klog.Infof("Active image slot %d, %d bytes, sequence %d", rec.Slot, rec.Size, rec.Sequence)
		s.rec = rec
	}
	return s, nil
}

func (s *ImageStore) readRecord() (*BootRecord, error) {
	rs, err := s.part.Open(recordSlot)
	if err != nil {
		return nil, err
	}
	b := make([]byte, rs.Capacity())
	if err := rs.ReadBlocks(0, b); err != nil {
		return nil, err
	}
	r := &BootRecord{}
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *ImageStore) writeRecord(r BootRecord) error {
	rs, err := s.part.Open(recordSlot)
	if err != nil {
		return err
	}
	b, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	if uint64(len(b)) > rs.Capacity() {
		return fmt.Errorf("boot record of %d bytes exceeds record slot", len(b))
	}
	return rs.WriteBlocks(0, b)
}

// SlotCapacity returns the size in bytes of each image slot.
func (s *ImageStore) SlotCapacity() uint64 {
	sl, _ := s.part.Open(imageSlot0)
	return sl.Capacity()
}

// Active returns the current boot record, if any image has been committed.
func (s *ImageStore) Active() (BootRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return BootRecord{}, false
	}
	return *s.rec, true
}

// CurrentImageSize returns the size of the active image.
func (s *ImageStore) CurrentImageSize() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return 0
	}
	return uint64(s.rec.Size)
}

// FreeSpace returns the image space not used by the active image. Together
// with CurrentImageSize this makes half of the total the size of one slot.
func (s *ImageStore) FreeSpace() uint64 {
	total := 2 * s.SlotCapacity()
	return total - s.CurrentImageSize()
}

// Begin starts writing an image of size bytes into the inactive slot.
func (s *ImageStore) Begin(size uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return errors.New("image write already in progress")
	}
	idx := 0
	if s.rec != nil {
		idx = 1 - s.rec.Slot
	}
	sl, err := s.part.Open(uint(imageSlot0 + idx))
	if err != nil {
		return err
	}
	if c := sl.Capacity(); uint64(size) > c {
		return fmt.Errorf("image of %d bytes exceeds slot capacity of %d bytes", size, c)
	}
	klog.V(1).Infof("Writing %d byte image to slot %d", size, idx)
	s.tx = &txn{
		slot:  sl,
		index: idx,
		size:  size,
		hash:  digest.Init(),
	}
	return nil
}

// batchSize is the number of bytes buffered before a write to storage.
func (s *ImageStore) batchSize() int {
	n := MaxTransferBytes - MaxTransferBytes%int(s.bs)
	if n == 0 {
		n = int(s.bs)
	}
	return n
}

// Write appends p to the image being written.
func (s *ImageStore) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tx
	if t == nil {
		return 0, errors.New("no image write in progress")
	}
	if t.written+uint64(len(p)) > uint64(t.size) {
		return 0, fmt.Errorf("write of %d bytes at offset %d exceeds image size %d", len(p), t.written, t.size)
	}
	t.buf = append(t.buf, p...)
	t.hash = t.hash.Update(p)
	t.written += uint64(len(p))

	batch := s.batchSize()
	for len(t.buf) >= batch {
		if err := s.flush(t, t.buf[:batch]); err != nil {
			return 0, err
		}
		t.buf = t.buf[batch:]
	}
	return len(p), nil
}

func (s *ImageStore) flush(t *txn, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := t.slot.WriteBlocks(t.lba, b); err != nil {
		return fmt.Errorf("failed to write image blocks at %d: %v", t.lba, err)
	}
	t.lba += uint((len(b) + int(s.bs) - 1) / int(s.bs))
	return nil
}

// Commit completes the image write, checks the stored data reads back with
// the digest of what was written, and makes the new slot active.
func (s *ImageStore) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tx
	if t == nil {
		return errors.New("no image write in progress")
	}
	s.tx = nil
	if t.written != uint64(t.size) {
		return fmt.Errorf("image incomplete: %d of %d bytes written", t.written, t.size)
	}
	if err := s.flush(t, t.buf); err != nil {
		return err
	}
	want := t.hash.Final()
	got, err := s.hashSlot(t.slot, t.size)
	if err != nil {
		return fmt.Errorf("failed to read back image: %v", err)
	}
	if !digest.Equal(got, want) {
		return fmt.Errorf("image read back with digest %x, wrote %x", got, want)
	}
	if err := s.sync(); err != nil {
		return err
	}

	rec := BootRecord{
		Slot:   t.index,
		Size:   t.size,
		SHA256: want,
	}
	if s.rec != nil {
		rec.Sequence = s.rec.Sequence + 1
	}
	if err := s.writeRecord(rec); err != nil {
		return fmt.Errorf("failed to write boot record: %v", err)
	}
	if err := s.sync(); err != nil {
		return err
	}
	s.rec = &rec
	klog.Infof("Image slot %d is now active (%d bytes, sequence %d)", rec.Slot, rec.Size, rec.Sequence)
	return nil
}

// sync flushes the device if it buffers writes.
func (s *ImageStore) sync() error {
	if sy, ok := s.dev.(interface{ Sync() error }); ok {
		if err := sy.Sync(); err != nil {
			return fmt.Errorf("failed to sync storage: %v", err)
		}
	}
	return nil
}

// hashSlot returns the digest of the first size bytes of sl.
func (s *ImageStore) hashSlot(sl *slots.Slot, size uint32) ([32]byte, error) {
	h := digest.Init()
	buf := make([]byte, s.batchSize())
	remaining := uint64(size)
	lba := uint(0)
	for remaining > 0 {
		n := uint64(len(buf))
		if remaining < n {
			// Round the final read up to whole blocks.
			n = (remaining + uint64(s.bs) - 1) / uint64(s.bs) * uint64(s.bs)
		}
		if err := sl.ReadBlocks(lba, buf[:n]); err != nil {
			return [32]byte{}, err
		}
		use := min(n, remaining)
		h = h.Update(buf[:use])
		remaining -= use
		lba += uint(n / uint64(s.bs))
	}
	return h.Final(), nil
}

// Abort discards the image being written. The active image and boot record
// are unchanged.
func (s *ImageStore) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		klog.V(1).Infof("Discarding partial image in slot %d (%d of %d bytes)", s.tx.index, s.tx.written, s.tx.size)
	}
	s.tx = nil
	return nil
}

// ReadActive returns the active image, checked against the boot record.
func (s *ImageStore) ReadActive() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, errors.New("no active image")
	}
	sl, err := s.part.Open(uint(imageSlot0 + s.rec.Slot))
	if err != nil {
		return nil, err
	}
	blocks := (uint64(s.rec.Size) + uint64(s.bs) - 1) / uint64(s.bs)
	b := make([]byte, blocks*uint64(s.bs))
	if err := sl.ReadBlocks(0, b); err != nil {
		return nil, err
	}
	b = b[:s.rec.Size]
	if got := digest.Sum(b); !digest.Equal(got, s.rec.SHA256) {
		return nil, fmt.Errorf("active image digest %x does not match boot record %x", got, s.rec.SHA256)
	}
	return b, nil
}
