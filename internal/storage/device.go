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

// Package storage provides the block storage used to hold firmware images.
// Note that these are very low-level primitives, and care must be taken when
// using them not to overwrite existing data (e.g. the running image!)
package storage

import (
	"errors"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

var (
	// MaxTransferBytes is the largest transfer we'll attempt.
	// Larger reads and writes are chunked into requests of at most
	// MaxTransferBytes bytes.
	MaxTransferBytes = 32 * 1024
)

// BlockDevice is a block addressed storage device.
type BlockDevice interface {
	BlockSize() uint
	ReadBlocks(lba uint, b []byte) error
	WriteBlocks(lba uint, b []byte) (uint, error)
}

// FileDevice is a BlockDevice backed by a regular file, for hosts which keep
// firmware images on a filesystem.
type FileDevice struct {
	f         *os.File
	blockSize uint
	numBlocks uint
}

// OpenFileDevice opens (creating if necessary) the file at path as a block
// device of numBlocks blocks of blockSize bytes each.
func OpenFileDevice(path string, blockSize, numBlocks uint) (*FileDevice, error) {
	if blockSize == 0 || numBlocks == 0 {
		return nil, errors.New("block size and block count must be non-zero")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	want := int64(blockSize) * int64(numBlocks)
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < want {
		klog.Infof("Extending %q from %d to %d bytes", path, fi.Size(), want)
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to size %q: %v", path, err)
		}
	}
	return &FileDevice{f: f, blockSize: blockSize, numBlocks: numBlocks}, nil
}

// BlockSize returns the size in bytes of the each block in the underlying storage.
func (d *FileDevice) BlockSize() uint {
	return d.blockSize
}

// NumBlocks returns the number of blocks on the device.
func (d *FileDevice) NumBlocks() uint {
	return d.numBlocks
}

func (d *FileDevice) checkRange(lba uint, n int) error {
	bl := uint(n) / d.blockSize
	if lba+bl > d.numBlocks {
		return fmt.Errorf("blocks [%d, %d) beyond device blocks (%d)", lba, lba+bl, d.numBlocks)
	}
	return nil
}

// WriteBlocks writes the data in b to the device blocks starting at the given block address.
// If the final block to be written is partial, it will be padded with zeroes to ensure that
// full blocks are written.
// Returns the number of blocks written, or an error.
func (d *FileDevice) WriteBlocks(lba uint, b []byte) (uint, error) {
	if len(b) == 0 {
		return 0, nil
	}
	bs := int(d.blockSize)
	if r := len(b) % bs; r != 0 {
		b = append(b[:len(b):len(b)], make([]byte, bs-r)...)
	}
	if err := d.checkRange(lba, len(b)); err != nil {
		return 0, err
	}
	numBlocks := uint(len(b) / bs)
	for len(b) > 0 {
		bl := min(len(b), MaxTransferBytes)
		off := int64(lba) * int64(bs)
		if _, err := d.f.WriteAt(b[:bl], off); err != nil {
			klog.Infof("WriteAt(%d, ...) = %v", off, err)
			return 0, err
		}
		b = b[bl:]
		lba += uint(bl / bs)
	}
	return numBlocks, nil
}

// ReadBlocks reads data from the storage device at the given address into b.
// b must be a multiple of the underlying device's block size.
func (d *FileDevice) ReadBlocks(lba uint, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	bs := int(d.blockSize)
	if len(b)%bs != 0 {
		return fmt.Errorf("read of %d bytes is not a multiple of block size %d", len(b), bs)
	}
	if err := d.checkRange(lba, len(b)); err != nil {
		return err
	}
	for len(b) > 0 {
		bl := min(len(b), MaxTransferBytes)
		off := int64(lba) * int64(bs)
		if _, err := d.f.ReadAt(b[:bl], off); err != nil {
			klog.Errorf("ReadAt(%d, %d) = %v", off, bl, err)
			return err
		}
		b = b[bl:]
		lba += uint(bl / bs)
	}
	return nil
}

// Sync flushes written blocks to stable storage.
func (d *FileDevice) Sync() error {
	return d.f.Sync()
}

// Close releases the underlying file.
func (d *FileDevice) Close() error {
	return d.f.Close()
}
