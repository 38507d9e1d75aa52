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

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the encoded BootRecord.
const (
	fieldSlot     protowire.Number = 1
	fieldSize     protowire.Number = 2
	fieldSHA256   protowire.Number = 3
	fieldSequence protowire.Number = 4
)

// BootRecord identifies the image slot which holds the active firmware.
type BootRecord struct {
	// Slot is the image slot index, 0 or 1.
	Slot int
	// Size is the firmware length in bytes.
	Size uint32
	// SHA256 is the digest of the firmware.
	SHA256 [32]byte
	// Sequence increases on every commit.
	Sequence uint64
}

// MarshalBinary encodes the record as a length prefixed protobuf message.
func (r BootRecord) MarshalBinary() ([]byte, error) {
	var m []byte
	m = protowire.AppendTag(m, fieldSlot, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(r.Slot))
	m = protowire.AppendTag(m, fieldSize, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(r.Size))
	m = protowire.AppendTag(m, fieldSHA256, protowire.BytesType)
	m = protowire.AppendBytes(m, r.SHA256[:])
	m = protowire.AppendTag(m, fieldSequence, protowire.VarintType)
	m = protowire.AppendVarint(m, r.Sequence)
	return protowire.AppendBytes(nil, m), nil
}

// errNoRecord is returned when the record area holds no record.
var errNoRecord = errors.New("no boot record")

// UnmarshalBinary decodes a record written by MarshalBinary. Trailing bytes
// after the message are ignored.
func (r *BootRecord) UnmarshalBinary(b []byte) error {
	m, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return fmt.Errorf("invalid record length: %v", protowire.ParseError(n))
	}
	if len(m) == 0 {
		return errNoRecord
	}
	var out BootRecord
	var sawDigest bool
	for len(m) > 0 {
		num, typ, n := protowire.ConsumeTag(m)
		if n < 0 {
			return protowire.ParseError(n)
		}
		m = m[n:]
		switch {
		case num == fieldSHA256 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if len(v) != len(out.SHA256) {
				return fmt.Errorf("digest has %d bytes, want %d", len(v), len(out.SHA256))
			}
			copy(out.SHA256[:], v)
			sawDigest = true
			m = m[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			switch num {
			case fieldSlot:
				out.Slot = int(v)
			case fieldSize:
				if v > 1<<32-1 {
					return fmt.Errorf("size %d out of range", v)
				}
				out.Size = uint32(v)
			case fieldSequence:
				out.Sequence = v
			}
			m = m[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, m)
			if n < 0 {
				return protowire.ParseError(n)
			}
			m = m[n:]
		}
	}
	if !sawDigest {
		return errors.New("record has no digest")
	}
	if out.Slot != 0 && out.Slot != 1 {
		return fmt.Errorf("invalid image slot %d", out.Slot)
	}
	*r = out
	return nil
}
