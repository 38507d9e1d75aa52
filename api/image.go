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

// Package api defines the artefacts shared between the offline image tools
// and the on-device updater: the OTA image layout, the firmware manifest
// document and the device status report.
package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Image layout constants.
//
// An OTA image is Header (256 bytes) || Signature (512 bytes) || firmware.
// Changing the size of any header field requires bumping the version suffix
// of Magic.
const (
	// Magic identifies the image format and its version.
	Magic = "OTASEB00"

	MagicSize    = 8
	ChipSize     = 32
	DeviceSize   = 32
	VersionSize  = 8
	SizeSize     = 4
	DigestSize   = 32
	ReservedSize = 140

	// HeaderSize is the fixed size in bytes of an encoded Header.
	HeaderSize = MagicSize + ChipSize + DeviceSize + VersionSize + SizeSize + DigestSize + ReservedSize

	// RSA2048SignatureSize is the size of the signature held by a Signature block.
	RSA2048SignatureSize = 256
	// SignatureSize is the fixed size in bytes of an encoded Signature block.
	SignatureSize = 512

	// MinImageSize is the smallest image carrying at least one byte of firmware.
	MinImageSize = HeaderSize + SignatureSize + 1
)

// Field offsets within an encoded Header.
const (
	offMagic    = 0
	offChip     = offMagic + MagicSize
	offDevice   = offChip + ChipSize
	offVersion  = offDevice + DeviceSize
	offSize     = offVersion + VersionSize
	offDigest   = offSize + SizeSize
	offReserved = offDigest + DigestSize
)

// ErrShortBuffer is returned when decoding from a buffer smaller than the
// fixed size of the structure being decoded.
var ErrShortBuffer = errors.New("buffer too short")

// Header is the fixed-size metadata block at the start of every OTA image.
//
// String-like fields are fixed-width, NUL padded ASCII. They are compared as
// padded byte arrays, never as NUL terminated strings, so that comparisons
// operate on exactly the bytes which were signed.
type Header struct {
	Magic          [MagicSize]byte
	Chip           [ChipSize]byte
	Device         [DeviceSize]byte
	Version        [VersionSize]byte
	FirmwareSize   uint32
	FirmwareSHA256 [DigestSize]byte
	Reserved       [ReservedSize]byte
}

// NewHeader returns a header with the magic set and the given identity and
// version fields populated.
// An error is returned if any of the strings is longer than its field.
func NewHeader(chip, device, version string) (Header, error) {
	h := Header{}
	copy(h.Magic[:], Magic)
	if err := SetField(h.Chip[:], chip); err != nil {
		return Header{}, fmt.Errorf("chip: %v", err)
	}
	if err := SetField(h.Device[:], device); err != nil {
		return Header{}, fmt.Errorf("device: %v", err)
	}
	if err := SetField(h.Version[:], version); err != nil {
		return Header{}, fmt.Errorf("version: %v", err)
	}
	return h, nil
}

// MarshalBinary encodes the header into its 256 byte wire form.
// The firmware size is stored little-endian.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	copy(b[offMagic:], h.Magic[:])
	copy(b[offChip:], h.Chip[:])
	copy(b[offDevice:], h.Device[:])
	copy(b[offVersion:], h.Version[:])
	binary.LittleEndian.PutUint32(b[offSize:], h.FirmwareSize)
	copy(b[offDigest:], h.FirmwareSHA256[:])
	copy(b[offReserved:], h.Reserved[:])
	return b, nil
}

// UnmarshalBinary decodes a header from the first HeaderSize bytes of b.
// No validation of the field contents is performed.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("header: %w (%d < %d)", ErrShortBuffer, len(b), HeaderSize)
	}
	copy(h.Magic[:], b[offMagic:offChip])
	copy(h.Chip[:], b[offChip:offDevice])
	copy(h.Device[:], b[offDevice:offVersion])
	copy(h.Version[:], b[offVersion:offSize])
	h.FirmwareSize = binary.LittleEndian.Uint32(b[offSize:offDigest])
	copy(h.FirmwareSHA256[:], b[offDigest:offReserved])
	copy(h.Reserved[:], b[offReserved:HeaderSize])
	return nil
}

// MagicValid reports whether the header carries the expected magic.
func (h Header) MagicValid() bool {
	return bytes.Equal(h.Magic[:], []byte(Magic))
}

// ChipString returns the chip field with its padding removed.
func (h Header) ChipString() string { return FieldString(h.Chip[:]) }

// DeviceString returns the device field with its padding removed.
func (h Header) DeviceString() string { return FieldString(h.Device[:]) }

// VersionString returns the firmware version field with its padding removed.
func (h Header) VersionString() string { return FieldString(h.Version[:]) }

// String returns a multi-line human readable summary of the header.
func (h Header) String() string {
	var s strings.Builder
	fmt.Fprintf(&s, "Magic ..........: %q\n", FieldString(h.Magic[:]))
	fmt.Fprintf(&s, "Chip ...........: %s\n", h.ChipString())
	fmt.Fprintf(&s, "Device .........: %s\n", h.DeviceString())
	fmt.Fprintf(&s, "Version ........: %s\n", h.VersionString())
	fmt.Fprintf(&s, "Firmware size ..: %d\n", h.FirmwareSize)
	fmt.Fprintf(&s, "Firmware SHA256 : %x", h.FirmwareSHA256)
	return s.String()
}

// Signature is the fixed-size block following the header. Only the first
// RSA2048SignatureSize bytes are used, the remainder is reserved and zero.
type Signature struct {
	RSA2048  [RSA2048SignatureSize]byte
	Reserved [SignatureSize - RSA2048SignatureSize]byte
}

// MarshalBinary encodes the signature block into its 512 byte wire form.
func (s Signature) MarshalBinary() ([]byte, error) {
	b := make([]byte, SignatureSize)
	copy(b, s.RSA2048[:])
	copy(b[RSA2048SignatureSize:], s.Reserved[:])
	return b, nil
}

// UnmarshalBinary decodes a signature block from the first SignatureSize bytes of b.
func (s *Signature) UnmarshalBinary(b []byte) error {
	if len(b) < SignatureSize {
		return fmt.Errorf("signature: %w (%d < %d)", ErrShortBuffer, len(b), SignatureSize)
	}
	copy(s.RSA2048[:], b[:RSA2048SignatureSize])
	copy(s.Reserved[:], b[RSA2048SignatureSize:SignatureSize])
	return nil
}

// ReadImageHeader reads and decodes the header and signature blocks from the
// start of an image.
func ReadImageHeader(r io.Reader) (Header, Signature, error) {
	b := make([]byte, HeaderSize+SignatureSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return Header{}, Signature{}, fmt.Errorf("failed to read image header: %w", err)
	}
	var h Header
	var s Signature
	if err := h.UnmarshalBinary(b[:HeaderSize]); err != nil {
		return Header{}, Signature{}, err
	}
	if err := s.UnmarshalBinary(b[HeaderSize:]); err != nil {
		return Header{}, Signature{}, err
	}
	return h, s, nil
}

// SetField copies s into the fixed-width field dst, zero filling the rest.
// Unlike a C strncpy, a string which does not fit is an error rather than
// being silently truncated.
func SetField(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("%q is %d bytes, field holds at most %d", s, len(s), len(dst))
	}
	n := copy(dst, s)
	clear(dst[n:])
	return nil
}

// PadField returns s as an n byte NUL padded field, the form in which it is
// stored in a header. Strings longer than n are returned as-is, so they never
// compare equal to an n byte field.
func PadField(s string, n int) []byte {
	if len(s) > n {
		return []byte(s)
	}
	b := make([]byte, n)
	copy(b, s)
	return b
}

// FieldEqual reports whether the fixed-width field f holds exactly s.
func FieldEqual(f []byte, s string) bool {
	return bytes.Equal(f, PadField(s, len(f)))
}

// FieldString returns the contents of a fixed-width field with its trailing
// NUL padding removed. It is intended for display only.
func FieldString(f []byte) string {
	return string(bytes.TrimRight(f, "\x00"))
}
