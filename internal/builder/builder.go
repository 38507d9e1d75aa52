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

// Package builder composes signed OTA images from a firmware binary.
package builder

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/coreos/go-semver/semver"
	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/digest"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"k8s.io/klog/v2"
)

// copyBufferSize is the chunk size used when copying firmware into the image.
const copyBufferSize = 4096

// Steps of the build, used to label failures.
const (
	StepHashFirmware   = "hash firmware"
	StepHeader         = "build header"
	StepLoadKey        = "load private key"
	StepSignHeader     = "sign header"
	StepCreateOutput   = "create output"
	StepWriteHeader    = "write header"
	StepWriteSignature = "write signature"
	StepCopyFirmware   = "copy firmware"
	StepFinishOutput   = "finish output"
)

// Options describes an image to build.
type Options struct {
	Chip       string
	Device     string
	Version    string
	Firmware   string
	PrivateKey string
	// Out is the path of the image to write. If it names an existing
	// directory, the image is written there using the conventional image
	// file name.
	Out string

	// Passphrase is consulted if the private key is encrypted.
	Passphrase sign.PassphraseFunc
	// Progress, if set, receives a progress bar while firmware is copied.
	Progress io.Writer
}

// MissingError lists the required options which were not provided.
type MissingError struct {
	Missing []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required option(s): %s", strings.Join(e.Missing, ", "))
}

// StepError reports the build step which failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Validate checks that every required option is present.
// It does not touch the filesystem.
func (o Options) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, val string
	}{
		{"chip", o.Chip},
		{"device", o.Device},
		{"version", o.Version},
		{"fw", o.Firmware},
		{"private-key", o.PrivateKey},
		{"out", o.Out},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Missing: missing}
	}
	return nil
}

// OutputPath returns the path the image will be written to.
func (o Options) OutputPath() string {
	if fi, err := os.Stat(o.Out); err == nil && fi.IsDir() {
		return filepath.Join(o.Out, api.ImageFileName(o.Device, o.Chip, o.Version))
	}
	return o.Out
}

// Build writes the signed image described by o, returning the header which
// was signed.
//
// The image is written to a temporary file next to the output path and only
// renamed into place once complete, so a failed build never leaves a partial
// image behind.
func Build(o Options) (api.Header, error) {
	if err := o.Validate(); err != nil {
		return api.Header{}, err
	}
	if _, err := semver.NewVersion(strings.TrimPrefix(o.Version, "v")); err != nil {
		klog.Warningf("Version %q is not a semantic version: %v", o.Version, err)
	}

	sum, size, err := digest.HashFile(o.Firmware)
	if err != nil {
		return api.Header{}, &StepError{Step: StepHashFirmware, Err: err}
	}
	klog.V(1).Infof("Firmware %q: %d bytes, sha256 %x", o.Firmware, size, sum)

	hdr, err := api.NewHeader(o.Chip, o.Device, o.Version)
	if err != nil {
		return api.Header{}, &StepError{Step: StepHeader, Err: err}
	}
	if size == 0 {
		return api.Header{}, &StepError{Step: StepHeader, Err: errors.New("firmware is empty")}
	}
	if size > math.MaxUint32 {
		return api.Header{}, &StepError{Step: StepHeader, Err: fmt.Errorf("firmware is %d bytes, larger than the format allows", size)}
	}
	hdr.FirmwareSize = uint32(size)
	hdr.FirmwareSHA256 = sum
	hdrBytes, err := hdr.MarshalBinary()
	if err != nil {
		return api.Header{}, &StepError{Step: StepHeader, Err: err}
	}

	key, err := sign.LoadPrivateKey(o.PrivateKey, o.Passphrase)
	if err != nil {
		return api.Header{}, &StepError{Step: StepLoadKey, Err: err}
	}
	rsaSig, err := sign.Sign(key, hdrBytes)
	if err != nil {
		return api.Header{}, &StepError{Step: StepSignHeader, Err: err}
	}
	sig := api.Signature{RSA2048: rsaSig}
	sigBytes, err := sig.MarshalBinary()
	if err != nil {
		return api.Header{}, &StepError{Step: StepSignHeader, Err: err}
	}

	if err := writeImage(o, hdr, hdrBytes, sigBytes); err != nil {
		return api.Header{}, err
	}
	klog.Infof("Wrote %d byte image %q for %s/%s version %s", api.HeaderSize+api.SignatureSize+int(size), o.OutputPath(), o.Device, o.Chip, o.Version)
	return hdr, nil
}

func writeImage(o Options, hdr api.Header, hdrBytes, sigBytes []byte) (err error) {
	out := o.OutputPath()
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*")
	if err != nil {
		return &StepError{Step: StepCreateOutput, Err: err}
	}
	defer func() {
		if err != nil {
			tmp.Close()
			if rerr := os.Remove(tmp.Name()); rerr != nil {
				klog.Errorf("Failed to remove %q: %v", tmp.Name(), rerr)
			}
		}
	}()

	if n, err := tmp.Write(hdrBytes); err != nil || n != len(hdrBytes) {
		return &StepError{Step: StepWriteHeader, Err: shortWrite(n, len(hdrBytes), err)}
	}
	if n, err := tmp.Write(sigBytes); err != nil || n != len(sigBytes) {
		return &StepError{Step: StepWriteSignature, Err: shortWrite(n, len(sigBytes), err)}
	}
	if err := copyFirmware(tmp, o, hdr); err != nil {
		return &StepError{Step: StepCopyFirmware, Err: err}
	}

	if err := tmp.Sync(); err != nil {
		return &StepError{Step: StepFinishOutput, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StepError{Step: StepFinishOutput, Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &StepError{Step: StepFinishOutput, Err: err}
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return &StepError{Step: StepFinishOutput, Err: err}
	}
	return nil
}

// copyFirmware streams the firmware file into w, checking that exactly the
// bytes which were hashed into the header are copied.
func copyFirmware(w io.Writer, o Options, hdr api.Header) error {
	f, err := os.Open(o.Firmware)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if o.Progress != nil {
		bar := pb.New64(int64(hdr.FirmwareSize))
		bar.SetTemplate(pb.Full)
		bar.SetWriter(o.Progress)
		bar.Start()
		defer bar.Finish()
		r = bar.NewProxyReader(f)
	}

	h := sha256.New()
	n, err := io.CopyBuffer(io.MultiWriter(w, h), r, make([]byte, copyBufferSize))
	if err != nil {
		return err
	}
	if n != int64(hdr.FirmwareSize) {
		return fmt.Errorf("copied %d bytes, expected %d", n, hdr.FirmwareSize)
	}
	var got [digest.Size]byte
	copy(got[:], h.Sum(nil))
	if !digest.Equal(got, hdr.FirmwareSHA256) {
		return errors.New("firmware changed while the image was being built")
	}
	return nil
}

func shortWrite(n, want int, err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("short write (%d of %d bytes): %w", n, want, io.ErrShortWrite)
}
