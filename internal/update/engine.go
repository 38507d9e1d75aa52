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

// Package update implements the on-device update engine, which streams a
// signed OTA image from a server, validates it and commits it to storage.
//
// Validation is strictly ordered: the header signature is verified before
// any other header field is trusted, and before a single firmware byte is
// written. The firmware digest is computed while streaming so that memory
// use is bounded by one read buffer regardless of firmware size.
package update

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/digest"
	"github.com/sebmalissard/home-automation-firmwares/internal/retry"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"k8s.io/klog/v2"
)

// DefaultBufferSize is the largest read issued while streaming firmware.
const DefaultBufferSize = 1024

// State is a step of an update session.
type State int

const (
	Idle State = iota
	Connecting
	HeaderReceived
	HeaderVerified
	SignatureVerified
	FieldsVerified
	SizeVerified
	CapacityVerified
	Streaming
	DigestVerified
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case HeaderReceived:
		return "HeaderReceived"
	case HeaderVerified:
		return "HeaderVerified"
	case SignatureVerified:
		return "SignatureVerified"
	case FieldsVerified:
		return "FieldsVerified"
	case SizeVerified:
		return "SizeVerified"
	case CapacityVerified:
		return "CapacityVerified"
	case Streaming:
		return "Streaming"
	case DigestVerified:
		return "DigestVerified"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transport opens download streams.
type Transport interface {
	// Connect requests url and returns the response body stream. An error
	// is returned if the server can't be reached or doesn't report success.
	Connect(ctx context.Context, url string) (Stream, error)
}

// Stream is an open download.
//
// Read may return 0, nil when no data is available yet; the engine retries
// such reads according to its retry policy.
type Stream interface {
	io.ReadCloser
	// TotalLength returns the number of bytes the server announced, or a
	// negative value if unknown.
	TotalLength() int64
}

// Storage receives the new firmware.
//
// Data written between Begin and Commit must not affect the firmware which
// is currently running, and must only become the firmware to run on the
// next restart once Commit succeeds.
type Storage interface {
	// Begin opens a write transaction for size bytes of firmware.
	Begin(size uint32) error
	// Write appends p to the transaction, returning the number of bytes
	// accepted.
	Write(p []byte) (int, error)
	// Commit completes the transaction.
	Commit() error
	// Abort discards the transaction.
	Abort() error
}

// Capacity reports the storage budget available for firmware images.
type Capacity interface {
	// CurrentImageSize returns the size of the running firmware image.
	CurrentImageSize() uint64
	// FreeSpace returns the space available for firmware images beyond the
	// current one.
	FreeSpace() uint64
}

// Restarter restarts the device into newly committed firmware.
type Restarter interface {
	Reboot() error
}

// Identity is the identity of the device running the engine.
type Identity struct {
	Device  string
	Chip    string
	Version string
}

// Config configures an Engine.
type Config struct {
	Identity  Identity
	PublicKey *rsa.PublicKey

	Transport Transport
	Storage   Storage
	Capacity  Capacity
	// Restarter is only required by Update.
	Restarter Restarter

	// BufferSize bounds the size of stream reads, DefaultBufferSize if zero.
	BufferSize int
	// Retry governs consecutive empty reads while streaming,
	// retry.DefaultPolicy() if zero.
	Retry retry.Policy
	// Sleep pauses between retries, time.Sleep if nil.
	Sleep func(time.Duration)
	// OnState, if set, is called on every state transition with the report
	// so far. It runs before the engine moves on, so on Committed it runs
	// before Update restarts the device.
	OnState func(State, *Report)
}

// Report describes an update attempt.
type Report struct {
	// States lists every state entered, in order, starting with Connecting.
	States []State
	// Header is the image header, once received.
	Header api.Header
	// BytesWritten is the number of firmware bytes accepted by storage.
	BytesWritten uint64
	Duration     time.Duration
}

// Final returns the last state entered.
func (r *Report) Final() State {
	if len(r.States) == 0 {
		return Idle
	}
	return r.States[len(r.States)-1]
}

// Engine runs update sessions, one at a time.
type Engine struct {
	cfg Config
	mu  sync.Mutex
}

// New returns an engine using cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.PublicKey == nil {
		return nil, errors.New("no public key configured")
	}
	if cfg.Transport == nil || cfg.Storage == nil || cfg.Capacity == nil {
		return nil, errors.New("transport, storage and capacity are required")
	}
	if cfg.Identity.Device == "" || cfg.Identity.Chip == "" {
		return nil, errors.New("device identity is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Retry == (retry.Policy{}) {
		cfg.Retry = retry.DefaultPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	initMetrics()
	return &Engine{cfg: cfg}, nil
}

// Update runs an update session for the image at url and, once the new
// firmware is committed, restarts the device into it.
func (e *Engine) Update(ctx context.Context, url string) (*Report, error) {
	if e.cfg.Restarter == nil {
		return nil, errors.New("no restarter configured")
	}
	r, err := e.Run(ctx, url)
	if err != nil {
		return r, err
	}
	klog.Infof("OTA firmware update to %s done with success, restarting...", r.Header.VersionString())
	if err := e.cfg.Restarter.Reboot(); err != nil {
		return r, fmt.Errorf("firmware committed but restart failed: %v", err)
	}
	return r, nil
}

// Run runs a single update session for the image at url, stopping once the
// firmware is committed to storage.
//
// Any failure aborts the session, leaving the running firmware untouched,
// and is returned as an *Error. An *Error of KindNoOp means the image holds
// the firmware which is already running.
func (e *Engine) Run(ctx context.Context, url string) (*Report, error) {
	if !e.mu.TryLock() {
		return nil, ErrBusy
	}
	defer e.mu.Unlock()

	s := &session{cfg: &e.cfg, report: &Report{}, retrier: e.cfg.Retry.Start()}
	start := time.Now()
	counterAttempt.Inc()
	err := s.run(ctx, url)
	s.report.Duration = time.Since(start)
	gaugeState.Set(float64(s.state))

	switch k := KindOf(err); {
	case err == nil:
		counterSuccess.Inc()
		histBytes.Observe(float64(s.report.BytesWritten))
	case k == KindNoOp:
		counterNoOp.Inc()
		klog.Infof("Firmware %s is already installed, nothing to do.", s.report.Header.VersionString())
	default:
		counterFailure.WithLabelValues(k.String()).Inc()
		klog.Errorf("OTA update from %q aborted: %v", url, err)
	}
	return s.report, err
}

// session holds the state of a single update attempt.
type session struct {
	cfg    *Config
	report *Report
	state  State

	stream      Stream
	retrier     *retry.Retrier
	storageOpen bool
}

func (s *session) enter(st State) {
	klog.V(1).Infof("OTA state %v -> %v", s.state, st)
	s.state = st
	s.report.States = append(s.report.States, st)
	if s.cfg.OnState != nil {
		s.cfg.OnState(st, s.report)
	}
}

// fail wraps err with the current state.
func (s *session) fail(err *Error) error {
	err.State = s.state
	return err
}

func (s *session) run(ctx context.Context, url string) (err error) {
	defer func() {
		if s.stream != nil {
			if cerr := s.stream.Close(); cerr != nil {
				klog.Warningf("Closing stream: %v", cerr)
			}
		}
		if err == nil {
			return
		}
		if s.storageOpen {
			if aerr := s.cfg.Storage.Abort(); aerr != nil {
				klog.Errorf("Storage abort: %v", aerr)
			}
		}
		s.enter(Aborted)
	}()

	klog.Infof("Starting OTA firmware update (url=%s)...", url)
	s.enter(Connecting)
	if s.stream, err = s.cfg.Transport.Connect(ctx, url); err != nil {
		return s.fail(&Error{Kind: KindNetwork, Err: err})
	}
	total := s.stream.TotalLength()
	if total < api.MinImageSize {
		return s.fail(Errorf(KindSize, "image size %d is smaller than the minimum %d", total, api.MinImageSize))
	}

	hdrBytes := make([]byte, api.HeaderSize)
	if rerr := s.readFull(hdrBytes, "header"); rerr != nil {
		return s.fail(rerr)
	}
	s.enter(HeaderReceived)

	hdr := &s.report.Header
	if err := hdr.UnmarshalBinary(hdrBytes); err != nil {
		return s.fail(&Error{Kind: KindFormat, Err: err})
	}
	if !hdr.MagicValid() {
		return s.fail(Errorf(KindFormat, "bad magic %q", hdr.Magic))
	}
	s.enter(HeaderVerified)

	sigBytes := make([]byte, api.SignatureSize)
	if rerr := s.readFull(sigBytes, "signature"); rerr != nil {
		return s.fail(rerr)
	}
	var sig api.Signature
	if err := sig.UnmarshalBinary(sigBytes); err != nil {
		return s.fail(&Error{Kind: KindFormat, Err: err})
	}
	if err := sign.Verify(s.cfg.PublicKey, hdrBytes, sig.RSA2048[:]); err != nil {
		return s.fail(Errorf(KindAuthenticity, "header signature: %v", err))
	}
	klog.V(1).Info("Header signature is valid")
	s.enter(SignatureVerified)

	id := s.cfg.Identity
	if !api.FieldEqual(hdr.Chip[:], id.Chip) {
		return s.fail(Errorf(KindIdentity, "image is for chip %q, this is %q", hdr.ChipString(), id.Chip))
	}
	if !api.FieldEqual(hdr.Device[:], id.Device) {
		return s.fail(Errorf(KindIdentity, "image is for device %q, this is %q", hdr.DeviceString(), id.Device))
	}
	klog.V(1).Info("Header fields are valid")
	s.enter(FieldsVerified)

	if api.FieldEqual(hdr.Version[:], id.Version) {
		return s.fail(Errorf(KindNoOp, "firmware %s is already installed", id.Version))
	}
	if want := total - api.HeaderSize - api.SignatureSize; int64(hdr.FirmwareSize) != want {
		return s.fail(Errorf(KindSize, "header declares %d bytes of firmware, server is sending %d", hdr.FirmwareSize, want))
	}
	s.enter(SizeVerified)

	current, free := s.cfg.Capacity.CurrentImageSize(), s.cfg.Capacity.FreeSpace()
	if budget := (current + free) / 2; uint64(hdr.FirmwareSize) > budget {
		return s.fail(Errorf(KindCapacity, "firmware is %d bytes, budget is %d (current %d, free %d)", hdr.FirmwareSize, budget, current, free))
	}
	s.enter(CapacityVerified)

	klog.Infof("OTA update to %s on going (%d bytes)...", hdr.VersionString(), hdr.FirmwareSize)
	if err := s.cfg.Storage.Begin(hdr.FirmwareSize); err != nil {
		return s.fail(Errorf(KindStorage, "begin: %v", err))
	}
	s.storageOpen = true
	s.enter(Streaming)

	sum, serr := s.stream2Storage(hdr.FirmwareSize)
	if serr != nil {
		return s.fail(serr)
	}
	if !digest.Equal(sum, hdr.FirmwareSHA256) {
		return s.fail(Errorf(KindIntegrity, "firmware digest %x, header declares %x", sum, hdr.FirmwareSHA256))
	}
	klog.V(1).Info("Firmware hash is correct")
	s.enter(DigestVerified)

	if err := s.cfg.Storage.Commit(); err != nil {
		return s.fail(Errorf(KindStorage, "commit: %v", err))
	}
	s.storageOpen = false
	s.enter(Committed)
	return nil
}

// read reads at least one byte from the stream into p.
//
// Empty reads are retried under the session's retry policy, which is shared
// by every read of the session and reset whenever data arrives. Running out
// of attempts, a read error or the end of the stream abort the session.
func (s *session) read(p []byte, what string) (int, *Error) {
	for {
		n, err := s.stream.Read(p)
		if n > 0 {
			s.retrier.Reset()
			return n, nil
		}
		switch {
		case err == io.EOF:
			return 0, Errorf(KindTransport, "stream ended while reading %s", what)
		case err != nil:
			return 0, Errorf(KindTransport, "failed to read %s: %v", what, err)
		}
		delay, ok := s.retrier.Fail()
		if !ok {
			return 0, Errorf(KindTransport, "%d consecutive empty reads while reading %s", s.retrier.Failures(), what)
		}
		klog.Warningf("Empty read (%d) while reading %s, retrying in %v", s.retrier.Failures(), what, delay)
		s.cfg.Sleep(delay)
	}
}

// readFull fills p from the stream.
func (s *session) readFull(p []byte, what string) *Error {
	for off := 0; off < len(p); {
		n, err := s.read(p[off:], what)
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// stream2Storage copies size bytes of firmware from the stream to storage,
// returning their digest.
func (s *session) stream2Storage(size uint32) ([digest.Size]byte, *Error) {
	buf := make([]byte, s.cfg.BufferSize)
	d := digest.Init()
	remaining := uint64(size)

	for remaining > 0 {
		n := uint64(len(buf))
		if remaining < n {
			n = remaining
		}
		got, rerr := s.read(buf[:n], "firmware")
		if rerr != nil {
			rerr.Err = fmt.Errorf("%v after %d of %d bytes", rerr.Err, s.report.BytesWritten, size)
			return [digest.Size]byte{}, rerr
		}
		d = d.Update(buf[:got])
		w, werr := s.cfg.Storage.Write(buf[:got])
		if werr != nil {
			return [digest.Size]byte{}, Errorf(KindStorage, "write failed at %d bytes: %v", s.report.BytesWritten, werr)
		}
		if w != got {
			return [digest.Size]byte{}, Errorf(KindStorage, "short write at %d bytes (%d of %d)", s.report.BytesWritten, w, got)
		}
		s.report.BytesWritten += uint64(got)
		remaining -= uint64(got)
		klog.V(2).Infof("Wrote %d/%d bytes", s.report.BytesWritten, size)
	}
	return d.Final(), nil
}
