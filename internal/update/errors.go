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

package update

import (
	"errors"
	"fmt"
)

// Kind classifies update failures.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNetwork: the server could not be reached or didn't return success.
	KindNetwork
	// KindTransport: a read from an established stream failed or came up short.
	KindTransport
	// KindFormat: a malformed manifest or image header.
	KindFormat
	// KindAuthenticity: the image header signature did not verify.
	KindAuthenticity
	// KindIdentity: the image targets a different chip or device.
	KindIdentity
	// KindSize: declared and actual sizes disagree, or there is no payload.
	KindSize
	// KindCapacity: the firmware doesn't fit the storage budget.
	KindCapacity
	// KindIntegrity: the streamed firmware doesn't match the signed digest.
	KindIntegrity
	// KindStorage: writing or committing to storage failed.
	KindStorage
	// KindNoOp: the offered firmware is already installed. This is not a
	// failure.
	KindNoOp
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "NetworkError"
	case KindTransport:
		return "TransportError"
	case KindFormat:
		return "FormatError"
	case KindAuthenticity:
		return "AuthenticityError"
	case KindIdentity:
		return "IdentityError"
	case KindSize:
		return "SizeError"
	case KindCapacity:
		return "CapacityError"
	case KindIntegrity:
		return "IntegrityError"
	case KindStorage:
		return "StorageError"
	case KindNoOp:
		return "NoOpError"
	}
	return "UnknownError"
}

// Sentinels for use with errors.Is.
var (
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrTransport    = &Error{Kind: KindTransport}
	ErrFormat       = &Error{Kind: KindFormat}
	ErrAuthenticity = &Error{Kind: KindAuthenticity}
	ErrIdentity     = &Error{Kind: KindIdentity}
	ErrSize         = &Error{Kind: KindSize}
	ErrCapacity     = &Error{Kind: KindCapacity}
	ErrIntegrity    = &Error{Kind: KindIntegrity}
	ErrStorage      = &Error{Kind: KindStorage}
	ErrNoOp         = &Error{Kind: KindNoOp}
)

// ErrBusy is returned when an update is requested while another is running.
var ErrBusy = errors.New("an update is already in progress")

// Error describes why an update attempt was abandoned.
type Error struct {
	Kind Kind
	// State is the last state successfully reached before the failure.
	State State
	Err   error
}

// Errorf returns an Error of the given kind with a formatted cause.
func Errorf(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	if e.State == Idle {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v after %v: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNoOp reports whether err only signals that there was nothing to do.
func IsNoOp(err error) bool {
	return KindOf(err) == KindNoOp
}
