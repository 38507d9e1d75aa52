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

// Package retry provides bounded retry policies.
//
// A Policy only decides whether another attempt is allowed and how long to
// wait before it; performing the attempt and sleeping are left to the caller.
// Delays are computed by github.com/cenkalti/backoff.
package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff produces the delay schedule for one operation.
type Backoff interface {
	// New returns a fresh schedule, positioned before the first retry.
	New() backoff.BackOff
}

// Constant waits the same duration before every retry.
type Constant time.Duration

// New implements Backoff.
func (c Constant) New() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Duration(c))
}

// Exponential multiplies the delay by Multiplier after every retry, up to Max.
// There is no jitter.
type Exponential struct {
	Initial time.Duration
	// Max caps the delay. Zero means no cap.
	Max time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
}

// New implements Backoff.
func (e Exponential) New() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     e.Initial,
		RandomizationFactor: 0,
		Multiplier:          e.Multiplier,
		MaxInterval:         e.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.Multiplier <= 0 {
		b.Multiplier = 2
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.Reset()
	return b
}

// Policy bounds the number of consecutive failed attempts.
type Policy struct {
	// MaxAttempts is the number of consecutive failures at which to give up.
	MaxAttempts int
	// Backoff computes the delay between attempts. Nil means no delay.
	Backoff Backoff
}

// DefaultPolicy tolerates two consecutive failures, pausing 10ms after each,
// and gives up on the third.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Constant(10 * time.Millisecond),
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	return nil
}

// Start returns a Retrier tracking consecutive failures under this policy.
func (p Policy) Start() *Retrier {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		b = p.Backoff.New()
	}
	// The failure which reaches MaxAttempts is not retried.
	if retries := p.MaxAttempts - 1; retries > 0 {
		b = backoff.WithMaxRetries(b, uint64(retries))
	} else {
		b = &backoff.StopBackOff{}
	}
	return &Retrier{b: b}
}

// Retrier tracks consecutive failures for a single operation.
// It is not safe for concurrent use.
type Retrier struct {
	b        backoff.BackOff
	failures int
}

// Fail records a failed attempt. It returns the delay to wait before
// retrying, and false once the policy's MaxAttempts has been reached.
func (r *Retrier) Fail() (time.Duration, bool) {
	r.failures++
	d := r.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

// Reset records a successful attempt, clearing the failure count.
func (r *Retrier) Reset() {
	if r.failures == 0 {
		return
	}
	r.failures = 0
	r.b.Reset()
}

// Failures returns the number of consecutive failures recorded.
func (r *Retrier) Failures() int {
	return r.failures
}
