/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package breaker guards the external collaborators (Builder, VCS) a
// Worker depends on, so a string of crashes degrades to fast-fail rather
// than hammering the collaborator — the realization of §7's "External"
// error policy ("non-terminal iteration; worker continues").
//
// Two variants live side by side, deliberately: RateBreaker is a
// hand-rolled failure-rate breaker logging through logrus, kept in the
// teacher's own idiom for this one subsystem; Breaker wraps
// sony/gobreaker for callers that want the library-backed state machine
// instead. A Worker wraps its Builder calls in a Breaker and its VCS
// calls in a RateBreaker.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// State mirrors the three circuit-breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// RateBreaker trips open once the failure rate over the requests counted
// since it last closed reaches failureThreshold (after a minimum sample size), and probes a
// single half-open call after resetTimeout before deciding whether to
// close again or reopen.
type RateBreaker struct {
	name             string
	failureThreshold float64
	resetTimeout     time.Duration
	logger           *logrus.Logger

	mu        sync.Mutex
	state     State
	successes int64
	failures  int64
	openedAt  time.Time
}

const minSampleSize = 5

func NewRateBreaker(name string, failureThreshold float64, resetTimeout time.Duration, logger *logrus.Logger) *RateBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &RateBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
		state:            StateClosed,
	}
}

func (b *RateBreaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *RateBreaker) GetFailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureRateLocked()
}

func (b *RateBreaker) failureRateLocked() float64 {
	total := b.successes + b.failures
	if total == 0 {
		return 0
	}
	return float64(b.failures) / float64(total)
}

// Call runs fn, subject to the breaker's state. An Open breaker rejects
// immediately without invoking fn; once resetTimeout has elapsed it lets
// exactly one probe call through (Half-Open) to decide whether to close
// or reopen.
func (b *RateBreaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.openedAt) < b.resetTimeout {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %q is open", b.name)
		}
		b.state = StateHalfOpen
		b.logger.WithField("breaker", b.name).Info("circuit breaker half-open: probing")
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.state == StateHalfOpen {
			b.trip()
		} else if b.failureRateLocked() >= b.failureThreshold && (b.successes+b.failures) >= minSampleSize {
			b.trip()
		}
		return err
	}

	b.successes++
	if b.state == StateHalfOpen {
		b.closeLocked()
	}
	return nil
}

func (b *RateBreaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.logger.WithFields(logrus.Fields{"breaker": b.name, "failure_rate": b.failureRateLocked()}).Warn("circuit breaker open")
}

func (b *RateBreaker) closeLocked() {
	b.state = StateClosed
	b.successes = 0
	b.failures = 0
	b.logger.WithField("breaker", b.name).Info("circuit breaker closed: recovered")
}

// Breaker wraps sony/gobreaker for callers that prefer the maintained
// library's state machine and generation counting over RateBreaker's
// hand-rolled one.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker opens after consecutiveFailures in a row and probes again
// after resetTimeout, matching gobreaker's own defaults shape.
func NewBreaker(name string, consecutiveFailures uint32, resetTimeout time.Duration) *Breaker {
	st := gobreaker.Settings{
		Name:        name,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= consecutiveFailures },
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](st)}
}

func (b *Breaker) Call(fn func() (string, error)) (string, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
