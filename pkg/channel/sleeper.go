// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package channel

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleeper produces jittered sleep intervals around a fixed base interval to
// avoid periodic traffic signatures. Each interval is drawn uniformly from
// [base * (1 - jitter), base * (1 + jitter)].
type Sleeper struct {
	base   time.Duration
	jitter float64

	// rng is not safe for concurrent use, guarded by mutex.
	rng   *rand.Rand
	mutex sync.Mutex
}

// NewSleeper creates a Sleeper for a base interval and a jitter percentage
// between 0 and 100.
func NewSleeper(base time.Duration, jitterPercent int) *Sleeper {
	if jitterPercent < 0 {
		jitterPercent = 0
	}
	if jitterPercent > 100 {
		jitterPercent = 100
	}

	return &Sleeper{
		base:   base,
		jitter: float64(jitterPercent) / 100.0,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next draws the next sleep interval.
func (sleeper *Sleeper) Next() time.Duration {
	sleeper.mutex.Lock()
	defer sleeper.mutex.Unlock()

	// Uniform in [-jitter, +jitter].
	deviation := (2.0*sleeper.rng.Float64() - 1.0) * sleeper.jitter

	return time.Duration(float64(sleeper.base) * (1.0 + deviation))
}

// Sleep blocks for the next jittered interval. It returns false if the
// context was cancelled before the interval passed.
func (sleeper *Sleeper) Sleep(ctx context.Context) bool {
	timer := time.NewTimer(sleeper.Next())
	defer timer.Stop()

	select {
	case <-timer.C:
		return true

	case <-ctx.Done():
		return false
	}
}
