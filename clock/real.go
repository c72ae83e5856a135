// Copyright 2026 The Tell Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Real returns a Clock backed directly by the standard time package.
func Real() Clock { return realClock{} }

// realClock is a zero-size adapter; every method forwards straight to the
// time package.
type realClock struct{}

func (realClock) Now() time.Time                          { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                   { time.Sleep(d) }
