package application

import "time"

// Clock dipakai service supaya timestamp gampang ditest
type Clock interface {
	Now() time.Time
}

// SystemClock returns wall time in UTC; audit rows are stored in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
