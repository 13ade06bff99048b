// Package store keeps aggregated per-key usage counters in SQLite.
//
// Only daily totals are stored: how often each configured key was tapped,
// held or typed straight through. No key sequence or timing is recorded.
package store

import "time"

// DayFormat is the layout of the day column.
const DayFormat = "2006-01-02"

// KeyDelta is an increment to one key's counters.
type KeyDelta struct {
	KeyCode     uint16
	Label       string
	Taps        uint64
	Holds       uint64
	PassThrough uint64
}

// KeyStat is the total for one key over a range of days.
type KeyStat struct {
	KeyCode     uint16
	Label       string
	Taps        uint64
	Holds       uint64
	PassThrough uint64
	FirstDay    string
	LastDay     string
}

// Presses is the number of decided presses of the key.
func (k KeyStat) Presses() uint64 {
	return k.Taps + k.Holds + k.PassThrough
}

// HoldRatio is the fraction of presses that became a modifier.
func (k KeyStat) HoldRatio() float64 {
	if p := k.Presses(); p > 0 {
		return float64(k.Holds) / float64(p)
	}
	return 0
}

// Summary totals every key since a given day.
type Summary struct {
	Since       string
	Taps        uint64
	Holds       uint64
	PassThrough uint64
	Keys        []KeyStat
}

// Run records one interception session of the daemon.
type Run struct {
	ID        int64
	Version   string
	StartedAt time.Time
	StoppedAt *time.Time
	Reason    string
}
