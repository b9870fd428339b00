// Package conflict implements last-write-wins resolution between two copies
// of the same synchronizable records.
//
// Whole records are compared by their updatedAt stamp. Concurrent edits to
// different fields of one record on two devices keep only the later record.
package conflict

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is the wire form of any synchronizable row.
type Record struct {
	ID        string          `json:"id"`
	UpdatedAt string          `json:"updatedAt,omitempty"`
	Deleted   bool            `json:"deleted,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Snapshot maps record id to record.
type Snapshot map[string]Record

// Clone returns a shallow copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// ParseTimestamp accepts RFC 3339, the sqlite text forms, plain dates and
// unix epoch milliseconds. Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

// FormatTimestamp is the canonical updatedAt encoding.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// Timestamp returns the parsed updatedAt of r. Missing and malformed values
// report ok=false and rank below every valid stamp.
func Timestamp(r Record) (time.Time, bool) {
	return ParseTimestamp(r.UpdatedAt)
}

// MostRecent picks the newer of a and b. Presence beats absence, a stamped
// record beats an unstamped one, and exact ties return a.
func MostRecent(a, b *Record) *Record {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	ta, okA := Timestamp(*a)
	tb, okB := Timestamp(*b)
	switch {
	case okA && !okB:
		return a
	case okB && !okA:
		return b
	case okA && okB && tb.After(ta):
		return b
	}
	return a
}

// Stats counts how a Merge was decided.
type Stats struct {
	LocalOnly  int
	RemoteOnly int
	LocalWins  int
	RemoteWins int
	Unchanged  int
	Malformed  int
}

// Merge applies MostRecent per id across both snapshots. Ids present on one
// side only pass through. local is the left argument of every comparison.
func Merge(local, remote Snapshot) (Snapshot, Stats) {
	var st Stats
	out := make(Snapshot, len(local)+len(remote))
	for id, l := range local {
		st.Malformed += malformed(l)
		r, ok := remote[id]
		if !ok {
			st.LocalOnly++
			out[id] = l
			continue
		}
		st.Malformed += malformed(r)
		winner := MostRecent(&l, &r)
		switch {
		case winner == &r:
			st.RemoteWins++
		case sameStamp(l, r):
			st.Unchanged++
		default:
			st.LocalWins++
		}
		out[id] = *winner
	}
	for id, r := range remote {
		if _, ok := local[id]; ok {
			continue
		}
		st.Malformed += malformed(r)
		st.RemoteOnly++
		out[id] = r
	}
	return out, st
}

func sameStamp(a, b Record) bool {
	ta, okA := Timestamp(a)
	tb, okB := Timestamp(b)
	return okA == okB && ta.Equal(tb)
}

func malformed(r Record) int {
	if r.UpdatedAt == "" {
		return 0
	}
	if _, ok := Timestamp(r); ok {
		return 0
	}
	return 1
}
