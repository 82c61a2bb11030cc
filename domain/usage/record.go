// Package usage provides the per-user daily usage record and pure helpers for it.
// All functions are pure - no side effects.
package usage

import "time"

// DayLayout is the format of Record.Day.
const DayLayout = "2006-01-02"

// Record is the daily usage of a single user identity (value type).
// Counters only describe activity on Day; a record for any other day is stale.
type Record struct {
	UserID        string
	Day           string    // UTC calendar day, DayLayout
	MessageCount  int       // Messages admitted and committed today
	Cost          float64   // Estimated dollars spent today
	LastMessageAt time.Time // Zero when no message was committed today

	// Admitted turns whose completion has not been committed or released yet.
	InFlight      int
	InFlightSince time.Time
}

// Day returns the UTC calendar day of t.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Fresh returns a zeroed record for userID stamped with day.
func Fresh(userID, day string) Record {
	return Record{UserID: userID, Day: day}
}

// IsStale reports whether the record belongs to a day other than day.
func (r Record) IsStale(day string) bool {
	return r.Day != day
}

// Reconcile returns r unchanged when it belongs to day, otherwise a fresh record.
func Reconcile(r Record, userID, day string) Record {
	if r.UserID == "" || r.IsStale(day) {
		return Fresh(userID, day)
	}
	return r
}

// LastActivity returns the most recent of LastMessageAt and, while a turn is
// in flight, InFlightSince. Zero means the user has no activity today.
func (r Record) LastActivity() time.Time {
	last := r.LastMessageAt
	if r.InFlight > 0 && r.InFlightSince.After(last) {
		last = r.InFlightSince
	}
	return last
}

// ExpireReservations drops in-flight reservations once the newest of them is
// older than ttl. A non-positive ttl keeps them forever.
func (r Record) ExpireReservations(now time.Time, ttl time.Duration) Record {
	if ttl <= 0 || r.InFlight == 0 || now.Sub(r.InFlightSince) < ttl {
		return r
	}
	r.InFlight = 0
	r.InFlightSince = time.Time{}
	return r
}

// Reserve marks one admitted turn as in flight.
func (r Record) Reserve(now time.Time) Record {
	r.InFlight++
	r.InFlightSince = now
	return r
}

// Commit accounts a completed turn: one message, its cost, and its timestamp.
// The matching reservation is released.
func (r Record) Commit(cost float64, now time.Time) Record {
	r = r.Release()
	r.MessageCount++
	if cost > 0 {
		r.Cost += cost
	}
	r.LastMessageAt = now
	return r
}

// Release drops one in-flight reservation without charging usage.
func (r Record) Release() Record {
	if r.InFlight > 0 {
		r.InFlight--
	}
	if r.InFlight == 0 {
		r.InFlightSince = time.Time{}
	}
	return r
}

// NextMidnight returns the start of the UTC day after t.
func NextMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}
