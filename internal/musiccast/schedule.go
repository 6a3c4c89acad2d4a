package musiccast

import "time"

// refreshEntry is one scheduled future zone-status refresh.
type refreshEntry struct {
	due  time.Time
	zone int
}

// refreshSchedule is the delayed-refresh list of a device actor, ordered
// ascending by due time so the next-due entry is always index 0.
//
// It serves two purposes: keepalive polls that stop the firmware from
// dropping its event subscription, and settle-delay refreshes confirming
// convergence after state-changing commands. Insertion is a linear scan;
// the list is bounded by zone count + 1.
//
// Not safe for concurrent use; owned by the actor loop.
type refreshSchedule struct {
	entries []refreshEntry
}

// insert adds an entry, keeping the list sorted by due time. Entries with
// equal due times keep insertion order.
func (s *refreshSchedule) insert(due time.Time, zone int) {
	idx := len(s.entries)
	for i, e := range s.entries {
		if due.Before(e.due) {
			idx = i
			break
		}
	}
	s.entries = append(s.entries, refreshEntry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = refreshEntry{due: due, zone: zone}
}

// popDue removes and returns the zone indices of all entries due at or
// before now, in due order.
func (s *refreshSchedule) popDue(now time.Time) []int {
	n := 0
	for _, e := range s.entries {
		if e.due.After(now) {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}
	zones := make([]int, n)
	for i := 0; i < n; i++ {
		zones[i] = s.entries[i].zone
	}
	s.entries = s.entries[:copy(s.entries, s.entries[n:])]
	return zones
}

// nextDue returns the earliest due time, or false if the schedule is empty.
func (s *refreshSchedule) nextDue() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].due, true
}

// empty reports whether no refresh is pending.
func (s *refreshSchedule) empty() bool {
	return len(s.entries) == 0
}
