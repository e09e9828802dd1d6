package catch

import (
	"sort"
	"strconv"
	"time"
)

const DefaultWindowSize = 5

// Window is a bounded list of Info ordered by expected arrival ascending.
// Entries leave only from the head, and only when missed. Not safe for
// concurrent use; the owning board serializes access.
type Window struct {
	size    int
	entries []Info
}

func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size}
}

func (w *Window) Cap() int { return w.size }
func (w *Window) Len() int { return len(w.entries) }

// Entries returns a copy of the current entries.
func (w *Window) Entries() []Info {
	out := make([]Info, len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *Window) Head() (Info, bool) {
	if len(w.entries) == 0 {
		return Info{}, false
	}
	return w.entries[0], true
}

// Replace discards the current entries and keeps the earliest catchable
// candidates, up to the window size.
func (w *Window) Replace(candidates []Info) {
	w.entries = w.pick(candidates, nil, w.size)
}

// Merge refreshes entries that appear in candidates (same vehicle) with the
// newer prediction and tops the window up to its size with unseen trains
// arriving after the current tail.
func (w *Window) Merge(candidates []Info) {
	byKey := make(map[string]Info, len(candidates))
	for _, c := range candidates {
		byKey[key(c)] = c
	}
	next := make([]Info, 0, w.size)
	seen := make(map[string]bool, len(w.entries))
	for _, e := range w.entries {
		k := key(e)
		seen[k] = true
		if c, ok := byKey[k]; ok {
			next = append(next, c)
			continue
		}
		next = append(next, e)
	}
	sortByArrival(next)
	w.entries = next
	if free := w.size - len(w.entries); free > 0 {
		w.entries = append(w.entries, w.pick(candidates, seen, free)...)
	}
}

// Reclassify recomputes every entry for the given instant and travel time.
func (w *Window) Reclassify(now time.Time, travelToStation time.Duration) {
	next := make([]Info, len(w.entries))
	for i, e := range w.entries {
		next[i] = e.At(now, travelToStation)
	}
	w.entries = next
}

// PruneMissed removes missed entries from the head and returns how many went.
func (w *Window) PruneMissed() int {
	n := 0
	for n < len(w.entries) && w.entries[n].Status == Missed {
		n++
	}
	if n > 0 {
		w.entries = append([]Info(nil), w.entries[n:]...)
	}
	return n
}

// Supplement appends at most n unseen catchable candidates arriving after the
// current tail, never exceeding the window size. It returns the number appended.
func (w *Window) Supplement(candidates []Info, n int) int {
	if free := w.size - len(w.entries); n > free {
		n = free
	}
	if n <= 0 {
		return 0
	}
	seen := make(map[string]bool, len(w.entries))
	for _, e := range w.entries {
		seen[key(e)] = true
	}
	added := w.pick(candidates, seen, n)
	w.entries = append(w.entries, added...)
	return len(added)
}

// pick returns up to n catchable candidates, earliest first, skipping seen keys
// and anything arriving before the current tail.
func (w *Window) pick(candidates []Info, seen map[string]bool, n int) []Info {
	sorted := make([]Info, 0, len(candidates))
	for _, c := range candidates {
		if Catchable(c.TimeLeftToCatch) {
			sorted = append(sorted, c)
		}
	}
	sortByArrival(sorted)
	var tail time.Time
	if len(w.entries) > 0 && seen != nil {
		tail = w.entries[len(w.entries)-1].ExpectedArrival
	}
	out := make([]Info, 0, n)
	taken := make(map[string]bool)
	for _, c := range sorted {
		if len(out) == n {
			break
		}
		k := key(c)
		if seen[k] || taken[k] {
			continue
		}
		if !tail.IsZero() && c.ExpectedArrival.Before(tail) {
			continue
		}
		taken[k] = true
		out = append(out, c)
	}
	return out
}

func sortByArrival(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].ExpectedArrival.Before(infos[j].ExpectedArrival)
	})
}

// key identifies the same physical train across refreshes. Untrackable
// vehicles ("000" or empty) fall back to line and arrival time.
func key(i Info) string {
	p := i.Prediction
	if p.VehicleID != "" && p.VehicleID != "000" {
		return p.LineID + "/" + p.VehicleID
	}
	return p.LineID + "@" + strconv.FormatInt(i.ExpectedArrival.Unix(), 10)
}
