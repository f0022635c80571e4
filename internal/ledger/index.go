package ledger

import "sort"

// Index maps each member to the days they recorded at least once. It is
// built once per computation and never mutated afterwards.
type Index struct {
	days map[string]map[Date]EventRecord
	size int
}

// BuildIndex groups records by member and day. Repeated records of the same
// member on the same day collapse; the first one seen is kept, which is the
// newest when records come from a reverse-chronological history read.
func BuildIndex(records []EventRecord) *Index {
	idx := &Index{days: make(map[string]map[Date]EventRecord)}
	for _, rec := range records {
		byDay, ok := idx.days[rec.MemberID]
		if !ok {
			byDay = make(map[Date]EventRecord)
			idx.days[rec.MemberID] = byDay
		}
		day := rec.Day()
		if _, seen := byDay[day]; seen {
			continue
		}
		byDay[day] = rec
		idx.size++
	}
	return idx
}

func (idx *Index) ParticipatedOn(memberID string, day Date) bool {
	_, ok := idx.days[memberID][day]
	return ok
}

// DaysFor returns the member's attended days in ascending order.
func (idx *Index) DaysFor(memberID string) []Date {
	byDay := idx.days[memberID]
	out := make([]Date, 0, len(byDay))
	for day := range byDay {
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// CountFor is len(DaysFor(memberID)) without the allocation.
func (idx *Index) CountFor(memberID string) int {
	return len(idx.days[memberID])
}

// Record returns the kept record of memberID on day.
func (idx *Index) Record(memberID string, day Date) (EventRecord, bool) {
	rec, ok := idx.days[memberID][day]
	return rec, ok
}

// Members lists every member id that has at least one record, sorted.
func (idx *Index) Members() []string {
	out := make([]string, 0, len(idx.days))
	for id := range idx.days {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len is the number of distinct (member, day) pairs.
func (idx *Index) Len() int {
	return idx.size
}
