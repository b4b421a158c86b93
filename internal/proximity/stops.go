package proximity

import "sort"

// SortBySequence returns a copy of stops ordered by Sequence. The sort is
// stable, so stops sharing a sequence number keep their input order.
func SortBySequence(stops []Stop) []Stop {
	out := append([]Stop(nil), stops...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// DuplicateSequences returns every sequence number used by more than one
// stop, in ascending order.
func DuplicateSequences(stops []Stop) []int {
	seen := make(map[int]int, len(stops))
	for _, s := range stops {
		seen[s.Sequence]++
	}
	var dups []int
	for seq, n := range seen {
		if n > 1 {
			dups = append(dups, seq)
		}
	}
	sort.Ints(dups)
	return dups
}

// stopBySequence returns the first stop carrying seq.
func stopBySequence(stops []Stop, seq int) (Stop, bool) {
	for _, s := range stops {
		if s.Sequence == seq {
			return s, true
		}
	}
	return Stop{}, false
}

// firstInSequence returns the stop with the lowest sequence number; the first
// one encountered wins ties.
func firstInSequence(stops []Stop) (Stop, bool) {
	if len(stops) == 0 {
		return Stop{}, false
	}
	first := stops[0]
	for _, s := range stops[1:] {
		if s.Sequence < first.Sequence {
			first = s
		}
	}
	return first, true
}
