package align

import "slices"

// window is a rectangular search region [alo,ahi) x [blo,bhi).
type window struct {
	alo, ahi int
	blo, bhi int
}

// MatchingBlocks returns the non-overlapping matching blocks between a and b
// in increasing order, followed by the sentinel Match{len(a), len(b), 0}.
//
// The search is divide and conquer over windows: the longest match of a
// window splits it into a left and a right window which are searched in
// turn. Windows are kept on an explicit work-list, so pathological inputs
// cannot exhaust the goroutine stack.
func MatchingBlocks[T comparable](a, b []T) []Match {
	var (
		blocks []Match
		queue  = []window{{alo: 0, ahi: len(a), blo: 0, bhi: len(b)}}
	)
	for len(queue) > 0 {
		w := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		m := longestMatch(a, b, w)
		if m.Size == 0 {
			continue
		}
		blocks = append(blocks, m)
		if w.alo < m.A && w.blo < m.B {
			queue = append(queue, window{alo: w.alo, ahi: m.A, blo: w.blo, bhi: m.B})
		}
		if m.A+m.Size < w.ahi && m.B+m.Size < w.bhi {
			queue = append(queue, window{alo: m.A + m.Size, ahi: w.ahi, blo: m.B + m.Size, bhi: w.bhi})
		}
	}

	// Blocks never overlap and grow together in a and b, so ordering by A
	// is enough.
	slices.SortFunc(blocks, func(x, y Match) int { return x.A - y.A })

	merged := make([]Match, 0, len(blocks)+1)
	for _, m := range blocks {
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.A+last.Size == m.A && last.B+last.Size == m.B {
				last.Size += m.Size
				continue
			}
		}
		merged = append(merged, m)
	}
	return append(merged, Match{A: len(a), B: len(b), Size: 0})
}

// longestMatch finds the longest run a[i:i+k] == b[j:j+k] inside w. Among
// runs of equal length the one with the lowest i wins, then the lowest j.
// A zero-size Match at (w.alo, w.blo) is returned when nothing matches.
//
// runs[j-blo+1] holds the length of the run ending at a[i-1] and b[j]; only
// the positions touched in the previous row are reset, so each row costs
// time proportional to the occurrences of a[i] in b.
func longestMatch[T comparable](a, b []T, w window) Match {
	index := make(map[T][]int)
	for j := w.blo; j < w.bhi; j++ {
		index[b[j]] = append(index[b[j]], j)
	}

	best := Match{A: w.alo, B: w.blo}
	n := w.bhi - w.blo
	prev := make([]int, n+1)
	cur := make([]int, n+1)
	var prevSet, curSet []int

	for i := w.alo; i < w.ahi; i++ {
		for _, j := range index[a[i]] {
			slot := j - w.blo + 1
			k := prev[slot-1] + 1
			cur[slot] = k
			curSet = append(curSet, slot)
			if k > best.Size {
				best = Match{A: i - k + 1, B: j - k + 1, Size: k}
			}
		}
		for _, slot := range prevSet {
			prev[slot] = 0
		}
		prev, cur = cur, prev
		prevSet, curSet = curSet, prevSet[:0]
	}
	return best
}
