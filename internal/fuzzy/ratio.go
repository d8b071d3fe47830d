package fuzzy

// Ratio returns 2*M/T where M is the number of runes in the matching blocks found by
// recursively taking the longest common substring and T is the total rune count. Two
// empty strings are identical. The arguments are put in a canonical order first because
// the block search is not symmetric on ties.
func Ratio(a, b string) float64 {
	if a > b {
		a, b = b, a
	}
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	return 2 * float64(matchingRunes(ra, rb)) / float64(total)
}

func matchingRunes(a, b []rune) int {
	type span struct{ alo, ahi, blo, bhi int }

	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, size := longestCommon(a, b, s.alo, s.ahi, s.blo, s.bhi)
		if size == 0 {
			continue
		}
		matched += size
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+size < s.ahi && j+size < s.bhi {
			queue = append(queue, span{i + size, s.ahi, j + size, s.bhi})
		}
	}
	return matched
}

// longestCommon finds the longest block a[i:i+size] == b[j:j+size] inside the given
// ranges, preferring the earliest i and then the earliest j.
func longestCommon(a, b []rune, alo, ahi, blo, bhi int) (int, int, int) {
	bestI, bestJ, bestSize := alo, blo, 0
	prev := make([]int, bhi-blo+1)
	curr := make([]int, bhi-blo+1)
	for i := alo; i < ahi; i++ {
		for j := blo; j < bhi; j++ {
			k := j - blo + 1
			if a[i] != b[j] {
				curr[k] = 0
				continue
			}
			curr[k] = prev[k-1] + 1
			if curr[k] > bestSize {
				bestI, bestJ, bestSize = i-curr[k]+1, j-curr[k]+1, curr[k]
			}
		}
		prev, curr = curr, prev
	}
	return bestI, bestJ, bestSize
}
