// Suffix array for substring search over cached sanitization output.
package index

import (
	"sort"
)

// SuffixArray supports O(m log n) substring search where m is the
// pattern length and n is the text length.
type SuffixArray struct {
	Text string // Original text
	SA   []int  // SA[i] = start position of i-th smallest suffix

	rank []int // rank[i] = position of suffix i in SA, used during build
}

// BuildSuffixArray constructs a suffix array for the given text using
// prefix doubling.
// Time Complexity: O(n log^2 n)
// Space Complexity: O(n)
func BuildSuffixArray(text string) *SuffixArray {
	n := len(text)
	if n == 0 {
		return &SuffixArray{Text: text, SA: []int{}}
	}

	sa := &SuffixArray{
		Text: text,
		SA:   make([]int, n),
		rank: make([]int, n),
	}

	for i := 0; i < n; i++ {
		sa.SA[i] = i
		sa.rank[i] = int(text[i])
	}

	// Prefix doubling: after each round, suffixes are ordered by their
	// first 2k characters.
	tmpRank := make([]int, n)
	for k := 1; k < n; k *= 2 {
		rankAt := func(pos int) int {
			if pos < n {
				return sa.rank[pos]
			}
			return -1
		}

		sort.Slice(sa.SA, func(i, j int) bool {
			if sa.rank[sa.SA[i]] != sa.rank[sa.SA[j]] {
				return sa.rank[sa.SA[i]] < sa.rank[sa.SA[j]]
			}
			return rankAt(sa.SA[i]+k) < rankAt(sa.SA[j]+k)
		})

		tmpRank[sa.SA[0]] = 0
		for i := 1; i < n; i++ {
			prev, curr := sa.SA[i-1], sa.SA[i]
			tmpRank[curr] = tmpRank[prev]
			if sa.rank[prev] != sa.rank[curr] || rankAt(prev+k) != rankAt(curr+k) {
				tmpRank[curr]++
			}
		}
		copy(sa.rank, tmpRank)

		// All suffixes distinct, no further rounds needed.
		if sa.rank[sa.SA[n-1]] == n-1 {
			break
		}
	}

	return sa
}

// Search finds all occurrences of pattern in the text, in ascending
// position order.
// Time Complexity: O(m log n)
func (sa *SuffixArray) Search(pattern string) []int {
	if len(pattern) == 0 || len(sa.SA) == 0 {
		return nil
	}

	n := len(sa.SA)
	m := len(pattern)

	// Leftmost suffix with prefix >= pattern.
	left := sort.Search(n, func(i int) bool {
		suffix := sa.Text[sa.SA[i]:]
		if len(suffix) < m {
			return suffix >= pattern[:len(suffix)]
		}
		return suffix[:m] >= pattern
	})

	// Leftmost suffix with prefix > pattern.
	right := sort.Search(n, func(i int) bool {
		suffix := sa.Text[sa.SA[i]:]
		if len(suffix) < m {
			return suffix > pattern[:len(suffix)]
		}
		return suffix[:m] > pattern
	})

	var matches []int
	for i := left; i < right; i++ {
		pos := sa.SA[i]
		if pos+m <= len(sa.Text) && sa.Text[pos:pos+m] == pattern {
			matches = append(matches, pos)
		}
	}

	sort.Ints(matches)
	return matches
}

// Count returns the number of occurrences of pattern.
func (sa *SuffixArray) Count(pattern string) int {
	return len(sa.Search(pattern))
}
