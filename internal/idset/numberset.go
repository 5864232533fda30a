// Package idset provides NumberSet, a range-compressed set of positive
// integer IDs. It backs the ID free-lists persisted in the System table and
// the dirty sets used during link resolution.
package idset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is an inclusive run of IDs.
type Range struct {
	Low  int
	High int
}

// NumberSet is a set of positive integers stored as sorted, non-adjacent
// ranges. The zero value is an empty set ready to use. It is not safe for
// concurrent use.
type NumberSet struct {
	ranges []Range
}

// New returns a set containing the given numbers.
func New(numbers ...int) *NumberSet {
	s := &NumberSet{}
	for _, n := range numbers {
		s.Add(n)
	}
	return s
}

// Parse reads the textual form produced by String, such as "{1-5,7,9-10}".
// An empty string or "{}" yields an empty set.
func Parse(text string) (*NumberSet, error) {
	s := &NumberSet{}
	text = strings.TrimSpace(text)
	if text == "" {
		return s, nil
	}
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil, fmt.Errorf("idset: malformed set %q", text)
	}
	body := strings.TrimSpace(text[1 : len(text)-1])
	if body == "" {
		return s, nil
	}
	for _, part := range strings.Split(body, ",") {
		part = strings.TrimSpace(part)
		lowText, highText, isRange := strings.Cut(part, "-")
		low, err := strconv.Atoi(lowText)
		if err != nil {
			return nil, fmt.Errorf("idset: malformed number %q in %q: %w", lowText, text, err)
		}
		high := low
		if isRange {
			high, err = strconv.Atoi(highText)
			if err != nil {
				return nil, fmt.Errorf("idset: malformed number %q in %q: %w", highText, text, err)
			}
		}
		if low < 1 || high < low {
			return nil, fmt.Errorf("idset: invalid range %q in %q", part, text)
		}
		s.AddRange(low, high)
	}
	return s, nil
}

// String returns the set in "{1-5,7}" form.
func (s *NumberSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(r.Low))
		if r.High != r.Low {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(r.High))
		}
	}
	b.WriteByte('}')
	return b.String()
}

// Ranges returns a copy of the set's ranges in ascending order.
func (s *NumberSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// IsEmpty reports whether the set has no members.
func (s *NumberSet) IsEmpty() bool {
	return len(s.ranges) == 0
}

// Count returns the number of members.
func (s *NumberSet) Count() int {
	n := 0
	for _, r := range s.ranges {
		n += r.High - r.Low + 1
	}
	return n
}

// Lowest returns the smallest member, or 0 if the set is empty.
func (s *NumberSet) Lowest() int {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[0].Low
}

// Highest returns the largest member, or 0 if the set is empty.
func (s *NumberSet) Highest() int {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[len(s.ranges)-1].High
}

// LowestAvailable returns the smallest positive integer not in the set.
func (s *NumberSet) LowestAvailable() int {
	if len(s.ranges) == 0 || s.ranges[0].Low > 1 {
		return 1
	}
	return s.ranges[0].High + 1
}

// Contains reports whether n is a member.
func (s *NumberSet) Contains(n int) bool {
	i := s.search(n)
	return i < len(s.ranges) && s.ranges[i].Low <= n
}

// search returns the index of the first range whose High is >= n.
func (s *NumberSet) search(n int) int {
	return sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High >= n })
}

// Add inserts n. Non-positive numbers are ignored. Returns whether the set
// changed.
func (s *NumberSet) Add(n int) bool {
	if n < 1 || s.Contains(n) {
		return false
	}
	s.AddRange(n, n)
	return true
}

// AddRange inserts every number from low to high inclusive.
func (s *NumberSet) AddRange(low, high int) {
	if low < 1 {
		low = 1
	}
	if high < low {
		return
	}

	// First range that could touch or overlap [low, high].
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].High >= low-1 })
	j := i
	for j < len(s.ranges) && s.ranges[j].Low <= high+1 {
		if s.ranges[j].Low < low {
			low = s.ranges[j].Low
		}
		if s.ranges[j].High > high {
			high = s.ranges[j].High
		}
		j++
	}

	merged := Range{Low: low, High: high}
	s.ranges = append(s.ranges[:i], append([]Range{merged}, s.ranges[j:]...)...)
}

// AddSet inserts every member of other.
func (s *NumberSet) AddSet(other *NumberSet) {
	if other == nil {
		return
	}
	for _, r := range other.ranges {
		s.AddRange(r.Low, r.High)
	}
}

// Remove deletes n. Returns whether the set changed.
func (s *NumberSet) Remove(n int) bool {
	i := s.search(n)
	if i >= len(s.ranges) || s.ranges[i].Low > n {
		return false
	}
	r := s.ranges[i]
	switch {
	case r.Low == n && r.High == n:
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	case r.Low == n:
		s.ranges[i].Low++
	case r.High == n:
		s.ranges[i].High--
	default:
		left := Range{Low: r.Low, High: n - 1}
		right := Range{Low: n + 1, High: r.High}
		s.ranges = append(s.ranges[:i], append([]Range{left, right}, s.ranges[i+1:]...)...)
	}
	return true
}

// RemoveSet deletes every member of other.
func (s *NumberSet) RemoveSet(other *NumberSet) {
	if other == nil {
		return
	}
	for _, r := range other.ranges {
		for n := r.Low; n <= r.High; n++ {
			s.Remove(n)
		}
	}
}

// Pop removes and returns the highest member, or 0 if the set is empty.
func (s *NumberSet) Pop() int {
	n := s.Highest()
	if n != 0 {
		s.Remove(n)
	}
	return n
}

// Clear removes every member.
func (s *NumberSet) Clear() {
	s.ranges = s.ranges[:0]
}

// Clone returns an independent copy.
func (s *NumberSet) Clone() *NumberSet {
	return &NumberSet{ranges: s.Ranges()}
}

// Equal reports whether both sets have the same members.
func (s *NumberSet) Equal(other *NumberSet) bool {
	if len(s.ranges) != len(other.ranges) {
		return false
	}
	for i := range s.ranges {
		if s.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}

// Each calls fn for every member in ascending order until fn returns false.
func (s *NumberSet) Each(fn func(n int) bool) {
	for _, r := range s.ranges {
		for n := r.Low; n <= r.High; n++ {
			if !fn(n) {
				return
			}
		}
	}
}

// Slice returns every member in ascending order.
func (s *NumberSet) Slice() []int {
	out := make([]int, 0, s.Count())
	s.Each(func(n int) bool {
		out = append(out, n)
		return true
	})
	return out
}
