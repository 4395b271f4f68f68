package sources

import (
	"math"
	"strings"
)

// Score computes the relevance of a (title, body) pair for a query.
// All comparisons are case-insensitive. The result is in [0, 1]:
//
//   - exact title match        +1.0
//   - title contains query     +0.7
//   - body contains query      +0.3
//   - query-word overlap with the title, up to +0.5
func Score(query, title, body string) float64 {
	q := strings.ToLower(query)
	t := strings.ToLower(title)
	b := strings.ToLower(body)

	s := 0.0
	switch {
	case t == q:
		s += 1.0
	case strings.Contains(t, q):
		s += 0.7
	}
	if strings.Contains(b, q) {
		s += 0.3
	}

	if qw := strings.Fields(q); len(qw) > 0 {
		tw := make(map[string]struct{})
		for _, w := range strings.Fields(t) {
			tw[w] = struct{}{}
		}
		matched := 0
		for _, w := range qw {
			if _, ok := tw[w]; ok {
				matched++
			}
		}
		s += 0.5 * float64(matched) / float64(len(qw))
	}

	return math.Min(s, 1.0)
}
