// Package ordering produces stable per-learner orderings of content.
//
// The permutation Shuffle returns for a given input and seed is part of the
// user-visible contract: learners see the same "recommended" order every
// session. Changing the arithmetic below reorders every existing user's list.
package ordering

import "github.com/felixgeelhaar/vibecheck/internal/domain"

const (
	lcgMultiplier = 9301
	lcgIncrement  = 49297
	lcgModulus    = 233280
)

// Shuffle returns a seeded permutation of items. items is not modified.
//
// Small inputs show a visible order bias; that is a known property of the
// generator and not something to correct here.
func Shuffle[T any](items []T, seed string) []T {
	out := make([]T, len(items))
	copy(out, items)

	n := seedValue(seed)
	for i := len(out) - 1; i > 0; i-- {
		j := (n + int64(i)) % int64(i+1)
		out[i], out[j] = out[j], out[i]
		n = (n*lcgMultiplier + lcgIncrement) % lcgModulus
	}
	return out
}

// seedValue sums the code points of seed.
func seedValue(seed string) int64 {
	var n int64
	for _, r := range seed {
		n += int64(r)
	}
	return n
}

// Recommend picks up to n challenges at or below level, in the learner's
// stable shuffled order.
func Recommend(challenges []domain.Challenge, level int, seed string, n int) []domain.Challenge {
	available := make([]domain.Challenge, 0, len(challenges))
	for _, c := range challenges {
		if c.Difficulty <= level {
			available = append(available, c)
		}
	}
	shuffled := Shuffle(available, seed)
	if n >= 0 && n < len(shuffled) {
		shuffled = shuffled[:n]
	}
	return shuffled
}
