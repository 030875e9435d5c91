package ordering

import (
	"slices"
	"testing"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
)

func TestShuffle_Golden(t *testing.T) {
	letters := []string{"a", "b", "c", "d"}
	numbers := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		seed        string
		wantLetters []string
		wantNumbers []int
	}{
		{"user-42", []string{"c", "d", "a", "b"}, []int{3, 2, 7, 5, 6, 9, 1, 8, 10, 4}},
		{"user-43", []string{"d", "a", "b", "c"}, []int{3, 4, 2, 9, 6, 7, 10, 1, 8, 5}},
		{"", []string{"c", "b", "a", "d"}, []int{3, 8, 1, 2, 5, 7, 9, 6, 4, 10}},
		{"a", []string{"c", "d", "b", "a"}, []int{4, 1, 6, 3, 2, 9, 8, 10, 5, 7}},
		{"alice", []string{"c", "d", "a", "b"}, []int{3, 2, 9, 6, 5, 8, 7, 4, 1, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.seed, func(t *testing.T) {
			if got := Shuffle(letters, tt.seed); !slices.Equal(got, tt.wantLetters) {
				t.Errorf("Shuffle(letters, %q) = %v; want %v", tt.seed, got, tt.wantLetters)
			}
			if got := Shuffle(numbers, tt.seed); !slices.Equal(got, tt.wantNumbers) {
				t.Errorf("Shuffle(numbers, %q) = %v; want %v", tt.seed, got, tt.wantNumbers)
			}
		})
	}
}

func TestShuffle_DeterministicPermutation(t *testing.T) {
	items := make([]int, 37)
	for i := range items {
		items[i] = i
	}
	orig := slices.Clone(items)

	for _, seed := range []string{"", "x", "user-42", "ünïcödé", "a much longer seed value with spaces"} {
		first := Shuffle(items, seed)
		second := Shuffle(items, seed)
		if !slices.Equal(first, second) {
			t.Fatalf("Shuffle not deterministic for %q", seed)
		}

		sorted := slices.Clone(first)
		slices.Sort(sorted)
		if !slices.Equal(sorted, orig) {
			t.Fatalf("Shuffle(%q) is not a permutation: %v", seed, first)
		}
	}

	if !slices.Equal(items, orig) {
		t.Errorf("Shuffle mutated its input")
	}
}

func TestShuffle_EdgeSizes(t *testing.T) {
	if got := Shuffle([]int(nil), "seed"); len(got) != 0 {
		t.Errorf("Shuffle(nil) = %v; want empty", got)
	}
	if got := Shuffle([]int{7}, "seed"); !slices.Equal(got, []int{7}) {
		t.Errorf("Shuffle([7]) = %v", got)
	}
}

func TestRecommend(t *testing.T) {
	all := catalog.Default().Challenges()

	got := Recommend(all, 1, "user-42", 3)
	if len(got) != 3 {
		t.Fatalf("Recommend() returned %d; want 3", len(got))
	}
	for _, c := range got {
		if c.Difficulty > 1 {
			t.Errorf("Recommend(level 1) included %s with difficulty %d", c.ID, c.Difficulty)
		}
	}

	again := Recommend(all, 1, "user-42", 3)
	for i := range got {
		if got[i].ID != again[i].ID {
			t.Fatalf("Recommend not stable: %s vs %s", got[i].ID, again[i].ID)
		}
	}

	if got := Recommend(all, 5, "user-42", 100); len(got) != len(all) {
		t.Errorf("Recommend(level 5, n=100) = %d; want %d", len(got), len(all))
	}
	if got := Recommend(all, 0, "user-42", 3); len(got) != 0 {
		t.Errorf("Recommend(level 0) = %d; want 0", len(got))
	}
}
