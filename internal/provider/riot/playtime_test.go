package riot

import "testing"

func TestEstimatePlaytimeMinutes_Deterministic(t *testing.T) {
	for _, level := range []int{1, 2, 30, 100, 500} {
		a := EstimatePlaytimeMinutes(level)
		b := EstimatePlaytimeMinutes(level)
		if a != b {
			t.Fatalf("level %d: estimate not deterministic (%d vs %d)", level, a, b)
		}
	}
}

func TestEstimatePlaytimeMinutes_MonotonicInLevel(t *testing.T) {
	prev := EstimatePlaytimeMinutes(1)
	for level := 2; level <= 600; level++ {
		cur := EstimatePlaytimeMinutes(level)
		if cur < prev {
			t.Fatalf("estimate decreased from level %d (%d) to %d (%d)", level-1, prev, level, cur)
		}
		prev = cur
	}
}

func TestEstimatePlaytimeMinutes_Boundaries(t *testing.T) {
	if got := EstimatePlaytimeMinutes(0); got != 0 {
		t.Errorf("level 0 = %d", got)
	}
	if got := EstimatePlaytimeMinutes(1); got != 0 {
		t.Errorf("level 1 = %d", got)
	}
	// Level 2 is one level-up: 280 XP, one full game's worth, 29 minutes.
	if got := EstimatePlaytimeMinutes(2); got != 29 {
		t.Errorf("level 2 = %d", got)
	}
}
