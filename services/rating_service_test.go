package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScore(t *testing.T) {
	// Equal ratings: even odds.
	assert.InDelta(t, 0.5, ExpectedScore(1500, 1500), 1e-9)

	// Expectations of both sides always sum to 1.
	pairs := [][2]int{{1500, 1500}, {1600, 1400}, {2000, 1000}, {1432, 1587}}
	for _, p := range pairs {
		sum := ExpectedScore(p[0], p[1]) + ExpectedScore(p[1], p[0])
		assert.InDelta(t, 1.0, sum, 1e-9, "ratings %v", p)
	}

	// A 400-point gap is the canonical 10:1 expectation.
	assert.InDelta(t, 10.0/11.0, ExpectedScore(1900, 1500), 1e-9)
}

func TestEloDelta(t *testing.T) {
	// Two 1500 bots, decisive outcome: K * (1 - 0.5) = 16.
	assert.Equal(t, 16, EloDelta(1500, 1500, 1.0))

	// Tie between equals moves nothing.
	assert.Equal(t, 0, EloDelta(1500, 1500, 0.5))

	// The favourite gains less from winning.
	favourite := EloDelta(1700, 1500, 1.0)
	underdog := EloDelta(1500, 1700, 1.0)
	assert.Less(t, favourite, underdog)
	assert.Greater(t, favourite, 0)

	// Tie against a stronger opponent still gains points.
	assert.Greater(t, EloDelta(1400, 1600, 0.5), 0)
	assert.Less(t, EloDelta(1600, 1400, 0.5), 0)
}

func TestEloDeltaDirectionSymmetry(t *testing.T) {
	// delta(a,b) with a winning equals -delta(b,a) with b losing: the pair
	// is zero-sum however the engine is asked.
	pairs := [][2]int{{1500, 1500}, {1650, 1430}, {1200, 1890}}
	for _, p := range pairs {
		win := EloDelta(p[0], p[1], 1.0)
		loss := EloDelta(p[1], p[0], 0.0)
		assert.Equal(t, win, -loss, "ratings %v", p)
	}
}

func TestEloDeltaRounding(t *testing.T) {
	// 100-point gap: expected ≈ 0.6401, delta = 32*0.3599 ≈ 11.52 → 12.
	assert.Equal(t, 12, EloDelta(1600, 1500, 1.0))
	// 200-point gap: expected ≈ 0.7597, delta = 32*0.2403 ≈ 7.69 → 8.
	assert.Equal(t, 8, EloDelta(1600, 1400, 1.0))
}
