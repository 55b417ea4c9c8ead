package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompositeEqualWeights(t *testing.T) {
	res := Composite(
		map[string]float64{"a": 50, "b": 100},
		map[string]float64{"a": 2, "b": 2},
		false,
	)
	assert.InDelta(t, 75, res.Score, 1e-9, "equal weights give the simple average")
	assert.InDelta(t, 0.5, res.Components["a"].Weight, 1e-9)
	assert.InDelta(t, 25, res.Components["a"].Contribution, 1e-9)
	assert.InDelta(t, 50, res.Components["b"].Contribution, 1e-9)
}

func TestCompositeDropsNonPositiveWeights(t *testing.T) {
	res := Composite(
		map[string]float64{"a": 50, "b": 100, "c": 10},
		map[string]float64{"a": 1, "b": 1, "c": -5},
		false,
	)
	assert.InDelta(t, 75, res.Score, 1e-9)
	assert.Zero(t, res.Components["c"].Weight)
	assert.Zero(t, res.Components["c"].Contribution)
}

func TestCompositeUnevenWeights(t *testing.T) {
	res := Composite(
		map[string]float64{"a": 50, "b": 100},
		map[string]float64{"a": 50, "b": 100},
		false,
	)
	// weights normalize to 1/3 and 2/3
	assert.InDelta(t, 50.0/3+200.0/3, res.Score, 1e-9)
}

func TestCompositeNoPositiveWeightsFallsBackToEqualSplit(t *testing.T) {
	res := Composite(
		map[string]float64{"a": 40, "b": 60},
		nil,
		false,
	)
	assert.InDelta(t, 50, res.Score, 1e-9)
}

func TestCompositeMinMaxNormalization(t *testing.T) {
	res := Composite(
		map[string]float64{"a": 0, "b": 5, "c": 10},
		map[string]float64{"a": 1, "b": 1, "c": 1},
		true,
	)
	assert.InDelta(t, 0, res.Components["a"].Value, 1e-9)
	assert.InDelta(t, 50, res.Components["b"].Value, 1e-9)
	assert.InDelta(t, 100, res.Components["c"].Value, 1e-9)
	assert.InDelta(t, 50, res.Score, 1e-9)
}

func TestCompositeEmpty(t *testing.T) {
	res := Composite(nil, nil, false)
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Components)
}
