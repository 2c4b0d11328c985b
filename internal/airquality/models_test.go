package airquality

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeIgnoresAbsentValues(t *testing.T) {
	p := Summarize([]null.Float{null.FloatFrom(10), null.FloatFrom(20), {}})
	assert.Equal(t, 2, p.Count)
	assert.True(t, p.Mean.Valid)
	assert.InDelta(t, 15.0, p.Mean.Float64, 1e-9)

	empty := Summarize([]null.Float{{}, {}})
	assert.Equal(t, 0, empty.Count)
	assert.False(t, empty.Mean.Valid)
}

func TestSummarizeZeroIsAValue(t *testing.T) {
	p := Summarize([]null.Float{null.FloatFrom(0)})
	assert.Equal(t, 1, p.Count)
	assert.True(t, p.Mean.Valid)
	assert.Zero(t, p.Mean.Float64)
}

func TestMergeIsCountWeighted(t *testing.T) {
	a := PartialAggregate{Mean: null.FloatFrom(10), Count: 2}
	b := PartialAggregate{Mean: null.FloatFrom(20), Count: 3}

	got := a.Merge(b)
	assert.Equal(t, 5, got.Count)
	assert.InDelta(t, 16.0, got.Mean.Float64, 1e-9)

	assert.Equal(t, a, a.Merge(PartialAggregate{}))
	assert.Equal(t, b, PartialAggregate{}.Merge(b))
	assert.False(t, PartialAggregate{}.Merge(PartialAggregate{}).Mean.Valid)
}

func TestMergeMatchesFlatMean(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := 1 + rng.Intn(500)
		values := make([]null.Float, n)
		for i := range values {
			if rng.Intn(4) == 0 {
				continue
			}
			values[i] = null.FloatFrom(rng.Float64() * 200)
		}

		size := 1 + rng.Intn(120)
		var merged PartialAggregate
		for start := 0; start < n; start += size {
			end := min(start+size, n)
			merged = merged.Merge(Summarize(values[start:end]))
		}

		flat := Summarize(values)
		require.Equal(t, flat.Count, merged.Count)
		require.Equal(t, flat.Mean.Valid, merged.Mean.Valid)
		if flat.Mean.Valid {
			require.InDelta(t, flat.Mean.Float64, merged.Mean.Float64, 1e-9)
		}
	}
}

func TestLocationIDDecodesStringsAndNumbers(t *testing.T) {
	var req AggregateRequest
	err := json.Unmarshal([]byte(`{"city":"Delhi","country":"IN","locationIds":[8118, " 42 ", "abc"]}`), &req)
	require.NoError(t, err)
	assert.Equal(t, []LocationID{"8118", "42", "abc"}, req.LocationIDs)

	var bad LocationID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &bad))
}
