package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/temeasure/internal/fault"
)

func TestGenerate_LinearInclusive(t *testing.T) {
	got, err := Generate(-40, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, []float64{-40, -35, -30, -25, -20, -15, -10, -5, 0}, got)

	got, err = Generate(0, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, got)
}

func TestGenerate_Properties(t *testing.T) {
	cases := []struct {
		start, stop float64
		steps       int
	}{
		{0, 1, 2},
		{0, 1, 3},
		{1e-6, 100e-6, 11},
		{5, -5, 7},
		{-7, -2, 11},
		{0.1, 0.7, 13},
		{3, 3.000001, 4},
	}

	for _, tc := range cases {
		vals, err := Generate(tc.start, tc.stop, tc.steps)
		require.NoError(t, err)
		require.Len(t, vals, tc.steps)
		assert.Equal(t, tc.start, vals[0])
		assert.Equal(t, tc.stop, vals[len(vals)-1])

		for i := 1; i < len(vals); i++ {
			if tc.stop > tc.start {
				assert.Greater(t, vals[i], vals[i-1], "ascending at %d for %+v", i, tc)
			} else {
				assert.Less(t, vals[i], vals[i-1], "descending at %d for %+v", i, tc)
			}
		}

		back, err := Generate(tc.stop, tc.start, tc.steps)
		require.NoError(t, err)
		assert.Equal(t, back, Reverse(vals), "reverse(generate(a,b,n)) == generate(b,a,n) for %+v", tc)
	}
}

func TestGenerate_SingleStep(t *testing.T) {
	vals, err := Generate(2.5, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5}, vals)
}

func TestGenerate_InvalidSteps(t *testing.T) {
	for _, steps := range []int{0, -1} {
		_, err := Generate(0, 1, steps)
		require.Error(t, err)
		assert.True(t, fault.IsInvalidParameter(err))
	}
}

func TestReverse_DoesNotMutate(t *testing.T) {
	in := []float64{1, 2, 3}
	out := Reverse(in)
	assert.Equal(t, []float64{3, 2, 1}, out)
	assert.Equal(t, []float64{1, 2, 3}, in)
	assert.Empty(t, Reverse(nil))
}

func TestAxis_ValidateAndProduct(t *testing.T) {
	assert.NoError(t, Axis{Start: 0, Stop: 1, Steps: 1}.Validate("gate"))

	err := Axis{Steps: 0}.Validate("gate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate steps must be >= 1")

	assert.Equal(t, 54, Product(Axis{Steps: 9}, Axis{Steps: 6}))
	assert.Equal(t, 1, Product())
}
