package experiments

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/domain"
)

func twoArm(traffic float64) Experiment {
	return Experiment{
		Name:    "pairing_prompt_v2",
		Traffic: traffic,
		Active:  true,
		Variants: []Variant{
			{Name: "control", Weight: 1},
			{Name: "treatment", Weight: 1},
		},
	}
}

func TestAllocateIsDeterministic(t *testing.T) {
	exp := twoArm(1.0)
	first, err := allocate(exp, "guest-42")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		again, err := allocate(exp, "guest-42")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestAllocateFullTrafficEnrollsEveryone(t *testing.T) {
	exp := twoArm(1.0)
	for i := 0; i < 200; i++ {
		a, err := allocate(exp, fmt.Sprintf("subject-%d", i))
		require.NoError(t, err)
		assert.True(t, a.Enrolled)
		assert.Contains(t, []string{"control", "treatment"}, a.Variant)
	}
}

func TestAllocateZeroTrafficEnrollsNobody(t *testing.T) {
	exp := twoArm(0)
	for i := 0; i < 50; i++ {
		a, err := allocate(exp, fmt.Sprintf("subject-%d", i))
		require.NoError(t, err)
		assert.False(t, a.Enrolled)
		assert.Empty(t, a.Variant)
	}
}

func TestAllocateInactiveExperiment(t *testing.T) {
	exp := twoArm(1.0)
	exp.Active = false

	a, err := allocate(exp, "guest-42")
	require.NoError(t, err)
	assert.False(t, a.Enrolled)
}

func TestAllocateRespectsWeights(t *testing.T) {
	exp := Experiment{
		Name:    "heavy_control",
		Traffic: 1.0,
		Active:  true,
		Variants: []Variant{
			{Name: "control", Weight: 9},
			{Name: "treatment", Weight: 1},
		},
	}

	counts := map[string]int{}
	const n = 5000
	for i := 0; i < n; i++ {
		a, err := allocate(exp, fmt.Sprintf("subject-%d", i))
		require.NoError(t, err)
		counts[a.Variant]++
	}

	// A 9:1 split should land within a few points of 90%.
	share := float64(counts["control"]) / n
	assert.Less(t, math.Abs(share-0.9), 0.03)
}

func TestAllocatePartialTrafficShare(t *testing.T) {
	exp := twoArm(0.5)

	enrolled := 0
	const n = 5000
	for i := 0; i < n; i++ {
		a, err := allocate(exp, fmt.Sprintf("subject-%d", i))
		require.NoError(t, err)
		if a.Enrolled {
			enrolled++
		}
	}
	share := float64(enrolled) / n
	assert.Less(t, math.Abs(share-0.5), 0.03)
}

func TestAllocateValidation(t *testing.T) {
	_, err := allocate(Experiment{}, "guest")
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	_, err = allocate(twoArm(1), "")
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	noArms := twoArm(1)
	noArms.Variants = nil
	_, err = allocate(noArms, "guest")
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))

	zeroWeight := twoArm(1)
	zeroWeight.Variants = []Variant{{Name: "a", Weight: 0}}
	_, err = allocate(zeroWeight, "guest")
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestBucketSeparatorMatters(t *testing.T) {
	// ("ab","c") and ("a","bc") must not collide by construction.
	assert.NotEqual(t, bucketFor("ab", "c"), bucketFor("a", "bc"))
}
