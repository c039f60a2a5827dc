package vintage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRegion(t *testing.T) {
	assert.Equal(t, "margaux", NormalizeRegion("  Margaux "))
	assert.Equal(t, "cote de nuits", NormalizeRegion("Côte  de   Nuits"))
	assert.Equal(t, "saint-emilion", NormalizeRegion("Saint-Émilion"))
	assert.Equal(t, "", NormalizeRegion("   "))
}

func TestLookupBuiltinExact(t *testing.T) {
	c, ok := lookupBuiltin("margaux")
	require.True(t, ok)
	assert.InDelta(t, 45.04, c.Lat, 1e-9)
	assert.InDelta(t, -0.68, c.Lon, 1e-9)
}

func TestLookupBuiltinQualifiedName(t *testing.T) {
	// "margaux, bordeaux" is not a table key but contains one.
	c, ok := lookupBuiltin(NormalizeRegion("Margaux, Bordeaux"))
	require.True(t, ok)
	assert.NotZero(t, c.Lat)
}

func TestLookupBuiltinUnknown(t *testing.T) {
	_, ok := lookupBuiltin("vineyard of nowhere")
	assert.False(t, ok)
}

func TestLookupCountry(t *testing.T) {
	c, ok := lookupCountry("France")
	require.True(t, ok)
	assert.InDelta(t, 46.60, c.Lat, 1e-9)

	_, ok = lookupCountry("Atlantis")
	assert.False(t, ok)
}

func TestSouthernHemisphereRegionsHaveNegativeLatitude(t *testing.T) {
	for _, name := range []string{"mendoza", "barossa valley", "marlborough", "stellenbosch"} {
		c, ok := lookupBuiltin(name)
		require.True(t, ok, name)
		assert.Negative(t, c.Lat, name)
	}
}
