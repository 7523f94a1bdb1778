package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dfbridge/dferr"
)

func TestDefaultTableGates(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	tests := []struct {
		backend, feature, version string
		want                      Strategy
	}{
		{"sqlite", FeatureWindowFunctions, "3.24.0", StrategyGroupedJoin},
		{"sqlite", FeatureWindowFunctions, "3.25.0", StrategyNative},
		{"sqlite", FeatureWindowFunctions, "3.50.4", StrategyNative},
		{"sqlite", FeatureWindowRank, "3.22.0", StrategyUnsupported},
		{"sqlite", FeatureWindowCumulative, "3.45.1", StrategyNative},
		{"sqlite", FeatureNullsOrder, "3.29.0", StrategyNullFlagKey},
		{"sqlite", FeatureNullsOrder, "3.30.0", StrategyNative},
		{"sqlite", FeatureFullJoin, "3.38.5", StrategyLeftUnionAnti},
		{"sqlite", FeatureFullJoin, "3.39.0", StrategyNative},
		{"sqlite", FeatureRowKey, "3.24.0", StrategyTempTableRowid},
		{"sqlite", FeatureRowKey, "3.25.0", StrategyNative},
		{"postgres", FeatureRowKey, "16.4", StrategyNative},
		{"sqlite", FeatureWindowQuantile, "3.50.4", StrategyUnsupported},
		{"sqlite", FeatureQuantile, "3.50.4", StrategyRegisteredAggregate},
		{"postgres", FeatureWindowQuantile, "16.4", StrategyUnsupported},
		{"postgres", FeatureMedian, "16.4 (Debian 16.4-1.pgdg120+1)", StrategyNative},
		{"postgres", FeatureMedian, "9.3.25", StrategyUnsupported},
		{"postgres", FeatureQuantile, "15", StrategyOrderedArrayIndex},
		{"gota", FeatureWindowQuantile, "0.11.1", StrategyUnsupported},
		{"gota", FeatureWindowQuantile, "0.12.0", StrategyPartitionSortInterpolate},
		{"gota", FeatureTemporal, "0.12.0", StrategyUnsupported},
		{"arrow", FeatureArithmetic, "18.0.0", StrategyNative},
		{"arrow", FeatureArithmetic, "11.0.0", StrategyElementWise},
		{"arrow", FeatureWindowQuantile, "18.0.0", StrategyPartitionSortInterpolate},
		{"arrow", "no.such.feature", "18.0.0", StrategyUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.feature+"@"+tt.version, func(t *testing.T) {
			got, err := table.Resolve(tt.backend, tt.feature, tt.version)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultIsLoadedOnce(t *testing.T) {
	a, err := Default()
	require.NoError(t, err)
	b, err := Default()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestResolveUnknownBackend(t *testing.T) {
	table, err := Default()
	require.NoError(t, err)

	_, err = table.Resolve("duckdb", FeatureSort, "1.0.0")
	assert.True(t, dferr.IsUnrecognized(err))
}

const customTable = `
#Strategy: "native" | "unsupported" | "grouped-join"
rules: [string]: [string]: {
	exact?: [string]: #Strategy
	ranges?: [...{min?: string, max?: string, strategy: #Strategy}]
	default?: #Strategy
}
rules: eng: {
	"feature.x": {
		exact: {"2.1.3": "unsupported"}
		ranges: [
			{min: "1.0", max: "2.0", strategy: "grouped-join"},
			{min: "2.0", strategy: "native"},
		]
		default: "unsupported"
	}
	"feature.y": {}
}
`

func TestResolutionOrder(t *testing.T) {
	table, err := Parse("custom.cue", []byte(customTable))
	require.NoError(t, err)

	tests := []struct {
		version string
		want    Strategy
	}{
		{"0.9.0", StrategyUnsupported},
		{"1.0.0", StrategyGroupedJoin},
		{"1.9.9", StrategyGroupedJoin},
		{"2.0", StrategyNative},
		{"2.1.3", StrategyUnsupported},
		{"v2.1.4", StrategyNative},
		{"not-a-version", StrategyUnsupported},
	}
	for _, tt := range tests {
		got, err := table.Resolve("eng", "feature.x", tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.version)
	}

	got, err := table.Resolve("eng", "feature.y", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, StrategyUnsupported, got, "a rule without ranges or default is unsupported")

	assert.Equal(t, []string{"feature.x", "feature.y"}, table.Features("eng"))
}

func TestParseRejectsUnknownStrategy(t *testing.T) {
	src := `
#Strategy: "native" | "unsupported"
rules: eng: "f": default: "teleport" & #Strategy
`
	_, err := Parse("bad.cue", []byte(src))
	require.Error(t, err)
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestParseRejectsEmptyRange(t *testing.T) {
	src := `rules: eng: "f": ranges: [{min: "2.0", max: "1.0", strategy: "native"}]`
	_, err := Parse("bad.cue", []byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty range")
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "v3.45.1", Canonical("3.45.1"))
	assert.Equal(t, "v16.4.0", Canonical("16.4 (Debian 16.4-1.pgdg120+1)"))
	assert.Equal(t, "v18.0.0", Canonical("v18.0.0"))
	assert.Equal(t, "v17.0.0", Canonical("17beta1"))
	assert.Equal(t, "", Canonical("devel"))
}
