package specparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdownExtractsObjectiveAndConstraints(t *testing.T) {
	content := `
# Optimize Memory Usage

Objective: Reduce memory allocation by 20%

Max latency increase: 5%
Max memory increase: 0%
Min relevance improvement: 2%
`
	spec, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, "Reduce memory allocation by 20%", spec.Objective)
	assert.GreaterOrEqual(t, len(spec.Constraints), 3)
}

func TestParseMarkdownTitleFallsBackWhenNoObjectiveLine(t *testing.T) {
	content := "## Reduce Latency\n\nMax latency increase: 3%"
	spec, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, "Reduce Latency", spec.Objective)
}

func TestParseJSONRoundTrip(t *testing.T) {
	json := `{
		"objective": "Test optimization",
		"constraints": ["No unsafe code"],
		"success_criteria": ["Passes tests"],
		"optimization_type": "Performance",
		"timeout_ms": 60000,
		"max_iterations": 50,
		"target_quality": 0.9
	}`
	spec, err := Parse(json)
	require.NoError(t, err)
	assert.Equal(t, "Test optimization", spec.Objective)
	assert.InDelta(t, 0.9, spec.TargetQuality, 1e-9)
}

func TestNormalizeFillsDefaults(t *testing.T) {
	spec := Normalize(Spec{})
	assert.NotEmpty(t, spec.Objective)
	assert.NotEmpty(t, spec.Constraints)
	assert.NotEmpty(t, spec.SuccessCriteria)
	assert.Equal(t, int64(defaultTimeoutMS), spec.TimeoutMS)
	assert.Equal(t, defaultMaxIterations, spec.MaxIterations)
	assert.Greater(t, spec.TargetQuality, 0.0)
}

func TestNormalizeClampsOutOfRangeTargetQuality(t *testing.T) {
	spec := Normalize(Spec{Objective: "x", TargetQuality: 1.5})
	assert.Equal(t, defaultTargetQuality, spec.TargetQuality)
}

func TestParseMultipleSplitsOnDashFence(t *testing.T) {
	content := "# First\nObjective: first goal\n---\n# Second\nObjective: second goal"
	specs, err := ParseMultiple(content)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "first goal", specs[0].Objective)
	assert.Equal(t, "second goal", specs[1].Objective)
}

func TestParseEmptyDocumentFails(t *testing.T) {
	_, err := Parse("   ")
	assert.Error(t, err)
}

func TestExtractNumberHandlesDecimals(t *testing.T) {
	n, ok := extractNumber("Max latency increase: 12.5%")
	require.True(t, ok)
	assert.InDelta(t, 12.5, n, 1e-9)
}
