package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateComparisonArithmeticAndModulo(t *testing.T) {
	ok, err := EvaluateComparison("$X % 2 == 0", ComparisonEnv{Bindings: map[string]string{"X": "2"}})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvaluateComparison("$X % 2 == 0", ComparisonEnv{Bindings: map[string]string{"X": "3"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateComparisonDivisionByZeroIsFalseNotError(t *testing.T) {
	ok, err := EvaluateComparison("$X / $Y > 0", ComparisonEnv{Bindings: map[string]string{"X": "1", "Y": "0"}})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateComparisonStringAndBoolOps(t *testing.T) {
	ok, err := EvaluateComparison(`$X == "admin" || $Y`, ComparisonEnv{
		Bindings: map[string]string{"X": "admin", "Y": "false"},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateComparisonStripQuotes(t *testing.T) {
	ok, err := EvaluateComparison(`$X == "admin"`, ComparisonEnv{
		Bindings: map[string]string{"X": `"admin"`},
		Strip:    true,
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateComparisonUnboundMetavarIsError(t *testing.T) {
	_, err := EvaluateComparison("$Z > 0", ComparisonEnv{Bindings: map[string]string{}})
	require.Error(t, err)
}

func TestEvaluateComparisonPrecedenceAndParens(t *testing.T) {
	ok, err := EvaluateComparison("(1 + 2) * 3 == 9", ComparisonEnv{})
	require.NoError(t, err)
	assert.True(t, ok)
}
