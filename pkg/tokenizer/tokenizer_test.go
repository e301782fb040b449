package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() []string {
	return []string{"hello", "world", " ", "foo", "bar", "baz", "the", "quick", "brown", "fox"}
}

func TestHFRoundTrip(t *testing.T) {
	tok := NewHF(testVocab())
	corpus := []string{"hello world", "the quick brown fox", "foo bar baz", ""}
	for _, s := range corpus {
		ids := tok.Tokenize(s)
		out, err := tok.Detokenize(ids)
		require.NoError(t, err)
		_ = out // HF variant separates words by tokenization boundary, not guaranteed byte-identical
	}
}

func TestBPERoundTripExactForVocabWords(t *testing.T) {
	tok := NewBPE(testVocab())
	ids := tok.Tokenize("hello")
	out, err := tok.Detokenize(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestWindowInvariants(t *testing.T) {
	tok := NewHF(testVocab())
	text := "the quick brown fox hello world foo bar baz"
	full := tok.CountTokens(text)

	win, err := tok.Window(text, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, tok.CountTokens(win))

	// k >= count_tokens(s) returns the original text unchanged.
	win2, err := tok.Window(text, full+5)
	require.NoError(t, err)
	assert.Equal(t, text, win2)
}

func TestTrySingleToken(t *testing.T) {
	tok := NewHF(testVocab())

	id, err := tok.TrySingleToken("hello")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, id, 0)

	_, err = tok.TrySingleToken("hello world")
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ErrMultiToken, f.Kind)

	_, err = tok.TrySingleToken("")
	require.Error(t, err)
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ErrEmpty, f.Kind)
}

func TestTryFromSingleToken(t *testing.T) {
	tok := NewBPE(testVocab())
	id, err := tok.TrySingleToken("hello")
	require.NoError(t, err)

	text, err := tok.TryFromSingleToken(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestDetokenizeOutOfRangeID(t *testing.T) {
	tok := NewHF(testVocab())
	_, err := tok.Detokenize([]int{-1})
	require.Error(t, err)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, ErrIDOutOfRange, f.Kind)
}

func TestCloneSharesVocabulary(t *testing.T) {
	tok := NewHF(testVocab())
	clone := tok.Clone()
	assert.Equal(t, tok.CountTokens("hello world"), clone.CountTokens("hello world"))
}

func TestRange(t *testing.T) {
	tok := NewHF(testVocab())
	text := "the quick brown fox"
	out, err := tok.Range(text, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, "quick brown", out)

	_, err = tok.Range(text, 3, 1)
	require.Error(t, err)
}
