package literature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexSearch(t *testing.T) {
	x, err := NewIndex()
	require.NoError(t, err)
	t.Cleanup(func() { _ = x.Close() })

	require.NoError(t, x.Add(
		Paper{Title: "Attention Is All You Need", Abstract: "transformer architecture built on self-attention", Authors: []string{"Ashish Vaswani"}},
		Paper{Title: "Deep Residual Learning for Image Recognition", Abstract: "residual connections for very deep convolutional networks"},
		Paper{Title: "Attention Is All You Need", DOI: "10.1/attn"},
	))
	// the second attention entry has a DOI, so it is tracked under a new key
	assert.Equal(t, 3, x.Len())

	hits, err := x.Search("residual", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Deep Residual Learning for Image Recognition", hits[0].Title)

	hits, err = x.Search("vaswani", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "Attention Is All You Need", hits[0].Title)

	hits, err = x.Search("quantum chromodynamics", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
