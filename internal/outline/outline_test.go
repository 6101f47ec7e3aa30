package outline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validOutline = `{
  "title": "Sparse Attention for Long Documents",
  "sections": [
    {"title": "Method", "order": 3, "description": "Describe the model", "target_words": 900},
    {"title": "Introduction", "order": 1, "description": "Motivate the problem", "target_words": 500,
     "subsections": [{"title": "Motivation", "description": "Why long documents"}]},
    {"title": "Related Work", "order": 2, "description": "Survey prior work"}
  ]
}`

func TestParseSortsSectionsByOrder(t *testing.T) {
	o, err := Parse([]byte(validOutline))
	require.NoError(t, err)

	require.Len(t, o.Sections, 3)
	assert.Equal(t, "Introduction", o.Sections[0].Title)
	assert.Equal(t, "Related Work", o.Sections[1].Title)
	assert.Equal(t, "Method", o.Sections[2].Title)
	assert.Equal(t, 1400, o.TotalTargetWords())

	s, ok := o.Section(1)
	require.True(t, ok)
	require.Len(t, s.Subsections, 1)
	assert.Equal(t, "Motivation", s.Subsections[0].Title)
	_, ok = o.Section(9)
	assert.False(t, ok)
}

func TestParseMissingRequiredKeys(t *testing.T) {
	_, err := Parse([]byte(`{"title": "x", "sections": [{"title": "Intro", "description": "d"}]}`))
	require.Error(t, err)

	var ve ValidationErrors
	require.True(t, errors.As(err, &ve))
	require.NotEmpty(t, ve)
	assert.Equal(t, "/sections/0", ve[0].Path)
	assert.Contains(t, ve[0].Message, "order")
}

func TestParseRejectsEmptySectionsAndBadOrder(t *testing.T) {
	_, err := Parse([]byte(`{"title": "x", "sections": []}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"title": "x", "sections": [{"title": "a", "order": 0, "description": "d"}]}`))
	var ve ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "/sections/0/order", ve[0].Path)
}

func TestParseRejectsDuplicateOrders(t *testing.T) {
	_, err := Parse([]byte(`{"title": "x", "sections": [
  {"title": "a", "order": 1, "description": "d"},
  {"title": "b", "order": 1, "description": "d"}]}`))
	var ve ValidationErrors
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve, 1)
	assert.Equal(t, "/sections/1/order", ve[0].Path)
	assert.Contains(t, ve.Error(), "duplicates /sections/0")
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{"title": `))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outline.json")
	require.NoError(t, os.WriteFile(path, []byte(validOutline), 0o644))

	o, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Sparse Attention for Long Documents", o.Title)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestValidateBuiltOutline(t *testing.T) {
	o := &Outline{Title: "t", Sections: []Section{{Title: "", Order: 1, Description: "d"}}}
	err := Validate(o)
	var ve ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "/sections/0/title", ve[0].Path)

	o.Sections[0].Title = "Intro"
	assert.NoError(t, Validate(o))
	assert.Error(t, Validate(nil))
}
