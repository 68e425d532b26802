package evidence

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsAllSourceTypes(t *testing.T) {
	for _, st := range []SourceType{SourceField, SourceMessage, SourceDocument, SourceWF3} {
		p := New(st, "id-1", "$.a.b", "snippet")
		assert.NoError(t, Validate(p), "source type %s", st)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]Pointer{
		"bad source type": {SourceType: "email", SourceID: "x", PathOrSpan: "y"},
		"empty source id": {SourceType: SourceField, SourceID: "", PathOrSpan: "y"},
		"empty span":      {SourceType: SourceField, SourceID: "x", PathOrSpan: ""},
		"long snippet":    {SourceType: SourceField, SourceID: "x", PathOrSpan: "y", Snippet: strings.Repeat("a", MaxSnippetLen+1)},
	}
	for name, p := range cases {
		assert.Error(t, Validate(p), name)
	}
}

func TestNewTruncatesSnippet(t *testing.T) {
	p := New(SourceMessage, "msg_9", "chars 10-40", strings.Repeat("x", 500))
	require.Len(t, p.Snippet, MaxSnippetLen)
	assert.NoError(t, Validate(p))
}

func TestNewTruncatesOnRuneBoundary(t *testing.T) {
	p := New(SourceMessage, "msg_9", "chars 10-40", strings.Repeat("é", 300))
	assert.Equal(t, MaxSnippetLen, utf8.RuneCountInString(p.Snippet))
	assert.True(t, utf8.ValidString(p.Snippet))
	assert.NoError(t, Validate(p))
}

func TestValidateCountsRunesNotBytes(t *testing.T) {
	// 150 two-byte runes exceed MaxSnippetLen in bytes but not in runes.
	p := Pointer{SourceType: SourceField, SourceID: "x", PathOrSpan: "y", Snippet: strings.Repeat("é", 150)}
	assert.NoError(t, Validate(p))
}

func TestTruncateSnippets(t *testing.T) {
	pointers := []Pointer{
		{SourceType: SourceMessage, SourceID: "m", PathOrSpan: "s", Snippet: strings.Repeat("a", 400)},
		{SourceType: SourceField, SourceID: "f", PathOrSpan: "p", Snippet: "short"},
	}
	TruncateSnippets(pointers)
	assert.Len(t, pointers[0].Snippet, MaxSnippetLen)
	assert.Equal(t, "short", pointers[1].Snippet)
	assert.NoError(t, ValidateAll(pointers))
}

func TestValidateAllRequiresAtLeastOne(t *testing.T) {
	assert.Error(t, ValidateAll(nil))
	assert.Error(t, ValidateAll([]Pointer{}))

	good := New(SourceField, "intake_1", "$.claimant.name", "")
	assert.NoError(t, ValidateAll([]Pointer{good}))

	bad := Pointer{SourceType: SourceField}
	err := ValidateAll([]Pointer{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pointer[1]")
}
