// Package evidence defines the citation contract every AI-produced claim must
// satisfy: a claim asserting a non-null value carries at least one pointer to
// where in the source material the value came from.
package evidence

import (
	"fmt"
	"unicode/utf8"
)

// SourceType tags where a pointer's source lives.
type SourceType string

const (
	SourceField    SourceType = "field"
	SourceMessage  SourceType = "message"
	SourceDocument SourceType = "document"
	SourceWF3      SourceType = "wf3"
)

// MaxSnippetLen bounds the quoted snippet carried by a pointer, in runes.
// Snippets are truncated at construction and when decoded from model output;
// validation treats an over-long snippet as a bug in a caller that skipped
// both paths.
const MaxSnippetLen = 200

// Pointer is a structured citation locating a claim inside a source.
type Pointer struct {
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	PathOrSpan string     `json:"path_or_span"`
	Snippet    string     `json:"snippet,omitempty"`
}

// New builds a pointer, truncating the snippet to MaxSnippetLen.
func New(sourceType SourceType, sourceID, pathOrSpan, snippet string) Pointer {
	return Pointer{
		SourceType: sourceType,
		SourceID:   sourceID,
		PathOrSpan: pathOrSpan,
		Snippet:    truncateSnippet(snippet),
	}
}

// TruncateSnippets caps every pointer's snippet in place. Applied to pointer
// lists decoded from model output, which never pass through New.
func TruncateSnippets(pointers []Pointer) {
	for i := range pointers {
		pointers[i].Snippet = truncateSnippet(pointers[i].Snippet)
	}
}

// truncateSnippet cuts on a rune boundary so truncation never produces
// invalid UTF-8.
func truncateSnippet(s string) string {
	if utf8.RuneCountInString(s) <= MaxSnippetLen {
		return s
	}
	return string([]rune(s)[:MaxSnippetLen])
}

var validSourceTypes = map[SourceType]bool{
	SourceField:    true,
	SourceMessage:  true,
	SourceDocument: true,
	SourceWF3:      true,
}

// Validate checks one pointer.
func Validate(p Pointer) error {
	if !validSourceTypes[p.SourceType] {
		return fmt.Errorf("evidence: invalid source_type %q", p.SourceType)
	}
	if p.SourceID == "" {
		return fmt.Errorf("evidence: empty source_id")
	}
	if p.PathOrSpan == "" {
		return fmt.Errorf("evidence: empty path_or_span")
	}
	if utf8.RuneCountInString(p.Snippet) > MaxSnippetLen {
		return fmt.Errorf("evidence: snippet exceeds %d characters", MaxSnippetLen)
	}
	return nil
}

// ValidateAll checks a pointer list, requiring at least one entry. This is
// the gate applied to every AI output item that asserts a non-null value.
func ValidateAll(pointers []Pointer) error {
	if len(pointers) == 0 {
		return fmt.Errorf("evidence: at least one pointer required")
	}
	for i, p := range pointers {
		if err := Validate(p); err != nil {
			return fmt.Errorf("pointer[%d]: %w", i, err)
		}
	}
	return nil
}
