// Package diff computes word-level edit scripts between two strings.
package diff

import (
	"strings"
	"unicode"

	"github.com/pario-ai/rephrase/pkg/models"
)

// MaxCells bounds the LCS table. Inputs whose differing middle would need a
// larger table are reported as one delete followed by one insert.
const MaxCells = 4_000_000

type token struct {
	text  string
	start int
}

// Compute returns the edit script turning original into modified.
//
// Equal and delete segments concatenate to original; equal and insert
// segments concatenate to modified.
func Compute(original, modified string) []models.DiffSegment {
	a := tokenize(original)
	b := tokenize(modified)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix].text == b[prefix].text {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix].text == b[len(b)-1-suffix].text {
		suffix++
	}

	var segs []models.DiffSegment
	for _, t := range a[:prefix] {
		segs = appendSegment(segs, models.DiffEqual, t)
	}

	am := a[prefix : len(a)-suffix]
	bm := b[prefix : len(b)-suffix]
	if len(am)*len(bm) > MaxCells {
		for _, t := range am {
			segs = appendSegment(segs, models.DiffDelete, t)
		}
		for _, t := range bm {
			segs = appendSegment(segs, models.DiffInsert, t)
		}
	} else {
		segs = walkLCS(segs, am, bm)
	}

	for _, t := range a[len(a)-suffix:] {
		segs = appendSegment(segs, models.DiffEqual, t)
	}
	return segs
}

// walkLCS emits segments for the differing middle of both token lists.
func walkLCS(segs []models.DiffSegment, a, b []token) []models.DiffSegment {
	n, m := len(a), len(b)
	width := m + 1
	// lcs[i*width+j] is the LCS length of a[i:] and b[j:].
	lcs := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i].text == b[j].text {
				lcs[i*width+j] = lcs[(i+1)*width+j+1] + 1
			} else {
				lcs[i*width+j] = max(lcs[(i+1)*width+j], lcs[i*width+j+1])
			}
		}
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i].text == b[j].text:
			segs = appendSegment(segs, models.DiffEqual, a[i])
			i++
			j++
		case lcs[(i+1)*width+j] >= lcs[i*width+j+1]:
			segs = appendSegment(segs, models.DiffDelete, a[i])
			i++
		default:
			segs = appendSegment(segs, models.DiffInsert, b[j])
			j++
		}
	}
	for ; i < n; i++ {
		segs = appendSegment(segs, models.DiffDelete, a[i])
	}
	for ; j < m; j++ {
		segs = appendSegment(segs, models.DiffInsert, b[j])
	}
	return segs
}

// appendSegment adds t as a segment of kind, merging it into the previous
// segment when that one has the same kind and ends where t starts.
func appendSegment(segs []models.DiffSegment, kind models.DiffKind, t token) []models.DiffSegment {
	end := t.start + len(t.text)
	if n := len(segs); n > 0 {
		last := &segs[n-1]
		if last.Kind == kind && last.End == t.start {
			last.Text += t.text
			last.End = end
			return segs
		}
	}
	return append(segs, models.DiffSegment{Kind: kind, Start: t.start, End: end, Text: t.text})
}

// tokenize splits s into maximal runs of whitespace and non-whitespace.
func tokenize(s string) []token {
	var tokens []token
	start := 0
	inSpace := false
	for i, r := range s {
		space := unicode.IsSpace(r)
		if i > start && space != inSpace {
			tokens = append(tokens, token{text: s[start:i], start: start})
			start = i
		}
		inSpace = space
	}
	if start < len(s) {
		tokens = append(tokens, token{text: s[start:], start: start})
	}
	return tokens
}

// Original rebuilds the first argument of Compute from its segments.
func Original(segs []models.DiffSegment) string {
	return join(segs, models.DiffDelete)
}

// Modified rebuilds the second argument of Compute from its segments.
func Modified(segs []models.DiffSegment) string {
	return join(segs, models.DiffInsert)
}

func join(segs []models.DiffSegment, side models.DiffKind) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Kind == models.DiffEqual || s.Kind == side {
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Stats counts changed words on each side, ignoring whitespace-only runs.
func Stats(segs []models.DiffSegment) (deleted, inserted int) {
	for _, s := range segs {
		switch s.Kind {
		case models.DiffDelete:
			deleted += len(strings.Fields(s.Text))
		case models.DiffInsert:
			inserted += len(strings.Fields(s.Text))
		}
	}
	return deleted, inserted
}
