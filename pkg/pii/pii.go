// Package pii masks personal data before text leaves the process and
// restores it in the generated output.
package pii

import (
	"sort"
	"strconv"
	"strings"
)

// Replacement records one masked value.
type Replacement struct {
	Original    string   `json:"original"`
	Placeholder string   `json:"replacement"`
	Category    Category `json:"category"`
	Start       int      `json:"startOffset"`
	End         int      `json:"endOffset"`
}

// Result is the outcome of Mask. Replacements are ordered by Start.
type Result struct {
	Text         string
	Replacements []Replacement
}

// Concealed returns the replacements that hide a detected value, leaving
// out placeholders that were already present in the input.
func (r Result) Concealed() []Replacement {
	out := make([]Replacement, 0, len(r.Replacements))
	for _, rep := range r.Replacements {
		if rep.Original != rep.Placeholder {
			out = append(out, rep)
		}
	}
	return out
}

// Masker runs an ordered list of detectors over text.
type Masker struct {
	detectors []Detector
}

// New creates a Masker. With no detectors the defaults are used.
func New(detectors ...Detector) *Masker {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Masker{detectors: detectors}
}

// Mask replaces every detected value with its category placeholder.
// A span already claimed by an earlier detector is never reconsidered.
func (m *Masker) Mask(text string) Result {
	var accepted []Replacement

	// Placeholders already in the input map to themselves so that Unmask
	// stays exact when it walks tokens left to right.
	for _, c := range Order {
		ph := c.Placeholder()
		for off := 0; ; {
			i := strings.Index(text[off:], ph)
			if i < 0 {
				break
			}
			start := off + i
			accepted = append(accepted, Replacement{
				Original:    ph,
				Placeholder: ph,
				Category:    c,
				Start:       start,
				End:         start + len(ph),
			})
			off = start + len(ph)
		}
	}

	for _, d := range m.detectors {
		for _, s := range d.Find(text) {
			if covered(accepted, s) {
				continue
			}
			accepted = append(accepted, Replacement{
				Original:    text[s.Start:s.End],
				Placeholder: d.Category().Placeholder(),
				Category:    d.Category(),
				Start:       s.Start,
				End:         s.End,
			})
		}
	}

	if len(accepted) == 0 {
		return Result{Text: text, Replacements: []Replacement{}}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })

	masked := text
	for i := len(accepted) - 1; i >= 0; i-- {
		r := accepted[i]
		masked = masked[:r.Start] + r.Placeholder + masked[r.End:]
	}
	return Result{Text: masked, Replacements: accepted}
}

func covered(accepted []Replacement, s Span) bool {
	for _, r := range accepted {
		if s.overlaps(Span{Start: r.Start, End: r.End}) {
			return true
		}
	}
	return false
}

// Unmask restores the original values in text.
func Unmask(text string, replacements []Replacement) string {
	out, _ := UnmaskReport(text, replacements)
	return out
}

// UnmaskReport restores the original values and returns the replacements
// whose placeholder could not be found in text.
func UnmaskReport(text string, replacements []Replacement) (string, []Replacement) {
	ordered := make([]Replacement, len(replacements))
	copy(ordered, replacements)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	var missing []Replacement
	var b strings.Builder
	b.Grow(len(text))
	rest := text
	for _, r := range ordered {
		i := strings.Index(rest, r.Placeholder)
		if i < 0 {
			// The model may have reordered sentences; look in what was
			// already emitted before giving up.
			done := b.String()
			j := strings.Index(done, r.Placeholder)
			if j < 0 {
				missing = append(missing, r)
				continue
			}
			b.Reset()
			b.WriteString(done[:j])
			b.WriteString(r.Original)
			b.WriteString(done[j+len(r.Placeholder):])
			continue
		}
		b.WriteString(rest[:i])
		b.WriteString(r.Original)
		rest = rest[i+len(r.Placeholder):]
	}
	b.WriteString(rest)
	return b.String(), missing
}

// Categories counts replacements per category.
func Categories(replacements []Replacement) map[Category]int {
	counts := make(map[Category]int)
	for _, r := range replacements {
		counts[r.Category]++
	}
	return counts
}

// Summary renders category counts as "email:1,phone:2" in Order.
func Summary(replacements []Replacement) string {
	counts := Categories(replacements)
	var parts []string
	for _, c := range Order {
		if n := counts[c]; n > 0 {
			parts = append(parts, string(c)+":"+strconv.Itoa(n))
		}
	}
	return strings.Join(parts, ",")
}
