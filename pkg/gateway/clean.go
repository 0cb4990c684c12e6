package gateway

import (
	"regexp"
	"strings"
)

// Leading framing providers put before the answer. Go's \b is ASCII-only,
// so Cyrillic rules anchor on punctuation instead.
var framingPrefixes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:sure|certainly|of course|конечно|разумеется)[!,.]?\s+`),
	regexp.MustCompile(`(?i)^here(?:'s| is| are)\b[^:\n]{0,80}:\s*`),
	regexp.MustCompile(`(?i)^вот[ ,][^:\n]{0,80}:\s*`),
	regexp.MustCompile(`(?i)^(?:rewritten|paraphrased|revised|formal|simplified) (?:text|version)\s*:\s*`),
	regexp.MustCompile(`(?i)^(?:результат|переписанный текст|перефразированный текст|вариант)\s*:\s*`),
}

// Trailing meta commentary separated from the answer by a blank line.
var metaSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\n\s*\n\s*(?:\(?(?:note|p\.s\.|примечание|пояснение)|i (?:have|'ve) |i (?:kept|preserved|changed|replaced)|this (?:version|text|rewrite)|let me know|я (?:сохранил|изменил|заменил|постарался)|если (?:нужно|хотите)).*$`),
	regexp.MustCompile(`(?is)\s*\((?:note|примечание)[^)]*\)\s*$`),
}

var quotePairs = [][2]string{
	{`"`, `"`},
	{`'`, `'`},
	{"«", "»"},
	{"“", "”"},
	{"„", "“"},
}

// Clean strips conversational framing, trailing commentary and wrapping
// quotes from a completion.
func Clean(text string) string {
	out := stripPrefixes(strings.TrimSpace(text))
	for _, re := range metaSuffixes {
		if loc := re.FindStringIndex(out); loc != nil && loc[0] > 0 {
			out = strings.TrimSpace(out[:loc[0]])
		}
	}
	// Framing can sit inside the quotes too.
	if uq := unquote(out); uq != out {
		out = unquote(stripPrefixes(uq))
	}
	if out == "" {
		return strings.TrimSpace(text)
	}
	return out
}

func stripPrefixes(s string) string {
	for changed := true; changed; {
		changed = false
		for _, re := range framingPrefixes {
			if loc := re.FindStringIndex(s); loc != nil && loc[1] < len(s) {
				s = strings.TrimSpace(s[loc[1]:])
				changed = true
			}
		}
	}
	return s
}

func unquote(s string) string {
	for _, q := range quotePairs {
		if len(s) < len(q[0])+len(q[1]) || !strings.HasPrefix(s, q[0]) || !strings.HasSuffix(s, q[1]) {
			continue
		}
		inner := s[len(q[0]) : len(s)-len(q[1])]
		if strings.Contains(inner, q[0]) || strings.Contains(inner, q[1]) {
			return s
		}
		return strings.TrimSpace(inner)
	}
	return s
}
