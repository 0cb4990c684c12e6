package pii

import (
	"regexp"
	"strings"
)

// Category tags a kind of personal data.
type Category string

const (
	CategoryPhone    Category = "phone"
	CategoryEmail    Category = "email"
	CategoryCard     Category = "card"
	CategoryPassport Category = "passport"
	CategoryTaxID    Category = "tax_id"
	CategorySNILS    Category = "snils"
)

// Order is the fixed detection order. Earlier categories win overlaps.
var Order = []Category{
	CategoryPhone,
	CategoryEmail,
	CategoryCard,
	CategoryPassport,
	CategoryTaxID,
	CategorySNILS,
}

var placeholders = map[Category]string{
	CategoryPhone:    "[PHONE]",
	CategoryEmail:    "[EMAIL]",
	CategoryCard:     "[CARD]",
	CategoryPassport: "[PASSPORT]",
	CategoryTaxID:    "[INN]",
	CategorySNILS:    "[SNILS]",
}

// Placeholder returns the token that replaces values of category c.
func (c Category) Placeholder() string {
	if p, ok := placeholders[c]; ok {
		return p
	}
	return "[" + strings.ToUpper(string(c)) + "]"
}

// Span is a half-open byte range [Start, End).
type Span struct {
	Start int
	End   int
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// Detector finds candidate spans of a single category.
type Detector interface {
	Category() Category
	Find(text string) []Span
}

// RegexpDetector matches a pattern and optionally validates each match.
type RegexpDetector struct {
	category Category
	re       *regexp.Regexp
	valid    func(match string) bool
}

// NewRegexpDetector builds a detector from a compiled pattern. valid may be nil.
func NewRegexpDetector(c Category, re *regexp.Regexp, valid func(string) bool) *RegexpDetector {
	return &RegexpDetector{category: c, re: re, valid: valid}
}

// Category implements Detector.
func (d *RegexpDetector) Category() Category { return d.category }

// Find implements Detector.
func (d *RegexpDetector) Find(text string) []Span {
	var spans []Span
	for _, loc := range d.re.FindAllStringIndex(text, -1) {
		if d.valid != nil && !d.valid(text[loc[0]:loc[1]]) {
			continue
		}
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}
	return spans
}

var (
	phoneRe = regexp.MustCompile(
		`(?:\+7|\b8)[\s\-]?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{2}[\s\-]?\d{2}\b` +
			`|\+\d{1,3}[\s\-]?\(?\d{1,4}\)?(?:[\s\-]?\d{2,4}){2,4}\b`)
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	cardRe     = regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`)
	passportRe = regexp.MustCompile(`\b\d{2}\s?\d{2}\s\d{6}\b|\b\d{4}\s?№\s?\d{6}\b`)
	taxIDRe    = regexp.MustCompile(`\b(?:\d{12}|\d{10})\b`)
	snilsRe    = regexp.MustCompile(`\b\d{3}[\- ]?\d{3}[\- ]?\d{3}[\- ]?\d{2}\b`)
)

// DefaultDetectors returns the built-in detectors in Order.
func DefaultDetectors() []Detector {
	return []Detector{
		NewRegexpDetector(CategoryPhone, phoneRe, nil),
		NewRegexpDetector(CategoryEmail, emailRe, nil),
		NewRegexpDetector(CategoryCard, cardRe, luhnValid),
		NewRegexpDetector(CategoryPassport, passportRe, nil),
		NewRegexpDetector(CategoryTaxID, taxIDRe, innValid),
		NewRegexpDetector(CategorySNILS, snilsRe, snilsValid),
	}
}

func digitsOf(s string) []int {
	ds := make([]int, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			ds = append(ds, int(s[i]-'0'))
		}
	}
	return ds
}

func luhnValid(s string) bool {
	ds := digitsOf(s)
	if len(ds) < 13 || len(ds) > 19 {
		return false
	}
	sum := 0
	for i := len(ds) - 1; i >= 0; i-- {
		d := ds[i]
		if (len(ds)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

func innChecksum(ds []int, coeffs []int) int {
	sum := 0
	for i, c := range coeffs {
		sum += ds[i] * c
	}
	return sum % 11 % 10
}

func innValid(s string) bool {
	ds := digitsOf(s)
	switch len(ds) {
	case 10:
		return innChecksum(ds, []int{2, 4, 10, 3, 5, 9, 4, 6, 8}) == ds[9]
	case 12:
		return innChecksum(ds, []int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}) == ds[10] &&
			innChecksum(ds, []int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}) == ds[11]
	}
	return false
}

func snilsValid(s string) bool {
	ds := digitsOf(s)
	if len(ds) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		sum += ds[i] * (9 - i)
	}
	check := sum % 101
	if check == 100 {
		check = 0
	}
	return check == ds[9]*10+ds[10]
}
