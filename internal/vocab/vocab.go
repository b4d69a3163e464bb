// Package vocab repairs speech-to-text misrecognitions of known terms.
//
// Tutorials name things a generic speech model has rarely heard: product
// names, menu labels, command-line tools. A [Vocabulary] holds those terms
// and rewrites transcript spans that sound like one of them.
//
// A span is compared only with terms of the same word count whose letters
// are of similar length. When the first words of span and term share a
// Double Metaphone code, a Jaro-Winkler score at the phonetic threshold is
// enough; otherwise the span must reach the higher fuzzy threshold. Longer
// spans are tried first so multi-word terms win over their parts.
package vocab

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Default thresholds for [New].
const (
	DefaultPhoneticThreshold = 0.70
	DefaultFuzzyThreshold    = 0.85
)

// Method names how a [Correction] was found.
type Method string

const (
	MethodExact    Method = "exact"
	MethodPhonetic Method = "phonetic"
	MethodFuzzy    Method = "fuzzy"
)

// minLengthRatio is the shortest/longest letter-count ratio at which a span
// and a term are compared at all.
const minLengthRatio = 0.8

// Correction is a single rewritten span.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
	Method    Method
}

// Option configures a [Vocabulary].
type Option func(*Vocabulary)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// shares a phonetic code with the span.
func WithPhoneticThreshold(t float64) Option {
	return func(v *Vocabulary) { v.phoneticThreshold = t }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term without
// phonetic overlap.
func WithFuzzyThreshold(t float64) Option {
	return func(v *Vocabulary) { v.fuzzyThreshold = t }
}

type term struct {
	text    string
	lower   string
	words   int
	letters int
	first   map[string]struct{}
}

// Vocabulary is an immutable set of known terms. It is safe for concurrent
// use.
type Vocabulary struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New prepares terms for matching. Blank and duplicate terms are dropped.
func New(terms []string, opts ...Option) *Vocabulary {
	v := &Vocabulary{
		phoneticThreshold: DefaultPhoneticThreshold,
		fuzzyThreshold:    DefaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}

	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}

		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			text:    strings.Join(strings.Fields(t), " "),
			lower:   strings.Join(tokens, " "),
			words:   len(tokens),
			letters: letterCount(tokens),
			first:   codesFor(tokens[0]),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of distinct terms.
func (v *Vocabulary) Len() int {
	if v == nil {
		return 0
	}
	return len(v.terms)
}

// Match returns the term closest to span, if any clears its threshold. A
// span equal to a term ignoring case matches it with [MethodExact].
func (v *Vocabulary) Match(span string) (Correction, bool) {
	tokens := strings.Fields(strings.ToLower(span))
	if v.Len() == 0 || len(tokens) == 0 {
		return Correction{}, false
	}
	lower := strings.Join(tokens, " ")
	letters := letterCount(tokens)
	first := codesFor(tokens[0])

	var best Correction
	found := false
	for _, t := range v.terms {
		if t.lower == lower {
			return Correction{Original: span, Corrected: t.text, Score: 1, Method: MethodExact}, true
		}
		if t.words != len(tokens) || float64(min(letters, t.letters)) < minLengthRatio*float64(max(letters, t.letters)) {
			continue
		}
		score := matchr.JaroWinkler(lower, t.lower, false)
		switch {
		case overlaps(first, t.first):
			if score < v.phoneticThreshold {
				continue
			}
			if best.Method != MethodPhonetic || score > best.Score {
				best = Correction{Original: span, Corrected: t.text, Score: score, Method: MethodPhonetic}
				found = true
			}
		case best.Method != MethodPhonetic:
			if score >= v.fuzzyThreshold && score > best.Score {
				best = Correction{Original: span, Corrected: t.text, Score: score, Method: MethodFuzzy}
				found = true
			}
		}
	}
	return best, found
}

// Correct rewrites every span of text that matches a term and returns the
// new text with the corrections in order. Whitespace is normalised to single
// spaces; punctuation around a matched span is kept.
func (v *Vocabulary) Correct(text string) (string, []Correction) {
	words := strings.Fields(text)
	if v.Len() == 0 || len(words) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(words); {
		n := min(v.maxWords, len(words)-i)
		consumed := 0
		for ; n >= 1; n-- {
			lead, core, trail := splitPunct(words[i : i+n])
			if core == "" {
				continue
			}
			c, ok := v.Match(core)
			if !ok {
				continue
			}
			out = append(out, lead+c.Corrected+trail)
			if c.Corrected != core {
				corrections = append(corrections, c)
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, words[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitPunct joins words and peels punctuation off both ends of the result.
// Punctuation between the words rejects the span, so "save, then" is never
// one term.
func splitPunct(words []string) (lead, core, trail string) {
	last := len(words) - 1
	for i, w := range words {
		if i < last && strings.TrimRightFunc(w, unicode.IsPunct) != w {
			return "", "", ""
		}
		if i > 0 && strings.TrimLeftFunc(w, unicode.IsPunct) != w {
			return "", "", ""
		}
	}
	s := strings.Join(words, " ")
	core = strings.TrimLeftFunc(s, unicode.IsPunct)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

func letterCount(tokens []string) int {
	n := 0
	for _, t := range tokens {
		n += utf8.RuneCountInString(t)
	}
	return n
}

func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
