package store

import (
	"strings"
	"unicode"

	"github.com/bastionbot/bastion"
)

// fold lowers s and strips all whitespace, the normal form for substring
// lookups.
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// pickMatch resolves needle against candidate names. An exact
// case-insensitive match wins outright; otherwise the needle must be a
// substring of exactly one folded name. Zero matches yield NoMatchError,
// several yield AmbiguousError with the candidates as hints.
func pickMatch(kind, needle string, names []string) (int, error) {
	want := fold(needle)
	if want == "" {
		return 0, &bastion.NoMatchError{Kind: kind, Needle: needle}
	}
	var idxs []int
	for i, name := range names {
		folded := fold(name)
		if folded == want {
			return i, nil
		}
		if strings.Contains(folded, want) {
			idxs = append(idxs, i)
		}
	}
	switch len(idxs) {
	case 0:
		return 0, &bastion.NoMatchError{Kind: kind, Needle: needle}
	case 1:
		return idxs[0], nil
	}
	matches := make([]string, len(idxs))
	for i, idx := range idxs {
		matches[i] = names[idx]
	}
	return 0, &bastion.AmbiguousError{Kind: kind, Needle: needle, Matches: matches}
}
