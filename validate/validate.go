// Package validate classifies candidate translations against the marker
// sequence of their source text. It is the safety gate that keeps corrupted
// placeholders out of the workbook: a translation is only accepted when its
// markers match the source position for position.
package validate

import (
	"strings"

	"github.com/gametext/sheetloc/segment"
)

// Check classifies a candidate translation. First match wins:
//
//  1. empty or whitespace-only translation    -> NO_TRANSLATION
//  2. marker multiset differs from the source -> MISSING_TOKENS
//  3. same multiset, different order          -> TOKENS_OUT_OF_ORDER
//  4. otherwise                               -> OK
//
// The order check is strict positional equality, not just same-multiset:
// a translator may legitimately reorder clauses, but the game's markup does
// not guarantee reordered placeholders still render, so strictness wins.
func Check(sourceMarkers, translatedMarkers []string, translated string) segment.Status {
	if strings.TrimSpace(translated) == "" {
		return segment.StatusNoTranslation
	}
	if !sameMultiset(sourceMarkers, translatedMarkers) {
		return segment.StatusMissingTokens
	}
	for i := range sourceMarkers {
		if sourceMarkers[i] != translatedMarkers[i] {
			return segment.StatusTokensOutOfOrder
		}
	}
	return segment.StatusOK
}

func sameMultiset(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, m := range a {
		counts[m]++
	}
	for _, m := range b {
		counts[m]--
		if counts[m] < 0 {
			return false
		}
	}
	return true
}
