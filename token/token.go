// Package token implements reversible protection of game-engine placeholders
// before machine translation.
//
// Two placeholder grammars are protected simultaneously:
//
//	{[name]}    variable substitutions  ->  __VAR0__, __VAR1__, ...
//	<b>, </b>   markup tags             ->  __TAG0__, __TAG1__, ...
//
// Markers are zero-based and numbered independently per grammar, in order of
// first appearance. Restoration is the exact inverse: for any input whose
// placeholders are well-formed, Restore(Protect(text)) yields the original
// text unchanged.
package token

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	varPattern    = regexp.MustCompile(`\{\[[^}]+\]\}`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	markerPattern = regexp.MustCompile(`__(?:VAR|TAG)\d+__`)
)

// Mapping records marker -> original substring for one protected text.
// A Mapping is only meaningful together with the text it was produced from.
type Mapping map[string]string

// ErrProtectionConflict is returned by Protect when the input already
// contains a literal substring from the marker alphabet. Protecting such a
// text would make restoration ambiguous.
var ErrProtectionConflict = errors.New("text collides with the marker alphabet")

// UnknownMarkerError is returned by Restore when the text contains a marker
// that has no entry in the mapping — the translator invented or duplicated
// a token.
type UnknownMarkerError struct {
	Marker string
}

func (e *UnknownMarkerError) Error() string {
	return fmt.Sprintf("unknown marker %s in translated text", e.Marker)
}

// Protect replaces every placeholder in text with an opaque marker and
// returns the protected text together with the marker -> original mapping.
// Variable substitutions are replaced first, then markup tags, matching
// non-overlapping occurrences left to right.
func Protect(text string) (string, Mapping, error) {
	if m := markerPattern.FindString(text); m != "" {
		return "", nil, fmt.Errorf("%w: literal %q present in source", ErrProtectionConflict, m)
	}

	mapping := make(Mapping)
	protected := replaceWithMarkers(varPattern, "VAR", text, mapping)
	protected = replaceWithMarkers(tagPattern, "TAG", protected, mapping)
	return protected, mapping, nil
}

func replaceWithMarkers(pattern *regexp.Regexp, prefix, text string, mapping Mapping) string {
	n := 0
	return pattern.ReplaceAllStringFunc(text, func(original string) string {
		marker := fmt.Sprintf("__%s%d__", prefix, n)
		mapping[marker] = original
		n++
		return marker
	})
}

// Restore substitutes every marker occurrence in text back to its original
// substring, exactly once per occurrence. Text without markers is returned
// unchanged. A marker absent from the mapping fails with UnknownMarkerError.
func Restore(text string, mapping Mapping) (string, error) {
	var unknown *UnknownMarkerError
	restored := markerPattern.ReplaceAllStringFunc(text, func(marker string) string {
		original, ok := mapping[marker]
		if !ok {
			if unknown == nil {
				unknown = &UnknownMarkerError{Marker: marker}
			}
			return marker
		}
		return original
	})
	if unknown != nil {
		return "", unknown
	}
	return restored, nil
}

// Markers returns the marker identifiers present in text, ordered by
// position of first appearance. It does not need a mapping and works on both
// protected sources and candidate translations.
func Markers(text string) []string {
	return markerPattern.FindAllString(text, -1)
}
