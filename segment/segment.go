// Package segment defines the translatable unit of a localization workbook
// and the batching rules applied before submission to an AI provider.
package segment

import "strings"

// Status is the terminal outcome of one segment after a pipeline pass.
type Status string

const (
	// StatusPending — not yet processed.
	StatusPending Status = "PENDING"
	// StatusOK — translation accepted and written to the target.
	StatusOK Status = "OK"
	// StatusCopiedSource — do-not-translate segment, target copied verbatim.
	StatusCopiedSource Status = "COPIED_SOURCE"
	// StatusNoTranslation — the provider returned nothing usable for the key.
	StatusNoTranslation Status = "NO_TRANSLATION"
	// StatusMissingTokens — placeholder markers were lost or invented.
	StatusMissingTokens Status = "MISSING_TOKENS"
	// StatusTokensOutOfOrder — same markers, different order.
	StatusTokensOutOfOrder Status = "TOKENS_OUT_OF_ORDER"
	// StatusError — protection conflict or exhausted request retries.
	StatusError Status = "ERROR"
)

// Terminal reports whether the status ends a pipeline pass for the segment.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Failed reports whether the segment should be re-attempted by the
// gap-filling pass.
func (s Status) Failed() bool {
	switch s {
	case StatusNoTranslation, StatusMissingTokens, StatusTokensOutOfOrder, StatusError:
		return true
	}
	return false
}

// Segment is one keyed row of a localization sheet.
type Segment struct {
	// Sheet is the workbook sheet this row belongs to.
	Sheet string
	// Row is the 1-based workbook row index.
	Row int
	// Key uniquely identifies the string across source and target.
	Key string
	// SourceText is the original-language string, immutable once loaded.
	SourceText string
	// TargetText is empty until a validated translation is written.
	TargetText string
	// Comment is optional translator context from the workbook.
	Comment string
	// DoNotTranslate marks rows whose target is a verbatim copy of the source.
	DoNotTranslate bool
	// Status starts as StatusPending and is set once by the orchestrator.
	Status Status
}

// NeedsTranslation reports whether the segment is eligible for batching:
// non-empty source, no existing target, and not flagged do-not-translate.
func (s *Segment) NeedsTranslation() bool {
	if strings.TrimSpace(s.SourceText) == "" {
		return false
	}
	if s.DoNotTranslate {
		return false
	}
	return strings.TrimSpace(s.TargetText) == ""
}

// SplitBatches divides segments into ordered batches of at most size
// elements, preserving input order within and across batches. A size of
// zero or less yields a single batch.
func SplitBatches(segs []*Segment, size int) [][]*Segment {
	if len(segs) == 0 {
		return nil
	}
	if size <= 0 || size >= len(segs) {
		return [][]*Segment{segs}
	}
	var batches [][]*Segment
	for i := 0; i < len(segs); i += size {
		end := i + size
		if end > len(segs) {
			end = len(segs)
		}
		batches = append(batches, segs[i:end])
	}
	return batches
}
