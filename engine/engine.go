// Package engine drives the full translation pipeline: it partitions
// eligible segments into batches, runs protect -> request -> restore ->
// validate for each batch, assigns every segment a terminal status, and
// performs a single gap-filling pass over the segments that did not reach
// an accepted state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gametext/sheetloc/lockfile"
	"github.com/gametext/sheetloc/segment"
	"github.com/gametext/sheetloc/token"
	"github.com/gametext/sheetloc/translate"
	"github.com/gametext/sheetloc/validate"
)

// ---------------------------------------------------------------------------
// Collaborator contracts
// ---------------------------------------------------------------------------

// Source supplies ordered segments per named sheet.
type Source interface {
	Sheets() ([]string, error)
	LoadSegments(sheet string) ([]*segment.Segment, error)
}

// Sink persists accepted translations back into their originating rows.
// It must not alter unrelated cells.
type Sink interface {
	WriteTargets(sheet string, targets map[int]string) error
}

// Requester submits one batch of protected texts and returns a key ->
// translated-text map. It is the opaque text-generation capability.
type Requester interface {
	TranslateBatch(ctx context.Context, batch []translate.Item) (map[string]string, error)
}

// Reporter receives the terminal status of every processed segment.
type Reporter interface {
	Record(sheet, key string, row int, status segment.Status) error
}

// ---------------------------------------------------------------------------
// Options and results
// ---------------------------------------------------------------------------

// Options controls a pipeline run.
type Options struct {
	// Sheets is the ordered list of sheet names to translate.
	Sheets []string
	// BatchSize is the maximum number of segments per request (default 50).
	BatchSize int
	// Cooldown is slept between batches regardless of outcome. It
	// pre-empts provider-side throttling rather than reacting to it.
	Cooldown time.Duration
	// RetranslateChanged re-queues filled targets whose source text changed
	// since the hash recorded in the lock file.
	RetranslateChanged bool
	// Lock is the optional incremental-translation lock file.
	Lock *lockfile.LockFile
	// Sleep waits for d or until ctx is done. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnLog emits progress messages.
	OnLog func(format string, args ...any)
	// OnError emits error messages.
	OnError func(format string, args ...any)
	// OnProgress is called after each batch with per-sheet counts.
	OnProgress func(sheet string, done, total int)
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 50
}

func (o *Options) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Result summarizes a completed run.
type Result struct {
	// Translated counts segments accepted during the main pass.
	Translated int
	// GapsFilled counts segments accepted during the gap-filling pass.
	GapsFilled int
	// Counts tallies every recorded terminal status across both passes.
	// A segment re-attempted by gap filling is counted once per pass.
	Counts map[segment.Status]int
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine wires the pipeline collaborators together.
type Engine struct {
	source    Source
	sink      Sink
	requester Requester
	reporter  Reporter
	opts      Options
}

// New builds an Engine. The reporter may be nil when no keys log is wanted.
func New(source Source, sink Sink, requester Requester, reporter Reporter, opts Options) *Engine {
	return &Engine{
		source:    source,
		sink:      sink,
		requester: requester,
		reporter:  reporter,
		opts:      opts,
	}
}

// Run executes the main translation pass over all configured sheets,
// then exactly one gap-filling pass over the segments that failed.
// Fatal requester errors abort the run; everything else fails soft per
// segment and is surfaced through the report.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	result := &Result{Counts: make(map[segment.Status]int)}

	sheets, err := e.sheetsToProcess()
	if err != nil {
		return result, err
	}
	if len(sheets) == 0 {
		return result, errors.New("no valid sheets to process")
	}

	e.opts.log("Starting translation (%d sheets)", len(sheets))
	for _, sheet := range sheets {
		n, err := e.translateSheet(ctx, sheet, result)
		if err != nil {
			return result, err
		}
		result.Translated += n
	}

	e.opts.log("Starting gap-filling pass")
	for _, sheet := range sheets {
		n, err := e.translateSheet(ctx, sheet, result)
		if err != nil {
			return result, err
		}
		result.GapsFilled += n
	}

	return result, nil
}

// sheetsToProcess intersects the configured sheet list with the sheets
// actually present, preserving configured order.
func (e *Engine) sheetsToProcess() ([]string, error) {
	existing, err := e.source.Sheets()
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w", err)
	}
	present := make(map[string]bool, len(existing))
	for _, s := range existing {
		present[s] = true
	}

	var sheets []string
	for _, s := range e.opts.Sheets {
		if present[s] {
			sheets = append(sheets, s)
		} else {
			e.opts.logError("Sheet %q not found in workbook, skipping", s)
		}
	}
	return sheets, nil
}

// translateSheet runs one pass over a single sheet and returns the number
// of segments whose translation was accepted.
func (e *Engine) translateSheet(ctx context.Context, sheet string, result *Result) (int, error) {
	segs, err := e.source.LoadSegments(sheet)
	if err != nil {
		return 0, fmt.Errorf("loading sheet %q: %w", sheet, err)
	}

	writes := make(map[int]string)
	flush := func() error {
		if len(writes) == 0 {
			return nil
		}
		if err := e.sink.WriteTargets(sheet, writes); err != nil {
			return fmt.Errorf("writing sheet %q: %w", sheet, err)
		}
		writes = make(map[int]string)
		return nil
	}

	// Do-not-translate rows get a verbatim copy of the source and bypass
	// batching. Rows with an existing target are left untouched.
	for _, seg := range segs {
		if seg.DoNotTranslate && seg.TargetText == "" && seg.SourceText != "" {
			seg.Status = segment.StatusCopiedSource
			seg.TargetText = seg.SourceText
			writes[seg.Row] = seg.SourceText
			e.record(result, seg)
		}
	}
	if err := flush(); err != nil {
		return 0, err
	}

	eligible := e.collectEligible(sheet, segs)
	if len(eligible) == 0 {
		return 0, nil
	}

	batches := segment.SplitBatches(eligible, e.opts.effectiveBatchSize())
	e.opts.log("[%s] %d segments in %d batches", sheet, len(eligible), len(batches))

	accepted := 0
	done := 0
	for i, batch := range batches {
		select {
		case <-ctx.Done():
			return accepted, ctx.Err()
		default:
		}

		n, perr := e.processBatch(ctx, sheet, batch, writes, result)

		// Accepted targets are flushed per batch: an abort later in the
		// run must not discard translations already paid for.
		if err := flush(); err != nil {
			return accepted, err
		}
		if perr != nil {
			return accepted, perr
		}
		accepted += n
		done += len(batch)
		if e.opts.OnProgress != nil {
			e.opts.OnProgress(sheet, done, len(eligible))
		}

		// Pacing delay between batches, success or not.
		if i < len(batches)-1 {
			if err := e.opts.sleep(ctx, e.opts.Cooldown); err != nil {
				return accepted, err
			}
		}
	}

	return accepted, nil
}

// collectEligible gathers the segments to batch, honoring the
// retranslate-changed lock file check.
func (e *Engine) collectEligible(sheet string, segs []*segment.Segment) []*segment.Segment {
	var eligible []*segment.Segment
	for _, seg := range segs {
		if seg.NeedsTranslation() {
			eligible = append(eligible, seg)
			continue
		}
		if e.opts.RetranslateChanged && e.opts.Lock != nil &&
			!seg.DoNotTranslate && seg.TargetText != "" &&
			e.opts.Lock.Stale(sheet, seg.Key, seg.SourceText) {
			seg.TargetText = ""
			eligible = append(eligible, seg)
		}
	}
	return eligible
}

// processBatch drives protect -> request -> restore -> validate for one
// batch. Only fatal requester errors propagate; every other failure mode is
// recorded as a per-segment terminal status.
func (e *Engine) processBatch(ctx context.Context, sheet string, batch []*segment.Segment, writes map[int]string, result *Result) (int, error) {
	type protectedSegment struct {
		seg     *segment.Segment
		markers []string
		mapping token.Mapping
	}

	items := make([]translate.Item, 0, len(batch))
	protected := make(map[string]*protectedSegment, len(batch))
	for _, seg := range batch {
		p, mapping, err := token.Protect(seg.SourceText)
		if err != nil {
			// A marker-alphabet collision is local to the segment.
			e.opts.logError("[%s] key=%s: %v", sheet, seg.Key, err)
			seg.Status = segment.StatusError
			e.record(result, seg)
			continue
		}
		items = append(items, translate.Item{Key: seg.Key, Text: p})
		protected[seg.Key] = &protectedSegment{seg: seg, markers: token.Markers(p), mapping: mapping}
	}
	if len(items) == 0 {
		return 0, nil
	}

	translations, err := e.requester.TranslateBatch(ctx, items)
	if err != nil {
		if translate.IsFatal(err) || ctx.Err() != nil {
			return 0, err
		}
		// Retry budget exhausted: the whole batch fails soft.
		e.opts.logError("[%s] batch failed: %v", sheet, err)
		for _, item := range items {
			ps := protected[item.Key]
			ps.seg.Status = segment.StatusError
			e.record(result, ps.seg)
		}
		return 0, nil
	}

	accepted := 0
	for _, item := range items {
		ps := protected[item.Key]
		translated := translations[item.Key]

		status := validate.Check(ps.markers, token.Markers(translated), translated)
		if status == segment.StatusOK {
			restored, rerr := token.Restore(translated, ps.mapping)
			var unknown *token.UnknownMarkerError
			switch {
			case errors.As(rerr, &unknown):
				// The translation is judged corrupted, not fatal to the run.
				status = segment.StatusMissingTokens
			case rerr != nil:
				status = segment.StatusError
			default:
				ps.seg.TargetText = restored
				writes[ps.seg.Row] = restored
				accepted++
				if e.opts.Lock != nil {
					e.opts.Lock.Update(sheet, ps.seg.Key, ps.seg.SourceText)
				}
			}
		}

		if status != segment.StatusOK {
			e.opts.logError("[%s] key=%s: %s", sheet, ps.seg.Key, status)
		}
		ps.seg.Status = status
		e.record(result, ps.seg)
	}
	return accepted, nil
}

func (e *Engine) record(result *Result, seg *segment.Segment) {
	result.Counts[seg.Status]++
	if e.reporter == nil {
		return
	}
	if err := e.reporter.Record(seg.Sheet, seg.Key, seg.Row, seg.Status); err != nil {
		e.opts.logError("recording status for key=%s: %v", seg.Key, err)
	}
}
