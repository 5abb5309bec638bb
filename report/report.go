// Package report implements the run artifacts: an append-only CSV keys
// log recording the terminal status of every processed segment, and an
// HTML summary rendered from it.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gametext/sheetloc/segment"
)

// ---------------------------------------------------------------------------
// Keys log
// ---------------------------------------------------------------------------

// Entry is one keys log record.
type Entry struct {
	Sheet      string
	Key        string
	Row        int
	TargetLang string
	Status     segment.Status
}

var header = []string{"sheet", "key", "row", "target_lang", "status"}

// KeysLog appends status records to a CSV file. Every record is flushed
// immediately so a crashed run still leaves a usable log.
type KeysLog struct {
	path       string
	targetLang string
	file       *os.File
	writer     *csv.Writer
}

// OpenKeysLog opens (or creates) the keys log at path. The header row
// is written only when the file is new or empty.
func OpenKeysLog(path, targetLang string) (*KeysLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening keys log %s: %w", path, err)
	}

	kl := &KeysLog{path: path, targetLang: targetLang, file: f, writer: csv.NewWriter(f)}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if err := kl.writer.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing keys log header: %w", err)
		}
		kl.writer.Flush()
	}

	return kl, kl.writer.Error()
}

// Path returns the keys log path.
func (kl *KeysLog) Path() string {
	return kl.path
}

// Record appends one status row and flushes it.
func (kl *KeysLog) Record(sheet, key string, row int, status segment.Status) error {
	rec := []string{sheet, key, strconv.Itoa(row), kl.targetLang, string(status)}
	if err := kl.writer.Write(rec); err != nil {
		return fmt.Errorf("writing keys log: %w", err)
	}
	kl.writer.Flush()
	return kl.writer.Error()
}

// Close flushes and closes the log file.
func (kl *KeysLog) Close() error {
	kl.writer.Flush()
	if err := kl.writer.Error(); err != nil {
		kl.file.Close()
		return err
	}
	return kl.file.Close()
}

// ParseKeysLog reads a keys log back into entries. Rows that do not
// parse are skipped rather than failing the whole report.
func ParseKeysLog(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keys log %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing keys log %s: %w", path, err)
	}

	var entries []Entry
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == "sheet" {
			continue
		}
		if len(rec) < 5 {
			continue
		}
		row, err := strconv.Atoi(rec[2])
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Sheet:      rec[0],
			Key:        rec[1],
			Row:        row,
			TargetLang: rec[3],
			Status:     segment.Status(rec[4]),
		})
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

// SheetSummary aggregates final statuses for one sheet.
type SheetSummary struct {
	Sheet  string
	Counts map[segment.Status]int
	Failed []Entry
}

// Total returns the number of keys summarized for the sheet.
func (s *SheetSummary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Accepted returns the number of keys that reached an accepted state.
func (s *SheetSummary) Accepted() int {
	return s.Counts[segment.StatusOK] + s.Counts[segment.StatusCopiedSource]
}

// Summarize folds log entries into per-sheet summaries. A key appearing
// multiple times (main pass then gap pass) counts once with its LAST
// status, since later passes supersede earlier attempts.
func Summarize(entries []Entry) []SheetSummary {
	type sheetKey struct{ sheet, key string }
	last := make(map[sheetKey]Entry)
	var order []string
	seen := make(map[string]bool)

	for _, e := range entries {
		if !seen[e.Sheet] {
			seen[e.Sheet] = true
			order = append(order, e.Sheet)
		}
		last[sheetKey{e.Sheet, e.Key}] = e
	}

	bySheet := make(map[string]*SheetSummary)
	for _, sheet := range order {
		bySheet[sheet] = &SheetSummary{Sheet: sheet, Counts: make(map[segment.Status]int)}
	}
	for _, e := range last {
		s := bySheet[e.Sheet]
		s.Counts[e.Status]++
		if e.Status.Failed() {
			s.Failed = append(s.Failed, e)
		}
	}

	var out []SheetSummary
	for _, sheet := range order {
		s := bySheet[sheet]
		sort.Slice(s.Failed, func(i, j int) bool { return s.Failed[i].Row < s.Failed[j].Row })
		out = append(out, *s)
	}
	return out
}
